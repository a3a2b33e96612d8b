package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	cartAPI "github.com/ridloal/vg-checkout/internal/cart/api"
	cartRepo "github.com/ridloal/vg-checkout/internal/cart/repository"
	cartService "github.com/ridloal/vg-checkout/internal/cart/service"
	orderAPI "github.com/ridloal/vg-checkout/internal/order/api"
	orderDomain "github.com/ridloal/vg-checkout/internal/order/domain"
	orderRepo "github.com/ridloal/vg-checkout/internal/order/repository"
	orderService "github.com/ridloal/vg-checkout/internal/order/service"
	paymentAPI "github.com/ridloal/vg-checkout/internal/payment/api"
	paymentService "github.com/ridloal/vg-checkout/internal/payment/service"
	"github.com/ridloal/vg-checkout/internal/platform/cache"
	"github.com/ridloal/vg-checkout/internal/platform/config"
	"github.com/ridloal/vg-checkout/internal/platform/database"
	"github.com/ridloal/vg-checkout/internal/platform/events"
	"github.com/ridloal/vg-checkout/internal/platform/logger"
	"github.com/ridloal/vg-checkout/internal/platform/mail"
	"github.com/ridloal/vg-checkout/internal/platform/middleware"
	"github.com/ridloal/vg-checkout/internal/platform/telemetry"
	productAPI "github.com/ridloal/vg-checkout/internal/product/api"
	productRepo "github.com/ridloal/vg-checkout/internal/product/repository"
	productService "github.com/ridloal/vg-checkout/internal/product/service"
	userRepo "github.com/ridloal/vg-checkout/internal/user/repository"
	userService "github.com/ridloal/vg-checkout/internal/user/service"
)

func main() {
	// Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", err)
		os.Exit(1)
	}
	logger.Init(cfg.Server.LogLevel, cfg.Server.LogFormat)
	defer logger.Sync()

	logger.Info("Starting Checkout Service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Infra.OTelServiceName, cfg.Infra.OTelEndpoint)
	if err != nil {
		logger.Error("Failed to set up tracing", err)
		os.Exit(1)
	}

	// Setup Database
	db, err := database.Connect(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		logger.Error("Failed to connect to database for Checkout Service", err)
		os.Exit(1)
	}
	defer db.Close()

	// Dedupe webhook: Redis bila ada, memory untuk satu instance
	var dedupe cache.Cache
	if cfg.Infra.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Infra.RedisAddr})
		defer rdb.Close()
		dedupe = cache.NewRedisCache(rdb, cfg.Infra.OTelServiceName)
		logger.Info("Webhook dedupe backed by Redis", zap.String("addr", cfg.Infra.RedisAddr))
	} else {
		dedupe = cache.NewMemoryCache(cfg.Infra.OTelServiceName)
	}

	var publisher events.Publisher
	if brokers := cfg.Infra.KafkaBrokerList(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.Infra.KafkaOrderTopic)
	} else {
		publisher = events.NewLogPublisher()
	}

	var mailer mail.Mailer
	if cfg.Infra.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Infra.SMTPHost,
			Port:     cfg.Infra.SMTPPort,
			Username: cfg.Infra.SMTPUsername,
			Password: cfg.Infra.SMTPPassword,
			From:     cfg.Infra.SMTPFrom,
		})
	} else {
		mailer = mail.NewLogMailer()
	}

	numbers, err := orderDomain.NewNumberGenerator()
	if err != nil {
		logger.Error("Failed to seed order number generator", err)
		os.Exit(1)
	}

	// Setup Dependencies
	prodService := productService.NewProductService(productRepo.NewPostgresProductRepository(db))
	crtService := cartService.NewCartService(cartRepo.NewPostgresCartRepository(db), prodService)
	usrService := userService.NewUserService(userRepo.NewPostgresUserRepository(db))
	payService := paymentService.NewPaymentService(buildGateways(cfg), dedupe, cfg.Infra.WebhookDedupeTTL)
	ordService := orderService.NewOrderService(orderService.Dependencies{
		Orders:   orderRepo.NewPostgresOrderRepository(db),
		Products: prodService,
		Carts:    crtService,
		Users:    usrService,
		Payments: payService,
		Mailer:   mailer,
		Events:   publisher,
		Numbers:  numbers,
	}, orderService.Config{
		PaymentTimeout:       cfg.Order.PaymentTimeout,
		DefaultCryptoGateway: cfg.Order.DefaultCryptoGateway,
	})
	logger.Info("Payment gateways registered", zap.Strings("gateways", payService.Gateways()))

	scheduler, err := orderService.NewScheduler(ordService, prodService, cfg.Order.PaymentTimeoutSpec, cfg.Order.StockSweepSpec)
	if err != nil {
		logger.Error("Failed to configure scheduler", err)
		os.Exit(1)
	}
	scheduler.Start()

	// Setup Gin Router
	router := gin.New()
	router.Use(otelgin.Middleware(cfg.Infra.OTelServiceName), gin.Recovery(), middleware.RequestID(), middleware.Logger(logger.L()))

	router.GET("/health", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/api/v1")
	productAPI.NewProductHandler(prodService).RegisterRoutes(apiV1)
	cartAPI.NewCartHandler(crtService).RegisterRoutes(apiV1)
	orderAPI.NewOrderHandler(ordService).RegisterRoutes(apiV1)
	paymentAPI.NewPaymentHandler(payService, ordService).RegisterRoutes(apiV1)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Checkout Service running on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to run Checkout Service server", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down Checkout Service...")

	// Job yang sedang berjalan diselesaikan dulu
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close event publisher", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", err)
	}
	logger.Info("Checkout Service stopped")
}
