package main

import (
	"strings"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
	"github.com/ridloal/vg-checkout/internal/payment/gateway"
	"github.com/ridloal/vg-checkout/internal/platform/config"
	"github.com/ridloal/vg-checkout/internal/platform/httpclient"
)

// buildGateways registers only the processors that have credentials configured.
func buildGateways(cfg *config.Config) []domain.Gateway {
	g := cfg.Gateway
	client := httpclient.New(httpclient.Options{Timeout: g.Timeout, MaxRetries: g.MaxRetries})
	webhookURL := func(name string) string {
		return strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/api/v1/payment/webhook/" + name
	}

	var gateways []domain.Gateway
	if g.StripeSecretKey != "" {
		gateways = append(gateways, gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     g.StripeSecretKey,
			WebhookSecret: g.StripeWebhookSecret,
			BaseURL:       g.StripeBaseURL,
		}, client))
	}
	if g.PayPalClientID != "" && g.PayPalClientSecret != "" {
		gateways = append(gateways, gateway.NewPayPal(gateway.PayPalConfig{
			ClientID:     g.PayPalClientID,
			ClientSecret: g.PayPalClientSecret,
			WebhookID:    g.PayPalWebhookID,
			BaseURL:      g.PayPalBaseURL,
		}, client))
	}
	if g.CoinbaseAPIKey != "" {
		gateways = append(gateways, gateway.NewCoinbase(gateway.CoinbaseConfig{
			APIKey:        g.CoinbaseAPIKey,
			WebhookSecret: g.CoinbaseWebhookSecret,
			BaseURL:       g.CoinbaseBaseURL,
		}, client))
	}
	if g.BitPayToken != "" {
		gateways = append(gateways, gateway.NewBitPay(gateway.BitPayConfig{
			APIToken:      g.BitPayToken,
			WebhookSecret: g.BitPayWebhookSecret,
			BaseURL:       g.BitPayBaseURL,
			NotifyURL:     webhookURL(domain.GatewayBitPay),
		}, client))
	}
	if g.NOWPaymentsAPIKey != "" {
		gateways = append(gateways, gateway.NewNOWPayments(gateway.NOWPaymentsConfig{
			APIKey:    g.NOWPaymentsAPIKey,
			IPNSecret: g.NOWPaymentsIPNSecret,
			BaseURL:   g.NOWPaymentsBaseURL,
			NotifyURL: webhookURL(domain.GatewayNOWPayments),
		}, client))
	}
	if g.BinancePayAPIKey != "" && g.BinancePaySecretKey != "" {
		gateways = append(gateways, gateway.NewBinancePay(gateway.BinancePayConfig{
			APIKey:    g.BinancePayAPIKey,
			SecretKey: g.BinancePaySecretKey,
			BaseURL:   g.BinancePayBaseURL,
		}, client))
	}
	return gateways
}
