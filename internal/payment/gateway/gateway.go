// Package gateway holds one adapter per external payment processor. Each adapter owns a private
// table from the processor's native status vocabulary to domain.PaymentStatus; anything not in
// the table maps to PENDING.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ridloal/vg-checkout/internal/payment/domain"
)

// StatusTable maps a processor's native status strings to the shared vocabulary.
type StatusTable map[string]domain.PaymentStatus

// Map never fails: unknown or empty statuses are PENDING so nothing terminal happens on ambiguity.
func (t StatusTable) Map(native string) domain.PaymentStatus {
	if s, ok := t[native]; ok {
		return s
	}
	if s, ok := t[strings.ToLower(native)]; ok {
		return s
	}
	return domain.PaymentPending
}

// APIError is a non-2xx processor response. Body is for logs only.
type APIError struct {
	Gateway    string
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: processor returned status %d", e.Gateway, e.Operation, e.StatusCode)
}

func apiError(gateway, op string, status int, body []byte) *APIError {
	b := string(body)
	if len(b) > 512 {
		b = b[:512]
	}
	return &APIError{Gateway: gateway, Operation: op, StatusCode: status, Body: b}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	return nil
}

func checkCurrency(gateway string, supported map[string]bool, currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if !supported[c] {
		return "", fmt.Errorf("%w: %s does not accept %q", domain.ErrUnsupportedCurrency, gateway, currency)
	}
	return c, nil
}

func currencySet(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

func hmacHex(newHash func() hash.Hash, secret string, parts ...[]byte) string {
	mac := hmac.New(newHash, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA256Hex(secret string, parts ...[]byte) string {
	return hmacHex(sha256.New, secret, parts...)
}

func hmacSHA512Hex(secret string, parts ...[]byte) string {
	return hmacHex(sha512.New, secret, parts...)
}

// signatureEqual compares hex signatures case-insensitively in constant time.
func signatureEqual(expected, got string) bool {
	e := strings.ToLower(strings.TrimSpace(expected))
	g := strings.ToLower(strings.TrimSpace(got))
	if e == "" || g == "" {
		return false
	}
	return hmac.Equal([]byte(e), []byte(g))
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func manualRefund(paymentID string) *domain.PaymentResult {
	return &domain.PaymentResult{
		Success:   false,
		PaymentID: paymentID,
		Status:    domain.PaymentCompleted,
		Error:     domain.ManualRefundMessage,
	}
}
