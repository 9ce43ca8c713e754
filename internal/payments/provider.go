// Package payments adapts domestic payment gateways (ZaloPay, MoMo) behind a
// uniform provider contract: method to gateway-config resolution, payment
// intent creation, and signed callback verification.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/feastline/api/internal/domain"
)

// Gateway names the settlement channel a payment method routes through.
const (
	GatewayNone    = "NONE"
	GatewayMoMo    = "MOMO"
	GatewayZaloPay = "ZALOPAY"
	GatewayATM     = "ATM"
	GatewayVisa    = "VISA"
)

var (
	// ErrUnsupportedMethod is returned for payment methods without a gateway mapping.
	ErrUnsupportedMethod = errors.New("payments: unsupported payment method")
	// ErrUnsupportedGateway is returned when no provider serves the gateway.
	ErrUnsupportedGateway = errors.New("payments: unsupported gateway")
	// ErrInvalidSignature is returned when a callback MAC does not verify.
	ErrInvalidSignature = errors.New("payments: invalid callback signature")
	// ErrGatewayUnavailable wraps transport failures talking to the gateway.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// GatewayConfig is the pure per-method gateway selection: channel, bank code,
// and embed data the gateway expects. Computed per request, never persisted.
type GatewayConfig struct {
	Method    domain.PaymentMethod
	Gateway   string
	BankCode  string
	EmbedData map[string]string
}

// ResolveConfig maps a payment method to its gateway configuration.
func ResolveConfig(method domain.PaymentMethod) (GatewayConfig, error) {
	switch method {
	case domain.PaymentMethodCOD:
		return GatewayConfig{Method: method, Gateway: GatewayNone}, nil
	case domain.PaymentMethodMoMo:
		return GatewayConfig{Method: method, Gateway: GatewayMoMo}, nil
	case domain.PaymentMethodZaloPay:
		return GatewayConfig{Method: method, Gateway: GatewayZaloPay, BankCode: "zalopayapp"}, nil
	case domain.PaymentMethodATM:
		return GatewayConfig{Method: method, Gateway: GatewayATM, EmbedData: map[string]string{"bankgroup": "ATM"}}, nil
	case domain.PaymentMethodVisa:
		return GatewayConfig{Method: method, Gateway: GatewayVisa, BankCode: "CC"}, nil
	default:
		return GatewayConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

// RequiresGateway reports whether payment collection goes through an external gateway.
func RequiresGateway(cfg GatewayConfig) bool {
	return cfg.Gateway != GatewayNone
}

// providerKeyFor routes a gateway channel to the provider that speaks its wire
// protocol. ATM and Visa are card channels of the ZaloPay gateway.
func providerKeyFor(gateway string) string {
	switch gateway {
	case GatewayMoMo:
		return "momo"
	case GatewayZaloPay, GatewayATM, GatewayVisa:
		return "zalopay"
	default:
		return ""
	}
}

// IntentRequest asks a provider to open a payment for an order. Intent creation
// is idempotent per order: providers derive their transaction reference from the
// order id, not from the attempt.
type IntentRequest struct {
	OrderID     string
	UserID      string
	Amount      int64
	Description string
	BankCode    string
	EmbedData   map[string]string
}

// Intent is the provider's handle for an opened payment.
type Intent struct {
	Gateway       string
	TransactionID string
	PaymentURL    string
	Raw           map[string]any
}

// CallbackResult is the normalised outcome extracted from a verified webhook.
type CallbackResult struct {
	Gateway       string
	TransactionID string
	Amount        int64
	Succeeded     bool
	Raw           map[string]any
}

// Provider is the contract a gateway adapter implements.
type Provider interface {
	Gateway() string
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifyCallback(payload []byte) (CallbackResult, error)
}

// Manager selects a provider per payment method or callback path.
type Manager struct {
	providers map[string]Provider
}

// NewManager constructs a Manager over the supplied providers, keyed by their
// callback path segment ("zalopay", "momo").
func NewManager(providers map[string]Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	return &Manager{providers: copyMap}, nil
}

// ConfigFor resolves the gateway configuration for a method.
func (m *Manager) ConfigFor(method domain.PaymentMethod) (GatewayConfig, error) {
	return ResolveConfig(method)
}

// CreateIntent resolves the method's gateway and opens a payment with the
// responsible provider. Methods without a gateway are rejected.
func (m *Manager) CreateIntent(ctx context.Context, method domain.PaymentMethod, req IntentRequest) (Intent, error) {
	cfg, err := ResolveConfig(method)
	if err != nil {
		return Intent{}, err
	}
	if !RequiresGateway(cfg) {
		return Intent{}, fmt.Errorf("%w: %s has no gateway", ErrUnsupportedGateway, method)
	}
	provider, err := m.providerFor(providerKeyFor(cfg.Gateway))
	if err != nil {
		return Intent{}, err
	}
	req.BankCode = cfg.BankCode
	req.EmbedData = cfg.EmbedData
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Gateway = cfg.Gateway
	return intent, nil
}

// VerifyCallback dispatches a raw webhook to the provider named by the callback
// path segment.
func (m *Manager) VerifyCallback(gateway string, payload []byte) (CallbackResult, error) {
	provider, err := m.providerFor(strings.ToLower(strings.TrimSpace(gateway)))
	if err != nil {
		return CallbackResult{}, err
	}
	return provider.VerifyCallback(payload)
}

func (m *Manager) providerFor(key string) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	if key == "" {
		return nil, ErrUnsupportedGateway
	}
	provider, ok := m.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, key)
	}
	return provider, nil
}
