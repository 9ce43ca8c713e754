package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MoMoLogger defines the logging contract for MoMo provider operations.
type MoMoLogger func(ctx context.Context, event string, fields map[string]any)

// MoMoProviderConfig configures the MoMoProvider.
type MoMoProviderConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	NotifyURL   string
	HTTPClient  *http.Client
	Clock       func() time.Time
	Logger      MoMoLogger
}

// MoMoProvider implements the Provider contract against the MoMo v2 gateway API.
type MoMoProvider struct {
	partnerCode string
	accessKey   string
	secretKey   string
	endpoint    string
	redirectURL string
	notifyURL   string
	client      *http.Client
	clock       func() time.Time
	logger      MoMoLogger
}

// NewMoMoProvider constructs a MoMo Provider using the given configuration.
func NewMoMoProvider(cfg MoMoProviderConfig) (*MoMoProvider, error) {
	if strings.TrimSpace(cfg.PartnerCode) == "" {
		return nil, errors.New("momo: partner code is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("momo: access key and secret key are required")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = "https://test-payment.momo.vn/v2/gateway/api/create"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &MoMoProvider{
		partnerCode: strings.TrimSpace(cfg.PartnerCode),
		accessKey:   strings.TrimSpace(cfg.AccessKey),
		secretKey:   cfg.SecretKey,
		endpoint:    endpoint,
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		notifyURL:   strings.TrimSpace(cfg.NotifyURL),
		client:      client,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Gateway implements Provider.
func (p *MoMoProvider) Gateway() string { return GatewayMoMo }

// CreateIntent opens a MoMo payment. Both orderId and requestId are the order
// id, so a retried call after a timeout replays the same intent instead of
// opening a second one.
func (p *MoMoProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Intent{}, errors.New("momo: order id is required")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("momo: amount must be positive")
	}

	amount := fmt.Sprintf("%d", req.Amount)
	requestType := "captureWallet"
	extraData := ""

	// Canonical query string signed with the partner secret, keys in
	// lexicographic order per the gateway contract.
	canonical := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		p.accessKey, amount, extraData, p.notifyURL, req.OrderID, req.Description,
		p.partnerCode, p.redirectURL, req.OrderID, requestType,
	)
	signature := signHMAC(p.secretKey, canonical)

	body := map[string]any{
		"partnerCode": p.partnerCode,
		"accessKey":   p.accessKey,
		"requestId":   req.OrderID,
		"orderId":     req.OrderID,
		"amount":      amount,
		"orderInfo":   req.Description,
		"redirectUrl": p.redirectURL,
		"ipnUrl":      p.notifyURL,
		"requestType": requestType,
		"extraData":   extraData,
		"lang":        "vi",
		"signature":   signature,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Intent{}, fmt.Errorf("momo: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return Intent{}, fmt.Errorf("momo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var out struct {
		ResultCode int    `json:"resultCode"`
		Message    string `json:"message"`
		PayURL     string `json:"payUrl"`
		OrderID    string `json:"orderId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Intent{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if out.ResultCode != 0 {
		return Intent{}, fmt.Errorf("momo: create payment rejected: %s", out.Message)
	}

	p.logger(ctx, "momo.intent.created", map[string]any{
		"order": req.OrderID,
	})

	return Intent{
		Gateway:       GatewayMoMo,
		TransactionID: req.OrderID,
		PaymentURL:    out.PayURL,
	}, nil
}

// VerifyCallback recomputes the IPN signature over the canonical field string
// and normalises the outcome. resultCode zero means the payment captured.
func (p *MoMoProvider) VerifyCallback(payload []byte) (CallbackResult, error) {
	var ipn struct {
		PartnerCode  string `json:"partnerCode"`
		OrderID      string `json:"orderId"`
		RequestID    string `json:"requestId"`
		Amount       int64  `json:"amount"`
		OrderInfo    string `json:"orderInfo"`
		OrderType    string `json:"orderType"`
		TransID      int64  `json:"transId"`
		ResultCode   int    `json:"resultCode"`
		Message      string `json:"message"`
		PayType      string `json:"payType"`
		ResponseTime int64  `json:"responseTime"`
		ExtraData    string `json:"extraData"`
		Signature    string `json:"signature"`
	}
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return CallbackResult{}, fmt.Errorf("momo: malformed callback: %w", err)
	}
	if ipn.Signature == "" || ipn.OrderID == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing signature or order id", ErrInvalidSignature)
	}

	canonical := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		p.accessKey, ipn.Amount, ipn.ExtraData, ipn.Message, ipn.OrderID, ipn.OrderInfo,
		ipn.OrderType, ipn.PartnerCode, ipn.PayType, ipn.RequestID, ipn.ResponseTime,
		ipn.ResultCode, ipn.TransID,
	)
	expected := signHMAC(p.secretKey, canonical)
	if !hmac.Equal([]byte(expected), []byte(ipn.Signature)) {
		return CallbackResult{}, ErrInvalidSignature
	}

	return CallbackResult{
		Gateway:       GatewayMoMo,
		TransactionID: ipn.OrderID,
		Amount:        ipn.Amount,
		Succeeded:     ipn.ResultCode == 0,
		Raw:           map[string]any{"transId": ipn.TransID, "message": ipn.Message},
	}, nil
}
