package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ZaloPayLogger defines the logging contract for ZaloPay provider operations.
type ZaloPayLogger func(ctx context.Context, event string, fields map[string]any)

// ZaloPayProviderConfig configures the ZaloPayProvider. Key1 signs outbound
// create-order requests, Key2 verifies inbound callbacks.
type ZaloPayProviderConfig struct {
	AppID      string
	Key1       string
	Key2       string
	Endpoint   string
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     ZaloPayLogger
}

// ZaloPayProvider implements the Provider contract against the ZaloPay v2 API.
// The ATM and Visa channels ride on the same gateway with different bank codes.
type ZaloPayProvider struct {
	appID    string
	key1     string
	key2     string
	endpoint string
	client   *http.Client
	clock    func() time.Time
	logger   ZaloPayLogger
}

// NewZaloPayProvider constructs a ZaloPay Provider using the given configuration.
func NewZaloPayProvider(cfg ZaloPayProviderConfig) (*ZaloPayProvider, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("zalopay: app id is required")
	}
	if strings.TrimSpace(cfg.Key1) == "" || strings.TrimSpace(cfg.Key2) == "" {
		return nil, errors.New("zalopay: key1 and key2 are required")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = "https://sb-openapi.zalopay.vn/v2/create"
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

	return &ZaloPayProvider{
		appID:    strings.TrimSpace(cfg.AppID),
		key1:     cfg.Key1,
		key2:     cfg.Key2,
		endpoint: endpoint,
		client:   client,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Gateway implements Provider.
func (p *ZaloPayProvider) Gateway() string { return GatewayZaloPay }

// CreateIntent opens a ZaloPay order. The app transaction id is derived from
// the order id so a retried call reuses the same gateway reference.
func (p *ZaloPayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Intent{}, errors.New("zalopay: order id is required")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("zalopay: amount must be positive")
	}

	now := p.clock()
	transID := p.appTransID(now, req.OrderID)

	embed := map[string]string{}
	for k, v := range req.EmbedData {
		embed[k] = v
	}
	if req.BankCode != "" {
		embed["preferred_payment_method"] = req.BankCode
	}
	embedJSON, err := json.Marshal(embed)
	if err != nil {
		return Intent{}, fmt.Errorf("zalopay: marshal embed data: %w", err)
	}
	itemJSON := "[]"

	appUser := req.UserID
	if appUser == "" {
		appUser = "guest"
	}
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)

	// mac = HMAC-SHA256(key1, app_id|app_trans_id|app_user|amount|app_time|embed_data|item)
	canonical := strings.Join([]string{p.appID, transID, appUser, amount, appTime, string(embedJSON), itemJSON}, "|")
	mac := signHMAC(p.key1, canonical)

	form := url.Values{}
	form.Set("app_id", p.appID)
	form.Set("app_trans_id", transID)
	form.Set("app_user", appUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("description", req.Description)
	form.Set("bank_code", req.BankCode)
	form.Set("embed_data", string(embedJSON))
	form.Set("item", itemJSON)
	form.Set("mac", mac)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Intent{}, fmt.Errorf("zalopay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var body struct {
		ReturnCode    int    `json:"return_code"`
		ReturnMessage string `json:"return_message"`
		OrderURL      string `json:"order_url"`
		ZpTransToken  string `json:"zp_trans_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Intent{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if body.ReturnCode != 1 {
		return Intent{}, fmt.Errorf("zalopay: create order rejected: %s", body.ReturnMessage)
	}

	p.logger(ctx, "zalopay.intent.created", map[string]any{
		"order":    req.OrderID,
		"trans_id": transID,
	})

	return Intent{
		Gateway:       GatewayZaloPay,
		TransactionID: transID,
		PaymentURL:    body.OrderURL,
		Raw: map[string]any{
			"zp_trans_token": body.ZpTransToken,
		},
	}, nil
}

// VerifyCallback checks the callback MAC with key2 and extracts the settlement
// outcome from the signed data envelope. A payload whose MAC does not verify is
// rejected regardless of its contents.
func (p *ZaloPayProvider) VerifyCallback(payload []byte) (CallbackResult, error) {
	var envelope struct {
		Data string `json:"data"`
		Mac  string `json:"mac"`
		Type int    `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("zalopay: malformed callback: %w", err)
	}
	if envelope.Data == "" || envelope.Mac == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing data or mac", ErrInvalidSignature)
	}

	expected := signHMAC(p.key2, envelope.Data)
	if !hmac.Equal([]byte(expected), []byte(envelope.Mac)) {
		return CallbackResult{}, ErrInvalidSignature
	}

	var data struct {
		AppTransID string `json:"app_trans_id"`
		Amount     int64  `json:"amount"`
		Status     int    `json:"status"`
	}
	if err := json.Unmarshal([]byte(envelope.Data), &data); err != nil {
		return CallbackResult{}, fmt.Errorf("zalopay: malformed callback data: %w", err)
	}
	if data.AppTransID == "" {
		return CallbackResult{}, errors.New("zalopay: callback missing app_trans_id")
	}

	return CallbackResult{
		Gateway:       GatewayZaloPay,
		TransactionID: data.AppTransID,
		Amount:        data.Amount,
		Succeeded:     data.Status == 1,
		Raw:           map[string]any{"type": envelope.Type},
	}, nil
}

// appTransID builds the yymmdd-prefixed transaction id ZaloPay requires,
// deterministic per order within a day.
func (p *ZaloPayProvider) appTransID(now time.Time, orderID string) string {
	return fmt.Sprintf("%s_%s", now.Format("060102"), orderID)
}

func signHMAC(key, payload string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
