package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/platform/httpx"
	"github.com/feastline/api/internal/platform/requestctx"
	"github.com/feastline/api/internal/services"
	"go.uber.org/zap"
)

const maxCallbackBodySize = 256 * 1024

// PaymentHandlers exposes payment initiation for customers and webhook
// callbacks for gateways.
type PaymentHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /payments endpoints. The callback route is mounted
// without bearer auth; callbacks authenticate via gateway signatures instead.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(protected chi.Router) {
		if h.authn != nil {
			protected.Use(h.authn.RequireAuth())
		}
		protected.Post("/", h.initiatePayment)
	})

	r.Post("/callback/{gateway}", h.handleCallback)
}

type initiatePaymentRequest struct {
	OrderID string `json:"order_id"`
}

type initiatePaymentResponse struct {
	OrderID              string `json:"order_id"`
	Status               string `json:"status"`
	Gateway              string `json:"gateway,omitempty"`
	PaymentURL           string `json:"payment_url,omitempty"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
}

func (h *PaymentHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readJSONBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req initiatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	initiation, err := h.orders.InitiatePayment(ctx, services.InitiatePaymentCommand{
		Actor:   actorFor(identity),
		OrderID: orderID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, initiatePaymentResponse{
		OrderID:              initiation.OrderID,
		Status:               string(initiation.Status),
		Gateway:              initiation.Gateway,
		PaymentURL:           initiation.PaymentURL,
		GatewayTransactionID: initiation.GatewayTransactionID,
	})
}

// handleCallback settles a gateway webhook and answers in the dialect the
// gateway expects. ZaloPay resends deliveries until it sees return_code 1;
// MoMo treats 204 as the acknowledgement.
func (h *PaymentHandlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gateway := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))

	body, err := readJSONBody(r, maxCallbackBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	outcome, err := h.orders.HandlePaymentCallback(ctx, services.PaymentCallbackCommand{
		Gateway: gateway,
		Payload: body,
	})
	if err != nil {
		requestctx.Logger(ctx).Warn("payment callback rejected",
			zap.String("gateway", gateway),
			zap.Error(err),
		)
		h.writeCallbackError(ctx, w, gateway, err)
		return
	}

	switch gateway {
	case "zalopay":
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"return_code":    1,
			"return_message": "success",
		})
	case "momo":
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"order_id": outcome.OrderID,
			"status":   string(outcome.Status),
			"replay":   outcome.Replay,
		})
	}
}

func (h *PaymentHandlers) writeCallbackError(ctx context.Context, w http.ResponseWriter, gateway string, err error) {
	if gateway == "zalopay" {
		// ZaloPay inspects return_code rather than the HTTP status. A negative
		// code tells it to stop retrying; zero requests a redelivery.
		code := 0
		message := "processing failed, retry"
		if errors.Is(err, services.ErrInvalidCallbackSignature) {
			code = -1
			message = "mac not equal"
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"return_code":    code,
			"return_message": message,
		})
		return
	}
	writeServiceError(ctx, w, err)
}
