package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/platform/httpx"
	"github.com/feastline/api/internal/services"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

// PointsHandlers exposes the reward point balance and ledger for the
// authenticated user.
type PointsHandlers struct {
	authn  *auth.Authenticator
	points services.PointsService
}

// NewPointsHandlers constructs a new PointsHandlers instance.
func NewPointsHandlers(authn *auth.Authenticator, points services.PointsService) *PointsHandlers {
	return &PointsHandlers{
		authn:  authn,
		points: points,
	}
}

// Routes registers the /me/points endpoints.
func (h *PointsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getBalance)
	r.Get("/history", h.listHistory)
}

type pointsBalanceResponse struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type pointsHistoryEntry struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id,omitempty"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *PointsHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	balance, err := h.points.GetBalance(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, pointsBalanceResponse{
		UserID:    identity.UID,
		Balance:   balance.Balance,
		UpdatedAt: balance.UpdatedAt,
	})
}

func (h *PointsHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	limit := defaultHistoryPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		if parsed > maxHistoryPageSize {
			parsed = maxHistoryPageSize
		}
		limit = parsed
	}

	entries, err := h.points.History(ctx, identity.UID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	out := make([]pointsHistoryEntry, 0, len(entries))
	for _, entry := range entries {
		orderID := ""
		if entry.OrderID != nil {
			orderID = *entry.OrderID
		}
		out = append(out, pointsHistoryEntry{
			ID:          entry.ID,
			OrderID:     orderID,
			Type:        string(entry.Type),
			Amount:      entry.Amount,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"history": out})
}
