package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/model"
	"arbwatch/internal/monitor"

	"github.com/shopspring/decimal"
)

type handlers struct {
	svc     Service
	logger  *slog.Logger
	started time.Time
}

// GET /health
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":       int64(time.Since(h.started).Seconds()),
		"last_successful_tick": st.LastSuccessfulTick,
	})
}

// GET /api/v1/status
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// GET /api/v1/opportunities?min_net_spread=&min_volume=&buy_exchange=&sell_exchange=&instrument=&limit=
func (h *handlers) listOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f database.OpportunityFilter
	var err error
	if f.MinNetSpread, err = parseDecimal(r, "min_net_spread"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.MinVolume, err = parseDecimal(r, "min_volume"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = parseLimit(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.BuyExchange = strings.ToLower(q.Get("buy_exchange"))
	f.SellExchange = strings.ToLower(q.Get("sell_exchange"))
	f.Instrument = strings.ToUpper(q.Get("instrument"))

	opps, err := h.svc.ListOpportunities(r.Context(), f)
	if err != nil {
		h.logger.Error("List opportunities failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []model.SpreadOpportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opps,
		"count":         len(opps),
	})
}

// GET /api/v1/alerts?limit=&min_net_spread=&exchange=&instrument=
func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minNet, err := parseDecimal(r, "min_net_spread")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts := h.svc.ListAlerts(limit, monitor.AlertFilter{
		MinNetSpread: minNet,
		Exchange:     r.URL.Query().Get("exchange"),
		Instrument:   r.URL.Query().Get("instrument"),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GET /api/v1/config
func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Config())
}

type alertRuleRequest struct {
	MinNetSpread    *decimal.Decimal `json:"min_net_spread"`
	MinVolume       *decimal.Decimal `json:"min_volume"`
	CooldownSeconds *int             `json:"cooldown_seconds"`
}

// PUT /api/v1/config/alert-rule
//
// The rule is replaced as a whole, so every field is required.
func (h *handlers) updateAlertRule(w http.ResponseWriter, r *http.Request) {
	var req alertRuleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MinNetSpread == nil || req.MinVolume == nil || req.CooldownSeconds == nil {
		writeError(w, http.StatusBadRequest, "min_net_spread, min_volume and cooldown_seconds are required")
		return
	}

	snap, err := h.svc.UpdateAlertRule(model.AlertRule{
		MinNetSpread:    *req.MinNetSpread,
		MinVolume:       *req.MinVolume,
		CooldownSeconds: *req.CooldownSeconds,
	})
	if err != nil {
		h.writeUpdateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type feeProfileRequest struct {
	TakerPercent  *decimal.Decimal  `json:"taker_percent"`
	WithdrawalFee *decimal.Decimal  `json:"withdrawal_fee"`
	Metadata      map[string]string `json:"metadata"`
}

// PUT /api/v1/config/fee-profile/{exchange}
func (h *handlers) updateFeeProfile(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")
	var req feeProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TakerPercent == nil || req.WithdrawalFee == nil {
		writeError(w, http.StatusBadRequest, "taker_percent and withdrawal_fee are required")
		return
	}

	snap, err := h.svc.UpdateFeeProfile(exchange, model.FeeProfile{
		TakerPercent:  *req.TakerPercent,
		WithdrawalFee: *req.WithdrawalFee,
		Metadata:      req.Metadata,
	})
	if err != nil {
		h.writeUpdateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, config.ErrInvalidConfig) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.Error("Config update failed", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to apply config update")
}
