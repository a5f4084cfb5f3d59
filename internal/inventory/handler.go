package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/platform/httpx"
	"github.com/tally-pos/tally-pos/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: newValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deductions", h.handleDeduct)
	r.Get("/materials/{id}/movements", h.handleMovements)
	r.Get("/materials/{id}/movements.xlsx", h.handleMovementsExport)
	r.Get("/menus/{id}/cost", h.handleCostEstimate)
}

type deductRequest struct {
	MenuID           int64            `json:"menu_id" validate:"gt=0"`
	Quantity         *decimal.Decimal `json:"quantity" validate:"omitempty,gt=0"`
	SelectedAddonIDs []int64          `json:"selected_addon_ids" validate:"dive,gt=0"`
	UserID           int64            `json:"user_id" validate:"gte=0"`
}

type deductResponse struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	ReferenceID string            `json:"reference_id"`
	Deductions  map[int64]float64 `json:"deductions"`
	TotalCost   float64           `json:"total_cost"`
	Records     []recordResponse  `json:"records"`
}

type recordResponse struct {
	ID             int64   `json:"id"`
	LotID          int64   `json:"lot_id"`
	MaterialID     int64   `json:"material_id"`
	Quantity       float64 `json:"quantity"`
	Unit           string  `json:"unit"`
	ExpirationDate string  `json:"expiration_date"`
	UnitCost       float64 `json:"cost"`
	TotalCost      float64 `json:"total_cost"`
}

type movementResponse struct {
	ID             int64    `json:"id"`
	Type           string   `json:"movement_type"`
	Quantity       float64  `json:"quantity"`
	Unit           string   `json:"unit"`
	ExpirationDate string   `json:"expiration_date"`
	Reason         string   `json:"reason"`
	User           string   `json:"user"`
	UnitCost       float64  `json:"cost"`
	TotalCost      float64  `json:"total_cost"`
	Deducted       *float64 `json:"deducted,omitempty"`
	Timestamp      string   `json:"timestamp"`
}

type costLineResponse struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	UnitCost float64 `json:"unitCost"`
	Quantity float64 `json:"quantity"`
	Cost     float64 `json:"cost"`
}

func (h *Handler) handleDeduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, validationMessage(err)))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		if _, err := uuid.Parse(key); err != nil {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("Idempotency-Key must be a UUID")))
			return
		}
	}

	qty := decimal.NewFromInt(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	report, err := h.service.DeductForOrder(r.Context(), DeductInput{
		MenuID:         req.MenuID,
		Quantity:       qty,
		AddonIDs:       req.SelectedAddonIDs,
		UserID:         req.UserID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := deductResponse{
		Success:     true,
		Message:     report.Message,
		ReferenceID: report.ReferenceID.String(),
		Deductions:  report.Deductions.Float64s(),
		TotalCost:   report.TotalCost.InexactFloat64(),
		Records:     make([]recordResponse, 0, len(report.Records)),
	}
	for _, rec := range report.Records {
		resp.Records = append(resp.Records, recordResponse{
			ID:             rec.ID,
			LotID:          rec.LotID,
			MaterialID:     rec.MaterialID,
			Quantity:       rec.Quantity.InexactFloat64(),
			Unit:           rec.Unit,
			ExpirationDate: formatDate(rec.ExpirationDate),
			UnitCost:       rec.UnitCost.InexactFloat64(),
			TotalCost:      rec.TotalCost.InexactFloat64(),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	materialID, movements, ok := h.loadMovements(w, r)
	if !ok {
		return
	}
	logs := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		item := movementResponse{
			ID:             m.ID,
			Type:           string(m.Type),
			Quantity:       m.Quantity.InexactFloat64(),
			Unit:           m.Unit,
			ExpirationDate: expirationLabel(m),
			Reason:         orNA(m.Reason),
			User:           orNA(m.User),
			UnitCost:       m.UnitCost.InexactFloat64(),
			TotalCost:      m.TotalCost.InexactFloat64(),
			Timestamp:      m.CreatedAt.Format(time.RFC3339),
		}
		if m.Type == MovementIn {
			deducted := m.Deducted.InexactFloat64()
			item.Deducted = &deducted
		}
		logs = append(logs, item)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"material_id": materialID,
		"logs":        logs,
	})
}

func (h *Handler) handleMovementsExport(w http.ResponseWriter, r *http.Request) {
	materialID, movements, ok := h.loadMovements(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteMovementsXLSX(&buf, materialID, movements); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="material-%d-movements.xlsx"`, materialID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) loadMovements(w http.ResponseWriter, r *http.Request) (int64, []Movement, bool) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || materialID <= 0 {
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("Invalid material ID")))
		return 0, nil, false
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("limit must be a non-negative integer")))
			return 0, nil, false
		}
	}
	movements, err := h.service.ListMovements(r.Context(), materialID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return 0, nil, false
	}
	return materialID, movements, true
}

func (h *Handler) handleCostEstimate(w http.ResponseWriter, r *http.Request) {
	menuID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || menuID <= 0 {
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, errors.New("Invalid menu ID")))
		return
	}
	var addons []int64
	for _, raw := range r.URL.Query()["addon"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, fmt.Errorf("invalid addon id %q", raw)))
			return
		}
		addons = append(addons, id)
	}
	estimate, err := h.service.EstimateCost(r.Context(), menuID, addons)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	breakdown := make([]costLineResponse, 0, len(estimate.Breakdown))
	for _, line := range estimate.Breakdown {
		breakdown = append(breakdown, costLineResponse{
			Name:     line.Name,
			Type:     line.Type,
			UnitCost: line.UnitCost.InexactFloat64(),
			Quantity: line.Quantity.InexactFloat64(),
			Cost:     line.Cost.InexactFloat64(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"totalCost": estimate.Total.InexactFloat64(),
		"breakdown": breakdown,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		err = httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, shared.ErrIdempotencyConflict):
		err = httpx.Classify(httpx.ErrConflict, err)
	default:
		h.logger.Error("inventory request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s must satisfy %s", fe.Field(), fe.Tag())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return notAvailable
	}
	return t.Format("2006-01-02")
}
