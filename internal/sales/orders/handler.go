package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beacon-erp/beacon-payments/internal/platform/httpx"
	"github.com/beacon-erp/beacon-payments/internal/rbac"
	"github.com/beacon-erp/beacon-payments/internal/shared"
)

// Handler exposes sale orders over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validate, rbac: rbac}
}

// MountRoutes registers sale-order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermSaleView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermSaleCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermSaleConfirm))
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/recompute", h.recompute)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", string(shared.CodeValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	}
	o, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "create sale order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "company_id is required", string(shared.CodeValidation))
		return
	}
	out, err := h.service.List(r.Context(), companyID)
	if err != nil {
		h.respondError(w, "list sale orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get sale order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Confirm(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "confirm sale order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Recompute(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "recompute sale order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "order id must be a positive integer", string(shared.CodeValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sale order not found", string(shared.CodeNotFound))
		return
	}
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
