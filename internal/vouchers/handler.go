package vouchers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beacon-erp/beacon-payments/internal/audit"
	"github.com/beacon-erp/beacon-payments/internal/platform/httpx"
	"github.com/beacon-erp/beacon-payments/internal/rbac"
	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// Handler exposes the voucher workflow over HTTP.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	audits     *audit.Recorder
	signatures *signatories.Repository
	validate   *validator.Validate
	rbac       rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audits *audit.Recorder, signatures *signatories.Repository, validate *validator.Validate, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, audits: audits, signatures: signatures, validate: validate, rbac: rbac}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermVoucherView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/timeline", h.timeline)
		r.Get("/{id}/signatures", h.listSignatures)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermVoucherCreate))
		r.Post("/", h.create)
	})

	// Per-transition authority is checked by the service against signatory
	// bands; the route gate is deliberately coarse.
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermVoucherView))
		r.Post("/{id}/submit", h.transition(ActionSubmit))
		r.Post("/{id}/review", h.transition(ActionReview))
		r.Post("/{id}/approve", h.transition(ActionApprove))
		r.Post("/{id}/authorize", h.transition(ActionAuthorize))
		r.Post("/{id}/post", h.transition(ActionPost))
		r.Post("/{id}/reject", h.reject)
		r.Post("/{id}/reset", h.transition(ActionReset))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(rbac.PermBulkApprove))
		r.Post("/bulk", h.bulk)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateVoucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", string(shared.CodeValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	}
	v, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "create voucher", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.voucherID(w, r)
	if !ok {
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req, err := listRequestFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error(), string(shared.CodeValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, r, "list vouchers", err)
		return
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.voucherID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.respondError(w, r, "get voucher", err)
		return
	}
	events, err := h.audits.Timeline(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "voucher timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": events})
}

func (h *Handler) listSignatures(w http.ResponseWriter, r *http.Request) {
	id, ok := h.voucherID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.respondError(w, r, "get voucher", err)
		return
	}
	sigs, err := h.signatures.ListSignatures(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "voucher signatures", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": sigs})
}

func (h *Handler) transition(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.voucherID(w, r)
		if !ok {
			return
		}
		actor := shared.ActorFromContext(r.Context())
		var v *Voucher
		var err error
		switch action {
		case ActionSubmit:
			v, err = h.service.Submit(r.Context(), id, actor)
		case ActionReview:
			v, err = h.service.Review(r.Context(), id, actor)
		case ActionApprove:
			v, err = h.service.Approve(r.Context(), id, actor)
		case ActionAuthorize:
			v, err = h.service.Authorize(r.Context(), id, actor)
		case ActionPost:
			v, err = h.service.Post(r.Context(), id, actor)
		case ActionReset:
			v, err = h.service.ResetToDraft(r.Context(), id, actor)
		default:
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "unknown action", string(shared.CodeValidation))
			return
		}
		if err != nil {
			h.respondError(w, r, string(action)+" voucher", err)
			return
		}
		httpx.JSON(w, http.StatusOK, v)
	}
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.voucherID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", string(shared.CodeValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	}
	v, err := h.service.Reject(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondError(w, r, "reject voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body", string(shared.CodeValidation))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	}
	result, err := h.service.Bulk(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "bulk transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) voucherID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "voucher id must be a positive integer", string(shared.CodeValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "voucher not found", string(shared.CodeNotFound))
		return
	}
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func listRequestFromQuery(r *http.Request) (ListVouchersRequest, error) {
	q := r.URL.Query()
	var req ListVouchersRequest
	companyID, err := strconv.ParseInt(q.Get("company_id"), 10, 64)
	if err != nil {
		return req, errors.New("company_id is required")
	}
	req.CompanyID = companyID
	if s := q.Get("state"); s != "" {
		st := State(s)
		req.State = &st
	}
	if k := q.Get("kind"); k != "" {
		kind := Kind(k)
		req.Kind = &kind
	}
	if p := q.Get("counterparty_id"); p != "" {
		pid, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return req, errors.New("counterparty_id must be an integer")
		}
		req.PartnerID = &pid
	}
	if d := q.Get("date_from"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return req, errors.New("date_from must be YYYY-MM-DD")
		}
		req.DateFrom = &t
	}
	if d := q.Get("date_to"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return req, errors.New("date_to must be YYYY-MM-DD")
		}
		req.DateTo = &t
	}
	if l := q.Get("limit"); l != "" {
		req.Limit, _ = strconv.Atoi(l)
	}
	if o := q.Get("offset"); o != "" {
		req.Offset, _ = strconv.Atoi(o)
	}
	return req, nil
}
