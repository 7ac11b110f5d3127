package verify

import (
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/beacon-erp/beacon-payments/internal/platform/httpx"
	"github.com/beacon-erp/beacon-payments/internal/shared"
)

// Handler serves the public verification surface. No authentication; the
// token is the capability.
type Handler struct {
	logger  *slog.Logger
	service *Service
	page    *template.Template
	printer *message.Printer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		page:    template.Must(template.New("verify").Parse(pageTemplate)),
		printer: message.NewPrinter(language.English),
	}
}

// MountRoutes registers the public routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{token}", h.lookup)
	r.Get("/{token}/qr.png", h.qr)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	result, err := h.service.Lookup(r.Context(), token, clientIP(r))
	if wantsHTML(r) {
		h.renderPage(w, result, err)
		return
	}
	if err != nil {
		// Negative lookups still carry the status enum so scanners can
		// branch on one field across all outcomes.
		switch shared.CodeOf(err) {
		case shared.CodeTokenExpired:
			httpx.JSON(w, http.StatusGone, Response{Status: OutcomeExpired})
		case shared.CodeTokenNotFound:
			httpx.JSON(w, http.StatusNotFound, Response{Status: OutcomeInvalid})
		case shared.CodeRateLimited:
			httpx.JSON(w, http.StatusTooManyRequests, Response{Status: OutcomeRateLimited})
		default:
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, result.Response())
}

func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	png, err := h.service.QRPNG(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type pageData struct {
	Status        string
	Valid         bool
	VoucherNumber string
	Counterparty  string
	Amount        string
	DateEffective string
	State         string
	CompanyName   string
	IntegrityTag  string
}

func (h *Handler) renderPage(w http.ResponseWriter, result *Result, err error) {
	data := pageData{Status: "not_found"}
	status := http.StatusNotFound
	switch {
	case err != nil:
		switch shared.CodeOf(err) {
		case shared.CodeTokenExpired:
			data.Status = "expired"
			status = http.StatusGone
		case shared.CodeRateLimited:
			data.Status = "rate_limited"
			status = http.StatusTooManyRequests
		case shared.CodeTokenNotFound:
			// defaults hold
		default:
			data.Status = "error"
			status = http.StatusInternalServerError
		}
	case result.Outcome == OutcomeRejected:
		data.Status = "rejected"
		status = http.StatusOK
	default:
		p := result.Projection
		data = pageData{
			Status:        "valid",
			Valid:         true,
			VoucherNumber: p.VoucherNumber,
			Counterparty:  p.CounterpartyName,
			Amount:        h.printer.Sprintf("%s %.2f", p.Currency, p.Amount),
			DateEffective: p.DateEffective.Format("02 Jan 2006"),
			State:         p.ApprovalState,
			CompanyName:   p.CompanyName,
			IntegrityTag:  result.IntegrityTag,
		}
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.page.Execute(w, data); err != nil {
		h.logger.Error("render verification page", slog.Any("error", err))
	}
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return false
	}
	return strings.Contains(accept, "text/html")
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrote RemoteAddr from the forwarding
	// headers already.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Voucher Verification</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 36rem; padding: 0 1rem; color: #1a1a2e; }
  .card { border: 1px solid #d9d9e3; border-radius: 8px; padding: 1.5rem; }
  .badge { display: inline-block; padding: .2rem .6rem; border-radius: 4px; font-weight: 600; }
  .valid { background: #e6f6ea; color: #1d7a36; }
  .negative { background: #fdebea; color: #b3261e; }
  dl { display: grid; grid-template-columns: auto 1fr; gap: .4rem 1rem; }
  dt { color: #5c5c70; }
  .tag { font-family: monospace; font-size: .75rem; word-break: break-all; }
</style>
</head>
<body>
<div class="card">
{{if .Valid}}
  <span class="badge valid">Verified</span>
  <h1>{{.VoucherNumber}}</h1>
  <dl>
    <dt>Issued by</dt><dd>{{.CompanyName}}</dd>
    <dt>Counterparty</dt><dd>{{.Counterparty}}</dd>
    <dt>Amount</dt><dd>{{.Amount}}</dd>
    <dt>Date</dt><dd>{{.DateEffective}}</dd>
    <dt>Status</dt><dd>{{.State}}</dd>
  </dl>
  <p class="tag">Integrity tag: {{.IntegrityTag}}</p>
{{else if eq .Status "rejected"}}
  <span class="badge negative">Rejected</span>
  <p>This voucher was rejected and is not payable.</p>
{{else if eq .Status "expired"}}
  <span class="badge negative">Expired</span>
  <p>This verification link has expired. Request an updated voucher from the issuer.</p>
{{else if eq .Status "rate_limited"}}
  <span class="badge negative">Too many attempts</span>
  <p>Verification is temporarily unavailable from your address. Try again later.</p>
{{else}}
  <span class="badge negative">Not found</span>
  <p>No voucher matches this verification link.</p>
{{end}}
</div>
</body>
</html>`
