// Package verify is the public, unauthenticated verification surface. A
// token resolves to a read-only projection of published voucher facts plus
// an integrity tag; nothing else leaves the system.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies one lookup as it appears on the wire.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeRejected    Outcome = "rejected"
	OutcomeExpired     Outcome = "expired"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeCancelled is the persisted log form for lookups of vouchers
	// that were withdrawn after issue. The wire keeps OutcomeRejected.
	OutcomeCancelled Outcome = "cancelled"
)

// Projection is the complete set of facts published for a voucher. Adding a
// field here publishes it; there is no other exposure path.
type Projection struct {
	VoucherNumber    string    `json:"voucher_number"`
	CounterpartyName string    `json:"counterparty_name"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	DateEffective    time.Time `json:"date_effective"`
	ApprovalState    string    `json:"approval_state"`
	CompanyName      string    `json:"company_name"`
	IssuedAt         time.Time `json:"issued_at"`
}

// IntegrityTag computes the HMAC-SHA256 of the projection under the company
// secret, hex encoded. Field order is fixed; changing it breaks every
// previously printed tag.
func (p Projection) IntegrityTag(secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join([]string{
		p.VoucherNumber,
		p.CounterpartyName,
		formatAmount(p.Amount),
		p.Currency,
		p.DateEffective.UTC().Format(time.RFC3339),
		p.ApprovalState,
		p.CompanyName,
		p.IssuedAt.UTC().Format(time.RFC3339),
	}, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Result is the outcome of one lookup. Projection and IntegrityTag are set
// only for OutcomeValid.
type Result struct {
	Outcome      Outcome
	Projection   *Projection
	IntegrityTag string
}

// Response is the JSON body of a verification lookup. Voucher facts appear
// flat at the top level and only on a valid result; the date carries no time
// component.
type Response struct {
	Status        Outcome `json:"status"`
	VoucherNumber string  `json:"voucher_number,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Counterparty  string  `json:"counterparty,omitempty"`
	Date          string  `json:"date,omitempty"`
	ApprovalState string  `json:"approval_state,omitempty"`
	Integrity     string  `json:"integrity,omitempty"`
}

// Response flattens a result into its wire form.
func (r *Result) Response() Response {
	resp := Response{Status: r.Outcome}
	if r.Projection != nil {
		resp.VoucherNumber = r.Projection.VoucherNumber
		resp.Amount = r.Projection.Amount
		resp.Currency = r.Projection.Currency
		resp.Counterparty = r.Projection.CounterpartyName
		resp.Date = r.Projection.DateEffective.UTC().Format("2006-01-02")
		resp.ApprovalState = r.Projection.ApprovalState
		resp.Integrity = r.IntegrityTag
	}
	return resp
}

// Log is one verification attempt. Token and IP are stored hashed; the raw
// values never persist.
type Log struct {
	ID        uuid.UUID `json:"id"`
	VoucherID *int64    `json:"voucher_id,omitempty"`
	TokenHash string    `json:"token_hash"`
	IPHash    string    `json:"ip_hash"`
	Outcome   Outcome   `json:"outcome"`
	At        time.Time `json:"at"`
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// HashToken returns the storage form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashIP returns the storage form of a client address.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
