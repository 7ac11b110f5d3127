// Package events defines the transition event schema and the in-process bus
// that fans events out to subscribers. The durable audit trail is written
// inside the originating transaction; the bus carries best-effort
// post-commit notifications only.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the workflow core.
const (
	KindSubmitted              = "submitted"
	KindReviewed               = "reviewed"
	KindApproved               = "approved"
	KindAuthorized             = "authorized"
	KindPosted                 = "posted"
	KindRejected               = "rejected"
	KindReset                  = "reset"
	KindPostFailed             = "post_failed"
	KindCommissionMaterialized = "commission_materialized"
)

// Event is the structured record published on every transition and on every
// commission materialization. Attributes never include the verification
// token.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Kind        string         `json:"kind"`
	VoucherID   int64          `json:"voucher_id,omitempty"`
	SaleOrderID int64          `json:"sale_order_id,omitempty"`
	FromState   string         `json:"from_state,omitempty"`
	ToState     string         `json:"to_state,omitempty"`
	ActorID     int64          `json:"actor"`
	At          time.Time      `json:"at"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// New builds an event with identity and timestamp assigned.
func New(kind string) Event {
	return Event{ID: uuid.New(), Kind: kind, At: time.Now(), Attributes: map[string]any{}}
}
