package vouchers

import (
	"time"

	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// Action names the operations exposed on a voucher.
type Action string

const (
	ActionSubmit    Action = "submit"
	ActionReview    Action = "review"
	ActionApprove   Action = "approve"
	ActionAuthorize Action = "authorize"
	ActionPost      Action = "post"
	ActionReject    Action = "reject"
	ActionReset     Action = "reset"
)

// Transition describes one edge family of the approval state machine:
// the admissible pre-states, the post-state, and the signatory role whose
// band must cover the amount.
type Transition struct {
	Action Action
	From   []State
	To     State
	// Role is empty for submit/reset, which are authorized by creator or
	// permission instead of a signatory band.
	Role signatories.Role
}

// table is the canonical edge set. Anything outside it fails with
// INVALID_TRANSITION.
var table = map[Action]Transition{
	ActionSubmit:    {Action: ActionSubmit, From: []State{StateDraft}, To: StateSubmitted},
	ActionReview:    {Action: ActionReview, From: []State{StateSubmitted}, To: StateUnderReview, Role: signatories.RoleReviewer},
	ActionApprove:   {Action: ActionApprove, From: []State{StateUnderReview}, To: StateApproved, Role: signatories.RoleApprover},
	ActionAuthorize: {Action: ActionAuthorize, From: []State{StateApproved}, To: StateAuthorized, Role: signatories.RoleAuthorizer},
	ActionPost:      {Action: ActionPost, From: []State{StateAuthorized}, To: StatePosted, Role: signatories.RolePoster},
	ActionReject:    {Action: ActionReject, From: []State{StateSubmitted, StateUnderReview, StateApproved}, To: StateRejected},
	ActionReset:     {Action: ActionReset, From: []State{StateRejected}, To: StateDraft},
}

// transitionFor looks up the edge family for an action.
func transitionFor(action Action) (Transition, bool) {
	t, ok := table[action]
	return t, ok
}

// allows reports whether the pre-state admits this transition.
func (t Transition) allows(from State) bool {
	for _, s := range t.From {
		if s == from {
			return true
		}
	}
	return false
}

// stamp records the role user and timestamp for the state being entered.
// Each pair is set exactly once, at the transition that enters the state.
func stamp(v *Voucher, action Action, actorID int64, now time.Time) {
	switch action {
	case ActionSubmit:
		v.SubmittedBy = &actorID
		v.SubmittedAt = &now
	case ActionReview:
		v.ReviewedBy = &actorID
		v.ReviewedAt = &now
	case ActionApprove:
		v.ApprovedBy = &actorID
		v.ApprovedAt = &now
	case ActionAuthorize:
		v.AuthorizedBy = &actorID
		v.AuthorizedAt = &now
	case ActionPost:
		v.PostedBy = &actorID
		v.PostedAt = &now
	}
}

// clearStamps wipes every role pair except the creator, for reset_to_draft.
func clearStamps(v *Voucher) {
	v.SubmittedBy, v.SubmittedAt = nil, nil
	v.ReviewedBy, v.ReviewedAt = nil, nil
	v.ApprovedBy, v.ApprovedAt = nil, nil
	v.AuthorizedBy, v.AuthorizedAt = nil, nil
	v.PostedBy, v.PostedAt = nil, nil
	v.RejectedReason = nil
	v.ApprovalsDone = 0
}

// eventKind maps the landing state of an action to its published event kind.
func eventKind(action Action) string {
	switch action {
	case ActionSubmit:
		return "submitted"
	case ActionReview:
		return "reviewed"
	case ActionApprove:
		return "approved"
	case ActionAuthorize:
		return "authorized"
	case ActionPost:
		return "posted"
	case ActionReject:
		return "rejected"
	case ActionReset:
		return "reset"
	}
	return string(action)
}
