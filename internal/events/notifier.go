package events

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/beacon-erp/beacon-payments/internal/signatories"
)

// CandidateResolver finds eligible next actors for a stage and amount.
type CandidateResolver interface {
	CandidatesFor(ctx context.Context, companyID int64, role signatories.Role, amount float64) ([]signatories.Signatory, error)
}

// Directory resolves notification addresses from the user registry.
type Directory interface {
	EmailsByUserID(ctx context.Context, userIDs []int64) ([]string, error)
}

// MailEnqueuer hands a message to the background mail queue.
type MailEnqueuer interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

// Notifier addresses transition notifications to the eligible next actors.
// Messages carry the public projection only, never the verification token.
type Notifier struct {
	candidates CandidateResolver
	directory  Directory
	mailer     MailEnqueuer
	logger     *slog.Logger
	printer    *message.Printer
}

// NewNotifier constructs a Notifier.
func NewNotifier(candidates CandidateResolver, directory Directory, mailer MailEnqueuer, logger *slog.Logger) *Notifier {
	return &Notifier{
		candidates: candidates,
		directory:  directory,
		mailer:     mailer,
		logger:     logger,
		printer:    message.NewPrinter(language.English),
	}
}

// nextStage maps an event kind to the role that should act next.
var nextStage = map[string]signatories.Role{
	KindSubmitted:  signatories.RoleReviewer,
	KindReviewed:   signatories.RoleApprover,
	KindApproved:   signatories.RoleAuthorizer,
	KindAuthorized: signatories.RolePoster,
}

// Handle implements Subscriber.
func (n *Notifier) Handle(ctx context.Context, ev Event) error {
	role, ok := nextStage[ev.Kind]
	if !ok {
		return nil
	}
	// Tiered re-entry into review keeps the approver slot as the next actor.
	if ev.Kind == KindApproved && ev.ToState == "UNDER_REVIEW" {
		role = signatories.RoleApprover
	}

	companyID, _ := ev.Attributes["company_id"].(int64)
	amount, _ := ev.Attributes["amount"].(float64)
	number, _ := ev.Attributes["voucher_number"].(string)
	currency, _ := ev.Attributes["currency"].(string)
	counterparty, _ := ev.Attributes["counterparty"].(string)

	candidates, err := n.candidates.CandidatesFor(ctx, companyID, role, amount)
	if err != nil {
		return fmt.Errorf("resolve candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.UserID)
	}
	emails, err := n.directory.EmailsByUserID(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve emails: %w", err)
	}

	subject := fmt.Sprintf("Voucher %s awaits your action", number)
	body := n.printer.Sprintf("Voucher %s for %s (%s %.2f) moved to %s and awaits the %s stage.",
		number, counterparty, currency, amount, ev.ToState, role)

	for _, to := range emails {
		if err := n.mailer.EnqueueEmail(ctx, to, subject, body); err != nil && n.logger != nil {
			n.logger.Warn("enqueue notification", slog.String("to", to), slog.Any("error", err))
		}
	}
	return nil
}
