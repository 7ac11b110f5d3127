package signatories

import (
	"context"
	"errors"
)

// ConfigSource abstracts the configuration reads the service needs.
type ConfigSource interface {
	ListActive(ctx context.Context, companyID int64, role Role) ([]Signatory, error)
	ListForUser(ctx context.Context, companyID, userID int64) ([]Signatory, error)
}

// Service answers authority questions over signatory configuration.
type Service struct {
	source ConfigSource
}

// NewService constructs the service.
func NewService(source ConfigSource) *Service {
	return &Service{source: source}
}

// AuthorizedFor reports whether the user may act at the role for the amount.
func (s *Service) AuthorizedFor(ctx context.Context, companyID, userID int64, role Role, amount float64) (Decision, error) {
	if s == nil || s.source == nil {
		return Decision{}, errors.New("signatories: service not initialised")
	}
	rows, err := s.source.ListActive(ctx, companyID, role)
	if err != nil {
		return Decision{}, err
	}
	if len(rows) == 0 {
		return Decision{Configured: false}, nil
	}
	for _, row := range rows {
		if row.UserID == userID && row.Covers(amount) {
			return Decision{Configured: true, Authorized: true}, nil
		}
	}
	return Decision{Configured: true}, nil
}

// CandidatesFor returns the signatories whose band covers the amount. Used
// to address next-step notifications to eligible actors.
func (s *Service) CandidatesFor(ctx context.Context, companyID int64, role Role, amount float64) ([]Signatory, error) {
	rows, err := s.source.ListActive(ctx, companyID, role)
	if err != nil {
		return nil, err
	}
	var out []Signatory
	for _, row := range rows {
		if row.Covers(amount) {
			out = append(out, row)
		}
	}
	return out, nil
}

// AnyRoleFor reports whether the user holds any reviewer/approver/authorizer
// band covering the amount. Rejection eligibility uses this.
func (s *Service) AnyRoleFor(ctx context.Context, companyID, userID int64, amount float64) (bool, error) {
	rows, err := s.source.ListForUser(ctx, companyID, userID)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		switch row.Role {
		case RoleReviewer, RoleApprover, RoleAuthorizer:
			if row.Covers(amount) {
				return true, nil
			}
		}
	}
	return false, nil
}
