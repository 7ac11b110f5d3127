package signatories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows []Signatory
}

func (f *fakeSource) ListActive(_ context.Context, companyID int64, role Role) ([]Signatory, error) {
	var out []Signatory
	for _, r := range f.rows {
		if r.CompanyID == companyID && r.Role == role && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ListForUser(_ context.Context, companyID, userID int64) ([]Signatory, error) {
	var out []Signatory
	for _, r := range f.rows {
		if r.CompanyID == companyID && r.UserID == userID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestAuthorizedForBands(t *testing.T) {
	svc := NewService(&fakeSource{rows: []Signatory{
		{CompanyID: 1, UserID: 20, Role: RoleReviewer, MaxAmount: 5000, Active: true},
		{CompanyID: 1, UserID: 21, Role: RoleReviewer, Active: true},
	}})

	d, err := svc.AuthorizedFor(context.Background(), 1, 20, RoleReviewer, 4000)
	require.NoError(t, err)
	require.True(t, d.Configured)
	require.True(t, d.Authorized)

	// Amount above the band: the role stays configured but the user may not act.
	d, err = svc.AuthorizedFor(context.Background(), 1, 20, RoleReviewer, 9000)
	require.NoError(t, err)
	require.True(t, d.Configured)
	require.False(t, d.Authorized)

	// Unbounded band covers any amount.
	d, err = svc.AuthorizedFor(context.Background(), 1, 21, RoleReviewer, 1e9)
	require.NoError(t, err)
	require.True(t, d.Authorized)
}

func TestAuthorizedForUnconfiguredRole(t *testing.T) {
	svc := NewService(&fakeSource{})
	d, err := svc.AuthorizedFor(context.Background(), 1, 20, RoleApprover, 100)
	require.NoError(t, err)
	require.False(t, d.Configured)
	require.False(t, d.Authorized)
}

func TestBoundsInclusive(t *testing.T) {
	s := Signatory{MinAmount: 100, MaxAmount: 5000}
	require.True(t, s.Covers(100))
	require.True(t, s.Covers(5000))
	require.False(t, s.Covers(99.99))
	require.False(t, s.Covers(5000.01))
}

func TestCandidatesForFiltersByBand(t *testing.T) {
	svc := NewService(&fakeSource{rows: []Signatory{
		{CompanyID: 1, UserID: 30, Role: RoleApprover, MaxAmount: 10000, Active: true},
		{CompanyID: 1, UserID: 31, Role: RoleApprover, Active: true},
	}})

	got, err := svc.CandidatesFor(context.Background(), 1, RoleApprover, 20000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(31), got[0].UserID)
}

func TestAnyRoleForIgnoresPosterBands(t *testing.T) {
	svc := NewService(&fakeSource{rows: []Signatory{
		{CompanyID: 1, UserID: 50, Role: RolePoster, Active: true},
	}})

	ok, err := svc.AnyRoleFor(context.Background(), 1, 50, 100)
	require.NoError(t, err)
	require.False(t, ok)

	svc = NewService(&fakeSource{rows: []Signatory{
		{CompanyID: 1, UserID: 40, Role: RoleAuthorizer, Active: true},
	}})
	ok, err = svc.AnyRoleFor(context.Background(), 1, 40, 100)
	require.NoError(t, err)
	require.True(t, ok)
}
