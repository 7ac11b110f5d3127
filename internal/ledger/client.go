package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beacon-erp/beacon-payments/internal/shared"
	"github.com/beacon-erp/beacon-payments/internal/vouchers"
)

// Client talks to the external accounting system. Posting a voucher creates
// the journal entry there; the caller owns retries and timeouts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a ledger client. The http.Client carries no timeout of its
// own so the per-call context bound set by the voucher service applies.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
	}
}

type postRequest struct {
	VoucherNumber  string    `json:"voucher_number"`
	CompanyID      int64     `json:"company_id"`
	Kind           string    `json:"voucher_kind"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	CounterpartyID int64     `json:"counterparty_id"`
	JournalID      *int64    `json:"journal_id,omitempty"`
	DateEffective  time.Time `json:"date_effective"`
	Memo           string    `json:"memo,omitempty"`
}

// PostVoucher submits the voucher as a journal entry. Non-2xx responses map
// to POSTING_FAILED so callers keep the voucher in AUTHORIZED.
func (c *Client) PostVoucher(ctx context.Context, v vouchers.Voucher) error {
	body, err := json.Marshal(postRequest{
		VoucherNumber:  v.Number,
		CompanyID:      v.CompanyID,
		Kind:           string(v.Kind),
		Amount:         v.Amount,
		Currency:       v.Currency,
		CounterpartyID: v.PartnerID,
		JournalID:      v.JournalID,
		DateEffective:  v.DateEffective,
		Memo:           v.Memo,
	})
	if err != nil {
		return fmt.Errorf("encode posting request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/journal-entries", bytes.NewReader(body))
	if err != nil {
		return shared.E(shared.CodePostingFailed, "accounting unreachable: %v", err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return shared.E(shared.CodePostingFailed, "accounting rejected %s: status %d", v.Number, resp.StatusCode)
	}
	return nil
}

type sourceState struct {
	Ready bool `json:"ready"`
}

// ReadyToPost reports whether the voucher's accounting source document has
// settled. Unknown vouchers count as not ready rather than failing the sweep.
func (c *Client) ReadyToPost(ctx context.Context, voucherID int64) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/vouchers/%d/source-state", voucherID), nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, fmt.Errorf("source state for voucher %d: status %d", voucherID, resp.StatusCode)
	}

	var state sourceState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return false, fmt.Errorf("decode source state: %w", err)
	}
	return state.Ready, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
