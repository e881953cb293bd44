package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Error codes carried in APIError.Code.
const (
	CodeInvalidArgument     = "invalid_argument"
	CodeNotFound            = "not_found"
	CodeUnauthorized        = "unauthorized"
	CodeInactive            = "inactive"
	CodeAlreadyPurchased    = "already_purchased"
	CodeInsufficientPayment = "insufficient_payment"
	CodeTransferFailed      = "transfer_failed"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Listing is a listing as returned to the caller. Locator is empty unless
// HasAccess is true.
type Listing struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Locator     string    `json:"locator"`
	Owner       string    `json:"owner"`
	Price       int64     `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
	HasAccess   bool      `json:"has_access"`
}

// Receipt is returned by a successful Purchase.
type Receipt struct {
	ReceiptID   string    `json:"receipt_id"`
	ListingID   int64     `json:"listing_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Price       int64     `json:"price"`
	AmountPaid  int64     `json:"amount_paid"`
	TransferRef string    `json:"transfer_ref"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// OwnerListings is the set of listing ids owned by one principal.
type OwnerListings struct {
	Owner string  `json:"owner"`
	Count int     `json:"count"`
	IDs   []int64 `json:"ids"`
}

// Event is one journal entry.
type Event struct {
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	ListingID int64           `json:"listing_id"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	DataHash  string          `json:"data_hash"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// EventPage is one page of the journal. Pass Next as after to continue.
type EventPage struct {
	Events []Event `json:"events"`
	Next   int64   `json:"next"`
}

// VerifyResult is the journal integrity report.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Checked int64  `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// Client is the gateway SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a principal token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the HTTP timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
		return nil
	}
}

// New creates a Client for the gateway at base (e.g. "http://localhost:8080").
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid gateway URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// List publishes a listing owned by the token's principal and returns its id.
func (c *Client) List(ctx context.Context, title, description, locator string, price int64) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/listings", map[string]any{
		"title":       title,
		"description": description,
		"locator":     locator,
		"price":       price,
	}, &resp)
	return resp.ID, err
}

// GetListing returns listing id as seen by the caller.
func (c *Client) GetListing(ctx context.Context, id int64) (*Listing, error) {
	var l Listing
	if err := c.call(ctx, http.MethodGet, listingPath(id, ""), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Update replaces a listing's description and price, and its title when
// title is non-empty.
func (c *Client) Update(ctx context.Context, id int64, title, description string, price int64) (*Listing, error) {
	var l Listing
	err := c.call(ctx, http.MethodPatch, listingPath(id, ""), map[string]any{
		"title":       title,
		"description": description,
		"price":       price,
	}, &l)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// SetActive activates or deactivates a listing.
func (c *Client) SetActive(ctx context.Context, id int64, active bool) error {
	action := "/deactivate"
	if active {
		action = "/activate"
	}
	return c.call(ctx, http.MethodPost, listingPath(id, action), nil, nil)
}

// Purchase buys access to listing id, transferring amount to its owner.
func (c *Client) Purchase(ctx context.Context, id, amount int64) (*Receipt, error) {
	var r Receipt
	if err := c.call(ctx, http.MethodPost, listingPath(id, "/purchase"), map[string]any{"amount": amount}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// HasAccess reports whether principal may read listing id's locator. An
// empty principal means the caller; other principals require the observer role.
func (c *Client) HasAccess(ctx context.Context, id int64, principal string) (bool, error) {
	path := listingPath(id, "/access")
	if principal != "" {
		path += "?principal=" + url.QueryEscape(principal)
	}
	var resp struct {
		HasAccess bool `json:"has_access"`
	}
	err := c.call(ctx, http.MethodGet, path, nil, &resp)
	return resp.HasAccess, err
}

// MyListings returns the caller's listings.
func (c *Client) MyListings(ctx context.Context) (*OwnerListings, error) {
	var o OwnerListings
	if err := c.call(ctx, http.MethodGet, "/api/v1/me/listings", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// OwnerListings returns the listings owned by owner.
func (c *Client) OwnerListings(ctx context.Context, owner string) (*OwnerListings, error) {
	var o OwnerListings
	if err := c.call(ctx, http.MethodGet, "/api/v1/owners/"+url.PathEscape(owner)+"/listings", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Events returns up to limit journal events after seq. Requires the observer role.
func (c *Client) Events(ctx context.Context, after int64, limit int) (*EventPage, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var p EventPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/events?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyJournal asks the gateway to walk the journal hash chain.
func (c *Client) VerifyJournal(ctx context.Context) (*VerifyResult, error) {
	var v VerifyResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/events/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Health returns nil when the gateway reports healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", nil, nil)
}

func listingPath(id int64, suffix string) string {
	return "/api/v1/listings/" + strconv.FormatInt(id, 10) + suffix
}

// call sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	data, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Code = payload.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
