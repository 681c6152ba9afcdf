// Package apiclient is a thin HTTP client for the docledger API. The CLI
// binaries use it for everything that needs the live ledger: the store is
// in-process with the api server, so queries and review operations go over
// HTTP rather than against a local store.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlozhkin/docledger/internal/record"
	"github.com/mlozhkin/docledger/internal/tax"
)

const defaultTimeout = 30 * time.Second

// Client talks to one docledger API server.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a Client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
}

// RecordsQuery narrows Records and Export calls. Zero-valued fields are
// omitted from the request.
type RecordsQuery struct {
	Category string
	Status   string
	Merchant string
	From     string // YYYY-MM-DD
	To       string // YYYY-MM-DD
}

func (q RecordsQuery) values() url.Values {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Merchant != "" {
		v.Set("merchant", q.Merchant)
	}
	if q.From != "" {
		v.Set("from", q.From)
	}
	if q.To != "" {
		v.Set("to", q.To)
	}
	return v
}

// Records lists ledger records matching the query, in (date, id) order.
func (c *Client) Records(ctx context.Context, q RecordsQuery) ([]record.DocumentRecord, error) {
	var resp struct {
		Records []record.DocumentRecord `json:"records"`
		Count   int                     `json:"count"`
	}
	if err := c.getJSON(ctx, "/api/records", q.values(), &resp); err != nil {
		return nil, fmt.Errorf("Records: %w", err)
	}
	return resp.Records, nil
}

// Record fetches a single record by id.
func (c *Client) Record(ctx context.Context, id string) (*record.DocumentRecord, error) {
	var rec record.DocumentRecord
	if err := c.getJSON(ctx, "/api/records/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, fmt.Errorf("Record: %w", err)
	}
	return &rec, nil
}

// Audit fetches the audit trail for a record.
func (c *Client) Audit(ctx context.Context, id string) ([]record.AuditEntry, error) {
	var resp struct {
		RecordID string              `json:"record_id"`
		Entries  []record.AuditEntry `json:"entries"`
		Count    int                 `json:"count"`
	}
	if err := c.getJSON(ctx, "/api/records/"+url.PathEscape(id)+"/audit", nil, &resp); err != nil {
		return nil, fmt.Errorf("Audit: %w", err)
	}
	return resp.Entries, nil
}

// AuditLog fetches the ledger's full audit trail in append order.
func (c *Client) AuditLog(ctx context.Context) ([]record.AuditEntry, error) {
	var resp struct {
		Entries []record.AuditEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	if err := c.getJSON(ctx, "/api/audit", nil, &resp); err != nil {
		return nil, fmt.Errorf("AuditLog: %w", err)
	}
	return resp.Entries, nil
}

// Recategorize assigns a new category to a record on the reviewer's authority.
func (c *Client) Recategorize(ctx context.Context, id, category, actor, note string) (*record.DocumentRecord, error) {
	body := map[string]string{
		"category": category,
		"actor":    actor,
		"note":     note,
	}

	var rec record.DocumentRecord
	if err := c.postJSON(ctx, "/api/records/"+url.PathEscape(id)+"/recategorize", body, &rec); err != nil {
		return nil, fmt.Errorf("Recategorize: %w", err)
	}
	return &rec, nil
}

// Estimate requests a quarterly tax estimate. Amounts are decimal strings.
func (c *Client) Estimate(ctx context.Context, period, grossIncome, withheld, currency string) (*tax.Estimate, error) {
	v := url.Values{}
	v.Set("period", period)
	v.Set("gross_income", grossIncome)
	if withheld != "" {
		v.Set("withheld", withheld)
	}
	if currency != "" {
		v.Set("currency", currency)
	}

	var est tax.Estimate
	if err := c.getJSON(ctx, "/api/tax/estimate", v, &est); err != nil {
		return nil, fmt.Errorf("Estimate: %w", err)
	}
	return &est, nil
}

// Export streams the CSV or XLSX export into w.
func (c *Client) Export(ctx context.Context, format string, q RecordsQuery, w io.Writer) error {
	v := q.values()
	v.Set("format", format)

	resp, err := c.get(ctx, "/api/export", v)
	if err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("Export: %w", err)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("Export: copying body: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// checkStatus surfaces the server's {"error": ...} message on failures.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
