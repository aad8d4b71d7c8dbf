package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kianjain/shisuka/internal/models"
)

type filter struct {
	column string
	op     string
	value  string
}

// QueryBuilder builds PostgREST requests against one table.
type QueryBuilder struct {
	client  *Client
	table   string
	columns string
	filters []filter
	orders  []string
	limit   int
	offset  int
	single  bool
	upsert  bool
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "eq", fmt.Sprintf("%v", value)})
	return q
}

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "neq", fmt.Sprintf("%v", value)})
	return q
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "in", "(" + strings.Join(values, ",") + ")"})
	return q
}

// Is adds an IS filter (for null, true, false).
func (q *QueryBuilder) Is(column string, value string) *QueryBuilder {
	q.filters = append(q.filters, filter{column, "is", value})
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset sets the OFFSET.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Single expects exactly one row. Zero rows map to a not-found error.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Upsert makes the next Insert merge on conflict instead of failing.
func (q *QueryBuilder) Upsert() *QueryBuilder {
	q.upsert = true
	return q
}

func (q *QueryBuilder) params(includeSelect bool) url.Values {
	params := url.Values{}
	if includeSelect && q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		params.Add(f.column, f.op+"."+f.value)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", q.offset))
	}
	return params
}

func (q *QueryBuilder) urlWith(params url.Values) string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Get executes a SELECT and decodes the result into out. Reads are
// idempotent and retried per the client's retry policy.
func (q *QueryBuilder) Get(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.urlWith(q.params(true)), nil)
	if err != nil {
		return models.NewTransportError(err)
	}
	q.client.setHeaders(req)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.do(req, "rest", true)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// Insert executes an INSERT and decodes the representation into out.
func (q *QueryBuilder) Insert(ctx context.Context, data any, out any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return models.NewDecodeError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.urlWith(q.params(false)), bytes.NewReader(body))
	if err != nil {
		return models.NewTransportError(err)
	}
	q.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	prefer := "return=representation"
	if q.upsert {
		prefer = "resolution=merge-duplicates," + prefer
	}
	req.Header.Set("Prefer", prefer)
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.do(req, "rest", false)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// Update executes a PATCH restricted by the accumulated filters.
func (q *QueryBuilder) Update(ctx context.Context, data any, out any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return models.NewDecodeError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, q.urlWith(q.params(false)), bytes.NewReader(body))
	if err != nil {
		return models.NewTransportError(err)
	}
	q.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.do(req, "rest", false)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}

// Delete executes a DELETE restricted by the accumulated filters.
func (q *QueryBuilder) Delete(ctx context.Context) error {
	if len(q.filters) == 0 {
		return models.NewValidationError("refusing to delete without filters")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.urlWith(q.params(false)), nil)
	if err != nil {
		return models.NewTransportError(err)
	}
	q.client.setHeaders(req)

	resp, err := q.client.do(req, "rest", false)
	if err != nil {
		return err
	}
	return resp.Error()
}
