// Package remote talks to a hosted Postgres backend: rows over its REST
// gateway and change notifications over its realtime websocket.
package remote

import (
	"bytes"
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	restPath = "/rest/v1/"
	// probeTable is read with a HEAD count request, the cheapest authoritative check.
	probeTable = "config"
)

type Backend struct {
	baseURL     string
	realtimeURL string
	anonKey     string
	httpClient  *http.Client
	logger      providers.Logger
}

func NewBackend(conf *structures.Config, logger providers.Logger) *Backend {
	base := strings.TrimRight(conf.Backend.URL, "/")
	return &Backend{
		baseURL:     base,
		realtimeURL: realtimeEndpoint(base, conf.Backend.RealtimeURL),
		anonKey:     conf.Backend.AnonKey,
		httpClient:  &http.Client{Timeout: conf.Backend.RequestTimeout},
		logger:      logger,
	}
}

// SetHTTPClient replaces the client used for REST calls.
func (b *Backend) SetHTTPClient(client *http.Client) *Backend {
	b.httpClient = client
	return b
}

func (b *Backend) Probe(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "id")
	req, err := b.newRequest(ctx, http.MethodHead, probeTable, params, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "count=exact")
	_, err = b.do(req, "probe")
	return err
}

func (b *Backend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	req, err := b.newRequest(ctx, http.MethodGet, table, encodeQuery(q), nil)
	if err != nil {
		return nil, err
	}
	body, err := b.do(req, "select "+table)
	if err != nil {
		return nil, err
	}
	return decodeRows("select "+table, body)
}

func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	op := "insert " + table
	req, err := b.newRequest(ctx, http.MethodPost, table, nil, row)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	body, err := b.do(req, op)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(op, body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Rejected(op, http.StatusOK, "insert returned no rows")
	}
	return rows[0], nil
}

func (b *Backend) Update(ctx context.Context, table string, id string, patch backend.Row) (backend.Row, error) {
	op := "update " + table
	params := url.Values{}
	params.Set("id", "eq."+id)
	req, err := b.newRequest(ctx, http.MethodPatch, table, params, patch)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	body, err := b.do(req, op)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(op, body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.NotFound, op, fmt.Sprintf("%s %s not found", table, id))
	}
	return rows[0], nil
}

func (b *Backend) Delete(ctx context.Context, table string, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	req, err := b.newRequest(ctx, http.MethodDelete, table, params, nil)
	if err != nil {
		return err
	}
	_, err = b.do(req, "delete "+table)
	return err
}

func (b *Backend) newRequest(ctx context.Context, method, table string, params url.Values, body any) (*http.Request, error) {
	target := b.baseURL + restPath + table
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", table, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", b.anonKey)
	req.Header.Set("Authorization", "Bearer "+b.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (b *Backend) do(req *http.Request, op string) ([]byte, error) {
	res, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := rejectionMessage(body)
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		b.logger.Debugf(providers.TypeSync, "%s rejected with %d: %s", op, res.StatusCode, msg)
		return nil, apperr.Rejected(op, res.StatusCode, msg)
	}
	return body, nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &apperr.Error{Kind: apperr.Timeout, Op: op, Message: "timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperr.Wrap(apperr.Unreachable, op, err)
	}
}

// rejectionMessage extracts the gateway's error message from a JSON body.
func rejectionMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Details != "" {
		return payload.Message + " (" + payload.Details + ")"
	}
	return payload.Message
}

func decodeRows(op string, body []byte) ([]backend.Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []backend.Row{}, nil
	}
	var rows []backend.Row
	if body[0] == '{' {
		var row backend.Row
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
		return []backend.Row{row}, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return rows, nil
}

func encodeQuery(q backend.Query) url.Values {
	params := url.Values{}
	if len(q.Columns) > 0 {
		cols := make([]string, 0, len(q.Columns))
		for _, c := range q.Columns {
			cols = append(cols, strings.ReplaceAll(c, " ", ""))
		}
		params.Set("select", strings.Join(cols, ","))
	}
	for _, f := range q.Filters {
		params.Add(f.Column, "eq."+formatValue(f.Value))
	}
	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case backend.ID:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
