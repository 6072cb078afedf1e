// Package memory is an in-process Backend. It backs the memory driver and
// the store tests: calls are counted per operation, failures can be queued,
// and change notifications are delivered like a realtime feed.
package memory

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/clock"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const (
	OpProbe     = "probe"
	OpSelect    = "select"
	OpInsert    = "insert"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpSubscribe = "subscribe"
)

const channelBuffer = 64

type Backend struct {
	mu       sync.Mutex
	clock    clock.Clock
	tables   map[string][]backend.Row
	unique   map[string][]string
	calls    map[string]int
	failures map[string][]error
	offline  bool
	subs     map[string][]*channel
}

func New(clk clock.Clock) *Backend {
	return &Backend{
		clock:    clk,
		tables:   make(map[string][]backend.Row),
		unique:   make(map[string][]string),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		subs:     make(map[string][]*channel),
	}
}

// Unique declares a unique constraint; violating inserts are rejected with 409.
func (b *Backend) Unique(table, column string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unique[table] = append(b.unique[table], column)
}

// Seed inserts rows without counting calls or notifying subscribers.
func (b *Backend) Seed(table string, rows ...backend.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.tables[table] = append(b.tables[table], b.prepare(r))
	}
}

func (b *Backend) Rows(table string) []backend.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Row, 0, len(b.tables[table]))
	for _, r := range b.tables[table] {
		out = append(out, cloneRow(r))
	}
	return out
}

// Calls returns how many times op was invoked across all tables.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *Backend) CallsOn(op, table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op+":"+table]
}

func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = make(map[string]int)
}

// FailNext queues err for the next invocation of op.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// SetOffline makes every operation fail with Unreachable. Going offline
// reports every open channel as offline and closes it.
func (b *Backend) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
	if offline {
		for table := range b.subs {
			b.dropLocked(table, backend.StatusOffline)
		}
	}
}

// DropChannels closes every open channel on table after emitting status.
func (b *Backend) DropChannels(table string, status backend.ChannelStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(table, status)
}

func (b *Backend) Subscribers(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[table])
}

func (b *Backend) dropLocked(table string, status backend.ChannelStatus) {
	for _, ch := range b.subs[table] {
		ch.send(backend.ChangeEvent{Table: table, Status: status})
		ch.closeLocked()
	}
	delete(b.subs, table)
}

// begin counts the call and returns the error the call must fail with, if any.
func (b *Backend) begin(ctx context.Context, op, table string) error {
	b.calls[op]++
	if table != "" {
		b.calls[op+":"+table]++
	}
	if err := ctx.Err(); err != nil {
		return apperr.FromContext(op, err)
	}
	if b.offline {
		return apperr.New(apperr.Unreachable, op, "backend offline")
	}
	if queued := b.failures[op]; len(queued) > 0 {
		b.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (b *Backend) Probe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begin(ctx, OpProbe, "")
}

func (b *Backend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ctx, OpSelect, table); err != nil {
		return nil, err
	}

	var out []backend.Row
	for _, r := range b.tables[table] {
		if matches(r, q.Filters) {
			out = append(out, r)
		}
	}
	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][col], out[j][col])
			if asc {
				return c < 0
			}
			return c > 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	result := make([]backend.Row, 0, len(out))
	for _, r := range out {
		result = append(result, b.project(r, q.Columns))
	}
	return result, nil
}

func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ctx, OpInsert, table); err != nil {
		return nil, err
	}

	r := b.prepare(row)
	for _, col := range b.unique[table] {
		for _, existing := range b.tables[table] {
			if valuesEqual(existing[col], r[col]) {
				return nil, apperr.Rejected(OpInsert, 409,
					fmt.Sprintf("duplicate key value violates unique constraint on %s.%s", table, col))
			}
		}
	}
	if b.find(table, r["id"]) >= 0 {
		return nil, apperr.Rejected(OpInsert, 409, fmt.Sprintf("duplicate key value violates unique constraint on %s.id", table))
	}

	b.tables[table] = append(b.tables[table], r)
	b.notify(table, backend.ChangeEvent{Table: table, Type: backend.EventInsert, Record: cloneRow(r)})
	return cloneRow(r), nil
}

func (b *Backend) Update(ctx context.Context, table string, id string, patch backend.Row) (backend.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ctx, OpUpdate, table); err != nil {
		return nil, err
	}

	i := b.find(table, id)
	if i < 0 {
		return nil, apperr.New(apperr.NotFound, OpUpdate, fmt.Sprintf("no %s row with id %s", table, id))
	}
	old := cloneRow(b.tables[table][i])
	updated := cloneRow(b.tables[table][i])
	for k, v := range cloneRow(patch) {
		if k == "id" {
			continue
		}
		updated[k] = v
	}
	b.tables[table][i] = updated
	b.notify(table, backend.ChangeEvent{Table: table, Type: backend.EventUpdate, Record: cloneRow(updated), OldRecord: old})
	return cloneRow(updated), nil
}

func (b *Backend) Delete(ctx context.Context, table string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ctx, OpDelete, table); err != nil {
		return err
	}

	i := b.find(table, id)
	if i < 0 {
		return nil
	}
	old := b.tables[table][i]
	b.tables[table] = append(b.tables[table][:i:i], b.tables[table][i+1:]...)
	b.notify(table, backend.ChangeEvent{Table: table, Type: backend.EventDelete, OldRecord: old})
	return nil
}

func (b *Backend) SubscribeChanges(ctx context.Context, table string, events ...backend.EventType) (backend.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ctx, OpSubscribe, table); err != nil {
		return nil, err
	}

	ch := &channel{
		owner:  b,
		table:  table,
		events: append([]backend.EventType(nil), events...),
		out:    make(chan backend.ChangeEvent, channelBuffer),
	}
	b.subs[table] = append(b.subs[table], ch)
	ch.send(backend.ChangeEvent{Table: table, Status: backend.StatusOpen})
	return ch, nil
}

func (b *Backend) notify(table string, ev backend.ChangeEvent) {
	for _, ch := range b.subs[table] {
		if backend.Matches(ch.events, ev.Type) {
			ch.send(ev)
		}
	}
}

func (b *Backend) prepare(row backend.Row) backend.Row {
	r := cloneRow(row)
	if id, ok := r["id"]; !ok || id == nil || id == "" {
		r["id"] = uuid.NewString()
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = b.clock.Now().UTC().Format(time.RFC3339Nano)
	}
	return r
}

func (b *Backend) find(table string, id any) int {
	for i, r := range b.tables[table] {
		if valuesEqual(r["id"], id) {
			return i
		}
	}
	return -1
}

// project keeps the requested columns and resolves embedded relations.
func (b *Backend) project(r backend.Row, columns []string) backend.Row {
	if len(columns) == 0 {
		return cloneRow(r)
	}
	out := backend.Row{}
	for _, col := range columns {
		col = strings.TrimSpace(col)
		if col == "*" {
			for k, v := range cloneRow(r) {
				out[k] = v
			}
			continue
		}
		if alias, fk, sub, ok := parseEmbed(col); ok {
			out[alias] = b.embed(alias, r[fk], sub)
			continue
		}
		if v, ok := r[col]; ok {
			out[col] = cloneValue(v)
		}
	}
	return out
}

func (b *Backend) embed(table string, id any, columns []string) any {
	if id == nil {
		return nil
	}
	i := b.find(table, id)
	if i < 0 {
		return nil
	}
	return b.project(b.tables[table][i], columns)
}

// parseEmbed splits "alias:fk(col1,col2)".
func parseEmbed(col string) (alias, fk string, columns []string, ok bool) {
	open := strings.Index(col, "(")
	colon := strings.Index(col, ":")
	if open < 0 || colon < 0 || colon > open || !strings.HasSuffix(col, ")") {
		return "", "", nil, false
	}
	alias = strings.TrimSpace(col[:colon])
	fk = strings.TrimSpace(col[colon+1 : open])
	for _, c := range strings.Split(col[open+1:len(col)-1], ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	return alias, fk, columns, true
}

func matches(r backend.Row, filters []backend.Filter) bool {
	for _, f := range filters {
		if !valuesEqual(r[f.Column], f.Value) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toString(a) == toString(b)
}

// toString renders filter operands the way they travel in a query string.
func toString(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func compare(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneRow(r backend.Row) backend.Row {
	if r == nil {
		return nil
	}
	out := make(backend.Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies nested JSON-like values so callers never share
// maps with the stored rows.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any, []any, backend.Row:
		data, err := json.Marshal(t)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}

type channel struct {
	owner  *Backend
	table  string
	events []backend.EventType
	out    chan backend.ChangeEvent
	closed bool
}

func (c *channel) Events() <-chan backend.ChangeEvent {
	return c.out
}

// send never blocks; a full buffer drops the event.
func (c *channel) send(ev backend.ChangeEvent) {
	if c.closed {
		return
	}
	select {
	case c.out <- ev:
	default:
	}
}

func (c *channel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *channel) Close() error {
	b := c.owner
	b.mu.Lock()
	defer b.mu.Unlock()
	c.closeLocked()
	subs := b.subs[c.table]
	for i, s := range subs {
		if s == c {
			b.subs[c.table] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
