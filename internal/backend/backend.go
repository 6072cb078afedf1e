// Package backend describes the remote database the sync layer talks to.
//
// Implementations only move rows; every policy decision (timeouts, retries,
// caching) belongs to the callers.
package backend

import (
	"context"
)

type Backend interface {
	// Probe is the cheapest authoritative liveness check.
	Probe(ctx context.Context) error
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, id string, patch Row) (Row, error)
	Delete(ctx context.Context, table string, id string) error
	SubscribeChanges(ctx context.Context, table string, events ...EventType) (Channel, error)
}

type Row map[string]any

type Filter struct {
	Column string
	Value  any
}

type Order struct {
	Column    string
	Ascending bool
}

// Query selects rows matching every equality filter. Columns may contain
// embedded relations in the form alias:foreign_key(col,...).
type Query struct {
	Columns []string
	Filters []Filter
	Order   *Order
	Limit   int
}

func (q Query) Eq(column string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Value: value})
	return q
}

func (q Query) OrderBy(column string, ascending bool) Query {
	q.Order = &Order{Column: column, Ascending: ascending}
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

type EventType string

const (
	EventAll    EventType = "*"
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

type ChannelStatus string

const (
	StatusOpen    ChannelStatus = "open"
	StatusClosed  ChannelStatus = "closed"
	StatusOffline ChannelStatus = "offline"
)

// ChangeEvent is either a row change (Type set) or a channel status change (Status set).
type ChangeEvent struct {
	Table     string
	Type      EventType
	Status    ChannelStatus
	Record    Row
	OldRecord Row
}

func (e ChangeEvent) IsStatus() bool {
	return e.Type == "" && e.Status != ""
}

// Channel is one live change feed. Events is closed once the channel is
// closed locally or by the remote end.
type Channel interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Matches reports whether t is covered by the subscribed event types.
func Matches(events []EventType, t EventType) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == EventAll || e == t {
			return true
		}
	}
	return false
}
