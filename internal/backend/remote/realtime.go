package remote

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/providers"
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 25 * time.Second
	writeTimeout      = 5 * time.Second
	eventBuffer       = 64
	protocolVersion   = "1.0.0"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventClose     = "phx_close"
	eventError     = "phx_error"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
)

// DefaultDialer is used for every realtime channel.
var DefaultDialer = &gorilla.Dialer{
	Proxy:            gorilla.DefaultDialer.Proxy,
	HandshakeTimeout: 10 * time.Second,
}

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type joinPayload struct {
	Config joinConfig `json:"config"`
}

type joinConfig struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type replyPayload struct {
	Status string `json:"status"`
}

type changesPayload struct {
	Data struct {
		Type      string      `json:"type"`
		Table     string      `json:"table"`
		Record    backend.Row `json:"record"`
		OldRecord backend.Row `json:"old_record"`
	} `json:"data"`
}

// realtimeEndpoint derives the websocket URL from the REST base URL unless
// one is configured explicitly.
func realtimeEndpoint(base, configured string) string {
	if configured != "" {
		return configured
	}
	if base == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/realtime/v1/websocket"
}

func (b *Backend) SubscribeChanges(ctx context.Context, table string, events ...backend.EventType) (backend.Channel, error) {
	op := "subscribe " + table
	if b.realtimeURL == "" {
		return nil, apperr.New(apperr.Unreachable, op, "realtime endpoint not configured")
	}

	target, err := url.Parse(b.realtimeURL)
	if err != nil {
		return nil, err
	}
	params := target.Query()
	params.Set("apikey", b.anonKey)
	params.Set("vsn", protocolVersion)
	target.RawQuery = params.Encode()

	conn, res, err := DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if res != nil && res.StatusCode >= 400 {
			return nil, apperr.Rejected(op, res.StatusCode, res.Status)
		}
		return nil, transportError(op, err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	ch := &realtimeChannel{
		conn:    conn,
		table:   table,
		topic:   "realtime:changes_" + table,
		joinRef: uuid.NewString(),
		events:  append([]backend.EventType(nil), events...),
		out:     make(chan backend.ChangeEvent, eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  b.logger,
	}

	if err := ch.join(); err != nil {
		conn.Close()
		return nil, transportError(op, err)
	}

	go ch.readLoop()
	go ch.heartbeat()
	return ch, nil
}

type realtimeChannel struct {
	conn    *gorilla.Conn
	writeMu sync.Mutex
	table   string
	topic   string
	joinRef string
	events  []backend.EventType
	logger  providers.Logger

	out       chan backend.ChangeEvent
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *realtimeChannel) Events() <-chan backend.ChangeEvent {
	return c.out
}

// Close leaves the topic and closes the socket. Events is closed once the
// read loop has stopped.
func (c *realtimeChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		if werr := c.write(phxMessage{Topic: c.topic, Event: eventLeave, Payload: json.RawMessage("{}"), Ref: uuid.NewString()}); werr != nil {
			c.logger.Debugf(providers.TypeSync, "realtime %s: leave failed: %v", c.table, werr)
		}
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	<-c.done
	return err
}

func (c *realtimeChannel) join() error {
	filters := make([]changeFilter, 0, len(c.events))
	for _, e := range c.events {
		filters = append(filters, changeFilter{Event: string(e), Schema: "public", Table: c.table})
	}
	if len(filters) == 0 {
		filters = append(filters, changeFilter{Event: string(backend.EventAll), Schema: "public", Table: c.table})
	}

	payload, err := json.Marshal(joinPayload{Config: joinConfig{PostgresChanges: filters}})
	if err != nil {
		return err
	}
	return c.write(phxMessage{Topic: c.topic, Event: eventJoin, Payload: payload, Ref: c.joinRef})
}

func (c *realtimeChannel) write(msg phxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

func (c *realtimeChannel) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case <-c.done:
			return
		case <-ticker.C:
			err := c.write(phxMessage{Topic: "phoenix", Event: eventHeartbeat, Payload: json.RawMessage("{}"), Ref: uuid.NewString()})
			if err != nil {
				c.logger.Debugf(providers.TypeSync, "realtime %s: heartbeat failed: %v", c.table, err)
			}
		}
	}
}

func (c *realtimeChannel) readLoop() {
	defer close(c.done)
	defer close(c.out)
	defer c.conn.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosing() && !errors.Is(err, gorilla.ErrCloseSent) {
				c.logger.Warnf(providers.TypeSync, "realtime %s: connection lost: %v", c.table, err)
				c.emit(backend.ChangeEvent{Table: c.table, Status: backend.StatusClosed})
			}
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debugf(providers.TypeSync, "realtime %s: undecodable frame: %v", c.table, err)
			continue
		}
		if msg.Topic != c.topic {
			continue
		}

		if stop := c.handle(msg); stop {
			return
		}
	}
}

// handle processes one frame and reports whether the channel is finished.
func (c *realtimeChannel) handle(msg phxMessage) bool {
	switch msg.Event {
	case eventReply:
		if msg.Ref != c.joinRef {
			return false
		}
		var reply replyPayload
		_ = json.Unmarshal(msg.Payload, &reply)
		if reply.Status != "ok" {
			c.logger.Warnf(providers.TypeSync, "realtime %s: join refused: %s", c.table, msg.Payload)
			c.emit(backend.ChangeEvent{Table: c.table, Status: backend.StatusClosed})
			return true
		}
		c.emit(backend.ChangeEvent{Table: c.table, Status: backend.StatusOpen})
	case eventChanges:
		var payload changesPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Debugf(providers.TypeSync, "realtime %s: bad change payload: %v", c.table, err)
			return false
		}
		t := backend.EventType(strings.ToUpper(payload.Data.Type))
		if !backend.Matches(c.events, t) {
			return false
		}
		c.emit(backend.ChangeEvent{
			Table:     c.table,
			Type:      t,
			Record:    payload.Data.Record,
			OldRecord: payload.Data.OldRecord,
		})
	case eventClose, eventError:
		c.emit(backend.ChangeEvent{Table: c.table, Status: backend.StatusClosed})
		return true
	}
	return false
}

func (c *realtimeChannel) emit(ev backend.ChangeEvent) {
	select {
	case c.out <- ev:
	case <-c.closing:
	}
}

func (c *realtimeChannel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
