// Package changefeed turns backend change channels into coarse "refetch"
// callbacks and heals them after a disconnect.
package changefeed

import (
	"consentsync/internal/backend"
	"consentsync/internal/clock"
	"consentsync/internal/connectivity"
	"consentsync/internal/providers"
	"consentsync/internal/structures"
	"context"
	"time"

	"go.uber.org/atomic"
)

type Handle interface {
	// Unsubscribe stops the feed. It is safe to call more than once and
	// must not be called from inside onChange.
	Unsubscribe()
}

type SubscriberInterface interface {
	Subscribe(ctx context.Context, table string, onChange func()) Handle
}

type Subscriber struct {
	backend backend.Backend
	probe   connectivity.ProbeInterface
	clock   clock.Clock
	delay   time.Duration
	logger  providers.Logger
}

func NewSubscriber(conf *structures.Config, be backend.Backend, probe connectivity.ProbeInterface, clk clock.Clock, logger providers.Logger) *Subscriber {
	return &Subscriber{
		backend: be,
		probe:   probe,
		clock:   clk,
		delay:   conf.Sync.ReconnectDelay,
		logger:  logger,
	}
}

// Subscribe follows every insert, update and delete on table. In offline
// mode it returns a handle that does nothing and opens no channel.
func (s *Subscriber) Subscribe(ctx context.Context, table string, onChange func()) Handle {
	if s.probe.State().IsOfflineMode() {
		s.logger.Infof(providers.TypeSync, "Offline mode: not subscribing to %s", table)
		return noopHandle{}
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, h, table, onChange)
	return h
}

func (s *Subscriber) run(ctx context.Context, h *handle, table string, onChange func()) {
	defer close(h.done)

	for {
		ch, err := s.backend.SubscribeChanges(ctx, table, backend.EventAll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnf(providers.TypeSync, "Subscribe to %s failed: %v", table, err)
		} else {
			s.consume(ctx, table, ch, onChange)
			_ = ch.Close()
		}

		if !s.reconnect(ctx, table) {
			return
		}
		onChange()
	}
}

// consume forwards row changes until the channel closes, goes offline or ctx ends.
func (s *Subscriber) consume(ctx context.Context, table string, ch backend.Channel, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				s.logger.Warnf(providers.TypeSync, "Change feed %s dropped", table)
				return
			}
			if !ev.IsStatus() {
				s.logger.Debugf(providers.TypeSync, "Change on %s: %s", table, ev.Type)
				onChange()
				continue
			}
			switch ev.Status {
			case backend.StatusOpen:
				s.logger.Debugf(providers.TypeSync, "Change feed %s open", table)
			case backend.StatusClosed, backend.StatusOffline:
				s.logger.Warnf(providers.TypeSync, "Change feed %s is %s", table, ev.Status)
				return
			}
		}
	}
}

// reconnect waits until a fresh probe succeeds. It returns false once ctx ends.
func (s *Subscriber) reconnect(ctx context.Context, table string) bool {
	for {
		if err := s.clock.Sleep(ctx, s.delay); err != nil {
			return false
		}
		s.probe.Invalidate()
		if s.probe.CheckConnection(ctx) {
			s.logger.Infof(providers.TypeSync, "Backend reachable again, resyncing %s", table)
			return ctx.Err() == nil
		}
		if ctx.Err() != nil {
			return false
		}
	}
}

type handle struct {
	closed atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) Unsubscribe() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.cancel()
	<-h.done
}

type noopHandle struct{}

func (noopHandle) Unsubscribe() {}
