package connectivity

import (
	"consentsync/internal/backend"
	"consentsync/internal/clock"
	"consentsync/internal/providers"
	"consentsync/internal/retry"
	"consentsync/internal/structures"
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	OutcomeCached      = "cached"
	OutcomeOnline      = "online"
	OutcomeOfflineMode = "offline_mode"
	OutcomeNetworkDown = "network_down"
	OutcomeBackendDown = "backend_down"
)

type ProbeInterface interface {
	// CheckConnection never fails; an unreachable backend is reported as false.
	CheckConnection(ctx context.Context) bool
	// Invalidate forgets the cached result so the next check probes again.
	Invalidate()
	State() *State
}

type Probe struct {
	state     *State
	backend   backend.Backend
	network   NetworkCheckerInterface
	scheduler *retry.Scheduler
	policy    retry.Policy
	ttl       time.Duration
	netTTL    time.Duration
	clock     clock.Clock
	logger    providers.Logger
	metrics   providers.MetricsProviderInterface
	group     singleflight.Group
}

func NewProbe(
	conf *structures.Config,
	state *State,
	be backend.Backend,
	network NetworkCheckerInterface,
	scheduler *retry.Scheduler,
	clk clock.Clock,
	logger providers.Logger,
	metrics providers.MetricsProviderInterface,
) *Probe {
	return &Probe{
		state:     state,
		backend:   be,
		network:   network,
		scheduler: scheduler,
		policy:    retry.PolicyFromConfig(conf.Sync.ProbeRetry),
		ttl:       conf.Sync.ProbeTTL,
		netTTL:    conf.Sync.NetworkTimeout,
		clock:     clk,
		logger:    logger,
		metrics:   metrics,
	}
}

func (p *Probe) State() *State {
	return p.state
}

func (p *Probe) Invalidate() {
	p.state.clearStatus()
}

func (p *Probe) cached() (bool, bool) {
	st, ok := p.state.Status()
	if !ok || p.clock.Now().Sub(st.CheckedAt) >= p.ttl {
		return false, false
	}
	return st.IsConnected, true
}

// CheckConnection returns the cached result while it is fresh. Otherwise
// one probe runs on behalf of every concurrent caller; a caller whose ctx
// ends early gets false without affecting the shared probe.
func (p *Probe) CheckConnection(ctx context.Context) bool {
	if connected, ok := p.cached(); ok {
		p.metrics.IncProbeResult(OutcomeCached)
		return connected
	}

	ch := p.group.DoChan("probe", func() (any, error) {
		if connected, ok := p.cached(); ok {
			return connected, nil
		}
		return p.probe(context.WithoutCancel(ctx)), nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (p *Probe) probe(ctx context.Context) bool {
	if p.state.IsOfflineMode() {
		p.record(false, OutcomeOfflineMode)
		return false
	}

	nctx, cancel := context.WithTimeout(ctx, p.netTTL)
	err := p.network.Check(nctx)
	cancel()
	if err != nil {
		p.logger.Warnf(providers.TypeSync, "Network unreachable: %v", err)
		p.state.setNetworkUnreachable(true)
		p.record(false, OutcomeNetworkDown)
		return false
	}

	if err := p.scheduler.Do(ctx, "probe", p.policy, p.backend.Probe); err != nil {
		p.logger.Warnf(providers.TypeSync, "Backend unreachable: %v", err)
		p.state.setNetworkUnreachable(true)
		p.record(false, OutcomeBackendDown)
		return false
	}

	p.state.setNetworkUnreachable(false)
	p.record(true, OutcomeOnline)
	return true
}

func (p *Probe) record(connected bool, outcome string) {
	p.state.setStatus(ConnectionStatus{IsConnected: connected, CheckedAt: p.clock.Now()})
	p.metrics.IncProbeResult(outcome)
	p.logger.Debugf(providers.TypeSync, "Connection check: %s", outcome)
}
