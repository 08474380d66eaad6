package collectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// Collector is one independently scheduled metric source (§4.6: "Each
// collector runs on an independent fixed-interval schedule").
type Collector interface {
	Name() string
	Interval() time.Duration
	Collect(ctx context.Context) error
}

// Config tunes the self-disable policy shared by every collector
// (§4.6(6)).
type Config struct {
	MaxConsecutiveErrors int
	IdleResetWindow      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.IdleResetWindow <= 0 {
		c.IdleResetWindow = 10 * time.Minute
	}
	return c
}

type collectorState struct {
	consecutiveErrors int
	disabled          bool
	lastError         string
	lastSuccess       time.Time
	successSince      time.Time
}

// Manager runs a fixed set of Collectors on their own schedules, each on
// its own goroutine (§5: "one goroutine/thread per Collector"), tracking
// the consecutive-error counter and host_info visibility required by
// §4.6(6).
type Manager struct {
	host       string
	store      *store.Store
	logger     *zap.SugaredLogger
	cfg        Config
	collectors []Collector

	mu     sync.Mutex
	states map[string]*collectorState

	cron *cron.Cron
}

func NewManager(host string, st *store.Store, cfg Config, logger *zap.SugaredLogger, collectors ...Collector) *Manager {
	return &Manager{
		host:       host,
		store:      st,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		collectors: collectors,
		states:     map[string]*collectorState{},
	}
}

// Start schedules every collector on its own `@every <interval>` cron
// entry (§4.6: "independent fixed-interval schedule"), one goroutine per
// firing courtesy of robfig/cron's own dispatch. Returns immediately;
// entries run until Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.cron = cron.New()
	for _, c := range m.collectors {
		m.states[c.Name()] = &collectorState{}
		collector := c
		spec := fmt.Sprintf("@every %s", collector.Interval())
		if _, err := m.cron.AddFunc(spec, func() { m.runOnce(ctx, collector) }); err != nil && m.logger != nil {
			m.logger.Errorw("schedule collector failed", "collector", collector.Name(), "error", err)
		}
	}
	m.cron.Start()
}

func (m *Manager) runOnce(ctx context.Context, c Collector) {
	m.mu.Lock()
	state := m.states[c.Name()]
	disabled := state.disabled
	m.mu.Unlock()
	if disabled {
		return
	}

	err := c.Collect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if state.successSince.IsZero() {
			state.successSince = time.Now()
		}
		if state.consecutiveErrors > 0 && time.Since(state.successSince) >= m.cfg.IdleResetWindow {
			state.consecutiveErrors = 0
			state.lastError = ""
		}
		state.lastSuccess = time.Now()
		m.recordHealth(ctx, c.Name(), state)
		return
	}

	state.successSince = time.Time{}
	state.consecutiveErrors++
	state.lastError = err.Error()
	if m.logger != nil {
		m.logger.Warnw("collector run failed", "collector", c.Name(), "consecutive_errors", state.consecutiveErrors, "error", err)
	}

	if state.consecutiveErrors >= m.cfg.MaxConsecutiveErrors {
		state.disabled = true
		fatal := srvErrors.NewFatalCollectorError(c.Name(), state.consecutiveErrors, err)
		if m.logger != nil {
			m.logger.Errorw("collector self-disabled", "collector", c.Name(), "error", fatal)
		}
	}
	m.recordHealth(ctx, c.Name(), state)
}

// recordHealth mirrors the in-memory state onto host_info so it is
// visible to the HTTP surface (§4.6(5), §4.6(6)).
func (m *Manager) recordHealth(ctx context.Context, name string, state *collectorState) {
	info, err := m.store.Metrics.GetHostInfo(ctx, m.host)
	if err != nil {
		if m.logger != nil {
			m.logger.Errorw("read host_info for collector health failed", "error", err)
		}
		return
	}
	if info.CollectorErrors == nil {
		info.CollectorErrors = map[string]int{}
	}
	if info.CollectorDisabled == nil {
		info.CollectorDisabled = map[string]bool{}
	}
	if info.CollectorLastError == nil {
		info.CollectorLastError = map[string]string{}
	}
	info.Host = m.host
	info.CollectorErrors[name] = state.consecutiveErrors
	info.CollectorDisabled[name] = state.disabled
	if state.lastError != "" {
		info.CollectorLastError[name] = state.lastError
	} else {
		delete(info.CollectorLastError, name)
	}
	if err := m.store.Metrics.UpsertHostInfo(ctx, info); err != nil && m.logger != nil {
		m.logger.Errorw("write host_info for collector health failed", "error", err)
	}
}

// Stop ends every collector's cron schedule and waits for in-flight runs
// to finish.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
