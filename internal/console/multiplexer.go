// Package console implements the Console Multiplexer (§4.5): one PTY
// per zone spawned as `zlogin -C <zone>`, fanning its output out to
// concurrent subscribers with bounded per-subscriber buffers and
// reconnect replay, and serialising writes back into the PTY.
package console

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// replayBufferBytes bounds, in bytes, the tail replayed to a
// newly-subscribed WebSocket on reconnect (§4.5); the tail is not cut on
// line boundaries. subscriberQueueLen bounds each subscriber's queue.
const (
	replayBufferBytes = 64 * 1024
	subscriberQueueLen = 256
)

var ErrZoneNotActive = errors.New("console: zone has no active session")
var ErrAlreadyActive = errors.New("console: zone already has an active session")

// subscriber is one listener's forward path. A full queue drops the
// oldest chunk, and a chunk over the subscriber's rate limit is dropped
// on arrival, ensuring one slow listener cannot stall others (§4.5).
// Either drop sets overflow; the flag stays on the subscriber and is not
// returned by Subscribe, so no marker is delivered to the listener.
type subscriber struct {
	id       string
	ch       chan []byte
	limiter  *rate.Limiter
	overflow bool
}

// zoneConsole is the single-owner-per-zone PTY plus its subscriber set.
// All mutation of one zone's entry is serialised by mu.
type zoneConsole struct {
	mu             sync.Mutex
	zone           string
	cmd            *exec.Cmd
	pty            *os.File
	subscribers    map[string]*subscriber
	replay         []byte
	automationBusy bool
	closed         bool
}

// Multiplexer owns the zone->PTY registry. It is process-local,
// in-memory, and does not survive restart (§5: recovery is via
// last_seen/status reconciliation, not PTY replay).
type Multiplexer struct {
	mu     sync.Mutex
	zones  map[string]*zoneConsole
	logger *zap.SugaredLogger
}

func NewMultiplexer(logger *zap.SugaredLogger) *Multiplexer {
	return &Multiplexer{
		zones:  map[string]*zoneConsole{},
		logger: logger,
	}
}

// GetOrCreate returns the existing console for zone or spawns a new PTY
// running `zlogin -C <zone>`. The returned pid is the PTY process's pid,
// useful for the Store's ConsoleSession.PID column.
func (m *Multiplexer) GetOrCreate(ctx context.Context, zone string) (pid int, err error) {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	if !ok {
		zc = &zoneConsole{zone: zone, subscribers: map[string]*subscriber{}}
		m.zones[zone] = zc
	}
	m.mu.Unlock()

	zc.mu.Lock()
	defer zc.mu.Unlock()

	if zc.cmd != nil && !zc.closed {
		return zc.cmd.Process.Pid, nil
	}

	cmd := exec.CommandContext(context.Background(), "zlogin", "-C", zone)
	f, err := pty.Start(cmd)
	if err != nil {
		return 0, err
	}

	zc.cmd = cmd
	zc.pty = f
	zc.closed = false
	go m.pump(zc)

	return cmd.Process.Pid, nil
}

// pump reads PTY output until EOF and fans it out to subscribers and the
// replay buffer; on exit it notifies subscribers of closure.
func (m *Multiplexer) pump(zc *zoneConsole) {
	buf := make([]byte, 4096)
	for {
		n, err := zc.pty.Read(buf)
		if n > 0 {
			m.broadcast(zc, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && m.logger != nil {
				m.logger.Debugw("console pty read error", "zone", zc.zone, "error", err)
			}
			m.notifyClosed(zc)
			return
		}
	}
}

func (m *Multiplexer) broadcast(zc *zoneConsole, chunk []byte) {
	zc.mu.Lock()
	defer zc.mu.Unlock()

	if len(zc.replay) > replayBufferBytes {
		zc.replay = zc.replay[len(zc.replay)-replayBufferBytes:]
	}
	zc.replay = append(zc.replay, chunk...)
	if len(zc.replay) > replayBufferBytes {
		zc.replay = zc.replay[len(zc.replay)-replayBufferBytes:]
	}

	for _, sub := range zc.subscribers {
		if !sub.limiter.Allow() {
			sub.overflow = true
			continue
		}
		select {
		case sub.ch <- chunk:
		default:
			sub.overflow = true
			select {
			case <-sub.ch: // drop oldest
			default:
			}
			select {
			case sub.ch <- chunk:
			default:
			}
		}
	}
}

func (m *Multiplexer) notifyClosed(zc *zoneConsole) {
	zc.mu.Lock()
	defer zc.mu.Unlock()
	zc.closed = true
	for _, sub := range zc.subscribers {
		close(sub.ch)
	}
	zc.subscribers = map[string]*subscriber{}
}

// Subscribe registers a listener for zone's output and returns a replay
// of the buffered tail plus a channel of subsequent chunks and an
// unsubscribe function. Overflow on this subscriber's queue drops the
// oldest chunk, never blocking the PTY owner.
func (m *Multiplexer) Subscribe(zone, subscriberID string) (replay []byte, ch <-chan []byte, unsubscribe func(), err error) {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	m.mu.Unlock()
	if !ok {
		return nil, nil, nil, ErrZoneNotActive
	}

	zc.mu.Lock()
	defer zc.mu.Unlock()
	if zc.closed {
		return nil, nil, nil, ErrZoneNotActive
	}

	sub := &subscriber{
		id:      subscriberID,
		ch:      make(chan []byte, subscriberQueueLen),
		limiter: rate.NewLimiter(rate.Every(time.Millisecond), subscriberQueueLen),
	}
	zc.subscribers[subscriberID] = sub

	unsub := func() {
		zc.mu.Lock()
		defer zc.mu.Unlock()
		if existing, ok := zc.subscribers[subscriberID]; ok && existing == sub {
			delete(zc.subscribers, subscriberID)
		}
	}

	replayCopy := append([]byte(nil), zc.replay...)
	return replayCopy, sub.ch, unsub, nil
}

// Write serialises bytes into the PTY's stdin; writes from automation
// and from WebSocket clients share this call so ordering is FIFO by
// arrival (§4.5).
func (m *Multiplexer) Write(zone string, data []byte) error {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	m.mu.Unlock()
	if !ok {
		return ErrZoneNotActive
	}

	zc.mu.Lock()
	defer zc.mu.Unlock()
	if zc.closed {
		return ErrZoneNotActive
	}
	_, err := zc.pty.Write(data)
	return err
}

// SetAutomationActive marks whether an automation job (e.g. zone_setup's
// recipe) currently owns the console, surfaced to subscribers as an
// advisory read-mostly marker.
func (m *Multiplexer) SetAutomationActive(zone string, active bool) {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	m.mu.Unlock()
	if !ok {
		return
	}
	zc.mu.Lock()
	zc.automationBusy = active
	zc.mu.Unlock()
}

// IsAlive reports whether zone currently has a running PTY.
func (m *Multiplexer) IsAlive(zone string) bool {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	m.mu.Unlock()
	if !ok {
		return false
	}
	zc.mu.Lock()
	defer zc.mu.Unlock()
	return !zc.closed
}

// IsAutomationActive reports whether an automation job currently owns
// zone's console.
func (m *Multiplexer) IsAutomationActive(zone string) bool {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	m.mu.Unlock()
	if !ok {
		return false
	}
	zc.mu.Lock()
	defer zc.mu.Unlock()
	return zc.automationBusy
}

// Destroy terminates zone's PTY, failing any automation in progress and
// notifying subscribers of closure.
func (m *Multiplexer) Destroy(zone string) error {
	m.mu.Lock()
	zc, ok := m.zones[zone]
	if ok {
		delete(m.zones, zone)
	}
	m.mu.Unlock()
	if !ok {
		return ErrZoneNotActive
	}

	zc.mu.Lock()
	if zc.closed {
		zc.mu.Unlock()
		return nil
	}
	zc.closed = true
	var proc *os.Process
	if zc.cmd != nil {
		proc = zc.cmd.Process
	}
	f := zc.pty
	subs := zc.subscribers
	zc.subscribers = map[string]*subscriber{}
	zc.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	if f != nil {
		f.Close()
	}
	if proc != nil {
		proc.Kill()
	}
	return nil
}

// DestroyAll terminates every active PTY, the shutdown-ordering step
// called for in SPEC_FULL.md's graceful-shutdown section.
func (m *Multiplexer) DestroyAll() {
	m.mu.Lock()
	zones := make([]string, 0, len(m.zones))
	for z := range m.zones {
		zones = append(zones, z)
	}
	m.mu.Unlock()

	for _, z := range zones {
		_ = m.Destroy(z)
	}
}
