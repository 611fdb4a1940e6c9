package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LinkStatus is the coarse state of one transport or the device network.
type LinkStatus string

const (
	LinkUnknown      LinkStatus = "unknown"
	LinkConnected    LinkStatus = "connected"
	LinkDisconnected LinkStatus = "disconnected"
)

// Unknown is the sentinel written into a numeric snapshot field whose sample
// step failed this tick.
const Unknown = -1

// Health thresholds. A device outside any of these is considered unfit to run
// game tasks.
const (
	healthMaxCPUPct     = 90.0
	healthMaxMemPct     = 90.0
	healthMinBatteryPct = 10
	healthMaxBatteryC   = 45.0
)

// Snapshot is one immutable health sample. A fresh value replaces the previous
// one wholesale each tick, so readers never see a half-written sample.
type Snapshot struct {
	Connected        bool       `json:"connected"`
	CPUUsagePct      float64    `json:"cpuUsagePct"`
	MemUsagePct      float64    `json:"memUsagePct"`
	BatteryPct       int        `json:"batteryPct"`
	BatteryTempC     float64    `json:"batteryTempC"`
	Network          LinkStatus `json:"network"`
	CommandTransport LinkStatus `json:"commandTransport"`
	UITransport      LinkStatus `json:"uiTransport"`
	SampledAt        time.Time  `json:"sampledAt"`
}

func defaultSnapshot() Snapshot {
	return Snapshot{
		Network:          LinkUnknown,
		CommandTransport: LinkUnknown,
		UITransport:      LinkUnknown,
	}
}

// Healthy applies the fixed thresholds. Unknown sentinels count as unhealthy.
func (s Snapshot) Healthy() bool {
	if !s.Connected {
		return false
	}
	if s.CPUUsagePct < 0 || s.CPUUsagePct >= healthMaxCPUPct {
		return false
	}
	if s.MemUsagePct < 0 || s.MemUsagePct >= healthMaxMemPct {
		return false
	}
	if s.BatteryPct <= healthMinBatteryPct {
		return false
	}
	if s.BatteryTempC < 0 || s.BatteryTempC >= healthMaxBatteryC {
		return false
	}
	return true
}

// DefaultPollInterval is the monitor tick spacing unless Start overrides it.
const DefaultPollInterval = 5 * time.Second

// Monitor periodically samples device health through the manager's read path
// and publishes an immutable Snapshot. Its lifecycle is independent of the
// manager's: it keeps ticking across reconnects and simply reports
// disconnected while no session exists.
type Monitor struct {
	mgr *Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	snap atomic.Pointer[Snapshot]
}

func NewMonitor(mgr *Manager) *Monitor {
	m := &Monitor{mgr: mgr}
	def := defaultSnapshot()
	m.snap.Store(&def)
	return m
}

// Start launches the background sampling loop. Calling Start while the loop
// is already running is a no-op.
func (m *Monitor) Start(pollInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, pollInterval, m.done)
	log.Info().Dur("interval", pollInterval).Msg("Health monitor started")
}

// Stop signals the loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	log.Info().Msg("Health monitor stopped")
}

// loop owns the done channel it was launched with. A restart installs a fresh
// channel on the monitor, so the exiting loop must close its own, not whatever
// m.done points at by then.
func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// sample immediately, then on every tick
	m.publish(m.sample(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publish(m.sample(ctx))
		}
	}
}

func (m *Monitor) publish(s Snapshot) {
	m.snap.Store(&s)
}

// GetStatus returns the last published snapshot, or the zero/unknown default
// before the first tick completes.
func (m *Monitor) GetStatus() Snapshot {
	return *m.snap.Load()
}

// IsHealthy applies the health thresholds to the last snapshot.
func (m *Monitor) IsHealthy() bool {
	return m.GetStatus().Healthy()
}

// sample builds one snapshot. Each step that fails leaves its field at the
// unknown sentinel instead of aborting the tick; only Stop ends the loop.
// The manager lock is held only for the brief handle lookups, never across a
// device query.
func (m *Monitor) sample(ctx context.Context) Snapshot {
	s := defaultSnapshot()
	s.SampledAt = time.Now()

	cmd, err := m.mgr.CommandClient()
	if err != nil {
		s.CommandTransport = LinkDisconnected
		return s
	}
	s.Connected = true
	s.CommandTransport = LinkConnected

	if out, err := cmd.Shell(ctx, "top -n 1"); err != nil {
		s.CPUUsagePct = Unknown
		s.CommandTransport = LinkDisconnected
	} else {
		s.CPUUsagePct = parseTopCPU(out)
	}

	if out, err := cmd.Shell(ctx, "cat /proc/meminfo"); err != nil {
		s.MemUsagePct = Unknown
	} else {
		s.MemUsagePct = parseMemUsage(out)
	}

	if out, err := cmd.Shell(ctx, "dumpsys battery"); err != nil {
		s.BatteryPct = Unknown
		s.BatteryTempC = Unknown
	} else {
		s.BatteryPct, s.BatteryTempC = parseBattery(out)
	}

	if out, err := cmd.Shell(ctx, "dumpsys connectivity"); err != nil {
		s.Network = LinkUnknown
	} else {
		s.Network = parseNetworkStatus(out)
	}

	// Ping the ui transport only when the session already dialed it; the
	// monitor never mutates session state, so it must not force the lazy dial.
	if m.mgr.UIAttached() {
		if ui, err := m.mgr.UIClient(ctx); err == nil {
			if _, err := ui.AppCurrent(ctx); err == nil {
				s.UITransport = LinkConnected
			} else {
				s.UITransport = LinkDisconnected
			}
		}
	}

	return s
}
