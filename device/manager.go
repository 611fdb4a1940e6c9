// Package device manages the bot's single Android device connection: address
// parsing, session lifecycle across the command and ui-automation transports,
// per-session resource tracking, and background health sampling.
package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionState is the lifecycle state of the device session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// ConnectConfig carries the externally-owned package knowledge a session needs.
type ConnectConfig struct {
	// PackageAllowlist is the set of game packages the bot knows how to drive.
	PackageAllowlist []string
	// CloudAllowlist is the subset of cloud-game packages.
	CloudAllowlist []string
	// CloudGame selects the cloud allowlist during package detection.
	CloudGame bool
}

// Info is the exported read model of the current session.
type Info struct {
	Identity   Identity
	State      ConnectionState
	IsEmulator bool
}

// session is the live connection state. Exactly zero or one exists per
// manager; it is created whole on connect and dropped whole on disconnect.
type session struct {
	id  Identity
	cmd CommandClient
	ui  UIClient // lazily dialed on first UIClient() call
	reg *Registry
	fwd *ForwardTable
}

// Manager owns the single active device session and orchestrates
// connect/disconnect. All session-mutating calls serialize through one lock so
// teardown-then-setup is atomic with respect to concurrent callers.
type Manager struct {
	mu        sync.Mutex
	state     ConnectionState
	sess      *session
	cfg       ConnectConfig
	cmdDialer CommandDialer
	uiDialer  UIDialer

	// hierarchy dumps are throttled; the ui side chokes on tighter polling
	hierarchyLimit *rate.Limiter
}

// NewManager builds a disconnected manager around the two transport dialers.
func NewManager(cmdDialer CommandDialer, uiDialer UIDialer) *Manager {
	return &Manager{
		state:          StateDisconnected,
		cmdDialer:      cmdDialer,
		uiDialer:       uiDialer,
		hierarchyLimit: rate.NewLimiter(rate.Every(hierarchyInterval), 1),
	}
}

// Connect establishes a session to the given address, tearing down any
// existing session first. On any failure the manager is left fully
// disconnected with no partial state.
func (m *Manager) Connect(ctx context.Context, address string, cfg ConnectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if m.sess != nil {
		m.disconnectLocked(ctx)
	}

	m.state = StateConnecting
	log.Info().Str("serial", id.Serial).Str("kind", id.Kind.String()).Msg("Connecting")

	cmd, resolved, err := m.dialCommand(ctx, id)
	if err != nil {
		m.state = StateDisconnected
		return err
	}

	reg := NewRegistry()
	m.sess = &session{
		id:  resolved,
		cmd: cmd,
		reg: reg,
		fwd: NewForwardTable(cmd, reg),
	}
	m.cfg = cfg
	m.state = StateConnected
	log.Info().Str("serial", resolved.Serial).Str("family", resolved.Family.String()).Msg("Connected")
	return nil
}

// dialCommand reaches the command transport, probing the family's common
// ports in order when the address carries none.
func (m *Manager) dialCommand(ctx context.Context, id Identity) (CommandClient, Identity, error) {
	if id.HasExplicitPort() || id.Kind != KindLocal {
		cmd, err := m.cmdDialer.Dial(ctx, id)
		if err != nil {
			return nil, id, fmt.Errorf("%w: %s: %v", ErrTransportUnreachable, id.Serial, err)
		}
		return cmd, id, nil
	}

	for _, port := range CommonPorts(id.Family) {
		candidate := id.WithPort(port)
		cmd, err := m.cmdDialer.Dial(ctx, candidate)
		if err == nil {
			return cmd, candidate, nil
		}
		log.Debug().Str("serial", candidate.Serial).Err(err).Msg("Port probe failed")
	}
	return nil, id, fmt.Errorf("%w: family %s", ErrNoPortFound, id.Family)
}

// Disconnect tears the session down: releases registered resources, removes
// port mappings, drops both transport handles. Individual release failures are
// logged and never block the remaining cleanup. Calling it while already
// disconnected is a no-op success.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		m.state = StateDisconnected
		return nil
	}
	m.disconnectLocked(ctx)
	return nil
}

func (m *Manager) disconnectLocked(ctx context.Context) {
	s := m.sess
	m.state = StateDisconnecting
	log.Info().Str("serial", s.id.Serial).Msg("Disconnecting")

	for _, err := range s.reg.ReleaseAll() {
		log.Warn().Err(err).Msg("Teardown: resource release failed")
	}
	for _, err := range s.fwd.RemoveAll(ctx) {
		log.Warn().Err(err).Msg("Teardown: forward removal failed")
	}
	if s.ui != nil {
		if err := s.ui.Close(); err != nil {
			log.Warn().Err(err).Msg("Teardown: ui transport close failed")
		}
	}
	if err := s.cmd.Close(); err != nil {
		log.Warn().Err(err).Msg("Teardown: command transport close failed")
	}

	m.sess = nil
	m.state = StateDisconnected
}

// CommandClient returns the session's command-transport handle.
func (m *Manager) CommandClient() (CommandClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return nil, ErrNotConnected
	}
	return m.sess.cmd, nil
}

// UIClient returns the session's ui-automation handle, dialing it on first
// use. Sessions that never touch the ui side never pay for it.
func (m *Manager) UIClient(ctx context.Context) (UIClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uiClientLocked(ctx)
}

func (m *Manager) uiClientLocked(ctx context.Context) (UIClient, error) {
	if m.state != StateConnected {
		return nil, ErrNotConnected
	}
	if m.sess.ui != nil {
		return m.sess.ui, nil
	}

	ui, err := m.uiDialer.Dial(ctx, m.sess.id, m.sess.fwd)
	if err != nil {
		return nil, fmt.Errorf("ui transport: %w", err)
	}
	m.sess.ui = ui
	log.Info().Str("serial", m.sess.id.Serial).Msg("UI transport attached")
	return ui, nil
}

// UIAttached reports whether the lazy ui handle has been created. The health
// monitor uses this to avoid forcing the dial from a sampling tick.
func (m *Manager) UIAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.ui != nil
}

// Forward ensures a host-to-device port forward and returns the local port.
func (m *Manager) Forward(ctx context.Context, remote string) (uint16, error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return 0, ErrNotConnected
	}
	fwd := m.sess.fwd
	m.mu.Unlock()
	return fwd.Forward(ctx, remote)
}

// Reverse ensures a device-to-host reverse mapping.
func (m *Manager) Reverse(ctx context.Context, remote, local string) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	fwd := m.sess.fwd
	m.mu.Unlock()
	return fwd.Reverse(ctx, remote, local)
}

// Mappings returns the live port mappings of the current session.
func (m *Manager) Mappings() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil
	}
	return m.sess.fwd.Mappings()
}

// ListPackages returns the packages installed on the device.
func (m *Manager) ListPackages(ctx context.Context) ([]string, error) {
	cmd, err := m.CommandClient()
	if err != nil {
		return nil, err
	}
	return cmd.ListPackages(ctx)
}

// DetectPackage finds the one game package installed on the device. The known
// sets come from the config the session connected with; cloud narrows
// ambiguous results to the cloud allowlist, non-cloud to the regular one.
func (m *Manager) DetectPackage(ctx context.Context) (string, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	installed, err := m.ListPackages(ctx)
	if err != nil {
		return "", err
	}

	known := append(append([]string{}, cfg.PackageAllowlist...), cfg.CloudAllowlist...)
	candidates := intersect(installed, known)
	log.Info().Strs("candidates", candidates).Msg("Detect package")

	switch len(candidates) {
	case 0:
		return "", ErrPackageNotFound
	case 1:
		return candidates[0], nil
	}

	if cfg.CloudGame {
		candidates = intersect(candidates, cfg.CloudAllowlist)
	} else {
		candidates = intersect(candidates, cfg.PackageAllowlist)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrPackageAmbiguous, strings.Join(candidates, ", "))
}

func intersect(values, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var out []string
	for _, v := range values {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// GetDeviceInfo returns the exported read model of the session.
func (m *Manager) GetDeviceInfo() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{State: m.state}
	if m.sess != nil {
		info.Identity = m.sess.id
		info.IsEmulator = m.sess.id.IsEmulator()
	}
	return info
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// hierarchyInterval is the minimum spacing between hierarchy dumps.
const hierarchyInterval = 100 * time.Millisecond

var currentFocusPattern = regexp.MustCompile(`([a-zA-Z0-9_.]+)/[a-zA-Z0-9_.]+`)

// DumpHierarchy fetches the ui hierarchy xml, throttled to one dump per
// 100ms so tight polling loops don't hammer the automation agent.
func (m *Manager) DumpHierarchy(ctx context.Context) (string, error) {
	if err := m.hierarchyLimit.Wait(ctx); err != nil {
		return "", err
	}
	ui, err := m.UIClient(ctx)
	if err != nil {
		return "", err
	}
	return ui.DumpHierarchy(ctx)
}

// AppStart launches a package, preferring the ui transport and falling back
// to a monkey launch over the command transport.
func (m *Manager) AppStart(ctx context.Context, pkg string) error {
	if ui, err := m.UIClient(ctx); err == nil {
		if err := ui.AppStart(ctx, pkg); err == nil {
			return nil
		} else {
			log.Warn().Str("package", pkg).Err(err).Msg("UI app start failed, falling back to shell")
		}
	}
	cmd, err := m.CommandClient()
	if err != nil {
		return err
	}
	_, err = cmd.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	return err
}

// AppStop force-stops a package.
func (m *Manager) AppStop(ctx context.Context, pkg string) error {
	if ui, err := m.UIClient(ctx); err == nil {
		if err := ui.AppStop(ctx, pkg); err == nil {
			return nil
		} else {
			log.Warn().Str("package", pkg).Err(err).Msg("UI app stop failed, falling back to shell")
		}
	}
	cmd, err := m.CommandClient()
	if err != nil {
		return err
	}
	_, err = cmd.Shell(ctx, "am force-stop "+pkg)
	return err
}

// AppCurrent returns the package holding the current focus.
func (m *Manager) AppCurrent(ctx context.Context) (string, error) {
	if ui, err := m.UIClient(ctx); err == nil {
		if pkg, err := ui.AppCurrent(ctx); err == nil && pkg != "" {
			return pkg, nil
		}
	}
	cmd, err := m.CommandClient()
	if err != nil {
		return "", err
	}
	out, err := cmd.Shell(ctx, "dumpsys window windows | grep mCurrentFocus")
	if err != nil {
		return "", err
	}
	if match := currentFocusPattern.FindStringSubmatch(out); match != nil {
		return match[1], nil
	}
	return "", nil
}

// AppRunning reports whether pkg currently holds the focus.
func (m *Manager) AppRunning(ctx context.Context, pkg string) (bool, error) {
	current, err := m.AppCurrent(ctx)
	if err != nil {
		return false, err
	}
	return current == pkg, nil
}
