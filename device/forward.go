package device

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Local ports for new forwards are picked from this band, matching the range
// the adb tooling conventionally leaves free.
const (
	forwardPortLo = 10000
	forwardPortHi = 20000
)

// Direction of a port mapping.
type Direction int

const (
	DirForward Direction = iota // host local -> device remote
	DirReverse                  // device remote -> host local
)

func (d Direction) String() string {
	if d == DirReverse {
		return "reverse"
	}
	return "forward"
}

// Mapping is one live local<->remote redirection.
type Mapping struct {
	Direction Direction
	Local     string // "tcp:<port>"
	Remote    string // "tcp:<port>" or "localabstract:<name>"
}

type mappingKey struct {
	dir    Direction
	remote string
}

// ForwardTable tracks the port forwards and reverses of the current session.
// At most one live mapping exists per (direction, remote) pair; requesting a
// duplicate returns the existing local endpoint. Every mapping also registers
// a release entry so either teardown path removes it, and removal is
// idempotent across both.
type ForwardTable struct {
	mu       sync.Mutex
	client   CommandClient
	registry *Registry
	mappings map[mappingKey]Mapping
}

func NewForwardTable(client CommandClient, registry *Registry) *ForwardTable {
	return &ForwardTable{
		client:   client,
		registry: registry,
		mappings: make(map[mappingKey]Mapping),
	}
}

// Forward ensures a host-to-device forward for remote and returns the local
// port. An existing mapping for the same remote is reused unchanged.
func (t *ForwardTable) Forward(ctx context.Context, remote string) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := mappingKey{DirForward, remote}
	if m, ok := t.mappings[key]; ok {
		log.Debug().Str("remote", remote).Str("local", m.Local).Msg("Reuse forward")
		return extractPort(m.Local), nil
	}

	port := randomForwardPort()
	local := fmt.Sprintf("tcp:%d", port)
	if err := t.client.Forward(ctx, local, remote); err != nil {
		return 0, fmt.Errorf("forward %s -> %s: %w", local, remote, err)
	}

	t.mappings[key] = Mapping{Direction: DirForward, Local: local, Remote: remote}
	t.registry.Register("forward "+remote, func() error {
		return t.remove(context.Background(), key)
	})
	log.Info().Str("remote", remote).Str("local", local).Msg("Create forward")
	return port, nil
}

// Reverse ensures a device-to-host reverse mapping for remote. An existing
// mapping for the same remote is left untouched.
func (t *ForwardTable) Reverse(ctx context.Context, remote, local string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := mappingKey{DirReverse, remote}
	if m, ok := t.mappings[key]; ok {
		log.Debug().Str("remote", remote).Str("local", m.Local).Msg("Reuse reverse")
		return nil
	}

	if err := t.client.Reverse(ctx, remote, local); err != nil {
		return fmt.Errorf("reverse %s -> %s: %w", remote, local, err)
	}

	t.mappings[key] = Mapping{Direction: DirReverse, Local: local, Remote: remote}
	t.registry.Register("reverse "+remote, func() error {
		return t.remove(context.Background(), key)
	})
	log.Info().Str("remote", remote).Str("local", local).Msg("Create reverse")
	return nil
}

// remove drops one mapping on the transport and forgets it. Removing an
// already-removed mapping is a no-op, which is what makes the registry release
// path and RemoveAll safe to run in either order.
func (t *ForwardTable) remove(ctx context.Context, key mappingKey) error {
	t.mu.Lock()
	m, ok := t.mappings[key]
	if ok {
		delete(t.mappings, key)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if key.dir == DirReverse {
		return t.client.RemoveReverse(ctx, m.Remote)
	}
	return t.client.RemoveForward(ctx, m.Local)
}

// RemoveAll tears down every tracked mapping, continuing past failures.
func (t *ForwardTable) RemoveAll(ctx context.Context) []error {
	t.mu.Lock()
	keys := make([]mappingKey, 0, len(t.mappings))
	for k := range t.mappings {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := t.remove(ctx, k); err != nil {
			log.Warn().Str("remote", k.remote).Err(err).Msg("Forward removal failed")
			errs = append(errs, err)
		}
	}
	return errs
}

// Mappings returns a snapshot of the live mappings.
func (t *ForwardTable) Mappings() []Mapping {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Mapping, 0, len(t.mappings))
	for _, m := range t.mappings {
		out = append(out, m)
	}
	return out
}

func randomForwardPort() uint16 {
	return uint16(forwardPortLo + rand.Intn(forwardPortHi-forwardPortLo))
}
