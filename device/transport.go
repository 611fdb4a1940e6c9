package device

import "context"

// The two transports are external collaborators. The subsystem only depends on
// these narrow contracts; errors coming back are treated as opaque beyond
// "reachable / unreachable".

// CommandClient is a live command/debug-bridge session to one device.
type CommandClient interface {
	// Shell runs a shell command on the device and returns raw output.
	Shell(ctx context.Context, cmd string) (string, error)
	// Forward maps host local ("tcp:10123") to device remote ("tcp:7912").
	Forward(ctx context.Context, local, remote string) error
	// RemoveForward tears down a forward by its local endpoint. Removing an
	// unknown forward is not an error.
	RemoveForward(ctx context.Context, local string) error
	// Reverse maps device remote ("tcp:7912") back to host local.
	Reverse(ctx context.Context, remote, local string) error
	// RemoveReverse tears down a reverse mapping by its device-side endpoint.
	RemoveReverse(ctx context.Context, remote string) error
	// ListPackages returns the installed package names.
	ListPackages(ctx context.Context) ([]string, error)
	Close() error
}

// CommandDialer establishes command-transport sessions.
type CommandDialer interface {
	Dial(ctx context.Context, id Identity) (CommandClient, error)
}

// UIClient is a live ui-automation session to one device.
type UIClient interface {
	DumpHierarchy(ctx context.Context) (string, error)
	AppStart(ctx context.Context, pkg string) error
	AppStop(ctx context.Context, pkg string) error
	AppCurrent(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int) error
	Close() error
}

// Forwarder is the slice of the forward table a UIDialer needs to reach the
// device-side automation agent.
type Forwarder interface {
	Forward(ctx context.Context, remote string) (uint16, error)
}

// UIDialer establishes ui-automation sessions, usually through a port forward
// set up on the command transport.
type UIDialer interface {
	Dial(ctx context.Context, id Identity, fwd Forwarder) (UIClient, error)
}
