package device

import "errors"

// Error taxonomy for the connection subsystem. Callers match with errors.Is;
// everything else is wrapped transport noise.
var (
	// ErrInvalidFormat is returned by Parse for addresses that cannot be
	// normalized into a serial.
	ErrInvalidFormat = errors.New("invalid device address format")

	// ErrInvalidAddress is returned by Connect when the address fails to parse.
	ErrInvalidAddress = errors.New("invalid device address")

	// ErrTransportUnreachable is returned by Connect when the command
	// transport refuses the (explicit) serial.
	ErrTransportUnreachable = errors.New("command transport unreachable")

	// ErrNoPortFound is returned by Connect when every candidate port of an
	// emulator family failed to respond.
	ErrNoPortFound = errors.New("no candidate port responded")

	// ErrNotConnected is returned by any session operation issued while no
	// session is established.
	ErrNotConnected = errors.New("no device connected")

	// ErrPackageNotFound is returned by DetectPackage when no installed
	// package matches the known set.
	ErrPackageNotFound = errors.New("no known package installed")

	// ErrPackageAmbiguous is returned by DetectPackage when detection cannot
	// narrow the candidates down to one package.
	ErrPackageAmbiguous = errors.New("multiple known packages installed")
)
