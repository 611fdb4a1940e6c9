package device

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// adbDisconnectTimeout bounds the fire-and-forget disconnect issued on Close.
const adbDisconnectTimeout = 10 * time.Second

// ADBDialer reaches devices through the adb command-line binary. One dialer is
// shared across reconnects; each Dial returns an independent per-serial client.
type ADBDialer struct {
	// Path to the adb binary; "adb" resolves through PATH when empty.
	Path string
}

func (d *ADBDialer) binary() string {
	if d.Path != "" {
		return d.Path
	}
	return "adb"
}

func (d *ADBDialer) command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, d.binary(), args...)
}

// Dial makes sure the adb server has a live transport for the identity and
// returns a client bound to its serial.
//
// Offline devices are disconnected first; a stale server keeping a dead
// wireless transport around otherwise shadows the reconnect. emulator-* and
// USB serials attach on their own, so they skip `adb connect` and are only
// verified present. Everything else gets up to three connect attempts, since
// the first attempt against an old adb server merely kills it.
func (d *ADBDialer) Dial(ctx context.Context, id Identity) (CommandClient, error) {
	d.sweepOffline(ctx)

	if strings.HasPrefix(id.Serial, "emulator-") || !strings.Contains(id.Serial, ":") {
		if !d.devicePresent(ctx, id.Serial) {
			return nil, fmt.Errorf("serial %s not attached", id.Serial)
		}
		return &adbClient{dialer: d, serial: id.Serial}, nil
	}

	var lastOut string
	for attempt := 0; attempt < 3; attempt++ {
		out, err := d.command(ctx, "connect", id.Serial).CombinedOutput()
		lastOut = strings.TrimSpace(string(out))
		if err != nil {
			continue
		}
		// "connected to 127.0.0.1:16384" / "already connected to ..."
		if strings.Contains(lastOut, "connected") && !strings.Contains(lastOut, "cannot") {
			return &adbClient{dialer: d, serial: id.Serial}, nil
		}
	}
	return nil, fmt.Errorf("adb connect %s: %s", id.Serial, lastOut)
}

// sweepOffline disconnects devices the adb server reports as offline.
func (d *ADBDialer) sweepOffline(ctx context.Context) {
	out, err := d.command(ctx, "devices").Output()
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "offline":
			log.Warn().Str("serial", fields[0]).Msg("Disconnecting offline device")
			_ = d.command(ctx, "disconnect", fields[0]).Run()
		case "unauthorized":
			log.Error().Str("serial", fields[0]).Msg("Device unauthorized, accept debugging on the device")
		}
	}
}

func (d *ADBDialer) devicePresent(ctx context.Context, serial string) bool {
	out, err := d.command(ctx, "devices").Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == serial && fields[1] == "device" {
			return true
		}
	}
	return false
}

// adbClient is a CommandClient bound to one serial.
type adbClient struct {
	dialer *ADBDialer
	serial string
}

func (c *adbClient) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-s", c.serial}, args...)
	out, err := c.dialer.command(ctx, full...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, text)
	}
	return text, nil
}

func (c *adbClient) Shell(ctx context.Context, cmd string) (string, error) {
	return c.run(ctx, "shell", cmd)
}

func (c *adbClient) Forward(ctx context.Context, local, remote string) error {
	_, err := c.run(ctx, "forward", local, remote)
	return err
}

var listenerNotFoundPattern = regexp.MustCompile(`listener .*? not found`)

func (c *adbClient) RemoveForward(ctx context.Context, local string) error {
	out, err := c.run(ctx, "forward", "--remove", local)
	if err != nil && listenerNotFoundPattern.MatchString(out) {
		// removing a forward that is already gone is fine
		return nil
	}
	return err
}

func (c *adbClient) Reverse(ctx context.Context, remote, local string) error {
	_, err := c.run(ctx, "reverse", remote, local)
	return err
}

func (c *adbClient) RemoveReverse(ctx context.Context, remote string) error {
	out, err := c.run(ctx, "reverse", "--remove", remote)
	if err != nil && listenerNotFoundPattern.MatchString(out) {
		return nil
	}
	return err
}

var (
	dumpsysPackagePattern = regexp.MustCompile(`Package \[([^\s]+)\]`)
	pmPackagePattern      = regexp.MustCompile(`package:([^\s]+)`)
)

// ListPackages prefers the dumpsys index (~80ms) and falls back to the slower
// `pm list packages`.
func (c *adbClient) ListPackages(ctx context.Context) ([]string, error) {
	out, err := c.Shell(ctx, `dumpsys package | grep "Package \["`)
	if err == nil {
		if matches := dumpsysPackagePattern.FindAllStringSubmatch(out, -1); len(matches) > 0 {
			return submatches(matches), nil
		}
	}

	out, err = c.Shell(ctx, "pm list packages")
	if err != nil {
		return nil, err
	}
	return submatches(pmPackagePattern.FindAllStringSubmatch(out, -1)), nil
}

func submatches(matches [][]string) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Close detaches wireless serials from the adb server. USB and emulator-*
// transports stay attached; adb owns those.
func (c *adbClient) Close() error {
	if !strings.Contains(c.serial, ":") {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), adbDisconnectTimeout)
	defer cancel()
	_, err := c.dialer.command(ctx, "disconnect", c.serial).CombinedOutput()
	return err
}
