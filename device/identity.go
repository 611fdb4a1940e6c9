package device

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TransportKind classifies how a device is reached.
type TransportKind int

const (
	KindLocal   TransportKind = iota // loopback emulator or USB serial
	KindNetwork                      // LAN/WAN ip:port
	KindHTTP                         // ui-automation agent reached over http(s)
)

func (k TransportKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// EmulatorFamily classifies emulator software by its well-known adb port band.
type EmulatorFamily int

const (
	FamilyNone EmulatorFamily = iota
	FamilyMuMu12
	FamilyMuMuLegacy
	FamilyNox
	FamilyLDPlayer
	FamilyVMOS
	FamilyChinaCloud
)

func (f EmulatorFamily) String() string {
	switch f {
	case FamilyMuMu12:
		return "MuMu12"
	case FamilyMuMuLegacy:
		return "MuMu"
	case FamilyNox:
		return "Nox"
	case FamilyLDPlayer:
		return "LDPlayer"
	case FamilyVMOS:
		return "VMOS"
	case FamilyChinaCloud:
		return "ChinaCloud"
	default:
		return "none"
	}
}

// Identity is the normalized, immutable identity of one device address.
// Two addresses naming the same device normalize to the same Serial.
type Identity struct {
	Raw    string
	Serial string
	Kind   TransportKind
	Family EmulatorFamily
	Port   uint16
}

// Port bands used for family classification. MuMu legacy is pinned to a single
// port, the rest are inclusive ranges.
var familyBands = []struct {
	family EmulatorFamily
	lo, hi uint16
}{
	{FamilyMuMu12, 16384, 17408},
	{FamilyMuMuLegacy, 7555, 7555},
	{FamilyNox, 62001, 63025},
	{FamilyLDPlayer, 5555, 5587},
	{FamilyVMOS, 5667, 5699},
	{FamilyChinaCloud, 301, 309},
}

// Family aliases accepted in place of a full serial. Resolved to a portless
// identity whose candidate ports are probed at connect time.
var familyAliases = map[string]EmulatorFamily{
	"mumu":     FamilyMuMu12,
	"mumu12":   FamilyMuMu12,
	"mumu6":    FamilyMuMuLegacy,
	"nox":      FamilyNox,
	"ld":       FamilyLDPlayer,
	"ldplayer": FamilyLDPlayer,
	"vmos":     FamilyVMOS,
}

var (
	serialPattern  = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)
	ipPortPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+:\d+$`)
	embeddedSerial = regexp.MustCompile(`127\.\d+\.\d+\.\d+:\d+`)
	usbSerial      = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	httpHostPort   = regexp.MustCompile(`^https?://[^/:]+:(\d+)`)
)

// Parse normalizes a raw device address and classifies it.
//
// Normalization mirrors what users actually paste: full-width punctuation,
// stray spaces, bare port numbers, and emulator manager strings with the
// serial embedded somewhere inside.
func Parse(address string) (Identity, error) {
	raw := address
	s := normalizeSerial(address)
	if s == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidFormat, address)
	}

	if family, ok := familyAliases[strings.ToLower(s)]; ok {
		return Identity{Raw: raw, Serial: "127.0.0.1", Kind: KindLocal, Family: family}, nil
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		id := Identity{Raw: raw, Serial: s, Kind: KindHTTP}
		if m := httpHostPort.FindStringSubmatch(s); m != nil {
			p, err := strconv.Atoi(m[1])
			if err != nil || p <= 0 || p > 65535 {
				return Identity{}, fmt.Errorf("%w: %q", ErrInvalidFormat, address)
			}
			id.Port = uint16(p)
		}
		return id, nil
	}

	if !serialPattern.MatchString(s) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidFormat, address)
	}

	id := Identity{Raw: raw, Serial: s, Port: extractPort(s)}
	switch {
	case strings.HasPrefix(s, "emulator-"), strings.HasPrefix(s, "127.0.0.1:"), s == "127.0.0.1":
		id.Kind = KindLocal
		id.Family = classifyFamily(s, id.Port)
	case ipPortPattern.MatchString(s):
		id.Kind = KindNetwork
	case usbSerial.MatchString(s):
		// plain Android USB serial, no port, no adb connect needed
		id.Kind = KindLocal
	default:
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidFormat, address)
	}
	return id, nil
}

// normalizeSerial cleans a pasted address into a canonical serial string.
func normalizeSerial(serial string) string {
	s := strings.ReplaceAll(serial, " ", "")
	// full-width punctuation from IME input
	r := strings.NewReplacer("。", ".", "，", ".", ",", ".", "：", ":")
	s = r.Replace(s)
	s = strings.ReplaceAll(s, "127.0.0.1.", "127.0.0.1:")
	// a bare number in the emulator port band means a loopback emulator;
	// numbers outside it are plain serials (numeric USB serials exist)
	if port, err := strconv.Atoi(s); err == nil {
		if port > 1000 && port < 65536 {
			return fmt.Sprintf("127.0.0.1:%d", port)
		}
		return s
	}
	// emulator manager strings carry the serial somewhere inside
	if !serialPattern.MatchString(s) {
		if m := embeddedSerial.FindString(s); m != "" {
			s = m
		}
	}
	// common copy-paste artifacts
	s = strings.ReplaceAll(s, "12127.0.0.1", "127.0.0.1")
	s = strings.ReplaceAll(s, "auto127.0.0.1", "127.0.0.1")
	s = strings.ReplaceAll(s, "autoemulator", "emulator")
	return s
}

func extractPort(serial string) uint16 {
	_, portStr, ok := strings.Cut(serial, ":")
	if !ok {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return 0
	}
	return uint16(port)
}

func classifyFamily(serial string, port uint16) EmulatorFamily {
	if port == 0 {
		return FamilyNone
	}
	if serial == "127.0.0.1:7555" {
		return FamilyMuMuLegacy
	}
	for _, band := range familyBands {
		if port >= band.lo && port <= band.hi {
			return band.family
		}
	}
	return FamilyNone
}

// IsEmulator reports whether the identity names a local emulator instance.
func (id Identity) IsEmulator() bool {
	return id.Kind == KindLocal &&
		(strings.HasPrefix(id.Serial, "emulator-") || strings.HasPrefix(id.Serial, "127.0.0.1"))
}

// IsNetworkDevice reports whether the identity names a device over the network.
func (id Identity) IsNetworkDevice() bool {
	return id.Kind == KindNetwork
}

// HasExplicitPort reports whether the address pinned a concrete adb port.
// emulator-* serials embed the console port in the name, which adb resolves
// itself, so they count as explicit.
func (id Identity) HasExplicitPort() bool {
	return id.Port != 0 || strings.HasPrefix(id.Serial, "emulator-") ||
		(id.Kind == KindLocal && !strings.HasPrefix(id.Serial, "127.0.0.1"))
}

// WithPort returns a copy of the identity pinned to a concrete port.
func (id Identity) WithPort(port uint16) Identity {
	out := id
	out.Port = port
	out.Serial = fmt.Sprintf("127.0.0.1:%d", port)
	out.Family = classifyFamily(out.Serial, port)
	return out
}

// CommonPorts returns the fixed probe order used when an address carries no
// explicit port. First responding port wins; the order never changes between
// runs. MuMu12 instances step by 32 from 16384, LDPlayer by 2 from 5555, Nox
// instances follow 62001 at 62025.
func CommonPorts(family EmulatorFamily) []uint16 {
	switch family {
	case FamilyMuMu12:
		return []uint16{16384, 16416, 16448, 16480, 16512}
	case FamilyMuMuLegacy:
		return []uint16{7555}
	case FamilyNox:
		return []uint16{62001, 62025, 62026, 62027}
	case FamilyLDPlayer:
		return []uint16{5555, 5557, 5559, 5561}
	case FamilyVMOS:
		return []uint16{5667, 5669, 5671}
	case FamilyChinaCloud:
		return []uint16{301, 302, 303}
	default:
		// no family hint: sweep the default port of each family
		return []uint16{5555, 7555, 16384, 62001}
	}
}
