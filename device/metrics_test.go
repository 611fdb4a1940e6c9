package device

import (
	"math"
	"testing"
)

func TestParseTopCPU(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want float64
	}{
		{
			"toybox per-core summary",
			"800%cpu 120%user 3%nice 154%sys 515%idle 0%iow 4%irq 4%sirq",
			(800.0 - 515.0) / 800.0 * 100,
		},
		{
			"legacy summary line",
			"CPU: 34% usr + 12% sys\nUser 30%, System 4%",
			34,
		},
		{"garbage", "no cpu stats here", Unknown},
		{"empty", "", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTopCPU(tt.out)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("parseTopCPU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMemUsage(t *testing.T) {
	out := "MemTotal:        4000000 kB\nMemFree:         1000000 kB\nBuffers:          123456 kB\n"
	if got := parseMemUsage(out); math.Abs(got-75.0) > 0.01 {
		t.Errorf("parseMemUsage = %v, want 75", got)
	}
	if got := parseMemUsage("MemTotal:        4000000 kB\n"); got != Unknown {
		t.Errorf("parseMemUsage without MemFree = %v, want Unknown", got)
	}
	if got := parseMemUsage(""); got != Unknown {
		t.Errorf("parseMemUsage on empty = %v, want Unknown", got)
	}
}

func TestParseBattery(t *testing.T) {
	out := "Current Battery Service state:\n  level: 85\n  temperature: 321\n  health: 2\n"
	level, temp := parseBattery(out)
	if level != 85 {
		t.Errorf("level = %d, want 85", level)
	}
	if math.Abs(temp-32.1) > 0.01 {
		t.Errorf("temperature = %v, want 32.1", temp)
	}

	// Fields degrade independently.
	level, temp = parseBattery("Current Battery Service state:\n  level: 85\n")
	if level != 85 {
		t.Errorf("level = %d, want 85", level)
	}
	if temp != Unknown {
		t.Errorf("temperature = %v, want Unknown", temp)
	}

	level, temp = parseBattery("")
	if level != Unknown || temp != Unknown {
		t.Errorf("empty output = (%d, %v), want both Unknown", level, temp)
	}
}

func TestParseNetworkStatus(t *testing.T) {
	tests := []struct {
		out  string
		want LinkStatus
	}{
		{"NetworkAgentInfo ... state: CONNECTED/CONNECTED", LinkConnected},
		{"NetworkAgentInfo ... state: DISCONNECTED", LinkDisconnected},
		{"no state lines at all", LinkUnknown},
		{"", LinkUnknown},
	}

	for _, tt := range tests {
		if got := parseNetworkStatus(tt.out); got != tt.want {
			t.Errorf("parseNetworkStatus(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}
