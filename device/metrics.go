package device

import (
	"regexp"
	"strconv"
)

// Parsers for the shell output the health monitor samples. All of them return
// the Unknown sentinel instead of an error when the output is unreadable.

var (
	topCPUTotalPattern     = regexp.MustCompile(`(\d+)%cpu`)
	topCPUIdlePattern      = regexp.MustCompile(`(\d+)%idle`)
	topCPULinePattern      = regexp.MustCompile(`(?m)^CPU[^\n]*?(\d+(?:\.\d+)?)%`)
	memTotalPattern        = regexp.MustCompile(`MemTotal:\s+(\d+)`)
	memFreePattern         = regexp.MustCompile(`MemFree:\s+(\d+)`)
	batteryLevelPattern    = regexp.MustCompile(`level: (\d+)`)
	batteryTempPattern     = regexp.MustCompile(`temperature: (\d+)`)
	netConnectedPattern    = regexp.MustCompile(`\bCONNECTED\b`)
	netDisconnectedPattern = regexp.MustCompile(`\bDISCONNECTED\b`)
)

// parseTopCPU extracts total cpu usage (0-100) from `top -n 1` output.
// Toybox top reports per-core percentages:
//
//	800%cpu 120%user 3%nice 154%sys 515%idle 0%iow 4%irq 4%sirq
//
// Older builds print a "CPU: 34% ..." summary line instead.
func parseTopCPU(out string) float64 {
	total := topCPUTotalPattern.FindStringSubmatch(out)
	idle := topCPUIdlePattern.FindStringSubmatch(out)
	if total != nil && idle != nil {
		t, _ := strconv.ParseFloat(total[1], 64)
		i, _ := strconv.ParseFloat(idle[1], 64)
		if t > 0 {
			return (t - i) / t * 100
		}
	}
	if m := topCPULinePattern.FindStringSubmatch(out); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return v
	}
	return Unknown
}

// parseMemUsage extracts used-memory percent from /proc/meminfo.
func parseMemUsage(out string) float64 {
	total := memTotalPattern.FindStringSubmatch(out)
	free := memFreePattern.FindStringSubmatch(out)
	if total == nil || free == nil {
		return Unknown
	}
	t, _ := strconv.ParseFloat(total[1], 64)
	f, _ := strconv.ParseFloat(free[1], 64)
	if t <= 0 {
		return Unknown
	}
	return (t - f) / t * 100
}

// parseBattery extracts level percent and temperature (°C) from
// `dumpsys battery`. Temperature is reported in tenths of a degree. Each
// field degrades to Unknown independently.
func parseBattery(out string) (level int, tempC float64) {
	level, tempC = Unknown, Unknown
	if m := batteryLevelPattern.FindStringSubmatch(out); m != nil {
		level, _ = strconv.Atoi(m[1])
	}
	if m := batteryTempPattern.FindStringSubmatch(out); m != nil {
		tenths, _ := strconv.Atoi(m[1])
		tempC = float64(tenths) / 10.0
	}
	return level, tempC
}

// parseNetworkStatus reads the overall state out of `dumpsys connectivity`.
func parseNetworkStatus(out string) LinkStatus {
	if netConnectedPattern.MatchString(out) {
		return LinkConnected
	}
	if netDisconnectedPattern.MatchString(out) {
		return LinkDisconnected
	}
	return LinkUnknown
}
