package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"drover/device"
	"drover/eventlog"
)

func main() {
	configPath := flag.String("config", "drover.json", "path to the config file")
	serialFlag := flag.String("serial", "", "device address, overrides the config")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		// logger not up yet
		os.Stderr.WriteString("drover: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *serialFlag != "" {
		cfg.Serial = *serialFlag
	}

	logCfg := DefaultLogConfig()
	logCfg.Level = cfg.ParseLogLevel()
	if cfg.LogToFile {
		logCfg = PersistentLogConfig(cfg.DataDir)
		logCfg.Level = cfg.ParseLogLevel()
	}
	if err := InitLogger(logCfg); err != nil {
		os.Stderr.WriteString("drover: init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer CloseLogger()

	events, err := eventlog.Open(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		LogError("main").Err(err).Msg("Failed to open event log")
		os.Exit(1)
	}
	defer events.Close()

	mgr := device.NewManager(
		&device.ADBDialer{Path: cfg.ADBPath},
		device.NewATXDialer(),
	)
	monitor := device.NewMonitor(mgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := connect(ctx, mgr, events, cfg); err != nil {
		LogError("main").Err(err).Msg("Initial connect failed")
		os.Exit(1)
	}

	monitor.Start(cfg.PollInterval())

	// React to config edits: a serial change means reconnect. The callback
	// runs on the watcher goroutine, so cfg is guarded.
	var cfgMu sync.Mutex
	watcher := NewConfigWatcher(*configPath, func(next BotConfig) {
		cfgMu.Lock()
		serialChanged := next.Serial != cfg.Serial
		cfg = next
		cfgMu.Unlock()

		if !serialChanged {
			return
		}
		if err := connect(ctx, mgr, events, next); err != nil {
			LogError("main").Err(err).Msg("Reconnect after config change failed")
		}
	})
	if err := watcher.Start(); err != nil {
		LogWarn("main").Err(err).Msg("Config watcher unavailable")
	}

	run(ctx, mgr, monitor, events)

	watcher.Stop()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Disconnect(shutdownCtx); err != nil {
		LogWarn("main").Err(err).Msg("Disconnect on shutdown failed")
	}
	cfgMu.Lock()
	serial := cfg.Serial
	cfgMu.Unlock()
	if _, err := events.Append(eventlog.KindDisconnect, serial, nil); err != nil {
		LogWarn("main").Err(err).Msg("Failed to record disconnect event")
	}
	LogInfo("main").Msg("Shutdown complete")
}

// connect establishes the session and records the outcome.
func connect(ctx context.Context, mgr *device.Manager, events *eventlog.Store, cfg BotConfig) error {
	if err := mgr.Connect(ctx, cfg.Serial, cfg.ConnectConfig()); err != nil {
		events.Append(eventlog.KindConnectFailed, cfg.Serial, map[string]any{"error": err.Error()})
		return err
	}

	info := mgr.GetDeviceInfo()
	events.Append(eventlog.KindConnect, info.Identity.Serial, map[string]any{
		"family":   info.Identity.Family.String(),
		"emulator": info.IsEmulator,
	})

	if len(cfg.PackageAllowlist)+len(cfg.CloudAllowlist) > 0 {
		pkg, err := mgr.DetectPackage(ctx)
		if err != nil {
			LogWarn("main").Err(err).Msg("Package detection failed")
		} else {
			LogInfo("main").Str("package", pkg).Msg("Detected game package")
			events.Append(eventlog.KindPackageDetect, info.Identity.Serial, map[string]any{"package": pkg})
		}
	}
	return nil
}

// run watches health transitions until the context is cancelled.
func run(ctx context.Context, mgr *device.Manager, monitor *device.Monitor, events *eventlog.Store) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastHealthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := monitor.IsHealthy()
			if healthy == lastHealthy {
				continue
			}
			lastHealthy = healthy

			snap := monitor.GetStatus()
			serial := mgr.GetDeviceInfo().Identity.Serial
			LogWarn("main").
				Bool("healthy", healthy).
				Float64("cpuPct", snap.CPUUsagePct).
				Float64("memPct", snap.MemUsagePct).
				Int("batteryPct", snap.BatteryPct).
				Msg("Device health changed")
			events.Append(eventlog.KindHealthChange, serial, map[string]any{
				"healthy":    healthy,
				"cpuPct":     snap.CPUUsagePct,
				"memPct":     snap.MemUsagePct,
				"batteryPct": snap.BatteryPct,
				"network":    string(snap.Network),
			})
		}
	}
}
