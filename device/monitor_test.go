package device

import (
	"context"
	"testing"
	"time"
)

func healthySampleOutputs() map[string]string {
	return map[string]string{
		"top":                  "800%cpu 120%user 3%nice 154%sys 515%idle 0%iow 4%irq 4%sirq",
		"cat":                  "MemTotal:        4000000 kB\nMemFree:         2000000 kB\n",
		"dumpsys battery":      "  level: 85\n  temperature: 321\n",
		"dumpsys connectivity": "state: CONNECTED/CONNECTED",
	}
}

func connectedManager(t *testing.T, shellOut map[string]string) (*Manager, *fakeCmdDialer) {
	t.Helper()
	dialer := newFakeCmdDialer()
	dialer.build = func() *fakeCommandClient {
		c := newFakeCommandClient()
		c.shellOut = shellOut
		return c
	}
	mgr := NewManager(dialer, &fakeUIDialer{})
	if err := mgr.Connect(context.Background(), "127.0.0.1:16384", ConnectConfig{}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return mgr, dialer
}

func TestMonitorDefaultSnapshot(t *testing.T) {
	mon := NewMonitor(NewManager(newFakeCmdDialer(), &fakeUIDialer{}))

	s := mon.GetStatus()
	if s.Connected {
		t.Error("default snapshot reports connected")
	}
	if s.Network != LinkUnknown || s.CommandTransport != LinkUnknown || s.UITransport != LinkUnknown {
		t.Errorf("default snapshot links = %v/%v/%v, want unknown", s.Network, s.CommandTransport, s.UITransport)
	}
	if mon.IsHealthy() {
		t.Error("default snapshot reports healthy")
	}
}

func TestMonitorSampleHealthyDevice(t *testing.T) {
	mgr, _ := connectedManager(t, healthySampleOutputs())
	mon := NewMonitor(mgr)

	s := mon.sample(context.Background())
	if !s.Connected {
		t.Fatal("sample of connected device reports disconnected")
	}
	if s.CommandTransport != LinkConnected {
		t.Errorf("CommandTransport = %v, want connected", s.CommandTransport)
	}
	if s.CPUUsagePct < 0 || s.CPUUsagePct >= 100 {
		t.Errorf("CPUUsagePct = %v, want sampled value", s.CPUUsagePct)
	}
	if s.MemUsagePct != 50 {
		t.Errorf("MemUsagePct = %v, want 50", s.MemUsagePct)
	}
	if s.BatteryPct != 85 {
		t.Errorf("BatteryPct = %d, want 85", s.BatteryPct)
	}
	if s.Network != LinkConnected {
		t.Errorf("Network = %v, want connected", s.Network)
	}
	// UI transport was never dialed; the sample must not force it.
	if s.UITransport != LinkUnknown {
		t.Errorf("UITransport = %v, want unknown", s.UITransport)
	}
	if !s.Healthy() {
		t.Errorf("snapshot %+v reports unhealthy", s)
	}
	if s.SampledAt.IsZero() {
		t.Error("SampledAt not set")
	}
}

func TestMonitorSampleDisconnected(t *testing.T) {
	mgr := NewManager(newFakeCmdDialer(), &fakeUIDialer{})
	mon := NewMonitor(mgr)

	s := mon.sample(context.Background())
	if s.Connected {
		t.Error("sample without session reports connected")
	}
	if s.CommandTransport != LinkDisconnected {
		t.Errorf("CommandTransport = %v, want disconnected", s.CommandTransport)
	}
	if s.Healthy() {
		t.Error("disconnected snapshot reports healthy")
	}
}

func TestMonitorSamplePartialFailure(t *testing.T) {
	// Battery output carries a level but no temperature; the rest samples fine.
	outputs := healthySampleOutputs()
	outputs["dumpsys battery"] = "  level: 85\n"
	mgr, _ := connectedManager(t, outputs)
	mon := NewMonitor(mgr)

	s := mon.sample(context.Background())
	if s.BatteryTempC != Unknown {
		t.Errorf("BatteryTempC = %v, want Unknown", s.BatteryTempC)
	}
	if s.BatteryPct != 85 {
		t.Errorf("BatteryPct = %d, want 85", s.BatteryPct)
	}
	if s.MemUsagePct != 50 {
		t.Errorf("MemUsagePct = %v, want 50", s.MemUsagePct)
	}
	// An unknown temperature fails the health check.
	if s.Healthy() {
		t.Error("snapshot with unknown temperature reports healthy")
	}
}

func TestMonitorStartStop(t *testing.T) {
	mgr, _ := connectedManager(t, healthySampleOutputs())
	mon := NewMonitor(mgr)

	mon.Start(10 * time.Millisecond)
	mon.Start(10 * time.Millisecond) // second Start is a no-op

	// The loop samples immediately; wait for the first publish.
	deadline := time.Now().Add(2 * time.Second)
	for !mon.GetStatus().Connected {
		if time.Now().After(deadline) {
			t.Fatal("monitor never published a connected snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mon.Stop()
	mon.Stop() // second Stop is a no-op

	// After Stop returns the loop has exited; the snapshot stays readable.
	if !mon.GetStatus().Connected {
		t.Error("last snapshot lost after Stop")
	}
}

func TestMonitorStopJoinsAcrossRestart(t *testing.T) {
	mgr, _ := connectedManager(t, healthySampleOutputs())
	mon := NewMonitor(mgr)

	// A Start racing an in-flight Stop must not leave Stop waiting on a
	// channel the old loop no longer owns.
	for i := 0; i < 200; i++ {
		mon.Start(time.Hour)

		stopped := make(chan struct{})
		go func() {
			mon.Stop()
			close(stopped)
		}()
		mon.Start(time.Hour)

		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("Stop did not return while a restarted loop was running")
		}
		mon.Stop()
	}
}

func TestMonitorSurvivesReconnect(t *testing.T) {
	mgr, _ := connectedManager(t, healthySampleOutputs())
	mon := NewMonitor(mgr)
	ctx := context.Background()

	if s := mon.sample(ctx); !s.Connected {
		t.Fatal("sample before disconnect reports disconnected")
	}

	if err := mgr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if s := mon.sample(ctx); s.Connected {
		t.Error("sample after disconnect reports connected")
	}

	if err := mgr.Connect(ctx, "127.0.0.1:16384", ConnectConfig{}); err != nil {
		t.Fatalf("reconnect returned error: %v", err)
	}
	if s := mon.sample(ctx); !s.Connected {
		t.Error("sample after reconnect reports disconnected")
	}
}

func TestSnapshotHealthyThresholds(t *testing.T) {
	base := Snapshot{
		Connected:    true,
		CPUUsagePct:  50,
		MemUsagePct:  50,
		BatteryPct:   80,
		BatteryTempC: 30,
	}
	if !base.Healthy() {
		t.Fatal("baseline snapshot reports unhealthy")
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   bool
	}{
		{"cpu just under limit", func(s *Snapshot) { s.CPUUsagePct = 89.9 }, true},
		{"cpu at limit", func(s *Snapshot) { s.CPUUsagePct = 90 }, false},
		{"cpu unknown", func(s *Snapshot) { s.CPUUsagePct = Unknown }, false},
		{"mem at limit", func(s *Snapshot) { s.MemUsagePct = 90 }, false},
		{"battery just above floor", func(s *Snapshot) { s.BatteryPct = 11 }, true},
		{"battery at floor", func(s *Snapshot) { s.BatteryPct = 10 }, false},
		{"temp just under limit", func(s *Snapshot) { s.BatteryTempC = 44.9 }, true},
		{"temp at limit", func(s *Snapshot) { s.BatteryTempC = 45 }, false},
		{"disconnected", func(s *Snapshot) { s.Connected = false }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if got := s.Healthy(); got != tt.want {
				t.Errorf("Healthy() = %v, want %v", got, tt.want)
			}
		})
	}
}
