package radio

import (
	"sync"
	"testing"
	"time"
)

// eventRecorder collects manager events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) waitFor(kind EventKind, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.count(kind) > 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (r *eventRecorder) frequencies() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, ev := range r.events {
		if ev.Kind == EventFrequencyChanged {
			out = append(out, ev.Frequency)
		}
	}
	return out
}

func newTestManager(mock *MockConnection, opts ManagerOptions) (*Manager, *eventRecorder) {
	if opts.Policy.HealthInterval == 0 {
		opts.Policy.HealthInterval = 20 * time.Millisecond
	}
	if opts.Policy.ReconnectDelay == 0 {
		opts.Policy.ReconnectDelay = 30 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 25 * time.Millisecond
	}
	if opts.ApplyTimeout == 0 {
		opts.ApplyTimeout = 2 * time.Second
	}
	opts.Factory = func(cfg RadioConfig) (Connection, error) { return mock, nil }

	m := NewManager(opts)
	rec := &eventRecorder{}
	m.SetEventHandler(rec.record)
	return m, rec
}

func serialTestConfig() RadioConfig {
	return RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}
}

func TestManagerApplyConfig(t *testing.T) {
	t.Run("None Disables The Radio", func(t *testing.T) {
		m, rec := newTestManager(NewMockConnection(), ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(RadioConfig{Type: BackendNone}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.IsConnected() {
			t.Error("Expected no connection")
		}
		if _, err := m.GetFrequency(); KindOf(err) != ErrNotInitialized {
			t.Errorf("Expected ErrNotInitialized, got %v", err)
		}
		if rec.count(EventConnected) != 0 {
			t.Error("Expected no connected event")
		}
	})

	t.Run("Connects And Emits", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !m.IsConnected() {
			t.Fatal("Expected connected state")
		}
		if !rec.waitFor(EventConnected, time.Second) {
			t.Error("Expected a connected event")
		}
		if mock.ConnectCalls() != 1 {
			t.Errorf("Expected 1 connect call, got %d", mock.ConnectCalls())
		}
	})

	t.Run("Retries Through Transient Failures", func(t *testing.T) {
		mock := NewMockConnection()
		mock.ConnectErrors = 3
		delay := 30 * time.Millisecond
		m, _ := newTestManager(mock, ManagerOptions{
			Policy: StateMachinePolicy{HealthInterval: 20 * time.Millisecond, ReconnectDelay: delay},
		})
		defer m.Close()

		start := time.Now()
		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected eventual success, got: %v", err)
		}
		elapsed := time.Since(start)

		if got := mock.ConnectCalls(); got != 4 {
			t.Errorf("Expected 4 connect calls, got %d", got)
		}
		// three failures each wait out the fixed delay before the retry,
		// so connecting cannot take less than 3x the delay; the upper
		// bound is loose to absorb scheduling jitter
		if min := 3 * delay; elapsed < min {
			t.Errorf("Expected at least %v before connecting, got %v", min, elapsed)
		}
		if max := time.Second; elapsed > max {
			t.Errorf("Expected to connect within %v, took %v", max, elapsed)
		}
	})

	t.Run("Timeout Leaves Actor Retrying", func(t *testing.T) {
		mock := NewMockConnection()
		mock.ConnectErrors = 1000
		m, _ := newTestManager(mock, ManagerOptions{ApplyTimeout: 80 * time.Millisecond})
		defer m.Close()

		err := m.ApplyConfig(serialTestConfig())
		if KindOf(err) != ErrConnectionTimeout {
			t.Fatalf("Expected ErrConnectionTimeout, got %v", err)
		}
		if state := m.State(); state == StateDisconnected {
			t.Error("Expected the actor to keep retrying after the wait timed out")
		}
	})

	t.Run("Replaces Previous Connection", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if mock.ConnectCalls() != 2 {
			t.Errorf("Expected 2 connect calls, got %d", mock.ConnectCalls())
		}
		// reconfiguration must not look like an operator disconnect
		if rec.count(EventDisconnected) != 0 {
			t.Error("Expected no public disconnected event for a config change")
		}
	})
}

func TestManagerDisconnect(t *testing.T) {
	t.Run("Emits Exactly One Event", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Disconnect("user requested")
			}()
		}
		wg.Wait()

		if got := rec.count(EventDisconnected); got != 1 {
			t.Errorf("Expected exactly 1 disconnected event, got %d", got)
		}
		if m.IsConnected() {
			t.Error("Expected disconnected state")
		}
	})

	t.Run("Reason Reaches Backend", func(t *testing.T) {
		mock := NewMockConnection()
		m, _ := newTestManager(mock, ManagerOptions{})

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		m.Disconnect("going QRT")

		reasons := mock.DisconnectReasons()
		if len(reasons) != 1 || reasons[0] != "going QRT" {
			t.Errorf("Expected reason to reach the backend, got %v", reasons)
		}
	})

	t.Run("Manual Reconnect After Disconnect", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		m.Disconnect("pause")
		if err := m.ManualReconnect(); err != nil {
			t.Fatalf("Expected reconnect to work, got: %v", err)
		}
		if !m.IsConnected() {
			t.Error("Expected connected state after manual reconnect")
		}
		if rec.count(EventConnected) < 2 {
			t.Errorf("Expected a second connected event, got %d", rec.count(EventConnected))
		}
	})

	t.Run("Manual Reconnect Without Config", func(t *testing.T) {
		m, _ := newTestManager(NewMockConnection(), ManagerOptions{})
		defer m.Close()

		if err := m.ManualReconnect(); KindOf(err) != ErrInvalidConfig {
			t.Errorf("Expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestManagerFrequencyPolling(t *testing.T) {
	t.Run("Emits Only On Change", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		// several poll cycles on the initial value establish the baseline
		// without emitting
		time.Sleep(120 * time.Millisecond)
		if got := rec.count(EventFrequencyChanged); got != 0 {
			t.Fatalf("Expected no change events on a stable frequency, got %d", got)
		}

		mock.SetRemoteFrequency(7074000)
		if !rec.waitFor(EventFrequencyChanged, time.Second) {
			t.Fatal("Expected a change event after the knob turned")
		}

		// stable again: no further events
		time.Sleep(120 * time.Millisecond)
		if got := rec.count(EventFrequencyChanged); got != 1 {
			t.Errorf("Expected exactly 1 change event, got %d", got)
		}
		if freqs := rec.frequencies(); len(freqs) != 1 || freqs[0] != 7074000 {
			t.Errorf("Expected [7074000], got %v", freqs)
		}
	})

	t.Run("Zero Reading Suppressed", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		time.Sleep(60 * time.Millisecond)

		// transient zero must neither emit nor poison the baseline
		mock.SetRemoteFrequency(0)
		time.Sleep(120 * time.Millisecond)
		if got := rec.count(EventFrequencyChanged); got != 0 {
			t.Fatalf("Expected zero readings suppressed, got %d events", got)
		}

		// back to the original value: still no event, the baseline held
		mock.SetRemoteFrequency(14074000)
		time.Sleep(120 * time.Millisecond)
		if got := rec.count(EventFrequencyChanged); got != 0 {
			t.Errorf("Expected no event returning to the baseline, got %d", got)
		}
	})

	t.Run("SetFrequency Updates Baseline", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if err := m.SetFrequency(7074000); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		// our own tune must not come back as a hardware change event
		time.Sleep(120 * time.Millisecond)
		if got := rec.count(EventFrequencyChanged); got != 0 {
			t.Errorf("Expected no change event for our own SetFrequency, got %d", got)
		}

		hz, err := m.GetFrequency()
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if hz != 7074000 {
			t.Errorf("Expected 7074000 Hz, got %d", hz)
		}
	})
}

func TestManagerErrorEscalation(t *testing.T) {
	t.Run("Critical Backend Event Reconnects", func(t *testing.T) {
		mock := NewMockConnection()
		m, rec := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		mock.EmitError(Errf(ErrConnectionLost, "udp session lost"))
		if !rec.waitFor(EventError, time.Second) {
			t.Fatal("Expected the error forwarded")
		}

		// the actor reconnects through the same mock
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if mock.ConnectCalls() >= 2 && m.IsConnected() {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if mock.ConnectCalls() < 2 {
			t.Errorf("Expected a reconnect attempt, got %d connects", mock.ConnectCalls())
		}
		if !m.IsConnected() {
			t.Error("Expected recovery to CONNECTED")
		}
	})

	t.Run("Benign Failures Escalate After Stall", func(t *testing.T) {
		mock := NewMockConnection()
		m, _ := newTestManager(mock, ManagerOptions{
			StallWindow: 60 * time.Millisecond,
			// health checking off so only the stall path can escalate
			Policy: StateMachinePolicy{HealthInterval: time.Hour, ReconnectDelay: 30 * time.Millisecond},
		})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		mock.SetOpError(Errf(ErrInvalidState, "rig rejected command"))

		// a failure inside the window does not escalate
		m.GetFrequency()
		if got := m.State(); got != StateConnected {
			t.Fatalf("Expected to stay CONNECTED inside the stall window, got %s", got)
		}

		// past the window the next failure does; the reconnect it forces
		// is visible as a second connect attempt
		time.Sleep(100 * time.Millisecond)
		m.GetFrequency()

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) && mock.ConnectCalls() < 2 {
			time.Sleep(10 * time.Millisecond)
		}
		if got := mock.ConnectCalls(); got < 2 {
			t.Errorf("Expected a stall-forced reconnect, got %d connect calls", got)
		}
	})
}

func TestManagerTuner(t *testing.T) {
	t.Run("Forwarded When Supported", func(t *testing.T) {
		mock := NewMockConnection()
		m, _ := newTestManager(mock, ManagerOptions{})
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		caps := m.GetTunerCapabilities()
		if !caps.Supported {
			t.Fatal("Expected tuner support from the mock")
		}
		if err := m.StartTuning(); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		status, err := m.GetTunerStatus()
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if status != TunerSuccess {
			t.Errorf("Expected tuner success, got %s", status)
		}
	})

	t.Run("Unsupported Backend", func(t *testing.T) {
		mock := NewMockConnection()
		bare := &bareConnection{inner: mock}
		opts := ManagerOptions{
			Policy:       StateMachinePolicy{HealthInterval: 20 * time.Millisecond, ReconnectDelay: 30 * time.Millisecond},
			PollInterval: 25 * time.Millisecond,
			ApplyTimeout: 2 * time.Second,
			Factory:      func(cfg RadioConfig) (Connection, error) { return bare, nil },
		}
		m := NewManager(opts)
		defer m.Close()

		if err := m.ApplyConfig(serialTestConfig()); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if caps := m.GetTunerCapabilities(); caps.Supported {
			t.Error("Expected no tuner support")
		}
		if err := m.SetTuner(true); KindOf(err) != ErrInvalidState {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
		if _, err := m.ReadMeters(); KindOf(err) != ErrInvalidState {
			t.Errorf("Expected ErrInvalidState for meters, got %v", err)
		}
	})
}

// bareConnection narrows a mock to the base contract, hiding its optional
// capabilities.
type bareConnection struct {
	inner *MockConnection
}

func (b *bareConnection) Connect(cfg RadioConfig) error     { return b.inner.Connect(cfg) }
func (b *bareConnection) Disconnect(reason string) error    { return b.inner.Disconnect(reason) }
func (b *bareConnection) SetFrequency(hz int64) error       { return b.inner.SetFrequency(hz) }
func (b *bareConnection) GetFrequency() (int64, error)      { return b.inner.GetFrequency() }
func (b *bareConnection) SetMode(mode string, bw int) error { return b.inner.SetMode(mode, bw) }
func (b *bareConnection) GetMode() (string, int, error)     { return b.inner.GetMode() }
func (b *bareConnection) SetPTT(state bool) error           { return b.inner.SetPTT(state) }
func (b *bareConnection) IsHealthy() bool                   { return b.inner.IsHealthy() }
func (b *bareConnection) GetRadioInfo() (RadioInfo, error)  { return b.inner.GetRadioInfo() }
func (b *bareConnection) SetListener(l Listener)            { b.inner.SetListener(l) }

func TestManagerReconnectInfo(t *testing.T) {
	mock := NewMockConnection()
	m, _ := newTestManager(mock, ManagerOptions{})
	defer m.Close()

	if info := m.GetReconnectInfo(); info.IsReconnecting || info.ConnectionHealthy {
		t.Error("Expected zero info before any config")
	}

	if err := m.ApplyConfig(serialTestConfig()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	info := m.GetReconnectInfo()
	if !info.ConnectionHealthy {
		t.Error("Expected healthy connection")
	}
	if info.IsReconnecting {
		t.Error("Expected not reconnecting")
	}
	if info.ReconnectAttempts != 0 {
		t.Errorf("Expected 0 attempts, got %d", info.ReconnectAttempts)
	}
}
