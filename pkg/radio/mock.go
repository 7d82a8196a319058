package radio

import (
	"sync"
	"time"
)

// MockConnection implements the full contract in memory. It backs unit
// tests and the daemon's dry-run mode, and can inject connect failures and
// per-operation errors.
type MockConnection struct {
	mu sync.Mutex

	connected bool
	frequency int64
	mode      string
	bandwidth int
	ptt       bool
	tuner     bool
	tunerStat TunerStatus
	listener  Listener

	// failure injection
	ConnectErrors int   // fail this many Connect calls before succeeding
	OpError       error // returned by every command op while set
	ConnectDelay  time.Duration
	connectCalls  int
	disconnectLog []string
}

// NewMockConnection returns a mock with sane amateur-band defaults.
func NewMockConnection() *MockConnection {
	return &MockConnection{
		frequency: 14074000,
		mode:      ModeDataU,
		bandwidth: 3000,
		tunerStat: TunerIdle,
	}
}

func (m *MockConnection) Connect(cfg RadioConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.ConnectDelay > 0 {
		time.Sleep(m.ConnectDelay)
	}
	if m.ConnectErrors > 0 {
		m.ConnectErrors--
		return Errf(ErrConnectionFailed, "mock connect failure")
	}
	m.connected = true
	return nil
}

func (m *MockConnection) Disconnect(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLog = append(m.disconnectLog, reason)
	m.connected = false
	return nil
}

func (m *MockConnection) SetFrequency(hz int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opErrLocked(); err != nil {
		return err
	}
	m.frequency = hz
	return nil
}

func (m *MockConnection) GetFrequency() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opErrLocked(); err != nil {
		return 0, err
	}
	return m.frequency, nil
}

func (m *MockConnection) SetMode(mode string, bandwidth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opErrLocked(); err != nil {
		return err
	}
	m.mode = normalizeMode(mode)
	m.bandwidth = bandwidth
	return nil
}

func (m *MockConnection) GetMode() (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opErrLocked(); err != nil {
		return "", 0, err
	}
	return m.mode, m.bandwidth, nil
}

func (m *MockConnection) SetPTT(state bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.opErrLocked(); err != nil {
		return err
	}
	m.ptt = state
	return nil
}

func (m *MockConnection) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.OpError == nil
}

func (m *MockConnection) GetRadioInfo() (RadioInfo, error) {
	return RadioInfo{
		Model:        "Mock rig",
		Manufacturer: "rigd",
		Backend:      "mock",
		Capabilities: []string{"frequency", "mode", "ptt", "meters", "tuner"},
	}, nil
}

func (m *MockConnection) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *MockConnection) opErrLocked() error {
	if !m.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	return m.OpError
}

// SetOpError injects (or clears) a per-operation error.
func (m *MockConnection) SetOpError(err error) {
	m.mu.Lock()
	m.OpError = err
	m.mu.Unlock()
}

// SetRemoteFrequency simulates the operator turning the VFO knob.
func (m *MockConnection) SetRemoteFrequency(hz int64) {
	m.mu.Lock()
	m.frequency = hz
	m.mu.Unlock()
}

// EmitError pushes a backend error event to the registered listener, as a
// real backend would on a transport fault.
func (m *MockConnection) EmitError(err error) {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l.OnBackendEvent(Event{Kind: EventError, Err: err})
	}
}

// ConnectCalls reports how many Connect attempts were made.
func (m *MockConnection) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// DisconnectReasons returns the reasons passed to Disconnect, in order.
func (m *MockConnection) DisconnectReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.disconnectLog...)
}

// Tuner capability.

func (m *MockConnection) GetTunerCapabilities() TunerCapabilities {
	return TunerCapabilities{Supported: true, HasSwitch: true, HasManualTune: true}
}

func (m *MockConnection) GetTunerStatus() (TunerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return TunerIdle, Errf(ErrNotInitialized, "radio not connected")
	}
	return m.tunerStat, nil
}

func (m *MockConnection) SetTuner(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	m.tuner = enabled
	if !enabled {
		m.tunerStat = TunerIdle
	}
	return nil
}

func (m *MockConnection) StartTuning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	m.tunerStat = TunerSuccess
	return nil
}

// ReadMeters satisfies MeterSource with plausible idle readings.
func (m *MockConnection) ReadMeters() MeterData {
	swr := 1.2
	alc := 0.0
	level := 5
	power := 50.0
	return MeterData{
		Timestamp: time.Now(),
		SWR:       &swr,
		ALC:       &alc,
		Level:     &level,
		Power:     &power,
	}
}
