package radio

import (
	"sync"
	"time"

	"github.com/rigd-project/rigd/pkg/logging"
)

// Manager defaults. All overridable through ManagerOptions.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultStallWindow  = 10 * time.Second
	DefaultApplyTimeout = 30 * time.Second
)

// ManagerOptions tunes the manager's timers and lets tests inject a
// backend factory.
type ManagerOptions struct {
	PollInterval time.Duration
	StallWindow  time.Duration
	ApplyTimeout time.Duration
	Policy       StateMachinePolicy

	// Factory constructs backend instances; defaults to New.
	Factory func(cfg RadioConfig) (Connection, error)

	// AudioSink receives inbound PCM from backends that stream audio.
	AudioSink func(samples []int16)
}

// Manager is the single public entry point of the connection layer. It
// owns the state machine actor and the active backend instance, exposes
// the command API, polls for hardware-side frequency changes and forwards
// backend events to the one external subscriber.
type Manager struct {
	opts ManagerOptions

	mu   sync.Mutex
	cfg  RadioConfig
	conn Connection
	sm   *StateMachine

	handler func(Event)

	lastFreq      int64
	lastOpSuccess time.Time
	pollStop      chan struct{}

	// re-entrancy guards: hardware teardown for some backends is not safe
	// to invoke twice concurrently
	disconnecting bool
	tearingDown   bool
}

// NewManager builds a manager. Construct one per application and pass it
// explicitly; there is deliberately no package-level instance.
func NewManager(opts ManagerOptions) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StallWindow <= 0 {
		opts.StallWindow = DefaultStallWindow
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = DefaultApplyTimeout
	}
	if opts.Factory == nil {
		opts.Factory = New
	}
	return &Manager{
		opts: opts,
		cfg:  RadioConfig{Type: BackendNone},
	}
}

// SetEventHandler registers the single external subscriber. Fan-out to
// multiple consumers is the subscriber's business.
func (m *Manager) SetEventHandler(h func(Event)) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// ApplyConfig replaces the configuration wholesale. Any existing
// connection and actor are torn down first (without emitting the public
// disconnected event — only Disconnect does that); unless the new config
// is none, a fresh actor is started and a connect is issued. The call
// waits a bounded time for CONNECTED; on timeout it reports failure but
// leaves the actor running and silently retrying.
func (m *Manager) ApplyConfig(cfg RadioConfig) error {
	m.mu.Lock()
	m.teardownLocked("configuration change")
	m.cfg = cfg
	m.mu.Unlock()

	if cfg.Type == BackendNone {
		logging.Infof("manager", "radio disabled (no backend configured)")
		return nil
	}

	// validate eagerly so a bad config fails here, not in the retry loop
	if _, err := m.opts.Factory(cfg); err != nil {
		if KindOf(err) == ErrInvalidConfig {
			return err
		}
	}

	sm := NewStateMachine(m.opts.Policy, Callbacks{
		OnConnect:     m.connectBackend,
		OnDisconnect:  m.disconnectBackend,
		OnHealthCheck: m.healthCheck,
		OnStateChange: m.onStateChange,
		OnError:       m.onActorError,
	}, m.currentConfig)

	m.mu.Lock()
	m.sm = sm
	m.mu.Unlock()

	sm.Start()
	sm.Connect()

	if !sm.WaitForState(StateConnected, m.opts.ApplyTimeout) {
		return Errf(ErrConnectionTimeout, "no connection after %s (still retrying in background)", m.opts.ApplyTimeout)
	}
	return nil
}

// currentConfig supplies the latest configuration to the actor, so a
// reconnect after a mid-flight ApplyConfig uses the new settings.
func (m *Manager) currentConfig() RadioConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// connectBackend is the actor's connect callback: it always constructs a
// fresh backend instance, never reuses one across attempts.
func (m *Manager) connectBackend(cfg RadioConfig) error {
	conn, err := m.opts.Factory(cfg)
	if err != nil {
		return err
	}
	conn.SetListener(ListenerFunc(m.onBackendEvent))

	if err := callWithTimeout(ConnectTimeout, func() error { return conn.Connect(cfg) }); err != nil {
		conn.SetListener(nil)
		callWithTimeout(TeardownTimeout, func() error { return conn.Disconnect("connect failed") })
		return err
	}

	if m.opts.AudioSink != nil {
		if as, ok := conn.(interface{ SetAudioSink(func([]int16)) }); ok {
			as.SetAudioSink(m.opts.AudioSink)
		}
	}

	m.mu.Lock()
	// a previous instance still around here means a reconnect raced a
	// teardown; release it before taking ownership of the new one
	old := m.conn
	m.conn = conn
	m.lastFreq = 0
	m.lastOpSuccess = time.Now()
	m.mu.Unlock()

	if old != nil && old != conn {
		old.SetListener(nil)
		callWithTimeout(TeardownTimeout, func() error { return old.Disconnect("superseded") })
	}
	return nil
}

// disconnectBackend is the actor's disconnect callback.
func (m *Manager) disconnectBackend(reason string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	conn.SetListener(nil)
	// teardown must always succeed from the caller's point of view
	if err := callWithTimeout(TeardownTimeout, func() error { return conn.Disconnect(reason) }); err != nil {
		logging.Warnf("manager", "backend teardown: %v", err)
	}
}

// healthCheck is the actor's periodic liveness probe. It is cheap: the
// backend flag plus the rolling no-success stall window, which catches
// failure modes whose error text matches no known critical signature.
func (m *Manager) healthCheck() bool {
	m.mu.Lock()
	conn := m.conn
	lastOK := m.lastOpSuccess
	m.mu.Unlock()

	if conn == nil || !conn.IsHealthy() {
		return false
	}
	if time.Since(lastOK) > m.opts.StallWindow+m.opts.PollInterval {
		logging.Warnf("manager", "no successful operation for %s", time.Since(lastOK).Round(time.Second))
		return false
	}
	return true
}

func (m *Manager) onStateChange(state ConnectionState, ctx Context) {
	switch state {
	case StateConnected:
		m.startPolling()
		m.emit(Event{Kind: EventConnected})
	case StateReconnecting, StateError, StateDisconnected:
		m.stopPolling()
	}
}

func (m *Manager) onActorError(err error) {
	m.emit(Event{Kind: EventError, Err: err})
}

// onBackendEvent receives the active backend's notifications and re-emits
// them on the manager's public surface. Backend errors additionally feed
// the state machine, so transport faults and failed user operations share
// one arbiter of "should we reconnect now".
func (m *Manager) onBackendEvent(ev Event) {
	switch ev.Kind {
	case EventError:
		logging.Warnf("manager", "backend error: %v", ev.Err)
		m.mu.Lock()
		sm := m.sm
		m.mu.Unlock()
		if sm != nil {
			sm.NotifyHealthFailure(ev.Err)
		}
		m.emit(ev)
	case EventMeterData, EventTunerStatusChanged, EventFrequencyChanged:
		m.emit(ev)
	case EventConnected:
		// session-level restore; the state machine owns the public
		// connected transition
	}
}

// Disconnect tears everything down and emits exactly one public
// disconnected event. Concurrent calls are a no-op while one is in
// flight.
func (m *Manager) Disconnect(reason string) error {
	if reason == "" {
		reason = "user requested"
	}

	m.mu.Lock()
	if m.disconnecting || (m.sm == nil && m.conn == nil) {
		// already down, or another teardown in flight
		m.mu.Unlock()
		return nil
	}
	m.disconnecting = true
	m.teardownLocked(reason)
	m.disconnecting = false
	m.mu.Unlock()

	m.emit(Event{Kind: EventDisconnected, Reason: reason})
	return nil
}

// teardownLocked is the idempotent internal teardown: cancels polling and
// the actor (and with it any pending reconnect timer), then releases the
// backend. It never emits the public disconnected event. Caller holds
// m.mu.
func (m *Manager) teardownLocked(reason string) {
	if m.tearingDown {
		return
	}
	m.tearingDown = true
	defer func() { m.tearingDown = false }()

	m.stopPollingLocked()

	sm := m.sm
	m.sm = nil
	conn := m.conn
	m.conn = nil

	// actor and hardware teardown happen without the lock so backend
	// callbacks can't deadlock against us
	m.mu.Unlock()
	if sm != nil {
		sm.Stop()
	}
	if conn != nil {
		conn.SetListener(nil)
		if err := callWithTimeout(TeardownTimeout, func() error { return conn.Disconnect(reason) }); err != nil {
			logging.Warnf("manager", "teardown: %v", err)
		}
	}
	m.mu.Lock()
}

// ManualReconnect cancels any in-flight automatic retry, resets the
// attempt counter and issues a fresh connect. It fails only when no
// configuration is present.
func (m *Manager) ManualReconnect() error {
	m.mu.Lock()
	cfg := m.cfg
	sm := m.sm
	m.mu.Unlock()

	if cfg.Type == BackendNone {
		return Errf(ErrInvalidConfig, "no radio configured")
	}
	if sm != nil {
		sm.ManualReconnect()
		return nil
	}
	// disconnected earlier; bring the actor back
	return m.ApplyConfig(cfg)
}

// IsConnected reports whether the actor currently sits in CONNECTED.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	sm := m.sm
	m.mu.Unlock()
	return sm != nil && sm.State() == StateConnected
}

// GetReconnectInfo projects the actor context for status reporting.
func (m *Manager) GetReconnectInfo() ReconnectInfo {
	m.mu.Lock()
	sm := m.sm
	m.mu.Unlock()
	if sm == nil {
		return ReconnectInfo{}
	}
	ctx := sm.Snapshot()
	return ReconnectInfo{
		IsReconnecting:    sm.State() == StateReconnecting,
		ConnectionHealthy: ctx.Healthy,
		ReconnectAttempts: ctx.ReconnectAttempts,
	}
}

// State exposes the raw connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	sm := m.sm
	m.mu.Unlock()
	if sm == nil {
		return StateDisconnected
	}
	return sm.State()
}

// activeConn returns the backend or a not-connected error.
func (m *Manager) activeConn() (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, Errf(ErrNotInitialized, "radio not connected")
	}
	return m.conn, nil
}

// opDone records an operation result and escalates failures: critical
// errors reach the state machine immediately, anything else only once the
// stall window has passed without a success.
func (m *Manager) opDone(err error) {
	m.mu.Lock()
	if err == nil {
		m.lastOpSuccess = time.Now()
		m.mu.Unlock()
		return
	}
	stalled := time.Since(m.lastOpSuccess) > m.opts.StallWindow
	sm := m.sm
	m.mu.Unlock()

	logging.Warnf("manager", "radio operation failed: %v", err)
	if sm != nil && (IsCritical(err) || stalled) {
		sm.NotifyHealthFailure(err)
	}
}

// SetFrequency forwards to the active backend.
func (m *Manager) SetFrequency(hz int64) error {
	conn, err := m.activeConn()
	if err != nil {
		return err
	}
	err = callWithTimeout(OperationTimeout, func() error { return conn.SetFrequency(hz) })
	m.opDone(err)
	if err == nil {
		m.mu.Lock()
		m.lastFreq = hz
		m.mu.Unlock()
	}
	return err
}

// GetFrequency forwards to the active backend.
func (m *Manager) GetFrequency() (int64, error) {
	conn, err := m.activeConn()
	if err != nil {
		return 0, err
	}
	hz, err := getWithTimeout(OperationTimeout, conn.GetFrequency)
	m.opDone(err)
	return hz, err
}

// SetMode forwards to the active backend.
func (m *Manager) SetMode(mode string, bandwidth int) error {
	conn, err := m.activeConn()
	if err != nil {
		return err
	}
	err = callWithTimeout(OperationTimeout, func() error { return conn.SetMode(mode, bandwidth) })
	m.opDone(err)
	return err
}

// GetMode forwards to the active backend.
func (m *Manager) GetMode() (string, int, error) {
	conn, err := m.activeConn()
	if err != nil {
		return "", 0, err
	}
	type modeBW struct {
		mode string
		bw   int
	}
	r, err := getWithTimeout(OperationTimeout, func() (modeBW, error) {
		mode, bw, err := conn.GetMode()
		return modeBW{mode, bw}, err
	})
	m.opDone(err)
	return r.mode, r.bw, err
}

// SetPTT forwards to the active backend.
func (m *Manager) SetPTT(state bool) error {
	conn, err := m.activeConn()
	if err != nil {
		return err
	}
	err = callWithTimeout(OperationTimeout, func() error { return conn.SetPTT(state) })
	m.opDone(err)
	return err
}

// tunerControl returns the active backend's tuner capability, or an
// "unsupported" error for backends without one.
func (m *Manager) tunerControl() (TunerControl, error) {
	conn, err := m.activeConn()
	if err != nil {
		return nil, err
	}
	tc, ok := conn.(TunerControl)
	if !ok {
		return nil, Errf(ErrInvalidState, "backend has no tuner support")
	}
	return tc, nil
}

// GetTunerCapabilities reports tuner support; unsupported backends yield
// the zero capabilities, not an error.
func (m *Manager) GetTunerCapabilities() TunerCapabilities {
	tc, err := m.tunerControl()
	if err != nil {
		return TunerCapabilities{}
	}
	return tc.GetTunerCapabilities()
}

// GetTunerStatus forwards to the tuner capability.
func (m *Manager) GetTunerStatus() (TunerStatus, error) {
	tc, err := m.tunerControl()
	if err != nil {
		return TunerIdle, err
	}
	status, err := getWithTimeout(OperationTimeout, tc.GetTunerStatus)
	m.opDone(err)
	return status, err
}

// SetTuner forwards to the tuner capability.
func (m *Manager) SetTuner(enabled bool) error {
	tc, err := m.tunerControl()
	if err != nil {
		return err
	}
	err = callWithTimeout(OperationTimeout, func() error { return tc.SetTuner(enabled) })
	m.opDone(err)
	return err
}

// StartTuning forwards to the tuner capability.
func (m *Manager) StartTuning() error {
	tc, err := m.tunerControl()
	if err != nil {
		return err
	}
	err = callWithTimeout(OperationTimeout, func() error { return tc.StartTuning() })
	m.opDone(err)
	return err
}

// ReadMeters forwards to the backend's telemetry capability.
func (m *Manager) ReadMeters() (MeterData, error) {
	conn, err := m.activeConn()
	if err != nil {
		return MeterData{}, err
	}
	ms, ok := conn.(MeterSource)
	if !ok {
		return MeterData{}, Errf(ErrInvalidState, "backend has no meter support")
	}
	return ms.ReadMeters(), nil
}

// GetRadioInfo is a static capability/model lookup that works regardless
// of connection state.
func (m *Manager) GetRadioInfo() RadioInfo {
	m.mu.Lock()
	conn := m.conn
	cfg := m.cfg
	m.mu.Unlock()

	if conn != nil {
		if info, err := conn.GetRadioInfo(); err == nil {
			return info
		}
	}

	switch cfg.Type {
	case BackendSerial:
		return RadioInfo{Model: "CI-V transceiver", Manufacturer: "Icom", Backend: string(BackendSerial),
			Capabilities: []string{"frequency", "mode", "ptt"}}
	case BackendNetwork:
		return RadioInfo{Model: "rigctld", Manufacturer: "Hamlib", Backend: string(BackendNetwork),
			Capabilities: []string{"frequency", "mode", "ptt"}}
	case BackendUDP:
		return RadioInfo{Model: "network transceiver", Manufacturer: "Icom", Backend: string(BackendUDP),
			Capabilities: []string{"frequency", "mode", "ptt", "meters", "tuner", "audio"}}
	default:
		return RadioInfo{Model: "none", Backend: string(BackendNone)}
	}
}

// Close shuts the manager down without emitting the public disconnected
// event; used by the daemon on process exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked("shutdown")
	m.mu.Unlock()
}

// startPolling launches the frequency poll loop that detects the operator
// turning the VFO knob.
func (m *Manager) startPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPollingLocked()
	stop := make(chan struct{})
	m.pollStop = stop
	go m.pollLoop(stop)
}

func (m *Manager) stopPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPollingLocked()
}

func (m *Manager) stopPollingLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

func (m *Manager) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pollFrequency()
		}
	}
}

// pollFrequency emits a change event only when the reading differs from
// the last successfully observed value. A transient 0 during backend
// warm-up is not a real frequency: it neither emits nor updates the last
// known value.
func (m *Manager) pollFrequency() {
	conn, err := m.activeConn()
	if err != nil {
		return
	}
	hz, err := getWithTimeout(OperationTimeout, conn.GetFrequency)
	m.opDone(err)
	if err != nil || hz == 0 {
		return
	}

	m.mu.Lock()
	changed := hz != m.lastFreq
	known := m.lastFreq != 0
	m.lastFreq = hz
	m.mu.Unlock()

	if changed && known {
		logging.Infof("manager", "frequency changed on the radio: %d Hz", hz)
		m.emit(Event{Kind: EventFrequencyChanged, Frequency: hz})
	}
}
