package radio

import "time"

// RadioConfig selects and parameterizes a transport backend. It is an
// immutable snapshot: the manager replaces it wholesale on reconfiguration.
type RadioConfig struct {
	Type BackendType `yaml:"type" json:"type"`

	// Serial/CAT backend
	Device   string `yaml:"device" json:"device,omitempty"`
	CIVAddr  byte   `yaml:"civ_addr" json:"civ_addr,omitempty"`
	BaudRate int    `yaml:"baud_rate" json:"baud_rate,omitempty"`
	DataBits int    `yaml:"data_bits" json:"data_bits,omitempty"`
	StopBits int    `yaml:"stop_bits" json:"stop_bits,omitempty"`
	Parity   string `yaml:"parity" json:"parity,omitempty"`
	RTS      bool   `yaml:"rts" json:"rts,omitempty"`
	DTR      bool   `yaml:"dtr" json:"dtr,omitempty"`

	// Network (rigctld) backend
	Host string `yaml:"host" json:"host,omitempty"`
	Port int    `yaml:"port" json:"port,omitempty"`

	// UDP control backend
	IP       string `yaml:"ip" json:"ip,omitempty"`
	UDPPort  int    `yaml:"udp_port" json:"udp_port,omitempty"`
	UserName string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"-"`
}

// BackendType discriminates the RadioConfig union.
type BackendType string

const (
	BackendNone    BackendType = "none"
	BackendSerial  BackendType = "serial"
	BackendNetwork BackendType = "network"
	BackendUDP     BackendType = "udp"
)

// ConnectionState is the state machine's single current state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Timeouts applied by callers around backend operations. The contract
// itself imposes none; the wrapping component owns the load-shedding
// policy.
const (
	ConnectTimeout   = 10 * time.Second
	OperationTimeout = 4 * time.Second
	TeardownTimeout  = 4 * time.Second
	MeterReadTimeout = 2 * time.Second
)

// Connection is the capability contract every transport backend implements.
// A backend instance owns the live native handle and is exclusively owned
// by the Radio Manager; it is never shared across reconnection attempts.
type Connection interface {
	// Connect establishes the transport session. Calling it while already
	// connected performs an internal disconnect first.
	Connect(cfg RadioConfig) error

	// Disconnect is best effort: it must never panic on a half-torn-down
	// session and always releases native handles.
	Disconnect(reason string) error

	SetFrequency(hz int64) error
	GetFrequency() (int64, error)

	SetMode(mode string, bandwidth int) error
	GetMode() (string, int, error)

	SetPTT(state bool) error

	// IsHealthy is a cheap liveness check; it performs no I/O.
	IsHealthy() bool

	GetRadioInfo() (RadioInfo, error)

	// SetListener registers the single event listener (the manager).
	// Passing nil detaches the current listener.
	SetListener(l Listener)
}

// TunerControl is the optional antenna tuner capability. Backends without
// tuner hardware simply do not implement it; callers type-assert before
// invoking.
type TunerControl interface {
	GetTunerCapabilities() TunerCapabilities
	GetTunerStatus() (TunerStatus, error)
	SetTuner(enabled bool) error
	StartTuning() error
}

// MeterSource is the optional telemetry capability, implemented natively
// by the UDP control backend.
type MeterSource interface {
	ReadMeters() MeterData
}

// RadioInfo is a static capability/model lookup, valid independent of
// connection state.
type RadioInfo struct {
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	Backend      string   `json:"backend"`
	Capabilities []string `json:"capabilities"`
}

// MeterData is a snapshot of transmitter telemetry. Each reading is
// individually optional: a failed meter read yields a nil field, not an
// error for the whole poll. Snapshots are ephemeral and recomputed every
// poll cycle.
type MeterData struct {
	Timestamp time.Time `json:"timestamp"`
	SWR       *float64  `json:"swr,omitempty"`
	ALC       *float64  `json:"alc,omitempty"`
	Level     *int      `json:"level,omitempty"` // S-meter, S-units
	Power     *float64  `json:"power,omitempty"` // percent of full output
}

// TunerCapabilities reports what the attached tuner hardware supports.
type TunerCapabilities struct {
	Supported     bool `json:"supported"`
	HasSwitch     bool `json:"has_switch"`
	HasManualTune bool `json:"has_manual_tune"`
}

// TunerStatus is the tuner's current activity.
type TunerStatus string

const (
	TunerIdle    TunerStatus = "idle"
	TunerTuning  TunerStatus = "tuning"
	TunerSuccess TunerStatus = "success"
	TunerFailed  TunerStatus = "failed"
)

// ReconnectInfo is a read-only projection of state machine context for
// external status reporting.
type ReconnectInfo struct {
	IsReconnecting    bool `json:"is_reconnecting"`
	ConnectionHealthy bool `json:"connection_healthy"`
	ReconnectAttempts int  `json:"reconnect_attempts"`
}

// EventKind enumerates the closed set of backend/manager events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrequencyChanged
	EventMeterData
	EventTunerStatusChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFrequencyChanged:
		return "frequency"
	case EventMeterData:
		return "meters"
	case EventTunerStatusChanged:
		return "tuner"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the typed union delivered on the manager's public event surface.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind        EventKind
	Frequency   int64
	Meters      MeterData
	TunerStatus TunerStatus
	Reason      string
	Err         error
}

// Listener receives backend events asynchronously. Exactly one listener is
// registered per backend instance.
type Listener interface {
	OnBackendEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnBackendEvent(ev Event) { f(ev) }
