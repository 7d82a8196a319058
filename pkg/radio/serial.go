package radio

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/verbose"
)

// teardownSettle is the pause between the close and destroy teardown
// steps. Running them back-to-back against the same native handle has
// been observed to corrupt serial driver state on USB adapters.
const teardownSettle = 200 * time.Millisecond

// catSession abstracts the native serial session so teardown ordering can
// be observed in tests without hardware.
type catSession interface {
	open(cfg RadioConfig) error
	write(p []byte) (int, error)
	read(p []byte) (int, error)
	// close stops I/O on the handle; destroy releases the native
	// resources. They must be called in that order, sequentially, with a
	// settling pause in between.
	close() error
	destroy() error
}

// serialSession is the production catSession over go.bug.st/serial.
type serialSession struct {
	port serial.Port
}

func (s *serialSession) open(cfg RadioConfig) error {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parityFromConfig(cfg.Parity),
		StopBits: stopBitsFromConfig(cfg.StopBits),
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return ClassifyTransportError(err)
	}

	// line states are applied before any CAT traffic; some interfaces key
	// PTT off RTS/DTR and glitch the transmitter otherwise
	if err := port.SetRTS(cfg.RTS); err != nil {
		port.Close()
		return ClassifyTransportError(err)
	}
	if err := port.SetDTR(cfg.DTR); err != nil {
		port.Close()
		return ClassifyTransportError(err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return ClassifyTransportError(err)
	}

	s.port = port
	return nil
}

func (s *serialSession) write(p []byte) (int, error) {
	if s.port == nil {
		return 0, Errf(ErrNotInitialized, "serial port closed")
	}
	return s.port.Write(p)
}

func (s *serialSession) read(p []byte) (int, error) {
	if s.port == nil {
		return 0, Errf(ErrNotInitialized, "serial port closed")
	}
	return s.port.Read(p)
}

func (s *serialSession) close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *serialSession) destroy() error {
	s.port = nil
	return nil
}

func parityFromConfig(p string) serial.Parity {
	switch p {
	case "even":
		return serial.EvenParity
	case "odd":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func stopBitsFromConfig(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

// serialConnection drives a rig over CI-V on a local serial device.
type serialConnection struct {
	mu sync.Mutex

	cfg       RadioConfig
	session   catSession
	connected bool
	rigAddr   byte
	listener  Listener
	lastMode  string
	lastBW    int

	// replaced in tests
	newSession func() catSession
}

func newSerialConnection() *serialConnection {
	return &serialConnection{
		newSession: func() catSession { return &serialSession{} },
		lastMode:   ModeUSB,
	}
}

func (c *serialConnection) Connect(cfg RadioConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		// idempotent against a connect while connected
		c.teardownLocked("reconnect")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 19200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	c.cfg = cfg
	c.rigAddr = cfg.CIVAddr
	if c.rigAddr == 0 {
		c.rigAddr = defaultCIVAddr
	}

	logging.Infof("serial", "opening %s @ %d baud (CI-V addr %02x)", cfg.Device, cfg.BaudRate, c.rigAddr)

	sess := c.newSession()
	if err := sess.open(cfg); err != nil {
		return err
	}
	c.session = sess
	c.connected = true

	// probe the rig so a dead or wrong device fails the connect instead
	// of the first user command
	if _, err := c.transactLocked(civCmdGetFreq, nil); err != nil {
		c.teardownLocked("probe failed")
		return NewConnError(ErrConnectionFailed, fmt.Errorf("rig did not answer CI-V probe: %w", err))
	}

	logging.Infof("serial", "rig answering on %s", cfg.Device)
	return nil
}

func (c *serialConnection) Disconnect(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected && c.session == nil {
		return nil
	}
	c.teardownLocked(reason)
	return nil
}

// teardownLocked runs close then destroy strictly sequentially with a
// settling pause. Errors are logged and swallowed: teardown must always
// succeed from the caller's point of view so a fresh backend can be built.
func (c *serialConnection) teardownLocked(reason string) {
	logging.Infof("serial", "closing %s (%s)", c.cfg.Device, reason)

	if c.session != nil {
		if err := c.session.close(); err != nil {
			logging.Warnf("serial", "close failed: %v", err)
		}
		time.Sleep(teardownSettle)
		if err := c.session.destroy(); err != nil {
			logging.Warnf("serial", "destroy failed: %v", err)
		}
		c.session = nil
	}
	c.connected = false
}

// transactLocked sends a CI-V command and waits for the matching reply,
// skipping the rig's echo of our own frame.
func (c *serialConnection) transactLocked(cmd []byte, data []byte) ([]byte, error) {
	if c.session == nil {
		return nil, Errf(ErrNotInitialized, "serial port closed")
	}

	frame := civFrame(c.rigAddr, cmd, data)
	verbose.Printf("serial: tx % x", frame)
	if _, err := c.session.write(frame); err != nil {
		return nil, ClassifyTransportError(err)
	}

	deadline := time.Now().Add(OperationTimeout)
	var acc []byte
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		n, err := c.session.read(buf)
		if err != nil {
			return nil, ClassifyTransportError(err)
		}
		if n == 0 {
			continue
		}
		acc = append(acc, buf[:n]...)

		frames, rest := civExtractFrames(acc)
		acc = rest
		for _, f := range frames {
			verbose.Printf("serial: rx % x", f)
			// our own echo comes back addressed to the rig
			if len(f) > 3 && f[2] == c.rigAddr && f[3] == controllerAddr {
				continue
			}
			payload, err := civPayload(f)
			if err != nil {
				continue
			}
			if len(payload) == 1 && payload[0] == civNG {
				return nil, Errf(ErrInvalidState, "rig rejected command % x", cmd)
			}
			return payload, nil
		}
	}

	return nil, Errf(ErrOperationTimeout, "no CI-V reply to command % x", cmd)
}

func (c *serialConnection) SetFrequency(hz int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	_, err := c.transactLocked(civCmdSetFreq, bcdEncodeFreq(hz))
	if err != nil {
		c.reportError(err)
		return err
	}
	return nil
}

func (c *serialConnection) GetFrequency() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, Errf(ErrNotInitialized, "radio not connected")
	}

	payload, err := c.transactLocked(civCmdGetFreq, nil)
	if err != nil {
		c.reportError(err)
		return 0, err
	}
	if len(payload) < 6 {
		return 0, Errf(ErrInvalidState, "short frequency reply: % x", payload)
	}
	return bcdDecodeFreq(payload[1:6]), nil
}

func (c *serialConnection) SetMode(mode string, bandwidth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	name := normalizeMode(mode)
	mc := modeToCIV(name)
	filter := byte(0x01)
	_, err := c.transactLocked(civCmdSetMode, []byte{mc.code, filter})
	if err != nil {
		c.reportError(err)
		return err
	}
	c.lastMode = name
	c.lastBW = bandwidth
	return nil
}

func (c *serialConnection) GetMode() (string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", 0, Errf(ErrNotInitialized, "radio not connected")
	}

	payload, err := c.transactLocked(civCmdGetMode, nil)
	if err != nil {
		c.reportError(err)
		return "", 0, err
	}
	if len(payload) < 2 {
		return "", 0, Errf(ErrInvalidState, "short mode reply: % x", payload)
	}
	mode := civToMode(payload[1], false)
	c.lastMode = mode
	return mode, c.lastBW, nil
}

func (c *serialConnection) SetPTT(state bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	v := byte(0x00)
	if state {
		v = 0x01
	}
	_, err := c.transactLocked(civCmdPTT, []byte{v})
	if err != nil {
		c.reportError(err)
		return err
	}
	return nil
}

func (c *serialConnection) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *serialConnection) GetRadioInfo() (RadioInfo, error) {
	return RadioInfo{
		Model:        "CI-V transceiver",
		Manufacturer: "Icom",
		Backend:      string(BackendSerial),
		Capabilities: []string{"frequency", "mode", "ptt"},
	}, nil
}

func (c *serialConnection) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// reportError forwards transport faults to the listener. Called with the
// lock held; delivery happens on a fresh goroutine so a listener calling
// back into the connection cannot deadlock.
func (c *serialConnection) reportError(err error) {
	if c.listener == nil || !IsCritical(err) {
		return
	}
	l := c.listener
	go l.OnBackendEvent(Event{Kind: EventError, Err: err})
}
