package radio

import (
	"sync"
	"time"

	"github.com/rigd-project/rigd/pkg/logging"
)

// meterPollInterval drives the UDP backend's native telemetry stream.
const meterPollInterval = time.Second

// udpConnection drives a rig over the UDP control protocol. On top of the
// base contract it natively offers meter telemetry, tuner control and an
// inbound audio stream.
type udpConnection struct {
	mu sync.Mutex

	cfg       RadioConfig
	session   *udpSession
	connected bool
	rigAddr   byte
	listener  Listener
	lastBW    int

	lastTunerStatus TunerStatus

	meterStop chan struct{}
	meterWG   sync.WaitGroup
}

func newUDPConnection() *udpConnection {
	return &udpConnection{lastTunerStatus: TunerIdle}
}

func (c *udpConnection) Connect(cfg RadioConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.teardownLocked("reconnect")
	}

	c.cfg = cfg
	c.rigAddr = cfg.CIVAddr
	if c.rigAddr == 0 {
		c.rigAddr = defaultCIVAddr
	}

	logging.Infof("udp", "connecting to %s:%d as %q", cfg.IP, cfg.UDPPort, cfg.UserName)

	sess := newUDPSession(cfg, c.onSessionEvent)
	if err := sess.open(); err != nil {
		return err
	}
	c.session = sess
	c.connected = true

	if _, err := c.transactLocked(civCmdGetFreq, nil); err != nil {
		c.teardownLocked("probe failed")
		return NewConnError(ErrConnectionFailed, err)
	}

	c.meterStop = make(chan struct{})
	c.meterWG.Add(1)
	go c.meterLoop(c.meterStop)

	return nil
}

func (c *udpConnection) Disconnect(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected && c.session == nil {
		return nil
	}
	c.teardownLocked(reason)
	return nil
}

func (c *udpConnection) teardownLocked(reason string) {
	logging.Infof("udp", "closing session to %s (%s)", c.cfg.IP, reason)

	if c.meterStop != nil {
		close(c.meterStop)
		c.meterStop = nil
	}
	if c.session != nil {
		c.session.close()
		c.session = nil
	}
	c.connected = false
}

// onSessionEvent translates the session's native health signals into
// contract events for the listener.
func (c *udpConnection) onSessionEvent(kind sessionEventKind) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}

	switch kind {
	case sessionLost:
		go l.OnBackendEvent(Event{Kind: EventError, Err: Errf(ErrConnectionLost, "udp session lost")})
	case sessionRestored:
		go l.OnBackendEvent(Event{Kind: EventConnected})
	case sessionLoginFailed:
		go l.OnBackendEvent(Event{Kind: EventError, Err: Errf(ErrConnectionFailed, "udp login failed")})
	}
}

// transactLocked sends a CI-V command and waits for its reply on the
// session's decoded frame channel.
func (c *udpConnection) transactLocked(cmd []byte, data []byte) ([]byte, error) {
	if c.session == nil {
		return nil, Errf(ErrNotInitialized, "session closed")
	}

	if err := c.session.sendCIV(civFrame(c.rigAddr, cmd, data)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(OperationTimeout)
	defer timer.Stop()

	for {
		select {
		case frame := <-c.session.civIn:
			payload, err := civPayload(frame)
			if err != nil {
				continue
			}
			if len(payload) == 1 && payload[0] == civNG {
				return nil, Errf(ErrInvalidState, "rig rejected command % x", cmd)
			}
			if len(payload) == 1 && payload[0] == civOK {
				return payload, nil
			}
			if civMatches(payload, cmd) {
				return payload[len(cmd):], nil
			}
			// unsolicited transceive traffic, not our answer
		case <-timer.C:
			return nil, Errf(ErrOperationTimeout, "no reply to CI-V command % x", cmd)
		}
	}
}

func (c *udpConnection) SetFrequency(hz int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	_, err := c.transactLocked(civCmdSetFreq, bcdEncodeFreq(hz))
	if err != nil {
		c.reportError(err)
	}
	return err
}

func (c *udpConnection) GetFrequency() (int64, error) {
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
	if len(payload) < 5 {
		return 0, Errf(ErrInvalidState, "short frequency reply: % x", payload)
	}
	return bcdDecodeFreq(payload[:5]), nil
}

func (c *udpConnection) SetMode(mode string, bandwidth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	mc := modeToCIV(normalizeMode(mode))
	filter := byte(0x01)
	_, err := c.transactLocked(civCmdSetMode, []byte{mc.code, filter})
	if err != nil {
		c.reportError(err)
		return err
	}
	c.lastBW = bandwidth
	return nil
}

func (c *udpConnection) GetMode() (string, int, error) {
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
	if len(payload) < 1 {
		return "", 0, Errf(ErrInvalidState, "short mode reply")
	}
	return civToMode(payload[0], false), c.lastBW, nil
}

func (c *udpConnection) SetPTT(state bool) error {
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
	}
	return err
}

func (c *udpConnection) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.session != nil && c.session.isAlive()
}

func (c *udpConnection) GetRadioInfo() (RadioInfo, error) {
	return RadioInfo{
		Model:        "network transceiver",
		Manufacturer: "Icom",
		Backend:      string(BackendUDP),
		Capabilities: []string{"frequency", "mode", "ptt", "meters", "tuner", "audio"},
	}, nil
}

func (c *udpConnection) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// SetAudioSink registers the consumer for the inbound PCM stream.
func (c *udpConnection) SetAudioSink(sink func([]int16)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.setAudioSink(sink)
	}
}

// ReadMeters polls the four meters. The reads are issued from separate
// goroutines but serialize on c.mu because replies arrive on the single
// shared CI-V frame channel, so against an unresponsive rig the poll
// degrades to sequential timeouts. A read abandoned by its
// MeterReadTimeout keeps holding the lock until its own
// OperationTimeout expires. A failed read leaves its field absent; the
// poll as a whole never fails.
func (c *udpConnection) ReadMeters() MeterData {
	md := MeterData{Timestamp: time.Now()}

	type reading struct {
		apply func(raw int)
		cmd   []byte
	}
	reads := []reading{
		{cmd: civCmdReadSWR, apply: func(raw int) { v := levelToSWR(raw); md.SWR = &v }},
		{cmd: civCmdReadALC, apply: func(raw int) { v := levelToPercent(raw); md.ALC = &v }},
		{cmd: civCmdReadSMeter, apply: func(raw int) { v := levelToSUnits(raw); md.Level = &v }},
		{cmd: civCmdReadPower, apply: func(raw int) { v := levelToPercent(raw); md.Power = &v }},
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, r := range reads {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := getWithTimeout(MeterReadTimeout, func() (int, error) {
				c.mu.Lock()
				defer c.mu.Unlock()
				if !c.connected {
					return 0, Errf(ErrNotInitialized, "radio not connected")
				}
				payload, err := c.transactLocked(r.cmd, nil)
				if err != nil {
					return 0, err
				}
				return bcdDecodeLevel(payload), nil
			})
			if err != nil {
				return
			}
			mu.Lock()
			r.apply(raw)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return md
}

func (c *udpConnection) meterLoop(stop chan struct{}) {
	defer c.meterWG.Done()
	ticker := time.NewTicker(meterPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			md := c.ReadMeters()

			c.mu.Lock()
			l := c.listener
			c.mu.Unlock()
			if l != nil {
				l.OnBackendEvent(Event{Kind: EventMeterData, Meters: md})
			}
		}
	}
}

// Tuner capability. The UDP-controlled rigs carry an internal tuner with a
// switch and a manual tune cycle.

func (c *udpConnection) GetTunerCapabilities() TunerCapabilities {
	return TunerCapabilities{Supported: true, HasSwitch: true, HasManualTune: true}
}

func (c *udpConnection) GetTunerStatus() (TunerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return TunerIdle, Errf(ErrNotInitialized, "radio not connected")
	}

	payload, err := c.transactLocked(civCmdTuner, nil)
	if err != nil {
		c.reportError(err)
		return TunerIdle, err
	}
	status := TunerIdle
	if len(payload) > 0 {
		switch payload[0] {
		case 0x01:
			status = TunerSuccess
		case 0x02:
			status = TunerTuning
		}
	}
	c.updateTunerStatusLocked(status)
	return status, nil
}

func (c *udpConnection) SetTuner(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	v := byte(0x00)
	if enabled {
		v = 0x01
	}
	_, err := c.transactLocked(civCmdTuner, []byte{v})
	if err != nil {
		c.reportError(err)
		return err
	}
	if !enabled {
		c.updateTunerStatusLocked(TunerIdle)
	}
	return nil
}

func (c *udpConnection) StartTuning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}
	_, err := c.transactLocked(civCmdTuner, []byte{0x02})
	if err != nil {
		c.reportError(err)
		return err
	}
	c.updateTunerStatusLocked(TunerTuning)
	return nil
}

func (c *udpConnection) updateTunerStatusLocked(status TunerStatus) {
	if status == c.lastTunerStatus {
		return
	}
	c.lastTunerStatus = status
	if c.listener != nil {
		l := c.listener
		go l.OnBackendEvent(Event{Kind: EventTunerStatusChanged, TunerStatus: status})
	}
}

func (c *udpConnection) reportError(err error) {
	if c.listener == nil || !IsCritical(err) {
		return
	}
	l := c.listener
	go l.OnBackendEvent(Event{Kind: EventError, Err: err})
}
