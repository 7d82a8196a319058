package radio

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/verbose"
)

// networkConnection speaks the rigctld text protocol over TCP. One command
// in flight at a time; replies are newline-delimited and either a value or
// an "RPRT n" result code.
type networkConnection struct {
	mu sync.Mutex

	cfg       RadioConfig
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	listener  Listener

	// rigctld reports mode and passband together, so the last passband is
	// remembered for callers that only change the mode
	lastBW int
}

func newNetworkConnection() *networkConnection {
	return &networkConnection{}
}

func (c *networkConnection) Connect(cfg RadioConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.teardownLocked("reconnect")
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logging.Infof("network", "connecting to rigctld at %s", addr)

	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return ClassifyTransportError(err)
	}

	c.cfg = cfg
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true

	// probe: a get_freq answers on any rig and verifies the daemon is
	// actually fronting one
	if _, err := c.commandLocked("f"); err != nil {
		c.teardownLocked("probe failed")
		return NewConnError(ErrConnectionFailed, fmt.Errorf("rigctld probe failed: %w", err))
	}

	logging.Infof("network", "connected to rigctld at %s", addr)
	return nil
}

func (c *networkConnection) Disconnect(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected && c.conn == nil {
		return nil
	}
	c.teardownLocked(reason)
	return nil
}

func (c *networkConnection) teardownLocked(reason string) {
	logging.Infof("network", "disconnecting from rigctld (%s)", reason)
	if c.conn != nil {
		// polite quit; failures don't matter, the socket closes either way
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		fmt.Fprintf(c.conn, "q\n")
		if err := c.conn.Close(); err != nil {
			logging.Warnf("network", "close failed: %v", err)
		}
		c.conn = nil
		c.reader = nil
	}
	c.connected = false
}

// commandLocked sends one rigctld command and collects its reply lines.
// Value-returning commands answer with bare lines; set commands answer
// only "RPRT n". Every reply must be consumed here: a leftover line would
// be served as the answer to the next command and desynchronize the
// stream.
func (c *networkConnection) commandLocked(cmd string) ([]string, error) {
	if c.conn == nil {
		return nil, Errf(ErrNotInitialized, "rigctld connection closed")
	}

	verbose.Printf("network: tx %q", cmd)
	c.conn.SetDeadline(time.Now().Add(OperationTimeout))
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		return nil, ClassifyTransportError(err)
	}

	want := replyLines(cmd)
	lines := make([]string, 0, want)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, ClassifyTransportError(err)
		}
		line = strings.TrimSpace(line)
		verbose.Printf("network: rx %q", line)

		if strings.HasPrefix(line, "RPRT ") {
			code, _ := strconv.Atoi(strings.TrimPrefix(line, "RPRT "))
			if code != 0 {
				return nil, Errf(ErrInvalidState, "rigctld error %d for %q", code, cmd)
			}
			return lines, nil
		}
		lines = append(lines, line)
		if want > 0 && len(lines) == want {
			return lines, nil
		}
	}
}

// replyLines returns how many value lines a command produces before we can
// stop reading. Set commands produce none (their RPRT terminates the read).
func replyLines(cmd string) int {
	switch {
	case cmd == "f":
		return 1
	case cmd == "m":
		return 2
	default:
		return 0
	}
}

func (c *networkConnection) SetFrequency(hz int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	_, err := c.commandLocked(fmt.Sprintf("F %d", hz))
	if err != nil {
		c.reportError(err)
	}
	return err
}

func (c *networkConnection) GetFrequency() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, Errf(ErrNotInitialized, "radio not connected")
	}

	lines, err := c.commandLocked("f")
	if err != nil {
		c.reportError(err)
		return 0, err
	}
	if len(lines) < 1 {
		return 0, Errf(ErrInvalidState, "empty frequency reply")
	}
	hz, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return 0, Errf(ErrInvalidState, "unparseable frequency %q", lines[0])
	}
	return hz, nil
}

func (c *networkConnection) SetMode(mode string, bandwidth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	name := rigctldMode(normalizeMode(mode))
	if bandwidth <= 0 {
		bandwidth = c.lastBW
	}
	_, err := c.commandLocked(fmt.Sprintf("M %s %d", name, bandwidth))
	if err != nil {
		c.reportError(err)
		return err
	}
	c.lastBW = bandwidth
	return nil
}

func (c *networkConnection) GetMode() (string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", 0, Errf(ErrNotInitialized, "radio not connected")
	}

	lines, err := c.commandLocked("m")
	if err != nil {
		c.reportError(err)
		return "", 0, err
	}
	if len(lines) < 2 {
		return "", 0, Errf(ErrInvalidState, "short mode reply")
	}
	bw, _ := strconv.Atoi(lines[1])
	c.lastBW = bw
	return normalizeMode(lines[0]), bw, nil
}

func (c *networkConnection) SetPTT(state bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return Errf(ErrNotInitialized, "radio not connected")
	}

	v := 0
	if state {
		v = 1
	}
	_, err := c.commandLocked(fmt.Sprintf("T %d", v))
	if err != nil {
		c.reportError(err)
	}
	return err
}

func (c *networkConnection) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *networkConnection) GetRadioInfo() (RadioInfo, error) {
	return RadioInfo{
		Model:        "rigctld",
		Manufacturer: "Hamlib",
		Backend:      string(BackendNetwork),
		Capabilities: []string{"frequency", "mode", "ptt"},
	}, nil
}

func (c *networkConnection) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *networkConnection) reportError(err error) {
	if c.listener == nil || !IsCritical(err) {
		return
	}
	l := c.listener
	go l.OnBackendEvent(Event{Kind: EventError, Err: err})
}

// rigctldMode maps canonical mode names to hamlib's vocabulary.
func rigctldMode(name string) string {
	switch name {
	case ModeDataU:
		return "PKTUSB"
	case ModeDataL:
		return "PKTLSB"
	case ModeCWR:
		return "CWR"
	case ModeRTTYR:
		return "RTTYR"
	default:
		return name
	}
}
