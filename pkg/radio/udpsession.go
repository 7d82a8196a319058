package radio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/verbose"
)

// The UDP control protocol multiplexes three streams on consecutive ports:
// control (login, keepalive), serial (CI-V command traffic) and audio
// (raw inbound PCM). Each datagram carries a fixed little-endian header:
//
//	magic   uint16  0x5244
//	kind    uint16
//	seq     uint16
//	token   uint32  session token, zero before login
//	payload ...
const (
	udpMagic      = 0x5244
	udpHeaderSize = 10

	pktPing       = 0x00
	pktAreYouHere = 0x01
	pktIAmHere    = 0x02
	pktLogin      = 0x03
	pktLoginResp  = 0x04
	pktCIV        = 0x05
	pktAudio      = 0x06
	pktBye        = 0x07
)

const (
	udpKeepaliveInterval = 500 * time.Millisecond
	udpWatchdogInterval  = time.Second
	// no traffic for this long means the session is lost
	udpSessionTimeout = 3 * time.Second
	udpLoginTimeout   = 5 * time.Second
)

// sessionEventKind signals native connection-health transitions of the
// UDP session, richer than the other transports can offer.
type sessionEventKind int

const (
	sessionLost sessionEventKind = iota
	sessionRestored
	sessionLoginFailed
)

// udpSession owns the three datagram sockets and the login state. CI-V
// frames decoded from the serial stream are delivered on civIn; audio
// payloads go to the audio sink callback.
type udpSession struct {
	mu sync.Mutex

	cfg       RadioConfig
	controlC  *net.UDPConn
	serialC   *net.UDPConn
	audioC    *net.UDPConn
	token     uint32
	seq       uint16
	loggedIn  bool
	lost      bool
	lastHeard time.Time

	civIn     chan []byte
	civBuf    []byte
	audioSink func(samples []int16)
	onEvent   func(kind sessionEventKind)

	stop chan struct{}
	wg   sync.WaitGroup
}

func newUDPSession(cfg RadioConfig, onEvent func(sessionEventKind)) *udpSession {
	return &udpSession{
		cfg:     cfg,
		civIn:   make(chan []byte, 32),
		onEvent: onEvent,
		stop:    make(chan struct{}),
	}
}

// open dials the three streams and performs the login handshake.
func (s *udpSession) open() error {
	base := s.cfg.UDPPort
	var err error
	if s.controlC, err = dialUDP(s.cfg.IP, base); err != nil {
		return err
	}
	if s.serialC, err = dialUDP(s.cfg.IP, base+1); err != nil {
		s.controlC.Close()
		return err
	}
	if s.audioC, err = dialUDP(s.cfg.IP, base+2); err != nil {
		s.controlC.Close()
		s.serialC.Close()
		return err
	}

	if err := s.login(); err != nil {
		s.closeSockets()
		return err
	}

	s.lastHeard = time.Now()
	s.wg.Add(4)
	go s.readControl()
	go s.readSerial()
	go s.readAudio()
	go s.keepalive()

	return nil
}

func dialUDP(ip string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, NewConnError(ErrInvalidConfig, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	return conn, nil
}

// login runs the are-you-there / login exchange synchronously on the
// control stream before the read loops start.
func (s *udpSession) login() error {
	deadline := time.Now().Add(udpLoginTimeout)
	s.controlC.SetReadDeadline(deadline)
	defer s.controlC.SetReadDeadline(time.Time{})

	if err := s.send(s.controlC, pktAreYouHere, nil); err != nil {
		return err
	}
	if _, _, err := s.expect(s.controlC, pktIAmHere); err != nil {
		return NewConnError(ErrConnectionTimeout, fmt.Errorf("radio did not answer are-you-there: %w", err))
	}

	// correlation id lets the radio distinguish competing controllers
	clientID := uuid.New()
	payload := make([]byte, 0, 64)
	payload = append(payload, clientID[:]...)
	payload = appendPaddedString(payload, s.cfg.UserName, 16)
	payload = appendPaddedString(payload, s.cfg.Password, 16)

	if err := s.send(s.controlC, pktLogin, payload); err != nil {
		return err
	}
	_, resp, err := s.expect(s.controlC, pktLoginResp)
	if err != nil {
		return NewConnError(ErrConnectionTimeout, fmt.Errorf("no login response: %w", err))
	}
	if len(resp) < 5 || resp[0] != 0x01 {
		if s.onEvent != nil {
			s.onEvent(sessionLoginFailed)
		}
		return Errf(ErrConnectionFailed, "login rejected for user %q", s.cfg.UserName)
	}

	s.mu.Lock()
	s.token = binary.LittleEndian.Uint32(resp[1:5])
	s.loggedIn = true
	s.mu.Unlock()

	logging.Infof("udp", "session established with %s (token %08x)", s.cfg.IP, s.token)
	return nil
}

func appendPaddedString(b []byte, v string, n int) []byte {
	p := make([]byte, n)
	copy(p, v)
	return append(b, p...)
}

func (s *udpSession) send(conn *net.UDPConn, kind uint16, payload []byte) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	token := s.token
	s.mu.Unlock()

	pkt := make([]byte, udpHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(pkt[0:2], udpMagic)
	binary.LittleEndian.PutUint16(pkt[2:4], kind)
	binary.LittleEndian.PutUint16(pkt[4:6], seq)
	binary.LittleEndian.PutUint32(pkt[6:10], token)
	copy(pkt[udpHeaderSize:], payload)

	if _, err := conn.Write(pkt); err != nil {
		return ClassifyTransportError(err)
	}
	return nil
}

// expect reads packets until one of the wanted kind arrives or the socket
// deadline fires.
func (s *udpSession) expect(conn *net.UDPConn, kind uint16) (uint16, []byte, error) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, nil, err
		}
		k, payload, ok := parsePacket(buf[:n])
		if !ok {
			continue
		}
		if k == kind {
			return k, payload, nil
		}
	}
}

func parsePacket(b []byte) (kind uint16, payload []byte, ok bool) {
	if len(b) < udpHeaderSize || binary.LittleEndian.Uint16(b[0:2]) != udpMagic {
		return 0, nil, false
	}
	kind = binary.LittleEndian.Uint16(b[2:4])
	payload = append([]byte(nil), b[udpHeaderSize:]...)
	return kind, payload, true
}

// sendCIV transmits a CI-V frame on the serial stream.
func (s *udpSession) sendCIV(frame []byte) error {
	select {
	case <-s.stop:
		return Errf(ErrNotInitialized, "session closed")
	default:
	}
	verbose.Printf("udp: civ tx % x", frame)
	return s.send(s.serialC, pktCIV, frame)
}

func (s *udpSession) readControl() {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.controlC.SetReadDeadline(time.Now().Add(udpWatchdogInterval))
		n, err := s.controlC.Read(buf)
		if err != nil {
			if isTimeout(err) {
				s.checkWatchdog()
				continue
			}
			return
		}
		if kind, _, ok := parsePacket(buf[:n]); ok {
			s.heard()
			if kind == pktAreYouHere {
				s.send(s.controlC, pktIAmHere, nil)
			}
		}
	}
}

func (s *udpSession) readSerial() {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.serialC.SetReadDeadline(time.Now().Add(udpWatchdogInterval))
		n, err := s.serialC.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		kind, payload, ok := parsePacket(buf[:n])
		if !ok || kind != pktCIV {
			continue
		}
		s.heard()

		s.civBuf = append(s.civBuf, payload...)
		frames, rest := civExtractFrames(s.civBuf)
		s.civBuf = rest
		for _, f := range frames {
			verbose.Printf("udp: civ rx % x", f)
			select {
			case s.civIn <- f:
			default:
				// a stalled consumer drops the oldest traffic, transceive
				// broadcasts are periodic anyway
			}
		}
	}
}

func (s *udpSession) readAudio() {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.audioC.SetReadDeadline(time.Now().Add(udpWatchdogInterval))
		n, err := s.audioC.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		kind, payload, ok := parsePacket(buf[:n])
		if !ok || kind != pktAudio {
			continue
		}
		s.heard()

		s.mu.Lock()
		sink := s.audioSink
		s.mu.Unlock()
		if sink == nil || len(payload) < 2 {
			continue
		}
		samples := make([]int16, len(payload)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
		}
		sink(samples)
	}
}

func (s *udpSession) keepalive() {
	defer s.wg.Done()
	ticker := time.NewTicker(udpKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.send(s.controlC, pktPing, nil)
		}
	}
}

func (s *udpSession) heard() {
	s.mu.Lock()
	s.lastHeard = time.Now()
	wasLost := s.lost
	s.lost = false
	s.mu.Unlock()

	if wasLost && s.onEvent != nil {
		logging.Infof("udp", "session restored")
		s.onEvent(sessionRestored)
	}
}

func (s *udpSession) checkWatchdog() {
	s.mu.Lock()
	silent := time.Since(s.lastHeard)
	alreadyLost := s.lost
	if silent > udpSessionTimeout {
		s.lost = true
	}
	nowLost := s.lost
	s.mu.Unlock()

	if nowLost && !alreadyLost && s.onEvent != nil {
		logging.Warnf("udp", "session lost, no traffic for %s", silent.Round(time.Millisecond))
		s.onEvent(sessionLost)
	}
}

// setAudioSink registers the raw PCM consumer.
func (s *udpSession) setAudioSink(sink func([]int16)) {
	s.mu.Lock()
	s.audioSink = sink
	s.mu.Unlock()
}

func (s *udpSession) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn && !s.lost
}

// close says goodbye and releases the sockets. Best effort throughout.
func (s *udpSession) close() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}

	if s.controlC != nil {
		s.send(s.controlC, pktBye, nil)
	}
	s.closeSockets()
	s.wg.Wait()

	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// closeSockets closes but deliberately keeps the references: the read
// loops may still be inside a Read call, which now fails with a closed-
// connection error instead of dereferencing nil.
func (s *udpSession) closeSockets() {
	for _, c := range []*net.UDPConn{s.controlC, s.serialC, s.audioC} {
		if c != nil {
			c.Close()
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// civMatches reports whether a received payload answers the given command
// sequence (command byte plus optional subcommand).
func civMatches(payload, cmd []byte) bool {
	return len(payload) >= len(cmd) && bytes.Equal(payload[:len(cmd)], cmd)
}
