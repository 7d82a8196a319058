package radio

import (
	"sync"
	"testing"
	"time"
)

// fakeCATSession scripts reads and records the teardown call order.
type fakeCATSession struct {
	mu sync.Mutex

	openErr error
	writes  [][]byte
	replies [][]byte

	closedAt    time.Time
	destroyedAt time.Time
	calls       []string
}

func (f *fakeCATSession) open(cfg RadioConfig) error { return f.openErr }

func (f *fakeCATSession) write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeCATSession) read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		// behaves like a port read timeout
		return 0, nil
	}
	chunk := f.replies[0]
	f.replies = f.replies[1:]
	return copy(p, chunk), nil
}

func (f *fakeCATSession) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAt = time.Now()
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeCATSession) destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyedAt = time.Now()
	f.calls = append(f.calls, "destroy")
	return nil
}

func (f *fakeCATSession) queueReply(frame []byte) {
	f.mu.Lock()
	f.replies = append(f.replies, frame)
	f.mu.Unlock()
}

// rigReply builds a frame as the rig would send it, addressed back to the
// controller.
func rigReply(cmd []byte, data []byte) []byte {
	pkt := []byte{civPreamble, civPreamble, controllerAddr, defaultCIVAddr}
	pkt = append(pkt, cmd...)
	pkt = append(pkt, data...)
	return append(pkt, civTerminator)
}

func newTestSerialConnection(fake *fakeCATSession) *serialConnection {
	c := newSerialConnection()
	c.newSession = func() catSession { return fake }
	return c
}

func TestSerialConnect(t *testing.T) {
	t.Run("Probe Succeeds", func(t *testing.T) {
		fake := &fakeCATSession{}
		fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(14074000)))

		c := newTestSerialConnection(fake)
		if err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !c.IsHealthy() {
			t.Error("Expected healthy connection")
		}
	})

	t.Run("Open Failure Surfaces", func(t *testing.T) {
		fake := &fakeCATSession{openErr: Errf(ErrDeviceNotFound, "no such device")}
		c := newTestSerialConnection(fake)
		err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB9"})
		if KindOf(err) != ErrDeviceNotFound {
			t.Errorf("Expected ErrDeviceNotFound, got %v", err)
		}
	})
}

func TestSerialTeardownOrdering(t *testing.T) {
	fake := &fakeCATSession{}
	fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(14074000)))

	c := newTestSerialConnection(fake)
	if err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := c.Disconnect("test over"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	fake.mu.Lock()
	calls := append([]string(nil), fake.calls...)
	gap := fake.destroyedAt.Sub(fake.closedAt)
	fake.mu.Unlock()

	if len(calls) != 2 || calls[0] != "close" || calls[1] != "destroy" {
		t.Fatalf("Expected close then destroy, got %v", calls)
	}
	if gap < teardownSettle {
		t.Errorf("Expected at least %s between close and destroy, got %s", teardownSettle, gap)
	}

	t.Run("Second Disconnect Is No-op", func(t *testing.T) {
		if err := c.Disconnect("again"); err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		fake.mu.Lock()
		defer fake.mu.Unlock()
		if len(fake.calls) != 2 {
			t.Errorf("Expected no further teardown calls, got %v", fake.calls)
		}
	})
}

func TestSerialTransaction(t *testing.T) {
	t.Run("Echo Skipped", func(t *testing.T) {
		fake := &fakeCATSession{}
		fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(14074000)))

		c := newTestSerialConnection(fake)
		if err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		// the adapter echoes our own frame before the rig answers
		fake.queueReply(civFrame(defaultCIVAddr, civCmdGetFreq, nil))
		fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(7074000)))

		hz, err := c.GetFrequency()
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if hz != 7074000 {
			t.Errorf("Expected 7074000 Hz, got %d", hz)
		}
	})

	t.Run("Rig NG Reply", func(t *testing.T) {
		fake := &fakeCATSession{}
		fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(14074000)))

		c := newTestSerialConnection(fake)
		if err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		fake.queueReply(rigReply([]byte{civNG}, nil))
		if err := c.SetFrequency(14074000); KindOf(err) != ErrInvalidState {
			t.Errorf("Expected ErrInvalidState for NG reply, got %v", err)
		}
	})

	t.Run("Set Frequency Encodes BCD", func(t *testing.T) {
		fake := &fakeCATSession{}
		fake.queueReply(rigReply(civCmdGetFreq, bcdEncodeFreq(14074000)))

		c := newTestSerialConnection(fake)
		if err := c.Connect(RadioConfig{Type: BackendSerial, Device: "/dev/ttyUSB0"}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		fake.queueReply(rigReply([]byte{civOK}, nil))
		if err := c.SetFrequency(7074000); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		fake.mu.Lock()
		defer fake.mu.Unlock()
		last := fake.writes[len(fake.writes)-1]
		want := civFrame(defaultCIVAddr, civCmdSetFreq, bcdEncodeFreq(7074000))
		if string(last) != string(want) {
			t.Errorf("Expected wire frame % x, got % x", want, last)
		}
	})

	t.Run("Command While Disconnected", func(t *testing.T) {
		c := newTestSerialConnection(&fakeCATSession{})
		if _, err := c.GetFrequency(); KindOf(err) != ErrNotInitialized {
			t.Errorf("Expected ErrNotInitialized, got %v", err)
		}
	})
}
