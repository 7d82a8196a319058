package radio

import (
	"bytes"
	"math"
	"testing"
)

func TestCIVFrame(t *testing.T) {
	t.Run("Get Frequency Frame", func(t *testing.T) {
		frame := civFrame(0xA4, civCmdGetFreq, nil)
		want := []byte{0xFE, 0xFE, 0xA4, 0xE0, 0x03, 0xFD}
		if !bytes.Equal(frame, want) {
			t.Errorf("Expected frame % x, got % x", want, frame)
		}
	})

	t.Run("Set Frequency Frame Carries Data", func(t *testing.T) {
		frame := civFrame(0xA4, civCmdSetFreq, bcdEncodeFreq(14074000))
		if frame[0] != civPreamble || frame[1] != civPreamble {
			t.Error("Expected preamble pair at frame start")
		}
		if frame[len(frame)-1] != civTerminator {
			t.Error("Expected terminator at frame end")
		}
		if len(frame) != 6+5 {
			t.Errorf("Expected 11-byte frame, got %d bytes", len(frame))
		}
	})
}

func TestCIVExtractFrames(t *testing.T) {
	t.Run("Single Complete Frame", func(t *testing.T) {
		buf := civFrame(0xA4, civCmdGetFreq, nil)
		frames, rest := civExtractFrames(buf)
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame, got %d", len(frames))
		}
		if len(rest) != 0 {
			t.Errorf("Expected empty remainder, got % x", rest)
		}
	})

	t.Run("Two Frames Back To Back", func(t *testing.T) {
		buf := append(civFrame(0xA4, civCmdGetFreq, nil), civFrame(0xE0, civCmdGetMode, nil)...)
		frames, rest := civExtractFrames(buf)
		if len(frames) != 2 {
			t.Fatalf("Expected 2 frames, got %d", len(frames))
		}
		if len(rest) != 0 {
			t.Errorf("Expected empty remainder, got % x", rest)
		}
	})

	t.Run("Partial Frame Kept For Next Read", func(t *testing.T) {
		full := civFrame(0xA4, civCmdGetFreq, nil)
		buf := append(full, 0xFE, 0xFE, 0xA4)
		frames, rest := civExtractFrames(buf)
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame, got %d", len(frames))
		}
		if !bytes.Equal(rest, []byte{0xFE, 0xFE, 0xA4}) {
			t.Errorf("Expected partial frame remainder, got % x", rest)
		}
	})

	t.Run("Garbage Before Preamble Dropped", func(t *testing.T) {
		buf := append([]byte{0x00, 0x42}, civFrame(0xA4, civCmdGetFreq, nil)...)
		frames, _ := civExtractFrames(buf)
		if len(frames) != 1 {
			t.Fatalf("Expected 1 frame after garbage, got %d", len(frames))
		}
	})

	t.Run("No Frame In Noise", func(t *testing.T) {
		frames, rest := civExtractFrames([]byte{0x01, 0x02, 0x03})
		if len(frames) != 0 {
			t.Errorf("Expected no frames, got %d", len(frames))
		}
		if len(rest) != 0 {
			t.Errorf("Expected noise dropped, got % x", rest)
		}
	})
}

func TestCIVPayload(t *testing.T) {
	frame := civFrame(0xE0, civCmdGetFreq, bcdEncodeFreq(7074000))
	payload, err := civPayload(frame)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if payload[0] != 0x03 {
		t.Errorf("Expected command byte 0x03, got %02x", payload[0])
	}
	if len(payload) != 6 {
		t.Errorf("Expected 6 payload bytes, got %d", len(payload))
	}

	if _, err := civPayload([]byte{0xFE, 0xFD}); err == nil {
		t.Error("Expected error for malformed frame")
	}
}

func TestBCDFrequency(t *testing.T) {
	cases := []int64{0, 7074000, 14074000, 28074000, 145500000, 435123456}
	for _, hz := range cases {
		got := bcdDecodeFreq(bcdEncodeFreq(hz))
		if got != hz {
			t.Errorf("Expected %d Hz back, got %d", hz, got)
		}
	}

	t.Run("Known Encoding", func(t *testing.T) {
		// 14.074 MHz: digit pairs little-endian
		b := bcdEncodeFreq(14074000)
		want := []byte{0x00, 0x40, 0x07, 0x14, 0x00}
		if !bytes.Equal(b, want) {
			t.Errorf("Expected % x, got % x", want, b)
		}
	})
}

func TestBCDLevel(t *testing.T) {
	for _, v := range []int{0, 9, 99, 120, 241, 255} {
		got := bcdDecodeLevel(bcdEncodeLevel(v))
		if got != v {
			t.Errorf("Expected level %d back, got %d", v, got)
		}
	}

	if got := bcdDecodeLevel([]byte{0x01}); got != 0 {
		t.Errorf("Expected 0 for short reading, got %d", got)
	}
}

func TestMeterScaling(t *testing.T) {
	t.Run("SWR", func(t *testing.T) {
		cases := map[int]float64{0: 1.0, 48: 1.8, 120: 3.0}
		for raw, want := range cases {
			if got := levelToSWR(raw); math.Abs(got-want) > 0.01 {
				t.Errorf("Expected SWR %.2f for raw %d, got %.2f", want, raw, got)
			}
		}
	})

	t.Run("S-Units", func(t *testing.T) {
		if got := levelToSUnits(0); got != 0 {
			t.Errorf("Expected S0, got S%d", got)
		}
		if got := levelToSUnits(241); got != 18 {
			t.Errorf("Expected S9+60 (18), got %d", got)
		}
		if got := levelToSUnits(300); got != 18 {
			t.Errorf("Expected clamp at 18, got %d", got)
		}
	})

	t.Run("Percent", func(t *testing.T) {
		if got := levelToPercent(255); got != 100 {
			t.Errorf("Expected 100%%, got %.1f", got)
		}
		if got := levelToPercent(0); got != 0 {
			t.Errorf("Expected 0%%, got %.1f", got)
		}
	})
}
