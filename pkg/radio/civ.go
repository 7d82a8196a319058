package radio

import (
	"bytes"
	"fmt"
)

// CI-V framing constants. A frame is FE FE <to> <from> <cmd...> FD.
const (
	civPreamble   = 0xFE
	civTerminator = 0xFD
	civOK         = 0xFB
	civNG         = 0xFA

	// controllerAddr is the address this controller claims on the bus.
	controllerAddr = 0xE0
	// defaultCIVAddr is used when the config does not pin a rig address.
	defaultCIVAddr = 0xA4
)

// CI-V command sequences (command byte plus optional subcommand).
var (
	civCmdGetFreq       = []byte{0x03}
	civCmdGetMode       = []byte{0x04}
	civCmdSetFreq       = []byte{0x05}
	civCmdSetMode       = []byte{0x06}
	civCmdReadSMeter    = []byte{0x15, 0x02}
	civCmdReadSWR       = []byte{0x15, 0x12}
	civCmdReadALC       = []byte{0x15, 0x13}
	civCmdReadPower     = []byte{0x14, 0x0A}
	civCmdPTT           = []byte{0x1C, 0x00}
	civCmdTuner         = []byte{0x1C, 0x01}
	civCmdTransceiverID = []byte{0x19, 0x00}
)

// civFrame assembles a complete wire frame for the given rig address.
func civFrame(rigAddr byte, cmd []byte, data []byte) []byte {
	pkt := make([]byte, 0, 6+len(cmd)+len(data))
	pkt = append(pkt, civPreamble, civPreamble, rigAddr, controllerAddr)
	pkt = append(pkt, cmd...)
	pkt = append(pkt, data...)
	pkt = append(pkt, civTerminator)
	return pkt
}

// civExtractFrames pulls complete frames out of buf, returning the frames
// and the unconsumed remainder. Garbage before a preamble pair is dropped;
// a trailing partial frame is kept for the next read.
func civExtractFrames(buf []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(buf, []byte{civPreamble, civPreamble})
		if start < 0 {
			// keep a lone trailing preamble, it may be a split frame
			if i := bytes.LastIndexByte(buf, civPreamble); i >= 0 {
				return frames, buf[i:]
			}
			return frames, nil
		}
		buf = buf[start:]
		end := bytes.IndexByte(buf[2:], civTerminator)
		if end < 0 {
			return frames, buf
		}
		frame := buf[: 2+end+1 : 2+end+1]
		frames = append(frames, frame)
		buf = buf[2+end+1:]
	}
}

// civPayload strips addressing and terminator, returning cmd+data bytes.
func civPayload(frame []byte) ([]byte, error) {
	if len(frame) < 6 || frame[0] != civPreamble || frame[1] != civPreamble {
		return nil, fmt.Errorf("malformed CI-V frame: % x", frame)
	}
	return frame[4 : len(frame)-1], nil
}

// bcdEncodeFreq encodes hz as 5 BCD bytes, little-endian digit pairs, the
// layout every Icom rig expects for frequency data.
func bcdEncodeFreq(hz int64) []byte {
	b := make([]byte, 5)
	for i := 0; i < 5; i++ {
		lo := byte(hz % 10)
		hz /= 10
		hi := byte(hz % 10)
		hz /= 10
		b[i] = hi<<4 | lo
	}
	return b
}

// bcdDecodeFreq is the inverse of bcdEncodeFreq.
func bcdDecodeFreq(b []byte) int64 {
	var hz, mul int64 = 0, 1
	for _, v := range b {
		hz += int64(v&0x0F) * mul
		mul *= 10
		hz += int64(v>>4) * mul
		mul *= 10
	}
	return hz
}

// bcdDecodeLevel decodes a two-byte 0000..0255 meter reading.
func bcdDecodeLevel(b []byte) int {
	if len(b) < 2 {
		return 0
	}
	return int(b[0]>>4)*1000 + int(b[0]&0x0F)*100 + int(b[1]>>4)*10 + int(b[1]&0x0F)
}

// bcdEncodeLevel encodes 0..255 as the two-byte meter/level format.
func bcdEncodeLevel(v int) []byte {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return []byte{byte(v / 100), byte((v % 100 / 10 << 4) | v%10)}
}

// levelToSWR converts a raw SWR meter reading to a ratio: 0 reads 1.0,
// 60 reads 2.0, 120 reads 3.0.
func levelToSWR(raw int) float64 {
	return 1.0 + (float64(raw)/120.0)*2.0
}

// levelToSUnits converts a raw S-meter reading to S-units. Full scale 241
// corresponds to S9+60dB.
func levelToSUnits(raw int) int {
	s := int(float64(raw) / 241.0 * 18.0)
	if s > 18 {
		s = 18
	}
	return s
}

// levelToPercent normalizes a 0..255 raw reading to 0..100.
func levelToPercent(raw int) float64 {
	pct := float64(raw) / 255.0 * 100.0
	if pct > 100 {
		pct = 100
	}
	return pct
}
