package radio

import "strings"

// Operating mode names used on the public API. Backends translate these to
// their wire representation.
const (
	ModeUSB   = "USB"
	ModeLSB   = "LSB"
	ModeAM    = "AM"
	ModeCW    = "CW"
	ModeCWR   = "CW-R"
	ModeRTTY  = "RTTY"
	ModeRTTYR = "RTTY-R"
	ModeFM    = "FM"
	ModeDataU = "DATA-U" // USB with data mode, used by FT8/JS8
	ModeDataL = "DATA-L"
)

// civModeCode holds the CI-V mode byte plus the data-mode flag carried in
// the following byte.
type civModeCode struct {
	code byte
	data bool
}

var civModeByName = map[string]civModeCode{
	ModeLSB:   {0x00, false},
	ModeUSB:   {0x01, false},
	ModeAM:    {0x02, false},
	ModeCW:    {0x03, false},
	ModeRTTY:  {0x04, false},
	ModeFM:    {0x05, false},
	ModeCWR:   {0x07, false},
	ModeRTTYR: {0x08, false},
	ModeDataL: {0x00, true},
	ModeDataU: {0x01, true},
}

var civNameByCode = map[byte]string{
	0x00: ModeLSB,
	0x01: ModeUSB,
	0x02: ModeAM,
	0x03: ModeCW,
	0x04: ModeRTTY,
	0x05: ModeFM,
	0x07: ModeCWR,
	0x08: ModeRTTYR,
	0x0A: ModeRTTYR, // older rigs report RTTY-R here
}

// modeToCIV maps a mode name to its CI-V code. Unknown names fall back to
// USB rather than failing, so a caller never gets stuck with an
// untransmittable radio over a spelling mismatch.
func modeToCIV(name string) civModeCode {
	if mc, ok := civModeByName[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return mc
	}
	return civModeByName[ModeUSB]
}

// civToMode maps a CI-V mode byte (plus data flag) back to a mode name.
func civToMode(code byte, data bool) string {
	name, ok := civNameByCode[code]
	if !ok {
		return ModeUSB
	}
	if data {
		switch name {
		case ModeUSB:
			return ModeDataU
		case ModeLSB:
			return ModeDataL
		}
	}
	return name
}

// normalizeMode maps free-form caller input to a canonical mode name.
func normalizeMode(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "PKTUSB", "DIG", "DIGU", "DATA":
		return ModeDataU
	case "PKTLSB", "DIGL":
		return ModeDataL
	case "CWR":
		return ModeCWR
	case "RTTYR":
		return ModeRTTYR
	}
	if _, ok := civModeByName[n]; ok {
		return n
	}
	return ModeUSB
}
