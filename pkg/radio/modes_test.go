package radio

import "testing"

func TestNormalizeMode(t *testing.T) {
	cases := map[string]string{
		"usb":    ModeUSB,
		" LSB ":  ModeLSB,
		"PKTUSB": ModeDataU,
		"pktlsb": ModeDataL,
		"DIG":    ModeDataU,
		"DATA":   ModeDataU,
		"CW-R":   ModeCWR,
		"CWR":    ModeCWR,
		"RTTYR":  ModeRTTYR,
		"bogus":  ModeUSB,
	}
	for in, want := range cases {
		if got := normalizeMode(in); got != want {
			t.Errorf("Expected %q for input %q, got %q", want, in, got)
		}
	}
}

func TestModeCIVRoundTrip(t *testing.T) {
	for _, name := range []string{ModeUSB, ModeLSB, ModeAM, ModeCW, ModeFM, ModeRTTY, ModeCWR, ModeRTTYR} {
		mc := modeToCIV(name)
		if got := civToMode(mc.code, mc.data); got != name {
			t.Errorf("Expected %q back through CI-V, got %q", name, got)
		}
	}

	t.Run("Data Modes Carry Flag", func(t *testing.T) {
		mc := modeToCIV(ModeDataU)
		if !mc.data {
			t.Error("Expected data flag for DATA-U")
		}
		if mc.code != 0x01 {
			t.Errorf("Expected USB code for DATA-U, got %02x", mc.code)
		}
		if got := civToMode(0x01, true); got != ModeDataU {
			t.Errorf("Expected DATA-U, got %q", got)
		}
		if got := civToMode(0x00, true); got != ModeDataL {
			t.Errorf("Expected DATA-L, got %q", got)
		}
	})

	t.Run("Unknown Falls Back To USB", func(t *testing.T) {
		if mc := modeToCIV("WFM"); mc.code != 0x01 {
			t.Errorf("Expected USB fallback, got %02x", mc.code)
		}
		if got := civToMode(0x7F, false); got != ModeUSB {
			t.Errorf("Expected USB fallback, got %q", got)
		}
	})
}

func TestRigctldMode(t *testing.T) {
	cases := map[string]string{
		ModeDataU: "PKTUSB",
		ModeDataL: "PKTLSB",
		ModeCWR:   "CWR",
		ModeRTTYR: "RTTYR",
		ModeUSB:   "USB",
	}
	for in, want := range cases {
		if got := rigctldMode(in); got != want {
			t.Errorf("Expected %q for %q, got %q", want, in, got)
		}
	}
}
