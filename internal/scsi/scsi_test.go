package scsi

import (
	"testing"
	"time"
)

func fixedSense(key, asc, ascq byte) []byte {
	b := make([]byte, 18)
	b[0] = 0x70
	b[2] = key
	b[12] = asc
	b[13] = ascq
	return b
}

func TestDecodeNotableCodes(t *testing.T) {
	for _, tt := range []struct {
		key, asc, ascq byte
		want           Code
	}{
		{0x0, 0x00, 0x00, Good},
		{0x0, 0x00, 0x01, FilemarkDetected},
		{0x0, 0x00, 0x02, EarlyWarning},
		{0x0, 0x00, 0x05, EODDetected},
		{0x0, 0x00, 0x07, ProgEarlyWarning},
		{0x0, 0x17, 0x30, CleaningRequired},
		{0x2, 0x04, 0x01, BecomingReady},
		{0x2, 0x3A, 0x00, NoMedium},
		{0x3, 0x0C, 0x00, WritePerm},
		{0x3, 0x11, 0x00, ReadPerm},
		{0x5, 0x24, 0x00, InvalidField},
		{0x6, 0x29, 0x01, RealPowerOnReset},
		{0x7, 0x27, 0x00, WriteProtected},
		{0xD, 0x00, 0x02, NoSpace},
		{0x5, 0xEE, 0x10, KeyRequired},
		{0x6, 0xEE, 0x12, KeyChangeDetected},
		{0x3, 0xEE, 0xD0, CryptoError},
	} {
		s := ParseSense(fixedSense(tt.key, tt.asc, tt.ascq))
		if got := Decode(s); got != tt.want {
			t.Errorf("Decode(%#02x/%#02x/%#02x) = %v, want %v",
				tt.key, tt.asc, tt.ascq, got, tt.want)
		}
	}
}

func TestDecodeKeyFallback(t *testing.T) {
	// An unmapped triplet falls back to its sense key class.
	s := ParseSense(fixedSense(0x4, 0x77, 0x42))
	if got := Decode(s); got != HardwareError {
		t.Errorf("fallback Decode = %v, want HardwareError", got)
	}
}

func TestParseSenseFlags(t *testing.T) {
	b := fixedSense(0x0, 0x00, 0x00)
	b[2] |= 0x80 | 0x20 // FM + ILI
	PutUint32(b[3:7], 512)
	s := ParseSense(b)
	if !s.FM || !s.ILI {
		t.Errorf("FM/ILI not decoded: %+v", s)
	}
	if s.Information != 512 {
		t.Errorf("Information = %d, want 512", s.Information)
	}
}

func TestCodeClassification(t *testing.T) {
	if !FilemarkDetected.Info() || MediumError.Info() {
		t.Error("Info classification broken")
	}
	if !DriverBusy.Retryable() || MediumError.Retryable() {
		t.Error("Retryable classification broken")
	}
	if !HostImmRetry.ImmediateRetry() || DriverBusy.ImmediateRetry() {
		t.Error("ImmediateRetry classification broken")
	}
	if !MediumError.TakeDump() || NoMedium.TakeDump() {
		t.Error("TakeDump classification broken")
	}
}

func TestTimeouts(t *testing.T) {
	to := NewTimeouts(FamilyLTO8)
	if got, want := to.Get(OpErase), 54896*time.Second; got != want {
		t.Errorf("LTO8 erase timeout = %v, want %v", got, want)
	}
	if got, want := to.Get(OpTestUnitReady), 60*time.Second; got != want {
		t.Errorf("TUR timeout = %v, want %v", got, want)
	}

	// Drive-reported values win over the family defaults.
	to.SetReported(OpErase, 100*time.Second)
	if got, want := to.Get(OpErase), 100*time.Second; got != want {
		t.Errorf("reported erase timeout = %v, want %v", got, want)
	}
}

func TestUint24(t *testing.T) {
	var b [3]byte
	PutUint24(b[:], 0x524288)
	if got := Uint24(b[:]); got != 0x524288 {
		t.Errorf("Uint24 round trip = %#x", got)
	}
}

func TestGenerateKeyShape(t *testing.T) {
	key := GenerateKey()
	switch key[0] {
	case KeyPrefixIPv4, KeyPrefixIPv6, KeyPrefixHostname:
	default:
		t.Errorf("key prefix = %#02x", key[0])
	}
}
