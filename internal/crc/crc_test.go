package crc

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func TestEncodeCheckRoundTrip(t *testing.T) {
	for _, codec := range []Codec{RSCRC{}, CRC32C{}} {
		for _, size := range []int{0, 1, 3, 4, 255, 256, 4096, 524288} {
			buf := make([]byte, size)
			for i := range buf {
				buf[i] = byte(i * 7)
			}
			enc := codec.Encode(append([]byte(nil), buf...))
			if got, want := len(enc), size+LBPSize; got != want {
				t.Fatalf("Encode(%d bytes): len = %d, want %d", size, got, want)
			}
			n, err := codec.Check(enc)
			if err != nil {
				t.Fatalf("Check(Encode(%d bytes)) with %T: %v", size, codec, err)
			}
			if n != size {
				t.Errorf("Check: payload length = %d, want %d", n, size)
			}
			if !bytes.Equal(enc[:n], buf) {
				t.Errorf("Check: payload corrupted for size %d", size)
			}
		}
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	for _, codec := range []Codec{RSCRC{}, CRC32C{}} {
		enc := codec.Encode([]byte("linear tape file system"))
		enc[5] ^= 0x40
		if _, err := codec.Check(enc); err != ErrCheck {
			t.Errorf("%T.Check on corrupted block: err = %v, want ErrCheck", codec, err)
		}
	}
}

func TestCheckShortBuffer(t *testing.T) {
	for _, codec := range []Codec{RSCRC{}, CRC32C{}} {
		if _, err := codec.Check([]byte{1, 2, 3}); err != ErrCheck {
			t.Errorf("%T.Check on 3-byte buffer: err = %v, want ErrCheck", codec, err)
		}
	}
}

// The shift register recurrence degenerates to a table lookup for a
// single byte, so the table itself pins the known answers.
func TestRSSingleByteMatchesTable(t *testing.T) {
	for _, b := range []byte{0x00, 0x01, 0x80, 0xFF} {
		enc := RSCRC{}.Encode([]byte{b})
		got := binary.BigEndian.Uint32(enc[1:])
		if want := rsGF256Table[b]; got != want {
			t.Errorf("RS CRC of %#02x = %#08x, want %#08x", b, got, want)
		}
	}
}

func TestCRC32CMatchesCastagnoli(t *testing.T) {
	payload := []byte("0123456789")
	enc := CRC32C{}.Encode(append([]byte(nil), payload...))
	got := binary.BigEndian.Uint32(enc[len(payload):])
	if want := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli)); got != want {
		t.Errorf("CRC32C = %#08x, want %#08x", got, want)
	}
}
