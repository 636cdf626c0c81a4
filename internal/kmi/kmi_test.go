package kmi

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

func mkPair(seed byte) KeyPair {
	var p KeyPair
	for i := range p.DK {
		p.DK[i] = seed + byte(i)
	}
	copy(p.DKi[:3], "abc")
	for i := 3; i < DKiLength; i++ {
		p.DKi[i] = seed ^ byte(i)
	}
	return p
}

func TestDKListRoundTrip(t *testing.T) {
	pairs := []KeyPair{mkPair(1), mkPair(0x40)}
	list := FormatDKList(pairs)
	got, err := ParseDKList(list)
	if err != nil {
		t.Fatalf("ParseDKList(%q): %v", list, err)
	}
	if diff := cmp.Diff(pairs, got); diff != "" {
		t.Errorf("round trip diff (-want +got):\n%s", diff)
	}
	// And the textual form round-trips too.
	if back := FormatDKList(got); back != list {
		t.Errorf("FormatDKList = %q, want %q", back, list)
	}
}

func TestParseDKListRejects(t *testing.T) {
	good := FormatDKList([]KeyPair{mkPair(7)})
	for _, tt := range []string{
		good[:len(good)-1],                 // truncated DKi
		strings.Replace(good, ":", ";", 1), // wrong separator
		"*" + good[1:],                     // bad base64 char
		good + "/",                         // trailing separator
		good + "/" + good,                  // ok shape but reparse below
	} {
		_, err := ParseDKList(tt)
		if tt == good+"/"+good {
			if err != nil {
				t.Errorf("ParseDKList(two pairs): %v", err)
			}
			continue
		}
		if err != ltfs.ErrBadArg {
			t.Errorf("ParseDKList(%q) err = %v, want ErrBadArg", tt, err)
		}
	}
}

func TestSimpleGetKey(t *testing.T) {
	pair := mkPair(9)
	k := NewSimple()
	if err := k.ParseOpt("kmi_dk_list=" + FormatDKList([]KeyPair{pair})); err != nil {
		t.Fatal(err)
	}

	dk, alias, err := k.GetKey(pair.DKi[:])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dk, pair.DK[:]) {
		t.Errorf("DK mismatch")
	}
	if !bytes.Equal(alias, pair.DKi[:]) {
		t.Errorf("alias mismatch")
	}

	// Unknown alias.
	other := mkPair(0x55)
	if _, _, err := k.GetKey(other.DKi[:]); err != ltfs.ErrKeyNotFound {
		t.Errorf("unknown alias err = %v, want ErrKeyNotFound", err)
	}

	// The list is cleared after each lookup but can be re-set, so a
	// second valid lookup still works.
	if _, _, err := k.GetKey(pair.DKi[:]); err != nil {
		t.Errorf("second lookup: %v", err)
	}
}

func TestSimpleDefaultFormatDKi(t *testing.T) {
	pair := mkPair(3)
	k := NewSimple()
	if err := k.ParseOpt("kmi_dk_list=" + FormatDKList([]KeyPair{pair})); err != nil {
		t.Fatal(err)
	}
	if err := k.ParseOpt("kmi_dki_for_format=" + FormatDKi(pair.DKi)); err != nil {
		t.Fatal(err)
	}
	dk, alias, err := k.GetKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dk, pair.DK[:]) || !bytes.Equal(alias, pair.DKi[:]) {
		t.Error("format-time default lookup mismatch")
	}
}

func TestSimpleUnencrypted(t *testing.T) {
	k := NewSimple()
	dk, alias, err := k.GetKey(nil)
	if err != nil || dk != nil || alias != nil {
		t.Errorf("unencrypted path = %v, %v, %v; want all nil", dk, alias, err)
	}
}

func TestStoreStateMachine(t *testing.T) {
	ks := newKeyStore()
	list := FormatDKList([]KeyPair{mkPair(2)})
	if err := ks.set(list); err != nil {
		t.Fatal(err)
	}
	// Set from SET is rejected.
	if err := ks.set(list); err != ltfs.ErrInvalidSequence {
		t.Errorf("set from SET err = %v, want ErrInvalidSequence", err)
	}
	ks.clear()
	if ks.state != stateCleared {
		t.Errorf("state after clear = %v", ks.state)
	}
	// Set from CLEARED is allowed again.
	if err := ks.set(list); err != nil {
		t.Errorf("set from CLEARED: %v", err)
	}
	ks.destroy()
	if ks.state != stateDestroyed {
		t.Errorf("state after destroy = %v", ks.state)
	}
	if len(ks.pairs) != 0 {
		t.Error("pairs survived destroy")
	}
}

func TestFlatfile(t *testing.T) {
	pair := mkPair(0x11)
	path := filepath.Join(t.TempDir(), "keys")
	content := FormatDKList([]KeyPair{pair}) + "\nsecond line ignored\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	k := NewFlatfile()
	if err := k.ParseOpt("kmi_dk_list_file=" + path); err != nil {
		t.Fatal(err)
	}
	dk, _, err := k.GetKey(pair.DKi[:])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dk, pair.DK[:]) {
		t.Error("DK mismatch from flatfile")
	}
}

func TestParseDKiShape(t *testing.T) {
	var dki [DKiLength]byte
	copy(dki[:3], "XY1")
	for i := 3; i < DKiLength; i++ {
		dki[i] = byte(0xA0 + i)
	}
	text := FormatDKi(dki)
	if len(text) != 21 {
		t.Fatalf("FormatDKi length = %d, want 21", len(text))
	}
	back, err := ParseDKi(text)
	if err != nil {
		t.Fatal(err)
	}
	if back != dki {
		t.Errorf("ParseDKi(FormatDKi) = %x, want %x", back, dki)
	}
}

func TestDKEncodedLength(t *testing.T) {
	// The on-wire DK is exactly 44 base64 characters.
	if n := len(base64.StdEncoding.EncodeToString(make([]byte, DKLength))); n != 44 {
		t.Fatalf("encoded DK length = %d", n)
	}
}
