package pathnorm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

func TestNormalizeNFC(t *testing.T) {
	// U+0065 U+0301 (e + combining acute) composes to U+00E9.
	got, err := Normalize("café")
	if err != nil {
		t.Fatal(err)
	}
	if want := "café"; got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, tt := range []struct {
		name string
		want error
	}{
		{"", ltfs.ErrInvalidPath},
		{".", ltfs.ErrInvalidPath},
		{"..", ltfs.ErrInvalidPath},
		{"a/b", ltfs.ErrInvalidPath},
		{"a\x00b", ltfs.ErrInvalidPath},
		{"\xff\xfe", ltfs.ErrInvalidPath},
		{strings.Repeat("x", MaxNameLen+1), ltfs.ErrNameTooLong},
	} {
		if _, err := Normalize(tt.name); err != tt.want {
			t.Errorf("Normalize(%q) = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestPlatformSafeRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		in   string
		safe string
	}{
		{"plain.txt", "plain.txt"},
		{"a:b", "a%3Ab"},
		{"100%", "100%25"},
		{"bell\x07", "bell%07"},
	} {
		got := PlatformSafe(tt.in)
		if got != tt.safe {
			t.Errorf("PlatformSafe(%q) = %q, want %q", tt.in, got, tt.safe)
		}
		if back := Unescape(got); back != tt.in {
			t.Errorf("Unescape(PlatformSafe(%q)) = %q", tt.in, back)
		}
	}
}

func TestUnescapeMalformed(t *testing.T) {
	// A stray escape from a foreign index passes through untouched.
	if got := Unescape("50%zz"); got != "50%zz" {
		t.Errorf("Unescape(50%%zz) = %q", got)
	}
}

func TestSplit(t *testing.T) {
	got, err := Split("/dir1//dir2/file")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"dir1", "dir2", "file"}, got); diff != "" {
		t.Errorf("Split: diff (-want +got):\n%s", diff)
	}

	if got, err := Split("/"); err != nil || len(got) != 0 {
		t.Errorf("Split(/) = %v, %v, want empty", got, err)
	}

	if _, err := Split("relative/path"); err != ltfs.ErrInvalidPath {
		t.Errorf("Split(relative) = %v, want ErrInvalidPath", err)
	}
}
