// Package pathnorm normalizes file names the way the on-tape format
// requires: names are UTF-8 in Normalization Form C, and each dentry also
// carries a platform-safe variant in which characters the host OS cannot
// represent are percent-encoded. Name comparison within a volume always
// uses the NFC form.
package pathnorm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// MaxNameLen is the longest permitted file name, in bytes of the NFC
// form.
const MaxNameLen = 255

// Normalize converts name to NFC and validates it as a single path
// component.
func Normalize(name string) (string, error) {
	if name == "" {
		return "", ltfs.ErrInvalidPath
	}
	if !utf8.ValidString(name) {
		return "", ltfs.ErrInvalidPath
	}
	n := norm.NFC.String(name)
	if len(n) > MaxNameLen {
		return "", ltfs.ErrNameTooLong
	}
	if n == "." || n == ".." || strings.ContainsAny(n, "/\x00") {
		return "", ltfs.ErrInvalidPath
	}
	return n, nil
}

// unsafe reports whether b must be percent-encoded in the platform-safe
// name on this host.
func unsafe(b byte) bool {
	if b < 0x20 || b == 0x7f {
		return true
	}
	switch b {
	case ':', '%':
		return true
	}
	return false
}

const hexdigit = "0123456789ABCDEF"

// PlatformSafe returns the percent-encoded variant of an NFC name. Names
// containing no unsafe bytes are returned unchanged.
func PlatformSafe(name string) string {
	needed := false
	for i := 0; i < len(name); i++ {
		if unsafe(name[i]) {
			needed = true
			break
		}
	}
	if !needed {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + 8)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if unsafe(c) {
			b.WriteByte('%')
			b.WriteByte(hexdigit[c>>4])
			b.WriteByte(hexdigit[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses PlatformSafe. Malformed escapes are passed through
// unchanged rather than rejected, matching how a platform-safe name read
// back from a foreign index is treated.
func Unescape(name string) string {
	if !strings.ContainsRune(name, '%') {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '%' && i+2 < len(name) {
			hi := unhex(name[i+1])
			lo := unhex(name[i+2])
			if hi >= 0 && lo >= 0 {
				b.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unhex(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}

// Split breaks an absolute volume path into normalized components. The
// root path yields an empty slice.
func Split(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, ltfs.ErrInvalidPath
	}
	var out []string
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		n, err := Normalize(comp)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
