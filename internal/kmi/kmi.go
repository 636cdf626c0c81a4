// Package kmi implements the key management interface used for
// drive-side encryption: parsing of DK/DKi pair lists, key lookup by
// data key identifier and the two shipped backends, simple (keys passed
// as mount options) and flatfile (keys read from a file).
//
// A DK is a 32-byte data key carried base64-encoded (44 characters); a
// DKi is a 12-byte data key identifier carried as 3 printable ASCII
// characters plus 18 hex digits (21 characters). Within a pair DK and
// DKi are separated by ':', pairs by '/'.
package kmi

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

const (
	// DKLength is the raw data key size.
	DKLength = 32

	// DKiLength is the raw data key identifier size.
	DKiLength = 12

	// dkiASCIILength is how many leading DKi bytes travel as plain
	// ASCII; the rest are hex encoded.
	dkiASCIILength = 3

	dkEncodedLen  = (DKLength*8+5)/6/4*4 + 4 // 44
	dkiEncodedLen = dkiASCIILength + (DKiLength-dkiASCIILength)*2
)

// KeyPair is one parsed DK/DKi pair.
type KeyPair struct {
	DK  [DKLength]byte
	DKi [DKiLength]byte
}

// KMI is the plugin contract: resolve the data key for an alias. A nil
// alias selects the format-time default DKi; both results nil with a
// nil error means the cartridge is to be used unencrypted.
type KMI interface {
	GetKey(alias []byte) (dk, actualAlias []byte, err error)
	Destroy() error
	HelpMessage() string
}

func isBase64Char(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '+' || c == '/'
}

func checkDK(s string) error {
	if len(s) < dkEncodedLen {
		return ltfs.ErrBadArg
	}
	i := 0
	for ; i < (DKLength*8+5)/6; i++ {
		if !isBase64Char(s[i]) {
			return ltfs.ErrBadArg
		}
	}
	for ; i%4 != 0; i++ {
		if s[i] != '=' {
			return ltfs.ErrBadArg
		}
	}
	return nil
}

func checkDKi(s string) error {
	if len(s) < dkiEncodedLen {
		return ltfs.ErrBadArg
	}
	for i := 0; i < dkiASCIILength; i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return ltfs.ErrBadArg
		}
	}
	for i := dkiASCIILength; i < dkiEncodedLen; i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return ltfs.ErrBadArg
		}
	}
	return nil
}

// ParseDKi converts the 21-character textual DKi to its 12-byte binary
// form.
func ParseDKi(s string) ([DKiLength]byte, error) {
	var out [DKiLength]byte
	if err := checkDKi(s); err != nil {
		return out, err
	}
	copy(out[:dkiASCIILength], s[:dkiASCIILength])
	raw, err := hex.DecodeString(s[dkiASCIILength:dkiEncodedLen])
	if err != nil {
		return out, ltfs.ErrBadArg
	}
	copy(out[dkiASCIILength:], raw)
	return out, nil
}

// FormatDKi is the inverse of ParseDKi.
func FormatDKi(dki [DKiLength]byte) string {
	return string(dki[:dkiASCIILength]) +
		strings.ToUpper(hex.EncodeToString(dki[dkiASCIILength:]))
}

// ParseDKList parses a DK/DKi pair list. An empty list is valid and
// yields no pairs.
func ParseDKList(list string) ([]KeyPair, error) {
	if list == "" {
		return nil, nil
	}
	if len(list) < dkEncodedLen+1+dkiEncodedLen {
		return nil, ltfs.ErrBadArg
	}
	var pairs []KeyPair
	i := 0
	for {
		if len(pairs) > 0 {
			i++ // pair separator
		}
		if err := checkDK(list[i:]); err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(list[i : i+dkEncodedLen])
		if err != nil || len(raw) != DKLength {
			return nil, ltfs.ErrBadArg
		}
		var pair KeyPair
		copy(pair.DK[:], raw)
		i += dkEncodedLen
		if list[i] != ':' {
			return nil, ltfs.ErrBadArg
		}
		i++
		dki, err := ParseDKi(list[i:])
		if err != nil {
			return nil, err
		}
		pair.DKi = dki
		i += dkiEncodedLen
		pairs = append(pairs, pair)
		if i+1+dkEncodedLen+1+dkiEncodedLen > len(list) || list[i] != '/' {
			break
		}
	}
	if i != len(list) {
		return nil, ltfs.ErrBadArg
	}
	return pairs, nil
}

// FormatDKList is the inverse of ParseDKList.
func FormatDKList(pairs []KeyPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(base64.StdEncoding.EncodeToString(p.DK[:]))
		b.WriteByte(':')
		b.WriteString(FormatDKi(p.DKi))
	}
	return b.String()
}

// The store walks UNINIT, INIT, SET, CLEARED, DESTROYED. Setting a list
// is only legal from INIT or CLEARED; after each successful lookup the
// list is cleared and zeroed.
type storeState int

const (
	stateUninit storeState = iota
	stateInit
	stateSet
	stateCleared
	stateDestroyed
)

type keyStore struct {
	mu    sync.Mutex
	state storeState
	pairs []KeyPair
}

func newKeyStore() *keyStore {
	return &keyStore{state: stateInit}
}

func (ks *keyStore) set(list string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.state != stateInit && ks.state != stateCleared {
		return ltfs.ErrInvalidSequence
	}
	pairs, err := ParseDKList(list)
	if err != nil {
		return err
	}
	ks.pairs = pairs
	ks.state = stateSet
	return nil
}

// get resolves alias to its data key. With a nil alias, dkiForFormat
// names the identifier to use; if that is empty too the cartridge stays
// unencrypted.
func (ks *keyStore) get(alias []byte, dkiForFormat string) (dk, actualAlias []byte, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if alias == nil {
		if dkiForFormat == "" {
			return nil, nil, nil
		}
		bin, err := ParseDKi(dkiForFormat)
		if err != nil {
			return nil, nil, err
		}
		alias = bin[:]
	}
	if len(alias) != DKiLength {
		return nil, nil, ltfs.ErrBadArg
	}
	for i := range ks.pairs {
		if string(ks.pairs[i].DKi[:]) == string(alias) {
			dk = append([]byte(nil), ks.pairs[i].DK[:]...)
			return dk, append([]byte(nil), alias...), nil
		}
	}
	return nil, nil, ltfs.ErrKeyNotFound
}

// clear zeroes and drops the parsed list.
func (ks *keyStore) clear() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i := range ks.pairs {
		ks.pairs[i] = KeyPair{}
	}
	ks.pairs = nil
	if ks.state == stateSet {
		ks.state = stateCleared
	}
}

func (ks *keyStore) destroy() {
	ks.clear()
	ks.mu.Lock()
	ks.state = stateDestroyed
	ks.mu.Unlock()
}
