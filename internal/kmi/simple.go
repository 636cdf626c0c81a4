package kmi

import (
	"strings"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// Simple is the KMI backend whose key list arrives through mount
// options: -o kmi_dk_list=<list> and -o kmi_dki_for_format=<dki>.
type Simple struct {
	dkList       string
	dkiForFormat string
	store        *keyStore
}

// NewSimple returns a Simple backend; options are installed with
// ParseOpt before the first GetKey.
func NewSimple() *Simple {
	return &Simple{store: newKeyStore()}
}

// ParseOpt consumes one mount option. Unrecognized options report
// ErrBadArg so the caller can pass them to the next plugin.
func (k *Simple) ParseOpt(opt string) error {
	switch {
	case strings.HasPrefix(opt, "kmi_dk_list="):
		k.dkList = strings.TrimPrefix(opt, "kmi_dk_list=")
		return nil
	case strings.HasPrefix(opt, "kmi_dki_for_format="):
		k.dkiForFormat = strings.TrimPrefix(opt, "kmi_dki_for_format=")
		return nil
	}
	return ltfs.ErrBadArg
}

// GetKey parses the configured list, resolves alias and clears the
// parsed keys again before returning.
func (k *Simple) GetKey(alias []byte) (dk, actualAlias []byte, err error) {
	if err := k.store.set(k.dkList); err != nil {
		return nil, nil, err
	}
	dk, actualAlias, err = k.store.get(alias, k.dkiForFormat)
	k.store.clear()
	return dk, actualAlias, err
}

func (k *Simple) Destroy() error {
	k.store.destroy()
	return nil
}

func (k *Simple) HelpMessage() string {
	return `KMI options of the simple backend:
    -o kmi_dk_list=<list>          data key and data key identifier pairs
    -o kmi_dki_for_format=<dki>    data key identifier used at format time
`
}
