package kmi

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// Flatfile is the KMI backend whose key list lives in a file named by
// -o kmi_dk_list_file=<path>. Only the first line of the file is used.
type Flatfile struct {
	path         string
	dkiForFormat string
	store        *keyStore
}

func NewFlatfile() *Flatfile {
	return &Flatfile{store: newKeyStore()}
}

func (k *Flatfile) ParseOpt(opt string) error {
	switch {
	case strings.HasPrefix(opt, "kmi_dk_list_file="):
		k.path = strings.TrimPrefix(opt, "kmi_dk_list_file=")
		return nil
	case strings.HasPrefix(opt, "kmi_dki_for_format="):
		k.dkiForFormat = strings.TrimPrefix(opt, "kmi_dki_for_format=")
		return nil
	}
	return ltfs.ErrBadArg
}

func (k *Flatfile) readList() (string, error) {
	if k.path == "" {
		return "", nil
	}
	f, err := os.Open(k.path)
	if err != nil {
		return "", fmt.Errorf("key list file: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("key list file: %v", err)
		}
		return "", nil
	}
	return strings.TrimRight(sc.Text(), "\r\n"), nil
}

func (k *Flatfile) GetKey(alias []byte) (dk, actualAlias []byte, err error) {
	list, err := k.readList()
	if err != nil {
		return nil, nil, err
	}
	if err := k.store.set(list); err != nil {
		return nil, nil, err
	}
	dk, actualAlias, err = k.store.get(alias, k.dkiForFormat)
	k.store.clear()
	return dk, actualAlias, err
}

func (k *Flatfile) Destroy() error {
	k.store.destroy()
	return nil
}

func (k *Flatfile) HelpMessage() string {
	return `KMI options of the flatfile backend:
    -o kmi_dk_list_file=<path>     file whose first line holds the key list
    -o kmi_dki_for_format=<dki>    data key identifier used at format time
`
}
