package index

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/pathnorm"
)

// The index XML schema, format version 2.4.0. Serialization goes
// through a parallel set of marshal types rather than the live model:
// parsing builds a complete tree first and the volume swaps it in
// afterwards.

// IndexVersion is the format version written into every index.
const IndexVersion = "2.4.0"

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type xmlIndex struct {
	XMLName    xml.Name     `xml:"ltfsindex"`
	Version    string       `xml:"version,attr"`
	Creator    string       `xml:"creator"`
	VolumeUUID string       `xml:"volumeuuid"`
	Generation uint64       `xml:"generationnumber"`
	Comment    string       `xml:"comment,omitempty"`
	VolumeName string       `xml:"volumename,omitempty"`
	UpdateTime string       `xml:"updatetime"`
	Location   xmlPointer   `xml:"location"`
	Previous   *xmlPointer  `xml:"previousgenerationlocation,omitempty"`
	AllowPU    bool         `xml:"allowpolicyupdate"`
	Policy     *xmlPolicy   `xml:"dataplacementpolicy,omitempty"`
	HighestUID uint64       `xml:"highestfileuid"`
	Directory  xmlDirectory `xml:"directory"`
	Unknown    []xmlRaw     `xml:",any"`
}

type xmlPointer struct {
	Partition string `xml:"partition"`
	Block     uint64 `xml:"startblock"`
}

type xmlPolicy struct {
	Criteria xmlCriteria `xml:"indexpartitioncriteria"`
}

type xmlCriteria struct {
	Size  uint64   `xml:"size"`
	Names []string `xml:"name,omitempty"`
}

type xmlDirectory struct {
	Name         string      `xml:"name"`
	ReadOnly     bool        `xml:"readonly"`
	Immutable    bool        `xml:"immutable,omitempty"`
	AppendOnly   bool        `xml:"appendonly,omitempty"`
	CreationTime string      `xml:"creationtime"`
	ChangeTime   string      `xml:"changetime"`
	ModifyTime   string      `xml:"modifytime"`
	AccessTime   string      `xml:"accesstime"`
	BackupTime   string      `xml:"backuptime"`
	UID          uint64      `xml:"fileuid"`
	Xattrs       *xmlXattrs  `xml:"extendedattributes,omitempty"`
	Contents     xmlContents `xml:"contents"`
	Unknown      []xmlRaw    `xml:",any"`
}

type xmlContents struct {
	Directories []xmlDirectory `xml:"directory"`
	Files       []xmlFile      `xml:"file"`
}

type xmlFile struct {
	Name         string      `xml:"name"`
	Length       uint64      `xml:"length"`
	ReadOnly     bool        `xml:"readonly"`
	Immutable    bool        `xml:"immutable,omitempty"`
	AppendOnly   bool        `xml:"appendonly,omitempty"`
	CreationTime string      `xml:"creationtime"`
	ChangeTime   string      `xml:"changetime"`
	ModifyTime   string      `xml:"modifytime"`
	AccessTime   string      `xml:"accesstime"`
	BackupTime   string      `xml:"backuptime"`
	UID          uint64      `xml:"fileuid"`
	Symlink      string      `xml:"symlink,omitempty"`
	Extents      *xmlExtents `xml:"extentinfo,omitempty"`
	Xattrs       *xmlXattrs  `xml:"extendedattributes,omitempty"`
	Unknown      []xmlRaw    `xml:",any"`
}

type xmlExtents struct {
	Extents []xmlExtent `xml:"extent"`
}

type xmlExtent struct {
	FileOffset uint64 `xml:"fileoffset"`
	Partition  string `xml:"partition"`
	StartBlock uint64 `xml:"startblock"`
	ByteOffset uint64 `xml:"byteoffset"`
	ByteCount  uint64 `xml:"bytecount"`
}

type xmlXattrs struct {
	Xattrs []xmlXattr `xml:"xattr"`
}

type xmlXattr struct {
	Type  string `xml:"type,attr,omitempty"`
	Key   string `xml:"key"`
	Value string `xml:"value"`
}

type xmlRaw struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

func formatTime(ts Timespec) string {
	return ts.Time().Format(timeLayout)
}

func parseTime(s string) (Timespec, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older writers drop the fractional part.
		t, err = time.Parse("2006-01-02T15:04:05Z", s)
		if err != nil {
			return Timespec{}, err
		}
	}
	return MakeTimespec(t), nil
}

func encodeXattrValue(v []byte) (string, string) {
	if utf8.Valid(v) && !strings.ContainsRune(string(v), 0) {
		return string(v), ""
	}
	return base64.StdEncoding.EncodeToString(v), "base64"
}

func decodeXattrValue(x xmlXattr) ([]byte, error) {
	if x.Type == "base64" {
		return base64.StdEncoding.DecodeString(x.Value)
	}
	return []byte(x.Value), nil
}

func pointerOf(p TapePos) xmlPointer {
	return xmlPointer{Partition: string(rune(p.Partition)), Block: p.Block}
}

func tapePosOf(p xmlPointer) TapePos {
	var part byte
	if p.Partition != "" {
		part = p.Partition[0]
	}
	return TapePos{Partition: part, Block: p.Block}
}

func xattrsOf(d *Dentry) *xmlXattrs {
	if len(d.Xattrs) == 0 {
		return nil
	}
	out := &xmlXattrs{}
	for _, x := range d.Xattrs {
		val, typ := encodeXattrValue(x.Value)
		out.Xattrs = append(out.Xattrs, xmlXattr{Type: typ, Key: x.Key, Value: val})
	}
	return out
}

func marshalDirectory(d *Dentry) xmlDirectory {
	out := xmlDirectory{
		Name:         d.Name,
		ReadOnly:     d.ReadOnly,
		Immutable:    d.Immutable,
		AppendOnly:   d.AppendOnly,
		CreationTime: formatTime(d.CreationTime),
		ChangeTime:   formatTime(d.ChangeTime),
		ModifyTime:   formatTime(d.ModifyTime),
		AccessTime:   formatTime(d.AccessTime),
		BackupTime:   formatTime(d.BackupTime),
		UID:          d.UID,
		Xattrs:       xattrsOf(d),
	}
	for _, c := range d.Children() {
		if c.IsDir {
			out.Contents.Directories = append(out.Contents.Directories, marshalDirectory(c))
		} else {
			out.Contents.Files = append(out.Contents.Files, marshalFile(c))
		}
	}
	return out
}

func marshalFile(d *Dentry) xmlFile {
	out := xmlFile{
		Name:         d.Name,
		Length:       d.Size,
		ReadOnly:     d.ReadOnly,
		Immutable:    d.Immutable,
		AppendOnly:   d.AppendOnly,
		CreationTime: formatTime(d.CreationTime),
		ChangeTime:   formatTime(d.ChangeTime),
		ModifyTime:   formatTime(d.ModifyTime),
		AccessTime:   formatTime(d.AccessTime),
		BackupTime:   formatTime(d.BackupTime),
		UID:          d.UID,
		Symlink:      d.Target,
		Xattrs:       xattrsOf(d),
	}
	if len(d.Extents) > 0 {
		exts := &xmlExtents{}
		for _, e := range d.Extents {
			exts.Extents = append(exts.Extents, xmlExtent{
				FileOffset: e.FileOffset,
				Partition:  string(rune(e.Partition)),
				StartBlock: e.StartBlock,
				ByteOffset: e.ByteOffset,
				ByteCount:  e.ByteCount,
			})
		}
		out.Extents = exts
	}
	return out
}

// Marshal serializes idx to w as index XML.
func Marshal(w io.Writer, idx *Index) error {
	x := xmlIndex{
		Version:    IndexVersion,
		Creator:    idx.Creator,
		VolumeUUID: idx.UUID,
		Generation: idx.Generation,
		Comment:    idx.CommitMessage,
		VolumeName: idx.VolumeName,
		UpdateTime: formatTime(idx.ModTime),
		Location:   pointerOf(idx.Selfptr),
		AllowPU:    idx.Criteria.AllowUpdate,
		HighestUID: idx.UIDNumber - 1,
		Directory:  marshalDirectory(idx.Root),
	}
	if !idx.Backptr.IsZero() {
		prev := pointerOf(idx.Backptr)
		x.Previous = &prev
	}
	if idx.Criteria.MaxFilesize > 0 || len(idx.Criteria.Patterns) > 0 {
		x.Policy = &xmlPolicy{Criteria: xmlCriteria{
			Size:  idx.Criteria.MaxFilesize,
			Names: idx.Criteria.Patterns,
		}}
	}
	for _, raw := range idx.Preserved {
		x.Unknown = append(x.Unknown, xmlRaw{XMLName: xml.Name{Local: raw.Name}, Inner: raw.Inner})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(&x); err != nil {
		return err
	}
	return enc.Flush()
}

// knownIndexTags are the top-level elements the parser consumes; any
// other element is preserved verbatim.
var knownIndexTags = map[string]bool{
	"creator": true, "volumeuuid": true, "generationnumber": true,
	"comment": true, "volumename": true, "updatetime": true,
	"location": true, "previousgenerationlocation": true,
	"allowpolicyupdate": true, "dataplacementpolicy": true,
	"highestfileuid": true, "directory": true,
}

// Unmarshal parses index XML into a fresh Index.
func Unmarshal(r io.Reader) (*Index, error) {
	var x xmlIndex
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&x); err != nil {
		return nil, fmt.Errorf("parsing index: %v", err)
	}
	if x.Version != IndexVersion && !strings.HasPrefix(x.Version, "2.") {
		return nil, fmt.Errorf("unsupported index version %q", x.Version)
	}

	idx := &Index{
		Generation:    x.Generation,
		UUID:          x.VolumeUUID,
		Creator:       x.Creator,
		CommitMessage: x.Comment,
		VolumeName:    x.VolumeName,
		Selfptr:       tapePosOf(x.Location),
	}
	if x.Previous != nil {
		idx.Backptr = tapePosOf(*x.Previous)
	}
	if ts, err := parseTime(x.UpdateTime); err == nil {
		idx.ModTime = ts
	}
	idx.Criteria.AllowUpdate = x.AllowPU
	if x.Policy != nil {
		idx.Criteria.MaxFilesize = x.Policy.Criteria.Size
		idx.Criteria.Patterns = x.Policy.Criteria.Names
	}
	for _, raw := range x.Unknown {
		if knownIndexTags[raw.XMLName.Local] {
			continue
		}
		idx.Preserved = append(idx.Preserved, RawTag{Name: raw.XMLName.Local, Inner: raw.Inner})
	}

	root, count, err := unmarshalDirectory(&x.Directory, nil)
	if err != nil {
		return nil, err
	}
	idx.Root = root
	idx.FileCount = count
	idx.UIDNumber = x.HighestUID + 1
	if maxUID := maxTreeUID(root); maxUID >= idx.UIDNumber {
		idx.UIDNumber = maxUID + 1
	}
	return idx, nil
}

func maxTreeUID(d *Dentry) uint64 {
	max := d.UID
	for _, c := range d.Children() {
		if m := maxTreeUID(c); m > max {
			max = m
		}
	}
	return max
}

func applyCommon(d *Dentry, name string, uid uint64, ro, im, ao bool,
	ct, cht, mt, at, bt string, xattrs *xmlXattrs) error {
	d.Name = name
	d.PlatformSafeName = pathnorm.PlatformSafe(name)
	d.UID = uid
	d.Ino = uid
	d.ReadOnly = ro
	d.Immutable = im
	d.AppendOnly = ao
	for _, f := range []struct {
		src string
		dst *Timespec
	}{
		{ct, &d.CreationTime}, {cht, &d.ChangeTime}, {mt, &d.ModifyTime},
		{at, &d.AccessTime}, {bt, &d.BackupTime},
	} {
		if f.src == "" {
			continue
		}
		ts, err := parseTime(f.src)
		if err != nil {
			return fmt.Errorf("dentry %q: bad time %q", name, f.src)
		}
		*f.dst = ts
	}
	if xattrs != nil {
		for _, x := range xattrs.Xattrs {
			v, err := decodeXattrValue(x)
			if err != nil {
				return fmt.Errorf("dentry %q: xattr %q: %v", name, x.Key, err)
			}
			d.Xattrs = append(d.Xattrs, Xattr{Key: x.Key, Value: v})
		}
	}
	return nil
}

func unmarshalDirectory(x *xmlDirectory, parent *Dentry) (*Dentry, uint64, error) {
	d := &Dentry{IsDir: true, LinkCount: 1, Parent: parent}
	if err := applyCommon(d, x.Name, x.UID, x.ReadOnly, x.Immutable, x.AppendOnly,
		x.CreationTime, x.ChangeTime, x.ModifyTime, x.AccessTime, x.BackupTime, x.Xattrs); err != nil {
		return nil, 0, err
	}
	count := uint64(1)
	for i := range x.Contents.Directories {
		c, n, err := unmarshalDirectory(&x.Contents.Directories[i], d)
		if err != nil {
			return nil, 0, err
		}
		d.AddChild(c)
		count += n
	}
	for i := range x.Contents.Files {
		c, err := unmarshalFile(&x.Contents.Files[i], d)
		if err != nil {
			return nil, 0, err
		}
		d.AddChild(c)
		count++
	}
	return d, count, nil
}

func unmarshalFile(x *xmlFile, parent *Dentry) (*Dentry, error) {
	d := &Dentry{LinkCount: 1, Parent: parent}
	if err := applyCommon(d, x.Name, x.UID, x.ReadOnly, x.Immutable, x.AppendOnly,
		x.CreationTime, x.ChangeTime, x.ModifyTime, x.AccessTime, x.BackupTime, x.Xattrs); err != nil {
		return nil, err
	}
	d.Size = x.Length
	if x.Symlink != "" {
		d.IsSlink = true
		d.Target = x.Symlink
		d.ReadOnly = true
	}
	if x.Extents != nil {
		for _, e := range x.Extents.Extents {
			var part byte
			if e.Partition != "" {
				part = e.Partition[0]
			}
			d.Extents = append(d.Extents, Extent{
				Partition:  part,
				StartBlock: e.StartBlock,
				ByteOffset: e.ByteOffset,
				ByteCount:  e.ByteCount,
				FileOffset: e.FileOffset,
			})
		}
		sort.Slice(d.Extents, func(i, j int) bool {
			return d.Extents[i].FileOffset < d.Extents[j].FileOffset
		})
		d.recalcSizes()
	}
	return d, nil
}
