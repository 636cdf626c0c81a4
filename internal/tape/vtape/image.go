package vtape

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// Medium images serialize the record streams of both partitions plus the
// MAM store so a cartridge state can be stashed and reloaded. The layout
// is a magic header followed, per partition, by a record count and
// length-prefixed records; filemarks are records of length 2^32-1.

const imageMagic = 0x4C54494D // "LTIM"

const filemarkLen = 0xFFFFFFFF

// SaveImage writes the cartridge state to w.
func (d *Device) SaveImage(w io.WriteSeeker) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(imageMagic)); err != nil {
		return err
	}
	for p := range d.parts {
		if err := binary.Write(w, binary.BigEndian, uint32(len(d.parts[p]))); err != nil {
			return err
		}
		for _, rec := range d.parts[p] {
			if rec.kind == recFilemark {
				if err := binary.Write(w, binary.BigEndian, uint32(filemarkLen)); err != nil {
					return err
				}
				continue
			}
			if err := binary.Write(w, binary.BigEndian, uint32(len(rec.data))); err != nil {
				return err
			}
			if _, err := w.Write(rec.data); err != nil {
				return err
			}
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(d.attrs))); err != nil {
		return err
	}
	for k, v := range d.attrs {
		hdr := []interface{}{uint8(k.partition), uint16(k.id), uint32(len(v))}
		for _, h := range hdr {
			if err := binary.Write(w, binary.BigEndian, h); err != nil {
				return err
			}
		}
		if _, err := w.Write(v); err != nil {
			return err
		}
	}
	return nil
}

// LoadImage replaces the cartridge state with the image read from r.
func (d *Device) LoadImage(r io.ReadSeeker) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return err
	}
	if magic != imageMagic {
		return fmt.Errorf("vtape image: bad magic %#08x", magic)
	}
	for p := range d.parts {
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return err
		}
		recs := make([]record, 0, count)
		for i := uint32(0); i < count; i++ {
			var n uint32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return err
			}
			if n == filemarkLen {
				recs = append(recs, record{kind: recFilemark})
				continue
			}
			data := make([]byte, n)
			if _, err := io.ReadFull(r, data); err != nil {
				return err
			}
			recs = append(recs, record{kind: recBlock, data: data})
		}
		d.parts[p] = recs
	}
	var attrCount uint32
	if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
		return err
	}
	d.attrs = make(map[attrKey][]byte, attrCount)
	for i := uint32(0); i < attrCount; i++ {
		var part uint8
		var id uint16
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &part); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &id); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return err
		}
		v := make([]byte, n)
		if _, err := io.ReadFull(r, v); err != nil {
			return err
		}
		d.attrs[attrKey{part, id}] = v
	}
	d.pos = tape.Position{}
	return nil
}
