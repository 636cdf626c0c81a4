package libltfs

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	gzip "github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

// RollbackPoint describes one index along the chain.
type RollbackPoint struct {
	Generation    uint64
	Selfptr       index.TapePos
	Backptr       index.TapePos
	ModTime       index.Timespec
	VolumeName    string
	CommitMessage string
	FileCount     uint64
}

// TraverseOrder selects the direction ListRollbackPoints reports in.
type TraverseOrder int

const (
	TraverseForward TraverseOrder = iota
	TraverseBackward
)

// ListRollbackPoints walks the index chain and reports every reachable
// index. With captureDir set, each index is additionally written there
// as gzip-compressed XML, the captures running concurrently with the
// traversal of the remaining chain.
func (v *Volume) ListRollbackPoints(order TraverseOrder, captureDir string) ([]RollbackPoint, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	indexes, err := v.collectChain()
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	points := make([]RollbackPoint, 0, len(indexes))
	seen := make(map[uint64]bool)
	for _, idx := range indexes {
		// A rollback that preserved the generation number leaves two
		// indexes under it; only the newest is a distinct point.
		if seen[idx.Generation] {
			continue
		}
		seen[idx.Generation] = true
		points = append(points, RollbackPoint{
			Generation:    idx.Generation,
			Selfptr:       idx.Selfptr,
			Backptr:       idx.Backptr,
			ModTime:       idx.ModTime,
			VolumeName:    idx.VolumeName,
			CommitMessage: idx.CommitMessage,
			FileCount:     idx.FileCount,
		})
		if captureDir != "" {
			idx := idx
			g.Go(func() error { return captureIndex(captureDir, idx) })
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(points, func(i, j int) bool {
		if order == TraverseBackward {
			return points[i].Generation > points[j].Generation
		}
		return points[i].Generation < points[j].Generation
	})
	return points, nil
}

// collectChain reads every index reachable from the newest one by back
// pointers, newest first, including the live head.
func (v *Volume) collectChain() ([]*index.Index, error) {
	var out []*index.Index
	seen := make(map[index.TapePos]bool)

	cur := v.idx
	for cur != nil {
		out = append(out, cur)
		back := cur.Backptr
		if back.IsZero() || seen[back] {
			break
		}
		seen[back] = true
		find, err := v.readIndexAt(back.Partition, back.Block)
		if err != nil {
			return nil, err
		}
		cur = find.idx
	}
	return out, nil
}

// captureIndex dumps one historic index as XML, compressed, named by
// generation.
func captureIndex(dir string, idx *index.Index) error {
	name := filepath.Join(dir, fmt.Sprintf("%s-%d.xml.gz", idx.UUID, idx.Generation))
	t, err := renameio.TempFile(dir, name)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	zw := gzip.NewWriter(t)
	if err := index.Marshal(zw, idx); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// findGeneration locates the index of one generation along the chain.
func (v *Volume) findGeneration(generation uint64) (*index.Index, error) {
	indexes, err := v.collectChain()
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if idx.Generation == generation {
			return idx, nil
		}
	}
	return nil, ltfs.ErrNoIndex
}

// Rollback restores the tree of an older generation.
//
// Without eraseHistory the historic tree is appended as a fresh index
// pair carrying the CURRENT generation number: the history stays
// navigable while the restored state becomes the newest. With
// eraseHistory the medium is truncated at the historic index instead,
// discarding everything after it.
func (v *Volume) Rollback(generation uint64, eraseHistory bool) error {
	v.Lock.Write()
	defer v.Lock.ReleaseWrite()

	if v.readOnly() {
		return ltfs.ErrRdonlyVolume
	}
	if v.idx.Dirty {
		return ltfs.ErrInconsistent
	}
	if generation == v.idx.Generation && !eraseHistory {
		return nil
	}

	target, err := v.findGeneration(generation)
	if err != nil {
		return err
	}

	if eraseHistory {
		return v.eraseHistoryTo(target)
	}

	restored := target.Clone()
	restored.Generation = v.idx.Generation
	restored.UIDNumber = v.idx.UIDNumber
	v.idx = restored
	v.idx.Dirty = false

	// Write the pair without advancing the generation: the restored
	// index hides the rolled-back history under the same number.
	if err := v.writeIndexTo(v.dpID(), ltfs.SyncRollback); err != nil {
		return err
	}
	if err := v.writeIndexTo(v.ipID(), ltfs.SyncRollback); err != nil {
		return err
	}
	v.idx.CommitMessage = ""
	return nil
}

// eraseHistoryTo truncates the data partition right after the target
// index construct and rebuilds the index partition from its label with
// a copy of the target, making the rollback irreversible.
func (v *Volume) eraseHistoryTo(target *index.Index) error {
	// The target index lives on the data partition; truncate there,
	// then rebuild the index partition.
	restored := target.Clone()
	v.idx = restored

	if err := v.truncateAfterIndex(target.Selfptr); err != nil {
		return err
	}
	v.lastDPIndex = target.Selfptr
	v.dpIndexFileEnd = true

	// The index partition is rewritten from the label up.
	if err := v.truncatePartition(v.ipID()); err != nil {
		return err
	}
	v.ipIndexFileEnd = false
	if err := v.writeIndexTo(v.ipID(), ltfs.SyncRollback); err != nil {
		return err
	}
	v.idx.CommitMessage = ""
	return nil
}

// truncateAfterIndex re-reads the target index, which leaves the drive
// just past the index construct (its trailing filemark included when
// present), and erases from there: the partition ends with that index
// and no new filemark is written.
func (v *Volume) truncateAfterIndex(pos index.TapePos) error {
	find, err := v.readIndexAt(pos.Partition, pos.Block)
	if err != nil {
		return err
	}
	if find.idx.Generation != v.idx.Generation {
		return ltfs.ErrIndexInvalid
	}
	// The drive now sits just past the index construct; allow the
	// overwrite and cut the tape here.
	cur, err := v.dev.ReadPosition()
	if err != nil {
		return err
	}
	if err := v.dev.AllowOverwrite(cur); err != nil {
		return err
	}
	if _, err := v.dev.Locate(cur); err != nil {
		return err
	}
	if err := v.dev.Erase(false); err != nil {
		return err
	}
	return nil
}

// truncatePartition cuts a partition back to its label.
func (v *Volume) truncatePartition(letter byte) error {
	if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter), Block: labelBlocks}); err != nil {
		return err
	}
	return v.dev.Erase(false)
}

// SalvageRollbackPoints scans both partitions block by block for index
// candidates that the back-pointer chain cannot reach (after chain
// damage) and reports everything parsable.
func (v *Volume) SalvageRollbackPoints(captureDir string) ([]RollbackPoint, error) {
	v.Lock.Read()
	defer v.Lock.ReleaseRead()

	var points []RollbackPoint
	for _, letter := range []byte{v.ipID(), v.dpID()} {
		eod, err := v.partitionEOD(letter)
		if err != nil {
			return nil, err
		}
		for blk := uint64(labelBlocks); blk < eod; blk++ {
			find, err := v.readIndexAt(letter, blk)
			if err != nil {
				continue
			}
			points = append(points, RollbackPoint{
				Generation:    find.idx.Generation,
				Selfptr:       find.idx.Selfptr,
				Backptr:       find.idx.Backptr,
				ModTime:       find.idx.ModTime,
				VolumeName:    find.idx.VolumeName,
				CommitMessage: find.idx.CommitMessage,
				FileCount:     find.idx.FileCount,
			})
			if captureDir != "" {
				if err := captureIndex(captureDir, find.idx); err != nil {
					return nil, err
				}
			}
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Generation < points[j].Generation
	})
	return points, nil
}

func (v *Volume) partitionEOD(letter byte) (uint64, error) {
	if _, err := v.dev.Locate(tape.Position{Partition: v.partNum(letter)}); err != nil {
		return 0, err
	}
	pos, err := v.dev.Space(0, tape.SpaceEOD)
	if err != nil {
		return 0, err
	}
	return pos.Block, nil
}
