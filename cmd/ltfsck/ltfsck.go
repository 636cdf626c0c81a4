// ltfsck checks and recovers the consistency of an LTFS-formatted
// cartridge: it locates the index chains of both partitions, repairs
// missing filemarks, salvages unreferenced blocks, lists rollback
// points and rolls a volume back to an older generation.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/env"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/kmi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/libltfs"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/oninterrupt"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/opendev"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

const usage = `ltfsck [-flags] <device>

Check and recover an LTFS volume. <device> is a SCSI generic node
(/dev/sg0) or a virtual cartridge image (vtape:/path/to/image).

Example:
  % ltfsck -list-rollback-points /dev/sg1
`

// Exit codes.
const (
	exitNoErrors         = 0
	exitCorrected        = 1
	exitUncorrected      = 4
	exitOperationalError = 8
	exitUsageSyntaxError = 16
)

func main() {
	fset := flag.NewFlagSet("ltfsck", flag.ExitOnError)
	var (
		generation    = fset.Uint64("generation", 0, "rollback target generation")
		rollback      = fset.Bool("rollback", false, "roll the volume back to -generation")
		noRollback    = fset.Bool("no-rollback", false, "check only, never roll back")
		fullRecovery  = fset.Bool("full-recovery", false, "salvage unreferenced blocks into lost and found")
		deepRecovery  = fset.Bool("deep-recovery", false, "rebuild an index when both chains are lost")
		listPoints    = fset.Bool("list-rollback-points", false, "list the reachable index generations")
		salvagePoints = fset.Bool("salvage-rollback-points", false, "scan the full medium for orphaned indexes")
		fullIndexInfo = fset.Bool("full-index-info", false, "print commit message and file counts per point")
		traverse      = fset.String("traverse", "forward", "traverse direction: forward or backward")
		eraseHistory  = fset.Bool("erase-history", false, "truncate the medium at the rollback target")
		keepHistory   = fset.Bool("keep-history", false, "keep the history reachable when rolling back")
		captureIndex  = fset.Bool("capture-index", false, "save each traversed index to the work directory")
		takeDump      = fset.Bool("take-dump", false, "capture a drive dump before checking")
		bundleName    = fset.String("support-bundle", "", "collect captures into the named cpio archive")
		kmiBackend    = fset.String("kmi-backend", "", "key manager backend: simple or flatfile")
		kmiOption     = fset.String("o", "", "backend option, e.g. kmi_dk_list=...")
		dumpDir       = fset.String("dump-dir", env.DumpDir, "directory for drive dump captures")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		fmt.Fprintf(os.Stderr, "Flags for %s:\n", fset.Name())
		fset.PrintDefaults()
	}
	fset.Parse(os.Args[1:])
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(exitUsageSyntaxError)
	}
	if *rollback && *noRollback {
		fmt.Fprintln(os.Stderr, "ltfsck: -rollback and -no-rollback are mutually exclusive")
		os.Exit(exitUsageSyntaxError)
	}
	if *eraseHistory && *keepHistory {
		fmt.Fprintln(os.Stderr, "ltfsck: -erase-history and -keep-history are mutually exclusive")
		os.Exit(exitUsageSyntaxError)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	rc := run(fset.Arg(0), options{
		generation:    *generation,
		rollback:      *rollback,
		fullRecovery:  *fullRecovery,
		deepRecovery:  *deepRecovery,
		listPoints:    *listPoints,
		salvagePoints: *salvagePoints,
		fullIndexInfo: *fullIndexInfo,
		backward:      *traverse == "backward",
		eraseHistory:  *eraseHistory,
		captureIndex:  *captureIndex,
		takeDump:      *takeDump,
		bundleName:    *bundleName,
		kmiBackend:    *kmiBackend,
		kmiOption:     *kmiOption,
		dumpDir:       *dumpDir,
	})
	if err := ltfs.RunAtExit(); err != nil {
		log.Printf("cleanup: %v", err)
		if rc == exitNoErrors {
			rc = exitOperationalError
		}
	}
	os.Exit(rc)
}

type options struct {
	generation    uint64
	rollback      bool
	fullRecovery  bool
	deepRecovery  bool
	listPoints    bool
	salvagePoints bool
	fullIndexInfo bool
	backward      bool
	eraseHistory  bool
	captureIndex  bool
	takeDump      bool
	bundleName    string
	kmiBackend    string
	kmiOption     string
	dumpDir       string
}

func run(devname string, opts options) int {
	diag := &tape.Diagnostics{Dir: opts.dumpDir}
	drive, save, err := opendev.Open(devname, diag)
	if err != nil {
		log.Printf("opening %s: %v", devname, err)
		return exitOperationalError
	}
	ltfs.RegisterAtExit(drive.Close)
	oninterrupt.Register(func() { drive.Close() })

	volOpts := []libltfs.Option{}
	switch opts.kmiBackend {
	case "":
	case "simple":
		k := kmi.NewSimple()
		if opts.kmiOption != "" {
			if err := k.ParseOpt(opts.kmiOption); err != nil {
				log.Printf("kmi option %q: %v", opts.kmiOption, err)
				return exitUsageSyntaxError
			}
		}
		volOpts = append(volOpts, libltfs.WithKMI(k))
	case "flatfile":
		k := kmi.NewFlatfile()
		if opts.kmiOption != "" {
			if err := k.ParseOpt(opts.kmiOption); err != nil {
				log.Printf("kmi option %q: %v", opts.kmiOption, err)
				return exitUsageSyntaxError
			}
		}
		volOpts = append(volOpts, libltfs.WithKMI(k))
	default:
		log.Printf("unknown kmi backend %q", opts.kmiBackend)
		return exitUsageSyntaxError
	}

	var captures []string
	if opts.takeDump {
		path, err := drive.TakeDump()
		if err != nil {
			log.Printf("taking drive dump: %v", err)
			return exitOperationalError
		}
		captures = append(captures, path)
	}

	vol := libltfs.NewVolume(drive, volOpts...)
	if _, err := vol.Mount(); err != nil {
		log.Printf("mounting: %v", err)
		return exitUncorrected
	}
	defer func() {
		vol.Unmount()
		if save != nil {
			if err := save(); err != nil {
				log.Printf("saving medium state: %v", err)
			}
		}
	}()

	captureDir := ""
	if opts.captureIndex {
		captureDir = env.WorkDir
		if err := os.MkdirAll(captureDir, 0755); err != nil {
			log.Printf("creating %s: %v", captureDir, err)
			return exitOperationalError
		}
	}
	bundle := func() {
		if opts.bundleName == "" {
			return
		}
		if captureDir != "" {
			if found, err := filepath.Glob(filepath.Join(captureDir, "*.xml.gz")); err == nil {
				captures = append(captures, found...)
			}
		}
		if len(captures) == 0 {
			return
		}
		path, err := diag.Bundle(opts.bundleName, captures)
		if err != nil {
			log.Printf("building support bundle: %v", err)
			return
		}
		fmt.Printf("support bundle: %s\n", path)
	}
	defer bundle()

	switch {
	case opts.listPoints:
		order := libltfs.TraverseForward
		if opts.backward {
			order = libltfs.TraverseBackward
		}
		points, err := vol.ListRollbackPoints(order, captureDir)
		if err != nil {
			log.Printf("listing rollback points: %v", err)
			return exitOperationalError
		}
		printPoints(points, opts.fullIndexInfo)
		return exitNoErrors

	case opts.salvagePoints:
		points, err := vol.SalvageRollbackPoints(captureDir)
		if err != nil {
			log.Printf("salvaging rollback points: %v", err)
			return exitOperationalError
		}
		printPoints(points, opts.fullIndexInfo)
		return exitNoErrors

	case opts.rollback:
		if opts.generation == 0 {
			fmt.Fprintln(os.Stderr, "ltfsck: -rollback requires -generation")
			return exitUsageSyntaxError
		}
		if err := vol.Rollback(opts.generation, opts.eraseHistory); err != nil {
			log.Printf("rollback to generation %d: %v", opts.generation, err)
			return exitUncorrected
		}
		fmt.Printf("rolled back to generation %d\n", opts.generation)
		return exitCorrected
	}

	res, err := vol.CheckMedium(true, opts.deepRecovery, opts.fullRecovery)
	if err != nil {
		if err == ltfs.ErrBothEODMissing {
			log.Printf("both index chains lost; re-run with -deep-recovery")
		} else {
			log.Printf("medium check: %v", err)
		}
		return exitUncorrected
	}
	for _, name := range res.LostAndFound {
		fmt.Printf("salvaged: /%s/%s\n", "_ltfs_lostandfound", name)
	}
	if res.Corrected {
		fmt.Println("volume was inconsistent and has been repaired")
		return exitCorrected
	}
	fmt.Println("volume is consistent")
	return exitNoErrors
}

func printPoints(points []libltfs.RollbackPoint, full bool) {
	for _, p := range points {
		fmt.Printf("generation %d at %c:%d (previous %c:%d) %s\n",
			p.Generation, p.Selfptr.Partition, p.Selfptr.Block,
			p.Backptr.Partition, p.Backptr.Block, p.ModTime)
		if full {
			fmt.Printf("    volume %q, %d files, commit %q\n",
				p.VolumeName, p.FileCount, p.CommitMessage)
		}
	}
}
