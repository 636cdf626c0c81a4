// mkltfs formats a cartridge for LTFS: two partitions, ANSI and XML
// labels on both, the first index pair and the application MAM
// attributes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/LinearTapeFileSystem/ltfs-go/internal/env"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/index"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/kmi"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/libltfs"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/oninterrupt"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/opendev"
	"github.com/LinearTapeFileSystem/ltfs-go/internal/tape"
)

const usage = `mkltfs [-flags] <device>

Format a cartridge for LTFS. <device> is a SCSI generic node (/dev/sg0)
or a virtual cartridge image (vtape:/path/to/image).

Example:
  % mkltfs -barcode ABC123 -volume-name archive01 /dev/sg1
`

func main() {
	fset := flag.NewFlagSet("mkltfs", flag.ExitOnError)
	var (
		barcode     = fset.String("barcode", "", "cartridge barcode (6 characters)")
		volumeName  = fset.String("volume-name", "", "human readable volume name")
		blocksize   = fset.Uint64("blocksize", libltfs.DefaultBlocksize, "block size in bytes")
		noCompress  = fset.Bool("no-compression", false, "disable drive compression")
		policySize  = fset.Uint64("policy-maxsize", 0, "place files up to this size on the index partition")
		policyGlobs = fset.String("policy-names", "", "comma-separated name patterns for index partition placement")
		kmiBackend  = fset.String("kmi-backend", "", "key manager backend: simple or flatfile")
		kmiOptions  = fset.String("o", "", "comma-separated backend options")
		keyAlias    = fset.String("dki", "", "data key identifier to encrypt with (21 characters)")
		dumpDir     = fset.String("dump-dir", env.DumpDir, "directory for drive dump captures")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		fmt.Fprintf(os.Stderr, "Flags for %s:\n", fset.Name())
		fset.PrintDefaults()
	}
	fset.Parse(os.Args[1:])
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(2)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	diag := &tape.Diagnostics{Dir: *dumpDir}
	drive, save, err := opendev.Open(fset.Arg(0), diag)
	if err != nil {
		log.Fatalf("opening %s: %v", fset.Arg(0), err)
	}
	defer drive.Close()
	oninterrupt.Register(func() { drive.Close() })

	var volOpts []libltfs.Option
	switch *kmiBackend {
	case "":
	case "simple", "flatfile":
		var k kmi.KMI
		var parse func(string) error
		if *kmiBackend == "simple" {
			s := kmi.NewSimple()
			k, parse = s, s.ParseOpt
		} else {
			f := kmi.NewFlatfile()
			k, parse = f, f.ParseOpt
		}
		for _, opt := range strings.Split(*kmiOptions, ",") {
			if opt == "" {
				continue
			}
			if err := parse(opt); err != nil {
				log.Fatalf("kmi option %q: %v", opt, err)
			}
		}
		volOpts = append(volOpts, libltfs.WithKMI(k))
	default:
		log.Fatalf("unknown kmi backend %q", *kmiBackend)
	}

	var patterns []string
	for _, pat := range strings.Split(*policyGlobs, ",") {
		if pat != "" {
			patterns = append(patterns, pat)
		}
	}

	vol := libltfs.NewVolume(drive, volOpts...)
	if err := vol.Format(libltfs.FormatOptions{
		Barcode:     *barcode,
		VolumeName:  *volumeName,
		Blocksize:   *blocksize,
		Compression: !*noCompress,
		Criteria: index.Criteria{
			MaxFilesize: *policySize,
			Patterns:    patterns,
			AllowUpdate: true,
		},
		KeyAlias: *keyAlias,
	}); err != nil {
		log.Fatalf("formatting: %v", err)
	}
	if save != nil {
		if err := save(); err != nil {
			log.Fatalf("saving medium state: %v", err)
		}
	}
	fmt.Printf("formatted %s: volume %s, blocksize %d\n",
		fset.Arg(0), vol.Label().VolumeUUID, *blocksize)
}
