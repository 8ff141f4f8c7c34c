package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/mitchellh/cli"

	"github.com/xyb/chunksum/chunksum"
)

//ScanOpts holds the flags of the scan command
var ScanOpts struct {

	//algorithm selection, see chunksum.ParseAlg for the grammar
	AlgName string `short:"n" long:"alg-name" default:"fck4sha2" description:"algorithm name, format fc[k|m|g][0-9](sha2|blake2b|blake2s)[size]" value-name:"NAME"`

	//manifest destination
	File string `short:"f" long:"chunksums-file" default:"chunksums" description:"manifest output path, '-' for standard output" value-name:"FILE"`

	//incremental manifest destination
	Incr string `short:"i" long:"incr-file" description:"write only new and changed entries here, '-' for standard output" value-name:"FILE"`

	//previous manifest for reconciliation
	Resume string `short:"r" long:"resume-from" description:"previous manifest to reconcile against (default: the output file, when it exists)" value-name:"FILE"`

	//parallelism
	Jobs int `short:"j" long:"jobs" default:"1" description:"number of parallel workers, 0 for one per cpu core" value-name:"N"`

	//alternate file list source
	PathsFrom string `short:"x" long:"paths-from" description:"read the file list from FILE instead of walking the roots, '-' for standard input" value-name:"FILE"`

	//discovery excludes
	ExcludeFrom string `long:"exclude-from" description:"skip paths matching the gitignore style patterns in FILE" value-name:"FILE"`

	//metadata keyed chunk cache
	Cache string `long:"cache" description:"bolt database for reusing the chunks of files whose size and mtime are unmodified" value-name:"FILE"`

	//previous manifest load policy
	SkipBadLines bool `long:"skip-bad-lines" description:"skip malformed lines in the previous manifest instead of aborting"`

	//progress reporting
	Progress bool `short:"P" long:"progress" description:"print per file progress to standard error"`
}

type Scan struct {
	ui cli.Ui
}

func NewScan() (cmd cli.Command, err error) {
	return &Scan{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stderr,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

// Help returns long-form help text that includes the command-line
// usage, a brief few sentences explaining the function of the command,
// and the complete list of flags the command accepts.
func (cmd *Scan) Help() string {
	parser := flags.NewNamedParser(cmd.Usage(), flags.PassDoubleDash)
	_, err := parser.AddGroup("default", "", &ScanOpts)
	if err != nil {
		panic(err)
	}

	buf := bytes.NewBuffer(nil)
	parser.WriteHelp(buf)

	return fmt.Sprintf(`
  %s

  The algorithm name selects the average chunk size and the chunk
  digest: "fck4sha2" splits at an average of 1KiB<<4 with sha256
  digests, "fcm4blake2b32" at an average of 1MiB<<4 with 32 byte
  blake2b digests. Scanning the same content with the same name always
  produces the same manifest, which is what makes two runs comparable.

%s
`, cmd.Synopsis(), buf.String())
}

// Synopsis returns a one-line, short synopsis of the command.
// This should be less than 50 characters ideally.
func (cmd *Scan) Synopsis() string {
	return "compute chunk digests for files and emit a manifest"
}

// Usage returns a usage description
func (cmd *Scan) Usage() string {
	return "chunksum scan [options] <path>..."
}

// Run runs the actual command with the given CLI instance and
// command-line arguments. It returns the exit status when it is
// finished: 0 on full success, 1 when the scan completed but some
// files failed to be read or digested, 2 on setup failure before any
// work was done and 3 when the run aborted halfway.
func (cmd *Scan) Run(args []string) int {
	roots, err := flags.ParseArgs(&ScanOpts, args)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to parse flags: %v", err))
		return 2
	}

	if len(roots) < 1 && ScanOpts.PathsFrom == "" {
		cmd.ui.Error(fmt.Sprintf("expected at least one path to scan, usage: %s", cmd.Usage()))
		return 2
	}

	//resume against the output file itself unless told otherwise,
	//a first run simply finds no previous manifest there
	previous := ScanOpts.Resume
	if previous == "" && ScanOpts.File != "-" {
		previous = ScanOpts.File
	}

	conf := chunksum.Config{
		AlgName:       ScanOpts.AlgName,
		Roots:         roots,
		Output:        ScanOpts.File,
		IncrOutput:    ScanOpts.Incr,
		Previous:      previous,
		Workers:       ScanOpts.Jobs,
		PathsFrom:     ScanOpts.PathsFrom,
		ExcludeFrom:   ScanOpts.ExcludeFrom,
		CachePath:     ScanOpts.Cache,
		SkipMalformed: ScanOpts.SkipBadLines,
		Warn:          func(msg string) { cmd.ui.Warn(msg) },
	}

	if ScanOpts.Progress {
		conf.Progress = os.Stderr
	}

	p, err := chunksum.NewPipeline(conf)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to setup scan: %v", err))
		return 2
	}

	sum, err := p.Run(context.Background())
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to scan: %v", err))
		if setupErr(err) {
			return 2
		}

		return 3
	}

	cmd.ui.Info(fmt.Sprintf("%d files (%d new, %d changed, %d unchanged)", sum.Files, sum.New, sum.Changed, sum.Unchanged))
	if len(sum.FileErrors) > 0 {
		for _, ferr := range sum.FileErrors {
			cmd.ui.Error(fmt.Sprintf("%v", ferr))
		}

		cmd.ui.Error(fmt.Sprintf("completed with %d file errors", len(sum.FileErrors)))
		return 1
	}

	return 0
}

//setupErr tells whether a run failed before any file was touched, such
//failures exit differently from runs that aborted halfway
func setupErr(err error) bool {
	return errors.Is(err, chunksum.ErrInvalidAlgorithm) ||
		errors.Is(err, chunksum.ErrUnsupportedDigest) ||
		errors.Is(err, chunksum.ErrUnsupportedVersion) ||
		errors.Is(err, chunksum.ErrMalformedEntry) ||
		errors.Is(err, chunksum.ErrAlgorithmMismatch)
}
