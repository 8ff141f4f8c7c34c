package chunksum

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

//StdinPath is the manifest path recorded for content read from
//standard input
const StdinPath = "<stdin>"

//Config carries everything one pipeline run needs. The zero value of
//most fields selects a sensible default, see NewPipeline
type Config struct {

	//algorithm name, DefaultAlgName when empty
	AlgName string

	//files or directories to scan, "-" reads content from Stdin and
	//records it under StdinPath
	Roots []string

	//destination of the full manifest, "-" for Stdout, default
	//"chunksums"
	Output string

	//optional destination for the incremental manifest holding only
	//new and changed entries, "-" for Stdout
	IncrOutput string

	//optional previous manifest to reconcile against, a path that
	//doesn't exist yet counts as no previous manifest
	Previous string

	//number of parallel workers, 0 means one per cpu core
	Workers int

	//optional file with a newline separated list of paths to scan
	//instead of (or in addition to) walking Roots, "-" reads the
	//list from Stdin
	PathsFrom string

	//optional file with gitignore style patterns, matching paths are
	//skipped during discovery
	ExcludeFrom string

	//optional bolt database path, chunks of files whose size and
	//mtime are unmodified are reused from it instead of rehashing
	CachePath string

	//skip malformed lines of the previous manifest instead of
	//aborting the load
	SkipMalformed bool

	//per file progress lines are written here when not nil
	Progress io.Writer

	//warnings (skipped manifest lines) are reported here, nil
	//discards them
	Warn func(msg string)

	//replaces the default rolling hash splitter when not nil
	Split SplitterFunc

	//standard streams, default os.Stdin and os.Stdout
	Stdin  io.Reader
	Stdout io.Writer
}

//Summary reports what a run did. FileErrors holds one error per file
//that couldn't be read or digested, such files are left out of the
//manifests while the rest of the run completes normally
type Summary struct {
	Files      int
	Bytes      int64
	New        int
	Changed    int
	Unchanged  int
	FileErrors []error
}

//Pipeline composes discovery, the worker pool, the reconciler and the
//manifest codec into one run that produces a full manifest and, when
//asked for, an incremental one
type Pipeline struct {
	conf Config
	alg  *Alg
}

//NewPipeline validates the configuration, it fails with
//ErrInvalidAlgorithm or ErrUnsupportedDigest before any filesystem
//access when the algorithm name can't be served
func NewPipeline(conf Config) (p *Pipeline, err error) {
	if conf.AlgName == "" {
		conf.AlgName = DefaultAlgName
	}

	if conf.Output == "" {
		conf.Output = "chunksums"
	}

	if conf.Workers == 0 {
		conf.Workers = runtime.NumCPU()
	}

	if conf.Stdin == nil {
		conf.Stdin = os.Stdin
	}

	if conf.Stdout == nil {
		conf.Stdout = os.Stdout
	}

	alg, err := ParseAlg(conf.AlgName)
	if err != nil {
		return nil, err
	}

	return &Pipeline{conf: conf, alg: alg}, nil
}

//Alg returns the parsed algorithm of this run
func (p *Pipeline) Alg() *Alg {
	return p.alg
}

//Run executes the pipeline: load the previous manifest, discover files,
//sum them across the worker pool, reconcile and write the manifests.
//Setup problems (unreadable or mismatched previous manifest, bad
//exclude file) and destination write failures return an error, per file
//read failures only end up in the summary
func (p *Pipeline) Run(ctx context.Context) (sum *Summary, err error) {
	prev, err := p.loadPrevious()
	if err != nil {
		return nil, err
	}

	rc, err := NewReconciler(p.alg, prev)
	if err != nil {
		return nil, err
	}

	tasks, err := p.discover()
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if p.conf.CachePath != "" {
		cache, err = OpenCache(p.conf.CachePath, p.alg)
		if err != nil {
			return nil, err
		}

		defer cache.Close()
	}

	var prog *Progress
	if p.conf.Progress != nil {
		prog = NewProgress(p.conf.Progress)
		defer prog.Close()
	}

	sum = &Summary{}
	for r := range Run(ctx, tasks, p.conf.Workers, p.summer(cache, prog)) {
		if r.Err != nil {
			sum.FileErrors = append(sum.FileErrors, fmt.Errorf("%s: %w", r.Rel, r.Err))
			continue
		}

		switch rc.Add(r.Entry) {
		case StatusNew:
			sum.New++
		case StatusChanged:
			sum.Changed++
		case StatusUnchanged:
			sum.Unchanged++
		}

		sum.Files++
		sum.Bytes += r.Entry.Size()
	}

	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan was cancelled: %w", err)
	}

	err = p.write(&Manifest{Alg: p.alg, Entries: rc.Full()}, p.conf.Output)
	if err != nil {
		return nil, err
	}

	if p.conf.IncrOutput != "" {
		err = p.write(&Manifest{Alg: p.alg, Entries: rc.Incremental()}, p.conf.IncrOutput)
		if err != nil {
			return nil, err
		}
	}

	return sum, nil
}

func (p *Pipeline) loadPrevious() (prev *Manifest, err error) {
	if p.conf.Previous == "" {
		return nil, nil
	}

	if _, err = os.Stat(p.conf.Previous); os.IsNotExist(err) {
		return nil, nil //first run, nothing to resume
	}

	return LoadManifest(p.conf.Previous, DecodeOpts{
		SkipMalformed: p.conf.SkipMalformed,
		Warn:          p.conf.Warn,
	})
}

func (p *Pipeline) discover() (tasks []Task, err error) {
	var skip ignore.IgnoreParser
	if p.conf.ExcludeFrom != "" {
		skip, err = ignore.CompileIgnoreFile(p.conf.ExcludeFrom)
		if err != nil {
			return nil, fmt.Errorf("failed to read exclude file '%s': %w", p.conf.ExcludeFrom, err)
		}
	}

	roots := make([]string, 0, len(p.conf.Roots))
	stdinContent := false
	for _, r := range p.conf.Roots {
		if r == "-" {
			stdinContent = true
			continue
		}

		roots = append(roots, r)
	}

	if p.conf.PathsFrom != "" {
		listed, err := p.readPathList()
		if err != nil {
			return nil, err
		}

		roots = append(roots, listed...)
	}

	tasks, err = Walk(roots, skip)
	if err != nil {
		return nil, err
	}

	if stdinContent {
		tasks = append(tasks, Task{Path: "-", Rel: StdinPath})
		sort.Slice(tasks, func(i, j int) bool {
			return tasks[i].Rel < tasks[j].Rel
		})

		for i := range tasks {
			tasks[i].Seq = i
		}
	}

	return tasks, nil
}

func (p *Pipeline) readPathList() (roots []string, err error) {
	var r io.Reader = p.conf.Stdin
	if p.conf.PathsFrom != "-" {
		f, err := os.Open(p.conf.PathsFrom)
		if err != nil {
			return nil, fmt.Errorf("failed to open path list '%s': %w", p.conf.PathsFrom, err)
		}

		defer f.Close()
		r = f
	}

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}

		roots = append(roots, line)
	}

	if err = s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read path list: %w", err)
	}

	return roots, nil
}

//summer returns the work function the pool runs for each task, it is
//called concurrently from every worker. Each call builds its own Summer
//so workers never share chunk buffers or hash state
func (p *Pipeline) summer(cache *Cache, prog *Progress) func(t Task) (e *Entry, err error) {
	return func(t Task) (e *Entry, err error) {
		startT := time.Now()
		report := func(e *Entry, cached bool, err error) {
			if prog == nil {
				return
			}

			ev := Event{Path: t.Rel, Dur: time.Since(startT), Cached: cached, Err: err}
			if e != nil {
				ev.Size = e.Size()
			}

			prog.Report(ev)
		}

		if t.Path == "-" {
			e, err = p.sumStream(t.Rel, p.conf.Stdin)
			report(e, false, err)
			return e, err
		}

		f, err := os.Open(t.Path)
		if err != nil {
			err = fmt.Errorf("failed to open: %w", err)
			report(nil, false, err)
			return nil, err
		}

		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			err = fmt.Errorf("failed to stat: %w", err)
			report(nil, false, err)
			return nil, err
		}

		if cache != nil {
			if e, ok := cache.Lookup(t.Rel, fi.Size(), fi.ModTime()); ok {
				report(e, true, nil)
				return e, nil
			}
		}

		e, err = p.sumStream(t.Rel, f)
		if err != nil {
			report(nil, false, err)
			return nil, err
		}

		if cache != nil {
			cerr := cache.Store(e, fi.Size(), fi.ModTime())
			if cerr != nil && p.conf.Warn != nil {
				p.conf.Warn(fmt.Sprintf("%v", cerr))
			}
		}

		report(e, false, nil)
		return e, nil
	}
}

func (p *Pipeline) sumStream(rel string, r io.Reader) (e *Entry, err error) {
	s, err := NewSummer(p.alg, p.conf.Split)
	if err != nil {
		return nil, err
	}

	chunks, err := s.Sum(r)
	if err != nil {
		return nil, err
	}

	return s.Entry(rel, chunks), nil
}

func (p *Pipeline) write(m *Manifest, dest string) (err error) {
	if dest == "-" {
		err = m.Encode(p.conf.Stdout)
		if err != nil {
			return fmt.Errorf("failed to write manifest to standard output: %w", err)
		}

		return nil
	}

	return m.WriteFile(dest)
}
