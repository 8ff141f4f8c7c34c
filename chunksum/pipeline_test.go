package chunksum_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyb/chunksum/chunksum"
)

func RunPipeline(t *testing.T, conf chunksum.Config) *chunksum.Summary {
	t.Helper()

	p, err := chunksum.NewPipeline(conf)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	return sum
}

func TestPipelineEmptyDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "chunksums")

	sum := RunPipeline(t, chunksum.Config{
		Roots:  []string{dir},
		Output: out,
	})

	if sum.Files != 0 || len(sum.FileErrors) != 0 {
		t.Errorf("expected an empty summary, got %+v", sum)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "#chunksum/1 fck4sha2\n" {
		t.Errorf("expected a header-only manifest, got %q", string(data))
	}
}

func TestPipelineParallelismOrderIndependence(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"d.bin", "a.bin", "c.bin", "b.bin", "sub/e.bin", "empty"} {
		size := int64(0)
		if name != "empty" {
			size = 300 * 1024
		}

		WriteTestFile(t, filepath.Join(dir, filepath.FromSlash(name)), RandomBytes(t, size))
	}

	outputs := make([]string, 0, 3)
	for _, workers := range []int{1, 4, 16} {
		out := filepath.Join(t.TempDir(), "chunksums")
		sum := RunPipeline(t, chunksum.Config{
			AlgName: "fck0sha2",
			Roots:   []string{dir},
			Output:  out,
			Workers: workers,
		})

		if sum.Files != 6 {
			t.Fatalf("expected 6 files with %d workers, got %d", workers, sum.Files)
		}

		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}

		outputs = append(outputs, string(data))
	}

	if outputs[0] != outputs[1] || outputs[1] != outputs[2] {
		t.Error("expected byte-identical manifests for every worker count")
	}
}

func TestPipelineIncrementalRun(t *testing.T) {
	dir := t.TempDir()
	WriteTestFile(t, filepath.Join(dir, "stays.txt"), []byte("stable content"))
	WriteTestFile(t, filepath.Join(dir, "edited.txt"), []byte("before"))

	out := filepath.Join(t.TempDir(), "chunksums")
	sum := RunPipeline(t, chunksum.Config{
		Roots:  []string{dir},
		Output: out,
	})

	if sum.New != 2 {
		t.Fatalf("expected 2 new files on the first run, got %d", sum.New)
	}

	//modify one file, resume against the first manifest
	WriteTestFile(t, filepath.Join(dir, "edited.txt"), []byte("after, and longer"))

	incr := filepath.Join(t.TempDir(), "chunksums.incr")
	sum = RunPipeline(t, chunksum.Config{
		Roots:      []string{dir},
		Output:     out,
		IncrOutput: incr,
		Previous:   out,
	})

	if sum.Changed != 1 || sum.Unchanged != 1 || sum.New != 0 {
		t.Fatalf("expected 1 changed and 1 unchanged, got %+v", sum)
	}

	m, err := chunksum.LoadManifest(incr, chunksum.DecodeOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Entries) != 1 || filepath.Base(m.Entries[0].Path) != "edited.txt" {
		t.Errorf("expected the incremental manifest to hold exactly the edited file, got %d entries", len(m.Entries))
	}

	//the full manifest still re-emits the unchanged entry
	full, err := chunksum.LoadManifest(out, chunksum.DecodeOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(full.Entries) != 2 {
		t.Errorf("expected the full manifest to hold both files, got %d entries", len(full.Entries))
	}
}

func TestPipelineInvalidAlgorithmAbortsEarly(t *testing.T) {
	_, err := chunksum.NewPipeline(chunksum.Config{
		AlgName: "xyz123",
		Roots:   []string{"/nonexistent/is/never/touched"},
	})

	if !errors.Is(err, chunksum.ErrInvalidAlgorithm) {
		t.Errorf("expected an invalid algorithm error before any filesystem access, got: %v", err)
	}
}

func TestPipelineAlgorithmMismatchAbortsBeforeScanning(t *testing.T) {
	dir := t.TempDir()
	WriteTestFile(t, filepath.Join(dir, "a.txt"), []byte("a"))

	out := filepath.Join(t.TempDir(), "chunksums")
	RunPipeline(t, chunksum.Config{
		AlgName: "fck4sha2",
		Roots:   []string{dir},
		Output:  out,
	})

	p, err := chunksum.NewPipeline(chunksum.Config{
		AlgName:  "fcm4blake2b32",
		Roots:    []string{dir},
		Output:   filepath.Join(t.TempDir(), "other"),
		Previous: out,
	})

	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Run(context.Background())
	if !errors.Is(err, chunksum.ErrAlgorithmMismatch) {
		t.Errorf("expected an algorithm mismatch error, got: %v", err)
	}
}

func TestPipelineFileErrorsDontAbort(t *testing.T) {
	dir := t.TempDir()
	WriteTestFile(t, filepath.Join(dir, "readable.txt"), []byte("fine"))
	WriteTestFile(t, filepath.Join(dir, "secret.txt"), []byte("no"))

	err := os.Chmod(filepath.Join(dir, "secret.txt"), 0000)
	if err != nil {
		t.Fatal(err)
	}

	if os.Getuid() == 0 {
		t.Skip("running as root, chmod 0000 doesn't prevent reads")
	}

	out := filepath.Join(t.TempDir(), "chunksums")
	sum := RunPipeline(t, chunksum.Config{
		Roots:  []string{dir},
		Output: out,
	})

	if len(sum.FileErrors) != 1 || sum.Files != 1 {
		t.Fatalf("expected 1 failure and 1 summed file, got %+v", sum)
	}

	//the failed file is left out of the manifest, the rest is emitted
	m, err := chunksum.LoadManifest(out, chunksum.DecodeOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Entries) != 1 || filepath.Base(m.Entries[0].Path) != "readable.txt" {
		t.Errorf("expected only the readable file in the manifest, got %d entries", len(m.Entries))
	}
}

func TestPipelineStdinContent(t *testing.T) {
	out := bytes.NewBuffer(nil)
	p, err := chunksum.NewPipeline(chunksum.Config{
		Roots:  []string{"-"},
		Output: "-",
		Stdin:  strings.NewReader("hello"),
		Stdout: out,
	})

	if err != nil {
		t.Fatal(err)
	}

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if sum.Files != 1 || sum.Bytes != 5 {
		t.Fatalf("expected one 5 byte stream, got %+v", sum)
	}

	m, err := chunksum.DecodeManifest(bytes.NewReader(out.Bytes()), chunksum.DecodeOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Entries) != 1 || m.Entries[0].Path != chunksum.StdinPath {
		t.Errorf("expected one entry under %s, got %+v", chunksum.StdinPath, m.Entries)
	}
}

func TestPipelinePathsFromList(t *testing.T) {
	dir := t.TempDir()
	WriteTestFile(t, filepath.Join(dir, "in.txt"), []byte("in"))
	WriteTestFile(t, filepath.Join(dir, "not-listed.txt"), []byte("out"))

	list := filepath.Join(t.TempDir(), "paths")
	WriteTestFile(t, list, []byte(filepath.Join(dir, "in.txt")+"\n"))

	out := filepath.Join(t.TempDir(), "chunksums")
	sum := RunPipeline(t, chunksum.Config{
		PathsFrom: list,
		Output:    out,
	})

	if sum.Files != 1 {
		t.Errorf("expected only the listed file to be scanned, got %d", sum.Files)
	}
}

func TestPipelineCacheReusesChunks(t *testing.T) {
	dir := t.TempDir()
	WriteTestFile(t, filepath.Join(dir, "big.bin"), RandomBytes(t, 300*1024))

	cache := filepath.Join(t.TempDir(), "cache.db")
	out := filepath.Join(t.TempDir(), "chunksums")

	conf := chunksum.Config{
		AlgName:   "fck0sha2",
		Roots:     []string{dir},
		Output:    out,
		CachePath: cache,
	}

	RunPipeline(t, conf)
	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	//a second run over the unmodified tree must produce the same
	//manifest from cached chunks alone
	conf.Previous = out
	sum := RunPipeline(t, conf)
	if sum.Unchanged != 1 {
		t.Errorf("expected the cached file to classify as unchanged, got %+v", sum)
	}

	second, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Error("expected the cached run to reproduce the manifest byte for byte")
	}
}
