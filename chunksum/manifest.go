package chunksum

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

//ManifestVersion is the format version written in the manifest header
const ManifestVersion = 1

//headerPrefix starts every manifest, followed by the format version and
//the canonical algorithm name
const headerPrefix = "#chunksum/"

//maxLineSize bounds a single manifest line, large files with small
//chunks produce long entry lines
const maxLineSize = 16 * 1024 * 1024

//Entry is the manifest record for one file: its path with forward slash
//separators, the whole-file digest over the chunk digests and the
//ordered chunk list. An Entry is owned by one worker while it is being
//computed and never changes afterwards
type Entry struct {
	Path   string
	Sum    []byte
	Chunks []Chunk
}

//Size returns the file size as recorded in the chunk lengths
func (e *Entry) Size() (n int64) {
	for _, c := range e.Chunks {
		n += c.Length
	}

	return n
}

//Manifest couples an algorithm spec with the entries of one scanned
//tree, ordered lexicographically by path
type Manifest struct {
	Alg     *Alg
	Entries []*Entry
}

//Sort brings the entries into canonical manifest order
func (m *Manifest) Sort() {
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})
}

//Encode writes the manifest as text: a header line with the format
//version and algorithm name, then one tab separated line per entry
//holding the file digest, the path and the comma separated
//"length:digest" chunk pairs. Entries are written in canonical order,
//Decode reads the result back losslessly
func (m *Manifest) Encode(w io.Writer) (err error) {
	m.Sort()

	bw := bufio.NewWriter(w)
	_, err = fmt.Fprintf(bw, "%s%d %s\n", headerPrefix, ManifestVersion, m.Alg)
	if err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}

	for _, e := range m.Entries {
		if strings.ContainsAny(e.Path, "\t\n") {
			return fmt.Errorf("failed to encode entry: path %q contains a tab or newline", e.Path)
		}

		pairs := make([]string, len(e.Chunks))
		for i, c := range e.Chunks {
			pairs[i] = fmt.Sprintf("%d:%x", c.Length, c.Digest)
		}

		_, err = fmt.Fprintf(bw, "%x\t%s\t%s\n", e.Sum, e.Path, strings.Join(pairs, ","))
		if err != nil {
			return fmt.Errorf("failed to write entry for '%s': %w", e.Path, err)
		}
	}

	return bw.Flush()
}

//DecodeOpts tune how a manifest is read back
type DecodeOpts struct {

	//SkipMalformed continues past unparseable entry lines instead of
	//aborting the load, each skipped line is reported through Warn.
	//Skipping lines of a previous manifest makes reconciliation see
	//those files as new, the default is therefore to abort
	SkipMalformed bool

	//Warn receives a message per skipped line, nil discards them
	Warn func(msg string)
}

//DecodeManifest reads a manifest written by Encode. It fails with
//ErrUnsupportedVersion when the header is missing or from a newer
//format, ErrInvalidAlgorithm when the header's algorithm name doesn't
//parse and ErrMalformedEntry (carrying the line number) when an entry
//line is unparseable and opts doesn't allow skipping. The returned
//manifest is in canonical order no matter the order of the input lines
func DecodeManifest(r io.Reader, opts DecodeOpts) (m *Manifest, err error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !s.Scan() {
		if err = s.Err(); err != nil {
			return nil, fmt.Errorf("failed to read manifest header: %w", err)
		}

		return nil, fmt.Errorf("%w: manifest is empty, no header line", ErrUnsupportedVersion)
	}

	header := strings.TrimSuffix(s.Text(), "\r")
	if !strings.HasPrefix(header, headerPrefix) {
		return nil, fmt.Errorf("%w: first line doesn't start with '%s'", ErrUnsupportedVersion, headerPrefix)
	}

	version, algName, ok := strings.Cut(strings.TrimPrefix(header, headerPrefix), " ")
	if !ok || version != strconv.Itoa(ManifestVersion) {
		return nil, fmt.Errorf("%w: got header '%s', can only read version %d", ErrUnsupportedVersion, header, ManifestVersion)
	}

	alg, err := ParseAlg(strings.TrimSpace(algName))
	if err != nil {
		return nil, err
	}

	m = &Manifest{Alg: alg}
	lineno := 1
	for s.Scan() {
		lineno++
		line := strings.TrimSuffix(s.Text(), "\r")
		if line == "" {
			continue
		}

		e, perr := parseEntry(line, alg)
		if perr != nil {
			perr = fmt.Errorf("%w on line %d: %v", ErrMalformedEntry, lineno, perr)
			if !opts.SkipMalformed {
				return nil, perr
			}

			if opts.Warn != nil {
				opts.Warn(fmt.Sprintf("skipping %v", perr))
			}

			continue
		}

		m.Entries = append(m.Entries, e)
	}

	if err = s.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan manifest lines: %w", err)
	}

	m.Sort()
	return m, nil
}

func parseEntry(line string, alg *Alg) (e *Entry, err error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return nil, fmt.Errorf("expected 3 tab separated fields, got %d", len(fields))
	}

	sum, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("file digest isn't hex: %v", err)
	}

	if len(sum) != alg.DigestLen() {
		return nil, fmt.Errorf("file digest is %d bytes, %s produces %d", len(sum), alg, alg.DigestLen())
	}

	e = &Entry{Path: fields[1], Sum: sum}
	if e.Path == "" {
		return nil, fmt.Errorf("entry has an empty path")
	}

	if fields[2] == "" {
		return e, nil
	}

	for _, pair := range strings.Split(fields[2], ",") {
		lenPart, hexPart, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("chunk pair '%s' misses the ':' separator", pair)
		}

		n, err := strconv.ParseInt(lenPart, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("chunk length '%s' isn't a non-negative integer", lenPart)
		}

		d, err := hex.DecodeString(hexPart)
		if err != nil {
			return nil, fmt.Errorf("chunk digest isn't hex: %v", err)
		}

		if len(d) != alg.DigestLen() {
			return nil, fmt.Errorf("chunk digest is %d bytes, %s produces %d", len(d), alg, alg.DigestLen())
		}

		e.Chunks = append(e.Chunks, Chunk{Length: n, Digest: d})
	}

	return e, nil
}

//LoadManifest reads and decodes the manifest at path
func LoadManifest(path string, opts DecodeOpts) (m *Manifest, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest '%s': %w", path, err)
	}

	defer f.Close()
	m, err = DecodeManifest(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest '%s': %w", path, err)
	}

	return m, nil
}

//WriteFile encodes the manifest to path atomically: it writes a temp
//file next to the destination and renames it into place only when the
//encode succeeded, so a failed run never leaves a truncated manifest
//that looks complete
func (m *Manifest) WriteFile(path string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".chunksums_tmp_")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}

	tmp := f.Name()
	err = m.Encode(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest to '%s': %w", tmp, err)
	}

	err = f.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to flush manifest to '%s': %w", tmp, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move manifest to '%s': %w", path, err)
	}

	return nil
}
