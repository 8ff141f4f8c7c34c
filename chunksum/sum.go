package chunksum

import (
	"fmt"
	"hash"
	"io"

	"github.com/restic/chunker"
)

//ChunkBufferSize determines the size of the buffer that wil hold each
//chunk while it is being digested, Next grows it when a chunk exceeds it
var ChunkBufferSize = 8 * 1024 * 1024 //8MiB

//Chunk is one content-defined span of a byte stream together with the
//digest of its bytes
type Chunk struct {
	Length int64
	Digest []byte
}

//Splitter cuts a byte stream into content-defined spans. Next returns
//the bytes of the next span, using buf as scratch space, and io.EOF
//once the stream is exhausted
type Splitter interface {
	Next(buf []byte) (data []byte, err error)
}

//SplitterFunc creates a Splitter for one stream, parameterized by the
//algorithm's average chunk size. Alternate boundary algorithms can be
//substituted without touching the rest of the pipeline
type SplitterFunc func(r io.Reader, alg *Alg) Splitter

//NewSplitter is the default SplitterFunc, backed by restic's rolling
//hash chunker with min/max boundaries at a quarter and four times the
//average chunk size
func NewSplitter(r io.Reader, alg *Alg) Splitter {
	ch := chunker.NewWithBoundaries(r, chunker.Pol(Pol), uint(alg.MinSize()), uint(alg.MaxSize()))
	ch.SetAverageBits(alg.AverageBits())
	return &resticSplitter{ch: ch}
}

type resticSplitter struct {
	ch *chunker.Chunker
}

func (s *resticSplitter) Next(buf []byte) (data []byte, err error) {
	c, err := s.ch.Next(buf)
	if err != nil {
		return nil, err
	}

	return c.Data, nil
}

//Summer computes the ordered chunk digests of single byte streams. It
//owns its chunk buffer exclusively so each worker needs its own Summer
type Summer struct {
	alg     *Alg
	split   SplitterFunc
	newHash func() hash.Hash
	buf     []byte
}

//NewSummer creates a Summer for the given algorithm, 'split' may be nil
//to use the default rolling hash splitter. It fails with
//ErrUnsupportedDigest when the algorithm's digest can't be served
func NewSummer(alg *Alg, split SplitterFunc) (s *Summer, err error) {
	if split == nil {
		split = NewSplitter
	}

	fn, err := alg.NewHash()
	if err != nil {
		return nil, err
	}

	return &Summer{
		alg:     alg,
		split:   split,
		newHash: fn,
		buf:     make([]byte, ChunkBufferSize),
	}, nil
}

//Sum reads r once, sequentially, and returns its ordered chunks. Chunk
//boundaries are a function of byte content only: identical content
//yields identical chunks and digests on every run, which is what makes
//manifests from different runs comparable. An empty stream yields no
//chunks, the lengths of the chunks always add up to the stream size
func (s *Summer) Sum(r io.Reader) (chunks []Chunk, err error) {
	split := s.split(r, s.alg)
	for {
		data, err := split.Next(s.buf)
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read next chunk: %w", err)
		}

		chunks = append(chunks, Chunk{
			Length: int64(len(data)),
			Digest: s.digest(data),
		})
	}

	return chunks, nil
}

//FileDigest digests the concatenation of the chunk digests, a cheap
//whole-file fingerprint used to compare files across runs without
//comparing their chunk lists element by element
func (s *Summer) FileDigest(chunks []Chunk) []byte {
	h := s.newHash()
	for _, c := range chunks {
		h.Write(c.Digest)
	}

	return h.Sum(nil)
}

//Entry builds the manifest entry for one summed stream
func (s *Summer) Entry(path string, chunks []Chunk) *Entry {
	return &Entry{
		Path:   path,
		Sum:    s.FileDigest(chunks),
		Chunks: chunks,
	}
}

func (s *Summer) digest(data []byte) []byte {
	h := s.newHash()
	h.Write(data)
	return h.Sum(nil)
}
