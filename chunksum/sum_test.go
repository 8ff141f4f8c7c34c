package chunksum_test

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/xyb/chunksum/chunksum"
)

func NewTestSummer(t *testing.T, algName string) *chunksum.Summer {
	alg, err := chunksum.ParseAlg(algName)
	if err != nil {
		t.Fatal(err)
	}

	s, err := chunksum.NewSummer(alg, nil)
	if err != nil {
		t.Fatal(err)
	}

	return s
}

func RandomBytes(t *testing.T, size int64) []byte {
	data := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, data)
	if err != nil {
		t.Fatal(err)
	}

	return data
}

func TestSumDeterminism(t *testing.T) {
	data := RandomBytes(t, 1<<20)

	s := NewTestSummer(t, "fck0sha2")
	chunks1, err := s.Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	chunks2, err := s.Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks1) < 2 {
		t.Fatalf("expected 1MiB to split into multiple 1KiB-average chunks, got %d", len(chunks1))
	}

	if len(chunks1) != len(chunks2) {
		t.Fatalf("two runs produced %d and %d chunks", len(chunks1), len(chunks2))
	}

	for i := range chunks1 {
		if chunks1[i].Length != chunks2[i].Length || !bytes.Equal(chunks1[i].Digest, chunks2[i].Digest) {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSumCompleteness(t *testing.T) {
	s := NewTestSummer(t, "fck0sha2")
	for _, size := range []int64{0, 1, 10, 1024, 1<<20 + 3} {
		data := RandomBytes(t, size)
		chunks, err := s.Sum(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}

		if size == 0 && len(chunks) != 0 {
			t.Errorf("expected no chunks for an empty stream, got %d", len(chunks))
		}

		var total int64
		for _, c := range chunks {
			total += c.Length
		}

		if total != size {
			t.Errorf("chunk lengths add up to %d for a %d byte stream", total, size)
		}
	}
}

func TestSumSmallFileSingleChunk(t *testing.T) {
	content := []byte("0123456789")

	s := NewTestSummer(t, "fck4sha2")
	chunks, err := s.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected a 10 byte stream to be one chunk, got %d", len(chunks))
	}

	if chunks[0].Length != 10 {
		t.Errorf("expected chunk length 10, got %d", chunks[0].Length)
	}

	expected := sha256.Sum256(content)
	if !bytes.Equal(chunks[0].Digest, expected[:]) {
		t.Errorf("expected the chunk digest to be the sha256 of the content")
	}
}

func TestFileDigest(t *testing.T) {
	s := NewTestSummer(t, "fck0sha2")
	chunks, err := s.Sum(bytes.NewReader(RandomBytes(t, 64*1024)))
	if err != nil {
		t.Fatal(err)
	}

	h := sha256.New()
	for _, c := range chunks {
		h.Write(c.Digest)
	}

	if !bytes.Equal(s.FileDigest(chunks), h.Sum(nil)) {
		t.Error("expected the file digest to be the digest of the concatenated chunk digests")
	}

	empty := sha256.Sum256(nil)
	if !bytes.Equal(s.FileDigest(nil), empty[:]) {
		t.Error("expected the file digest of an empty stream to be the digest of no bytes")
	}
}

func TestSumIdenticalContentIdenticalChunks(t *testing.T) {
	//two differently sized streams sharing a long middle section
	//should still produce overlapping chunk digests, boundaries
	//depend on content only
	shared := RandomBytes(t, 512*1024)
	a := append(RandomBytes(t, 64*1024), shared...)
	b := append(RandomBytes(t, 32*1024), shared...)

	s := NewTestSummer(t, "fck0sha2")
	chunksA, err := s.Sum(bytes.NewReader(a))
	if err != nil {
		t.Fatal(err)
	}

	chunksB, err := s.Sum(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}

	inA := map[string]struct{}{}
	for _, c := range chunksA {
		inA[string(c.Digest)] = struct{}{}
	}

	overlap := 0
	for _, c := range chunksB {
		if _, ok := inA[string(c.Digest)]; ok {
			overlap++
		}
	}

	if overlap == 0 {
		t.Error("expected streams sharing 512KiB of content to share at least one chunk")
	}
}
