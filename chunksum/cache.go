package chunksum

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

var (
	//cacheBucket holds one gob encoded record per manifest path
	cacheBucket = []byte("entries_v1")
)

//Cache remembers the chunks of files seen in earlier runs, keyed by
//manifest path. A record is only served when the file's size and
//modification time still match and it was produced with the same
//algorithm, in that case the file's bytes are not read again. Metadata
//can lie (a rewrite within the mtime granularity goes unnoticed), so
//the cache is opt-in. Safe for concurrent use, bolt serializes writes
type Cache struct {
	db  *bolt.DB
	alg string
}

type cacheRecord struct {
	Alg     string
	Size    int64
	ModTime int64 //unix nanoseconds
	Sum     []byte
	Chunks  []Chunk
}

//OpenCache opens (or creates) the chunk cache at path
func OpenCache(path string, alg *Alg) (c *Cache, err error) {
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db at '%s': %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) (err error) {
		_, err = tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return &Cache{db: db, alg: alg.String()}, nil
}

//Lookup returns the cached entry for rel when the record is still valid
//for the given size and modification time
func (c *Cache) Lookup(rel string, size int64, mtime time.Time) (e *Entry, ok bool) {
	var rec cacheRecord
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get([]byte(rel))
		if v == nil {
			return nil
		}

		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&rec)
	})

	if err != nil || !found {
		return nil, false
	}

	if rec.Alg != c.alg || rec.Size != size || rec.ModTime != mtime.UnixNano() {
		return nil, false
	}

	return &Entry{Path: rel, Sum: rec.Sum, Chunks: rec.Chunks}, true
}

//Store records a computed entry together with the file metadata that
//validates it on later lookups
func (c *Cache) Store(e *Entry, size int64, mtime time.Time) (err error) {
	buf := bytes.NewBuffer(nil)
	err = gob.NewEncoder(buf).Encode(cacheRecord{
		Alg:     c.alg,
		Size:    size,
		ModTime: mtime.UnixNano(),
		Sum:     e.Sum,
		Chunks:  e.Chunks,
	})

	if err != nil {
		return fmt.Errorf("failed to encode cache record for '%s': %w", e.Path, err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(e.Path), buf.Bytes())
	})

	if err != nil {
		return fmt.Errorf("failed to store cache record for '%s': %w", e.Path, err)
	}

	return nil
}

//Close releases the underlying database
func (c *Cache) Close() error {
	return c.db.Close()
}
