package chunksum

import "errors"

var (
	//ErrInvalidAlgorithm tells an algorithm name doesn't follow the
	//fc[k|m|g][0-9](sha2|blake2b|blake2s)[size] grammar
	ErrInvalidAlgorithm = errors.New("invalid algorithm name")

	//ErrUnsupportedDigest tells the requested digest (or digest size)
	//is not available in this build
	ErrUnsupportedDigest = errors.New("unsupported digest")

	//ErrUnsupportedVersion tells a manifest misses its header line or
	//carries a version this build can't read
	ErrUnsupportedVersion = errors.New("unsupported manifest version")

	//ErrMalformedEntry tells a manifest entry line couldn't be parsed,
	//it is always wrapped with the offending line number
	ErrMalformedEntry = errors.New("malformed manifest entry")

	//ErrAlgorithmMismatch tells a previous manifest was produced with a
	//different algorithm than the one requested, their digests are
	//incomparable so reconciliation refuses to start
	ErrAlgorithmMismatch = errors.New("algorithm mismatch")
)
