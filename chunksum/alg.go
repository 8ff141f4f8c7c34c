package chunksum

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"regexp"
	"strconv"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
)

//DefaultAlgName is the algorithm used when none is requested: FastCDC
//boundaries around an average chunk of 1KiB<<4 and untruncated sha256
//chunk digests
const DefaultAlgName = "fck4sha2"

//Pol is the irreducible polynomial handed to the rolling hash chunker,
//every manifest this tool produces shares it so equal byte content
//always splits at equal boundaries
const Pol = 0x3DA3358B4DC173

var algPattern = regexp.MustCompile(`^fc([kmg])([0-9])(sha2|blake2b|blake2s)([0-9]+)?$`)

var unitShift = map[byte]uint{
	'k': 10,
	'm': 20,
	'g': 30,
}

//Alg is a parsed algorithm name, it selects the average chunk size the
//splitter aims for and the digest applied to each chunk. An Alg never
//changes after parsing and may be shared between goroutines
type Alg struct {

	//size unit of the average chunk: 'k', 'm' or 'g'
	Unit byte

	//power of two applied to the unit, average = unit << power
	Power int

	//digest name: "sha2", "blake2b" or "blake2s"
	Digest string

	//requested digest length in bytes, 0 means the full length
	DigestSize int
}

//ParseAlg parses an algorithm name such as "fck4sha2" or
//"fcm4blake2b32". It fails with ErrInvalidAlgorithm when the name
//doesn't follow the grammar and with ErrUnsupportedDigest when the
//digest or its size can't be served
func ParseAlg(name string) (alg *Alg, err error) {
	m := algPattern.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidAlgorithm, name)
	}

	alg = &Alg{
		Unit:   m[1][0],
		Power:  int(m[2][0] - '0'),
		Digest: m[3],
	}

	if m[4] != "" {
		alg.DigestSize, err = strconv.Atoi(m[4])
		if err != nil {
			return nil, fmt.Errorf("%w: digest size in '%s': %v", ErrInvalidAlgorithm, name, err)
		}

		if alg.DigestSize == 0 {
			return nil, fmt.Errorf("%w: digest size 0 in '%s'", ErrUnsupportedDigest, name)
		}
	}

	//probe the digest now so a bad combination aborts before any work
	_, err = alg.NewHash()
	if err != nil {
		return nil, err
	}

	return alg, nil
}

//String returns the canonical algorithm name, ParseAlg(alg.String())
//yields an equal Alg again
func (alg *Alg) String() string {
	s := fmt.Sprintf("fc%c%d%s", alg.Unit, alg.Power, alg.Digest)
	if alg.DigestSize > 0 {
		s += strconv.Itoa(alg.DigestSize)
	}

	return s
}

//Equal tells whether two algorithm specs produce comparable digests
func (alg *Alg) Equal(other *Alg) bool {
	return other != nil && alg.String() == other.String()
}

//AvgSize returns the average chunk size in bytes the splitter aims for
func (alg *Alg) AvgSize() int64 {
	return 1 << (unitShift[alg.Unit] + uint(alg.Power))
}

//MinSize returns the smallest chunk the splitter may emit (except for
//the final chunk of a stream)
func (alg *Alg) MinSize() int64 {
	return alg.AvgSize() / 4
}

//MaxSize returns the largest chunk the splitter may emit
func (alg *Alg) MaxSize() int64 {
	return alg.AvgSize() * 4
}

//AverageBits returns log2 of the average chunk size, the width of the
//rolling hash mask that decides chunk boundaries
func (alg *Alg) AverageBits() int {
	return int(unitShift[alg.Unit]) + alg.Power
}

//NewHash returns a constructor for the configured digest. Each call of
//the constructor returns a fresh hash so one constructor can serve
//many workers
func (alg *Alg) NewHash() (fn func() hash.Hash, err error) {
	switch alg.Digest {
	case "sha2":
		if alg.DigestSize != 0 {
			return nil, fmt.Errorf("%w: sha2 doesn't take a digest size", ErrUnsupportedDigest)
		}

		return sha256.New, nil
	case "blake2b":
		size := alg.DigestSize
		if size == 0 {
			size = blake2b.Size
		}

		if size < 1 || size > blake2b.Size {
			return nil, fmt.Errorf("%w: blake2b digest size %d, expected 1-%d", ErrUnsupportedDigest, size, blake2b.Size)
		}

		return func() hash.Hash {
			h, _ := blake2b.New(size, nil)
			return h
		}, nil
	case "blake2s":
		if alg.DigestSize != 0 && alg.DigestSize != blake2s.Size {
			return nil, fmt.Errorf("%w: blake2s only produces %d byte digests", ErrUnsupportedDigest, blake2s.Size)
		}

		return func() hash.Hash {
			h, _ := blake2s.New256(nil)
			return h
		}, nil
	}

	return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedDigest, alg.Digest)
}

//DigestLen returns the length in bytes of the digests this algorithm
//produces, used to validate manifest entries on decode
func (alg *Alg) DigestLen() int {
	switch alg.Digest {
	case "sha2":
		return sha256.Size
	case "blake2b":
		if alg.DigestSize > 0 {
			return alg.DigestSize
		}

		return blake2b.Size
	case "blake2s":
		return blake2s.Size
	}

	return 0
}
