// Package shortid derives the two kinds of identifiers the service hands out:
// API access tokens and short codes.
//
// Two generators are provided. Random is the default and draws from crypto/rand.
// Clock reproduces the historical time-derived scheme, which is deterministic in
// wall-clock time and therefore collides for calls that land in the same 100ns
// bucket; callers must treat a store conflict as "generate again".
package shortid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/sqids/sqids-go"

	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

// Kind selects what an identifier is generated for.
type Kind int

const (
	AccessToken Kind = iota
	ShortCode
)

func (k Kind) String() string {
	switch k {
	case AccessToken:
		return "access_token"
	case ShortCode:
		return "short_code"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MaxLength is the column width the identifier has to fit into.
func (k Kind) MaxLength() int {
	if k == AccessToken {
		return models.MaxTokenLength
	}
	return models.MaxShortLength
}

// Generator produces a fresh identifier of the given kind.
type Generator interface {
	Generate(kind Kind) (string, error)
}

var ErrUnknownKind = errors.New("unknown identifier kind")

var errTooLong = errors.New("generated identifier exceeds column width")

const (
	tokenSymbols = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// shuffled so consecutive numbers don't produce visually adjacent codes
	codeAlphabet = "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat"

	codeMinLength = 7
	codeRandBits  = 40
)

// Random generates tokens as uniform base62 strings and short codes as Sqids
// encodings of a random 40-bit number. Sqids applies its default blocklist, so
// short codes never spell out a blocked word.
type Random struct {
	codec *sqids.Sqids
	max   *big.Int
}

func NewRandom() (*Random, error) {
	codec, err := sqids.New(sqids.Options{
		Alphabet:  codeAlphabet,
		MinLength: codeMinLength,
	})
	if err != nil {
		return nil, fmt.Errorf("in internal/shortid/shortid.go/NewRandom(): error while `sqids.New()` calling: %w", err)
	}

	return &Random{
		codec: codec,
		max:   new(big.Int).Lsh(big.NewInt(1), codeRandBits),
	}, nil
}

func (r *Random) Generate(kind Kind) (string, error) {
	switch kind {
	case AccessToken:
		return randomString(models.MaxTokenLength)
	case ShortCode:
		return r.shortCode()
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func (r *Random) shortCode() (string, error) {
	n, err := rand.Int(rand.Reader, r.max)
	if err != nil {
		return "", err
	}

	code, err := r.codec.Encode([]uint64{n.Uint64()})
	if err != nil {
		return "", err
	}
	if len(code) > models.MaxShortLength {
		return "", errTooLong
	}

	return code, nil
}

func randomString(length int) (string, error) {
	limit := big.NewInt(int64(len(tokenSymbols)))
	result := make([]byte, length)

	for i := range result {
		randomIndex, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		result[i] = tokenSymbols[randomIndex.Int64()]
	}

	return string(result), nil
}

// Clock is the time-derived generator: the current Unix time in units of
// 100ns, rendered as "0x"-prefixed lowercase hex, of which the leading
// characters are dropped (3 for tokens, 10 for short codes).
type Clock struct {
	now func() time.Time
}

// NewClock returns a Clock reading time from now, or from time.Now when now is nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Generate(kind Kind) (string, error) {
	var offset int
	switch kind {
	case AccessToken:
		offset = 3
	case ShortCode:
		offset = 10
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	return ClockEncode(c.now(), offset)
}

// ClockEncode renders t and returns the suffix starting at offset.
func ClockEncode(t time.Time, offset int) (string, error) {
	ticks := t.UnixNano() / 100
	rendered := "0x" + strconv.FormatInt(ticks, 16)
	if offset >= len(rendered) {
		return "", fmt.Errorf("offset %d is out of range for %q", offset, rendered)
	}

	return rendered[offset:], nil
}
