// Package dsa holds the shared probabilistic and priority data structures
// used by the scheduler and node worker pool: a byte-compatible Bloom
// filter for Discord-guild membership tests and a binary heap for FIFO
// chunk queuing, adapted from this corpus's dsa package conventions.
package dsa

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// BloomConfig configures a Bloom filter.
type BloomConfig struct {
	ExpectedItems int     // expected number of elements
	FPRate        float64 // desired false positive rate (e.g. 0.001 = 0.1%)
}

// DefaultBloomConfig returns the 0.1% false-positive default used for
// Discord guild membership filters.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{ExpectedItems: 1000, FPRate: 0.001}
}

// BloomFilter is a byte-addressable Bloom filter. Its sizing and hash
// scheme exactly match the wire format shared with the Discord-side
// verifier: SHA-256 double hashing with little-endian h1/h2 and a byte,
// not word, backing array, so a serialized filter round-trips across both
// implementations bit-for-bit.
type BloomFilter struct {
	mu      sync.RWMutex
	bits    []byte
	numBits uint64
	numHash uint32
	count   int
}

// NewBloomFilter creates a filter sized for n items at the given false
// positive rate:
//
//	m = ceil(-n * ln(p) / ln(2)^2)   rounded up to a byte boundary
//	k = round((m/n) * ln(2)), minimum 1
func NewBloomFilter(cfg BloomConfig) *BloomFilter {
	if cfg.ExpectedItems <= 0 {
		cfg.ExpectedItems = 1
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = 0.001
	}

	n := float64(cfg.ExpectedItems)
	rawBits := math.Ceil(-n * math.Log(cfg.FPRate) / (math.Ln2 * math.Ln2))
	numBytes := (uint64(rawBits) + 7) / 8
	numBits := numBytes * 8

	k := uint32(math.Round(float64(numBits) / n * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &BloomFilter{
		bits:    make([]byte, numBytes),
		numBits: numBits,
		numHash: k,
	}
}

// FromBytes reconstructs a filter from its raw byte representation and the
// member count used to size it, for loading a persisted filter.
func FromBytes(data []byte, memberCount int) *BloomFilter {
	numBits := uint64(len(data)) * 8
	if memberCount < 1 {
		memberCount = 1
	}
	k := uint32(math.Round(float64(numBits) / float64(memberCount) * math.Ln2))
	if k < 1 {
		k = 1
	}
	bits := make([]byte, len(data))
	copy(bits, data)
	return &BloomFilter{bits: bits, numBits: numBits, numHash: k, count: memberCount}
}

// Insert adds an item to the filter.
func (bf *BloomFilter) Insert(item string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	h1, h2 := hashItem(item)
	for i := uint32(0); i < bf.numHash; i++ {
		bf.setBit(position(h1, h2, i, bf.numBits))
	}
	bf.count++
}

// MightContain reports whether item may be in the set. False is certain;
// true is probable (subject to the configured false positive rate).
func (bf *BloomFilter) MightContain(item string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	h1, h2 := hashItem(item)
	for i := uint32(0); i < bf.numHash; i++ {
		if !bf.getBit(position(h1, h2, i, bf.numBits)) {
			return false
		}
	}
	return true
}

// Bytes returns the raw bit array for persistence or transport.
func (bf *BloomFilter) Bytes() []byte {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make([]byte, len(bf.bits))
	copy(out, bf.bits)
	return out
}

// Count returns the number of items inserted.
func (bf *BloomFilter) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.count
}

func (bf *BloomFilter) setBit(pos uint64) {
	bf.bits[pos/8] |= 1 << (pos % 8)
}

func (bf *BloomFilter) getBit(pos uint64) bool {
	return bf.bits[pos/8]&(1<<(pos%8)) != 0
}

// hashItem returns (h1, h2): the first and second 8 bytes of SHA-256(item),
// each read little-endian.
func hashItem(item string) (uint64, uint64) {
	sum := sha256.Sum256([]byte(item))
	h1 := binary.LittleEndian.Uint64(sum[0:8])
	h2 := binary.LittleEndian.Uint64(sum[8:16])
	return h1, h2
}

func position(h1, h2 uint64, i uint32, numBits uint64) uint64 {
	return (h1 + uint64(i)*h2) % numBits
}

// NewGuildFilter builds a filter over a list of Discord snowflake IDs at
// the 0.1% false positive rate used for guild membership checks.
func NewGuildFilter(discordIDs []string) *BloomFilter {
	n := len(discordIDs)
	if n < 1 {
		n = 1
	}
	filter := NewBloomFilter(BloomConfig{ExpectedItems: n, FPRate: 0.001})
	for _, id := range discordIDs {
		filter.Insert(id)
	}
	return filter
}

// FilterHash returns the SHA-256 hash of the filter's bytes, truncated to
// the first 8 bytes and hex-encoded, used as a short fingerprint when
// logging or caching a filter.
func FilterHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}
