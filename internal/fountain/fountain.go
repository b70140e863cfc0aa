// Package fountain wraps github.com/klauspost/reedsolomon — a transitive
// dependency of the teacher's xtaci/kcp-go, here promoted to a direct one —
// behind the systematic fountain-code interface spec.md §9 requires: any K
// of the K+R symbols produced for a block suffice to reconstruct it.
// Reed-Solomon over GF(256) has exactly that MDS property, which is why
// kcp-go uses the same library for its own FEC layer.
package fountain

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

// lengthPrefix is the size, in bytes, of the internal length header each
// block carries ahead of its payload so the decoder knows how many trailing
// padding bytes to discard after the last shard is reconstructed. This is a
// framing detail private to this package; it never appears on the wire,
// which carries only the header spec.md §6 defines plus raw symbol bytes.
const lengthPrefix = 4

// maxTotalShards is the Vandermonde Reed-Solomon ceiling in
// klauspost/reedsolomon: dataShards+parityShards must not exceed 256.
const maxTotalShards = 256

// ErrInvalidParams reports a configuration error per spec.md §7's
// Configuration taxonomy: "invalid block/MTU combination (K=0 or symbol
// size < 1)". Callers must abort at startup, never attempt to encode.
var ErrInvalidParams = errors.New("fountain: invalid symbol size or block/repair size combination")

// ErrInsufficientSymbols means fewer than K distinct symbols were supplied
// to Decode; the block is unrecoverable (spec.md §4.6 Failure outcome).
var ErrInsufficientSymbols = errors.New("fountain: fewer than K distinct symbols available")

// ErrCorrupt means reconstruction completed but the embedded length prefix
// is inconsistent with the reconstructed data, implying a corrupted shard
// slipped past whatever integrity the transport provides.
var ErrCorrupt = errors.New("fountain: reconstructed block failed consistency check")

// Params fixes the symbol size and the source:repair ratio used for every
// block in a run, derived once at startup from the CLI configuration.
type Params struct {
	SymbolSize int
	// RepairRatio is repair_block_size / encoding_block_size, e.g. 0.10 for
	// the default 10% repair budget (spec.md §4.3).
	RepairRatio float64
}

// Validate rejects configurations spec.md §7 classifies as startup errors.
func (p Params) Validate() error {
	if p.SymbolSize < 1 {
		return errors.Wrap(ErrInvalidParams, "symbol size < 1")
	}
	if p.RepairRatio < 0 {
		return errors.Wrap(ErrInvalidParams, "negative repair ratio")
	}
	return nil
}

// shardCounts derives K and R for a block of payloadLen bytes: K from the
// padded+length-prefixed payload divided by symbol size (minimum 1, so that
// even a zero-byte session-open/close marker block gets a well-formed FEC
// group), R from K scaled by RepairRatio (minimum 1 when RepairRatio > 0).
func (p Params) shardCounts(payloadLen int) (k, r int) {
	total := lengthPrefix + payloadLen
	k = (total + p.SymbolSize - 1) / p.SymbolSize
	if k < 1 {
		k = 1
	}
	if p.RepairRatio <= 0 {
		return k, 0
	}
	r = int(float64(k)*p.RepairRatio + 0.999999)
	if r < 1 {
		r = 1
	}
	return k, r
}

// RepairFor returns the R a block with K source symbols would have been
// given by Encode, so a receiver that only learns K from the wire header
// (spec.md §6's table has no R field) can recompute it deterministically
// from the same Params the sender used.
func (p Params) RepairFor(k int) int {
	if p.RepairRatio <= 0 {
		return 0
	}
	r := int(float64(k)*p.RepairRatio + 0.999999)
	if r < 1 {
		r = 1
	}
	return r
}

// Encode seals payload into exactly K source symbols followed by R repair
// symbols, each SymbolSize bytes (spec.md §3 Invariants, §4.3).
func Encode(p Params, payload []byte) (symbols [][]byte, k, r int, err error) {
	if err := p.Validate(); err != nil {
		return nil, 0, 0, err
	}
	k, r = p.shardCounts(len(payload))
	if k+r > maxTotalShards {
		return nil, 0, 0, errors.Wrapf(ErrInvalidParams, "K+R=%d exceeds %d-shard ceiling; raise MTU or lower encoding-block-size", k+r, maxTotalShards)
	}

	framed := make([]byte, lengthPrefix+len(payload), k*p.SymbolSize)
	binary.BigEndian.PutUint32(framed[:lengthPrefix], uint32(len(payload)))
	copy(framed[lengthPrefix:], payload)
	framed = framed[:k*p.SymbolSize] // zero-pad to an exact multiple of SymbolSize

	shards := make([][]byte, k+r)
	for i := 0; i < k; i++ {
		shards[i] = framed[i*p.SymbolSize : (i+1)*p.SymbolSize]
	}
	for i := k; i < k+r; i++ {
		shards[i] = make([]byte, p.SymbolSize)
	}

	if r > 0 {
		enc, err := reedsolomon.New(k, r)
		if err != nil {
			return nil, 0, 0, errors.Wrap(err, "fountain: construct reed-solomon encoder")
		}
		if err := enc.Encode(shards); err != nil {
			return nil, 0, 0, errors.Wrap(err, "fountain: encode parity shards")
		}
	}

	return shards, k, r, nil
}

// Decode reconstructs a block's original payload from a set of received
// symbols, keyed by their wire symbol_index. len(symbols) >= K is necessary
// but the caller is responsible for the >= K trigger (spec.md §4.6); Decode
// itself re-checks before touching reedsolomon.
func Decode(symbolSize, k, r int, symbols map[int][]byte) ([]byte, error) {
	if len(symbols) < k {
		return nil, ErrInsufficientSymbols
	}

	shards := make([][]byte, k+r)
	for idx, sym := range symbols {
		if idx < 0 || idx >= k+r {
			continue
		}
		shards[idx] = sym
	}

	if r == 0 {
		for i := 0; i < k; i++ {
			if shards[i] == nil {
				return nil, ErrInsufficientSymbols
			}
		}
	} else {
		enc, err := reedsolomon.New(k, r)
		if err != nil {
			return nil, errors.Wrap(err, "fountain: construct reed-solomon decoder")
		}
		if err := enc.ReconstructData(shards); err != nil {
			return nil, errors.Wrap(err, "fountain: reconstruct data shards")
		}
	}

	framed := make([]byte, 0, k*symbolSize)
	for i := 0; i < k; i++ {
		framed = append(framed, shards[i]...)
	}

	if len(framed) < lengthPrefix {
		return nil, ErrCorrupt
	}
	length := binary.BigEndian.Uint32(framed[:lengthPrefix])
	if int(length) > len(framed)-lengthPrefix {
		return nil, errors.Wrapf(ErrCorrupt, "embedded length %d exceeds reconstructed capacity %d", length, len(framed)-lengthPrefix)
	}
	payload := make([]byte, length)
	copy(payload, framed[lengthPrefix:lengthPrefix+int(length)])
	return payload, nil
}
