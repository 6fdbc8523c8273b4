package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// errCorruptBlock is returned when a stored block cannot be decoded.
var errCorruptBlock = errors.New("corrupt sample block")

// zstdLevels maps the configured compression level (1-4) to zstd speeds.
var zstdLevels = map[int]zstd.EncoderLevel{
	1: zstd.SpeedFastest,
	2: zstd.SpeedDefault,
	3: zstd.SpeedBetterCompression,
	4: zstd.SpeedBestCompression,
}

// blockCodec packs one hour of samples into a single zstd frame.
//
// Frame layout before compression:
//
//	uvarint  sample count n
//	varint   first timestamp, unix nanoseconds
//	varint   n-1 delta-of-delta timestamps
//	bytes    validity bitmap, (n+7)/8 bytes, LSB first
//	uvarint  XOR of consecutive value bits, valid samples only
//
// A regular 1 Hz record collapses to zero deltas, and flag variables that
// keep one code for minutes XOR to zero, so both compress to runs of 0x00.
// Values of missing samples are not stored and decode as zero.
type blockCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newBlockCodec(level int) (*blockCodec, error) {
	speed, ok := zstdLevels[level]
	if !ok {
		speed = zstd.SpeedDefault
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &blockCodec{enc: enc, dec: dec}, nil
}

// encode returns the compressed frame for samples, which must be in time order.
func (c *blockCodec) encode(samples []types.Sample) []byte {
	n := len(samples)
	raw := make([]byte, 0, 2*binary.MaxVarintLen64+n*2+(n+7)/8)

	raw = binary.AppendUvarint(raw, uint64(n))
	if n == 0 {
		return c.enc.EncodeAll(raw, nil)
	}

	prev := samples[0].Timestamp.UnixNano()
	raw = binary.AppendVarint(raw, prev)
	var step int64
	for _, s := range samples[1:] {
		ts := s.Timestamp.UnixNano()
		raw = binary.AppendVarint(raw, ts-prev-step)
		step = ts - prev
		prev = ts
	}

	bitmap := make([]byte, (n+7)/8)
	for i, s := range samples {
		if s.Valid {
			bitmap[i/8] |= 1 << (i % 8)
		}
	}
	raw = append(raw, bitmap...)

	var bits uint64
	for _, s := range samples {
		if !s.Valid {
			continue
		}
		cur := math.Float64bits(s.Value)
		raw = binary.AppendUvarint(raw, cur^bits)
		bits = cur
	}

	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// decode reverses encode.
func (c *blockCodec) decode(frame []byte) ([]types.Sample, error) {
	raw, err := c.dec.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	r := &frameReader{buf: raw}

	n := r.uvarint()
	if r.err != nil || n > uint64(len(raw))*8 {
		return nil, fmt.Errorf("%w: bad sample count", errCorruptBlock)
	}
	samples := make([]types.Sample, n)
	if n == 0 {
		return samples, nil
	}

	ts := r.varint()
	samples[0].Timestamp = time.Unix(0, ts).UTC()
	var step int64
	for i := 1; i < len(samples); i++ {
		step += r.varint()
		ts += step
		samples[i].Timestamp = time.Unix(0, ts).UTC()
	}

	bitmap := r.bytes((len(samples) + 7) / 8)

	var bits uint64
	for i := range samples {
		if bitmap == nil || bitmap[i/8]&(1<<(i%8)) == 0 {
			continue
		}
		bits ^= r.uvarint()
		samples[i].Value = math.Float64frombits(bits)
		samples[i].Valid = true
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptBlock, r.err)
	}
	return samples, nil
}

func (c *blockCodec) close() {
	c.enc.Close()
	c.dec.Close()
}

// frameReader reads varints from a decompressed frame, keeping the first error.
type frameReader struct {
	buf []byte
	err error
}

func (r *frameReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, k := binary.Uvarint(r.buf)
	if k <= 0 {
		r.err = errors.New("truncated uvarint")
		return 0
	}
	r.buf = r.buf[k:]
	return v
}

func (r *frameReader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, k := binary.Varint(r.buf)
	if k <= 0 {
		r.err = errors.New("truncated varint")
		return 0
	}
	r.buf = r.buf[k:]
	return v
}

func (r *frameReader) bytes(k int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < k {
		r.err = fmt.Errorf("bitmap needs %d bytes, have %d", k, len(r.buf))
		return nil
	}
	b := r.buf[:k]
	r.buf = r.buf[k:]
	return b
}
