package persistence

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// maxSnapshotSize caps a decoded snapshot file. Cached signatures make the
// snapshot large, but anything past this is a corrupt or foreign file.
const maxSnapshotSize = 256 << 20

var ErrCorruptSnapshot = errors.New("snapshot file is corrupt")

// SnapshotCompressor turns the JSON form of a Snapshot into the bytes kept
// on disk and back.
type SnapshotCompressor interface {
	Compress(snapshotJSON []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type zstdSnapshotCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSnapshotCompressor() (SnapshotCompressor, error) {
	return newSnapshotCompressor(maxSnapshotSize)
}

func newSnapshotCompressor(maxSize uint64) (*zstdSnapshotCompressor, error) {
	// snapshots are written on a timer, so trade speed for size
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, fmt.Errorf("snapshot encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxSize))
	if err != nil {
		return nil, fmt.Errorf("snapshot decoder: %w", err)
	}
	return &zstdSnapshotCompressor{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdSnapshotCompressor) Compress(snapshotJSON []byte) ([]byte, error) {
	return z.encoder.EncodeAll(snapshotJSON, nil), nil
}

func (z *zstdSnapshotCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return out, nil
}
