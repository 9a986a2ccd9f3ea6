package cache

import (
	"github.com/klauspost/compress/zstd"
	"go.trai.ch/zerr"
)

// ErrUnknownCodec is returned when a stored entry names a codec the store does not know.
var ErrUnknownCodec = zerr.New("unknown codec")

// Codec compresses and decompresses stored entry bytes.
type Codec interface {
	// Name identifies the codec. It is stored alongside every entry.
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NoopCodec stores bytes as they are.
type NoopCodec struct{}

func (NoopCodec) Name() string                        { return "none" }
func (NoopCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (NoopCodec) Decode(src []byte) ([]byte, error) { return src, nil }

// ZstdCodec compresses stored bytes with zstd.
// Encoder and decoder are shared, EncodeAll and DecodeAll are safe for concurrent use.
type ZstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstdCodec() (*ZstdCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ZstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCodec) Name() string {
	return "zstd"
}

func (c *ZstdCodec) Encode(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, nil), nil
}

func (c *ZstdCodec) Decode(src []byte) ([]byte, error) {
	return c.decoder.DecodeAll(src, nil)
}
