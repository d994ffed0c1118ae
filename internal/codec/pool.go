package codec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// decoderPool hands out reusable streaming zstd decoders.
type decoderPool struct {
	pool      sync.Pool
	maxMemory uint64
}

func newDecoderPool(maxMemory uint64) *decoderPool {
	p := &decoderPool{maxMemory: maxMemory}
	p.pool.New = func() any {
		dec, err := p.newDecoder(nil)
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

// get returns a decoder reading from r and a function that returns it to
// the pool. No release is needed when an error is returned.
func (p *decoderPool) get(r io.Reader) (*zstd.Decoder, func(), error) {
	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok {
		d, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	if err := dec.Reset(r); err != nil {
		dec.Close()
		d, err := p.newDecoder(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

func (p *decoderPool) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(false),
	}
	if p.maxMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxMemory))
	}
	return zstd.NewReader(r, opts...)
}
