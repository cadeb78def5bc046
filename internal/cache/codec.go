package cache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/coderaid/partysync/internal/party"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// codec turns pages into stored bytes. When compress is set pages are written
// as zstd frames; reads accept either form so toggling the option never
// invalidates existing entries.
type codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func newCodec(compress bool) (*codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c := &codec{compress: compress, dec: dec}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *codec) encode(page party.Page) ([]byte, error) {
	if page == nil {
		page = party.Page{}
	}
	b, err := json.Marshal(page)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if c.compress {
		return c.enc.EncodeAll(b, nil), nil
	}
	return b, nil
}

func (c *codec) decode(b []byte) (party.Page, error) {
	if bytes.HasPrefix(b, zstdMagic) {
		plain, err := c.dec.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		b = plain
	}
	var page party.Page
	if err := json.Unmarshal(b, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return page, nil
}

func (c *codec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	c.dec.Close()
}
