package render

import (
	"bytes"
	"image"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"
	sixel "github.com/mattn/go-sixel"
)

// encodedFrameCacheSize bounds the per-renderer cache of encoded frames.
// Firmware UIs often alternate between a handful of screens (blinking
// cursors, spinners), so re-encoding them every time they come around is
// wasted work.
const encodedFrameCacheSize = 16

// sixelRenderer draws frames with DEC sixel graphics.
type sixelRenderer struct {
	out     io.Writer
	scale   int
	started bool

	encoded *lru.Cache // frame checksum -> []byte sixel payload
}

func newSixelRenderer(scale int) *sixelRenderer {
	cache, _ := lru.New(encodedFrameCacheSize)
	return &sixelRenderer{
		out:     os.Stdout,
		scale:   scale,
		encoded: cache,
	}
}

func (r *sixelRenderer) Render(img *image.RGBA, checksum uint64) error {
	payload, err := r.encode(img, checksum)
	if err != nil {
		return err
	}

	if !r.started {
		if _, err := io.WriteString(r.out, "\x1b[2J\x1b[?25l"); err != nil {
			return err
		}
		r.started = true
	}

	if _, err := io.WriteString(r.out, "\x1b[H"); err != nil {
		return err
	}
	_, err = r.out.Write(payload)
	return err
}

func (r *sixelRenderer) encode(img *image.RGBA, checksum uint64) ([]byte, error) {
	if cached, ok := r.encoded.Get(checksum); ok {
		return cached.([]byte), nil
	}

	var buf bytes.Buffer
	enc := sixel.NewEncoder(&buf)
	if err := enc.Encode(scaleImage(img, r.scale)); err != nil {
		return nil, err
	}
	payload := buf.Bytes()
	r.encoded.Add(checksum, payload)
	return payload, nil
}

func (r *sixelRenderer) Close() error {
	if !r.started {
		return nil
	}
	_, err := io.WriteString(r.out, "\x1b[0m\x1b[?25h\n")
	return err
}
