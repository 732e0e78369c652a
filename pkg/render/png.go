package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
)

// pngRenderer writes frames to PNG files. With a '%d' verb in the path each
// rendered frame gets its own numbered file; without one the file is
// rewritten in place.
type pngRenderer struct {
	path     string
	numbered bool
	scale    int

	frame    int
	lastSum  uint64
	hasFrame bool
}

func newPNGRenderer(path string, scale int) (*pngRenderer, error) {
	if path == "" {
		return nil, errors.New("the png renderer needs an output path, use --out")
	}
	return &pngRenderer{
		path:     path,
		numbered: strings.Contains(path, "%d"),
		scale:    scale,
	}, nil
}

func (r *pngRenderer) Render(img *image.RGBA, checksum uint64) error {
	if r.hasFrame && checksum == r.lastSum {
		return nil
	}

	path := r.path
	if r.numbered {
		path = fmt.Sprintf(r.path, r.frame)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, scaleImage(img, r.scale)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	r.frame++
	r.lastSum = checksum
	r.hasFrame = true
	return nil
}

func (r *pngRenderer) Close() error {
	return nil
}
