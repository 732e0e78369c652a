package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fbmirror/fbmirror/pkg/logflags"
	"github.com/fbmirror/fbmirror/pkg/screen"
)

func testImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestScaleImage(t *testing.T) {
	img := testImage(2, 2, color.RGBA{0xff, 0x00, 0x00, 0xff})
	img.SetRGBA(1, 1, color.RGBA{0x00, 0xff, 0x00, 0xff})

	scaled := scaleImage(img, 3)
	if scaled.Rect.Dx() != 6 || scaled.Rect.Dy() != 6 {
		t.Fatalf("scaled size = %v", scaled.Rect)
	}
	// nearest neighbor: the (1,1) source pixel covers (3..5,3..5)
	if got := scaled.RGBAAt(4, 4); got != (color.RGBA{0x00, 0xff, 0x00, 0xff}) {
		t.Errorf("scaled pixel (4,4) = %v", got)
	}
	if got := scaled.RGBAAt(0, 0); got != (color.RGBA{0xff, 0x00, 0x00, 0xff}) {
		t.Errorf("scaled pixel (0,0) = %v", got)
	}

	if scaleImage(img, 1) != img {
		t.Error("scale factor 1 must not copy the image")
	}
}

func TestANSIRendererOutput(t *testing.T) {
	var buf bytes.Buffer
	r := &ansiRenderer{out: &buf, scale: 1, log: logflags.RenderLogger()}

	img := testImage(2, 2, color.RGBA{0x10, 0x20, 0x30, 0xff})
	img.SetRGBA(0, 1, color.RGBA{0x40, 0x50, 0x60, 0xff})

	if err := r.Render(img, 1); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "\x1b[2J") {
		t.Error("first frame must clear the screen")
	}
	// cell (0,0): fg from pixel (0,0), bg from pixel (0,1)
	if !strings.Contains(out, "\x1b[38;2;16;32;48m\x1b[48;2;64;80;96m▀") {
		t.Errorf("half-block cell colors missing from %q", out)
	}

	// an unchanged frame must render nothing
	buf.Reset()
	if err := r.Render(img, 1); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("unchanged frame produced output %q", buf.String())
	}

	// a changed frame homes the cursor but does not clear again
	buf.Reset()
	if err := r.Render(img, 2); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	if !strings.HasPrefix(out, "\x1b[H") || strings.Contains(out, "\x1b[2J") {
		t.Errorf("unexpected escapes on second frame: %q", out)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\x1b[?25h") {
		t.Error("Close must restore the cursor")
	}
}

func TestANSIRendererOddHeight(t *testing.T) {
	var buf bytes.Buffer
	r := &ansiRenderer{out: &buf, scale: 1, log: logflags.RenderLogger()}

	img := testImage(3, 3, color.RGBA{0xff, 0xff, 0xff, 0xff})
	if err := r.Render(img, 1); err != nil {
		t.Fatal(err)
	}
	// 3 rows of pixels need 2 rows of cells
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("expected 2 cell rows, got %d", got)
	}
}

func TestSixelRendererCachesEncodedFrames(t *testing.T) {
	var buf bytes.Buffer
	cache, _ := lru.New(encodedFrameCacheSize)
	r := &sixelRenderer{out: &buf, scale: 1, encoded: cache}

	img := testImage(8, 8, color.RGBA{0xff, 0x00, 0x00, 0xff})
	sum := screen.Checksum(img.Pix)

	if err := r.Render(img, sum); err != nil {
		t.Fatal(err)
	}
	first := buf.String()
	if !strings.Contains(first, "\x1bP") {
		t.Errorf("no sixel introducer in output %q", first)
	}
	if r.encoded.Len() != 1 {
		t.Fatalf("cache length = %d", r.encoded.Len())
	}

	buf.Reset()
	if err := r.Render(img, sum); err != nil {
		t.Fatal(err)
	}
	if r.encoded.Len() != 1 {
		t.Fatalf("re-rendering the same frame must not re-encode, cache length = %d", r.encoded.Len())
	}
}

func TestPNGRendererNumberedFrames(t *testing.T) {
	dir := t.TempDir()
	r, err := newPNGRenderer(filepath.Join(dir, "frame-%d.png"), 2)
	if err != nil {
		t.Fatal(err)
	}

	red := testImage(4, 4, color.RGBA{0xff, 0x00, 0x00, 0xff})
	blue := testImage(4, 4, color.RGBA{0x00, 0x00, 0xff, 0xff})

	if err := r.Render(red, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Render(red, 1); err != nil { // duplicate, must be skipped
		t.Fatal(err)
	}
	if err := r.Render(blue, 2); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		f, err := os.Open(filepath.Join(dir, fmt.Sprintf("frame-%d.png", i)))
		if err != nil {
			t.Fatalf("frame %d missing: %v", i, err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("frame %d is not a png: %v", i, err)
		}
		if cfg.Width != 8 || cfg.Height != 8 {
			t.Errorf("frame %d is %dx%d, want 8x8 (scale 2)", i, cfg.Width, cfg.Height)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "frame-2.png")); err == nil {
		t.Error("duplicate frame must not produce a file")
	}
}

func TestPNGRendererNeedsPath(t *testing.T) {
	if _, err := newPNGRenderer("", 1); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New("x11", Options{}); err == nil {
		t.Fatal("expected error for unknown renderer")
	}
}
