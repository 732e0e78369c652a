package screen

import (
	"image/color"
	"testing"
)

func TestFrameSize(t *testing.T) {
	for _, tc := range []struct {
		mode Mode
		want int
	}{
		{Mode{Width: 128, Height: 64, Format: Mono}, 1024},
		{Mode{Width: 240, Height: 320, Format: RGB565}, 153600},
		{Mode{Width: 16, Height: 16, Format: RGB888}, 768},
		{Mode{Width: 16, Height: 16, Format: XRGB8888}, 1024},
		{Mode{Width: 16, Height: 16, Format: Gray8}, 256},
	} {
		if got := tc.mode.FrameSize(); got != tc.want {
			t.Errorf("%s %dx%d: FrameSize = %d, want %d", tc.mode.Format, tc.mode.Width, tc.mode.Height, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" RGB565 ")
	if err != nil {
		t.Fatal(err)
	}
	if f != RGB565 {
		t.Fatalf("ParseFormat returned %v", f)
	}
	if _, err := ParseFormat("bgr233"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestDecodeMonoPageLayout(t *testing.T) {
	mode := Mode{Width: 8, Height: 16, Format: Mono}
	raw := make([]byte, mode.FrameSize())

	// bit 0 of the first column byte is pixel (0,0)
	raw[0] = 0x01
	// bit 7 of column 3, page 0 is pixel (3,7)
	raw[3] = 0x80
	// bit 2 of column 5, page 1 is pixel (5,10)
	raw[1*mode.Width+5] = 0x04

	img, err := mode.Decode(raw, nil)
	if err != nil {
		t.Fatal(err)
	}

	fg, bg := DefaultMonoPalette()
	on := [][2]int{{0, 0}, {3, 7}, {5, 10}}
	for y := 0; y < mode.Height; y++ {
		for x := 0; x < mode.Width; x++ {
			want := bg
			for _, p := range on {
				if p[0] == x && p[1] == y {
					want = fg
				}
			}
			if got := img.RGBAAt(x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestDecodeMonoCustomPalette(t *testing.T) {
	mode := Mode{
		Width: 8, Height: 8, Format: Mono,
		Foreground: color.RGBA{0x00, 0xff, 0x00, 0xff},
		Background: color.RGBA{0x20, 0x20, 0x20, 0xff},
	}
	raw := make([]byte, mode.FrameSize())
	raw[2] = 0x01

	img, err := mode.Decode(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(2, 0); got != mode.Foreground {
		t.Errorf("foreground pixel = %v, want %v", got, mode.Foreground)
	}
	if got := img.RGBAAt(0, 0); got != mode.Background {
		t.Errorf("background pixel = %v, want %v", got, mode.Background)
	}
}

func TestDecodeRGB565(t *testing.T) {
	mode := Mode{Width: 4, Height: 1, Format: RGB565}
	// red, green, blue, white as little-endian 565
	raw := []byte{
		0x00, 0xf8, // 0xf800
		0xe0, 0x07, // 0x07e0
		0x1f, 0x00, // 0x001f
		0xff, 0xff, // 0xffff
	}
	img, err := mode.Decode(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []color.RGBA{
		{0xff, 0x00, 0x00, 0xff},
		{0x00, 0xff, 0x00, 0xff},
		{0x00, 0x00, 0xff, 0xff},
		{0xff, 0xff, 0xff, 0xff},
	}
	for x, w := range want {
		if got := img.RGBAAt(x, 0); got != w {
			t.Errorf("pixel %d = %v, want %v", x, got, w)
		}
	}

	// the same pixels byte-swapped must decode identically as rgb565be
	modeBE := Mode{Width: 4, Height: 1, Format: RGB565BE}
	rawBE := []byte{0xf8, 0x00, 0x07, 0xe0, 0x00, 0x1f, 0xff, 0xff}
	imgBE, err := modeBE.Decode(rawBE, nil)
	if err != nil {
		t.Fatal(err)
	}
	for x, w := range want {
		if got := imgBE.RGBAAt(x, 0); got != w {
			t.Errorf("big-endian pixel %d = %v, want %v", x, got, w)
		}
	}
}

func TestDecodeRGB565MidRange(t *testing.T) {
	// 0x8410 = r=16, g=32, b=16 -> channel expansion must match
	// v*255/31 and v*255/63
	mode := Mode{Width: 1, Height: 1, Format: RGB565}
	img, err := mode.Decode([]byte{0x10, 0x84}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := color.RGBA{uint8(16 * 255 / 31), uint8(32 * 255 / 63), uint8(16 * 255 / 31), 0xff}
	if got := img.RGBAAt(0, 0); got != want {
		t.Fatalf("pixel = %v, want %v", got, want)
	}
}

func TestDecodeRGB888AndXRGB(t *testing.T) {
	mode := Mode{Width: 2, Height: 1, Format: RGB888}
	img, err := mode.Decode([]byte{0x11, 0x22, 0x33, 0xaa, 0xbb, 0xcc}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{0x11, 0x22, 0x33, 0xff}) {
		t.Errorf("rgb888 pixel 0 = %v", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{0xaa, 0xbb, 0xcc, 0xff}) {
		t.Errorf("rgb888 pixel 1 = %v", got)
	}

	modeX := Mode{Width: 1, Height: 1, Format: XRGB8888}
	// little-endian: B G R X
	imgX, err := modeX.Decode([]byte{0x33, 0x22, 0x11, 0x00}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := imgX.RGBAAt(0, 0); got != (color.RGBA{0x11, 0x22, 0x33, 0xff}) {
		t.Errorf("xrgb8888 pixel = %v", got)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	mode := Mode{Width: 128, Height: 64, Format: Mono}
	if _, err := mode.Decode(make([]byte, 100), nil); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecodeInvalidMode(t *testing.T) {
	mode := Mode{Width: 128, Height: 60, Format: Mono}
	if _, err := mode.Decode(make([]byte, 1024), nil); err == nil {
		t.Fatal("expected error for mono height not divisible by 8")
	}
}

func TestDecodeReusesImage(t *testing.T) {
	mode := Mode{Width: 4, Height: 4, Format: Gray8}
	img1, err := mode.Decode(make([]byte, mode.FrameSize()), nil)
	if err != nil {
		t.Fatal(err)
	}
	img2, err := mode.Decode(make([]byte, mode.FrameSize()), img1)
	if err != nil {
		t.Fatal(err)
	}
	if img1 != img2 {
		t.Fatal("expected Decode to reuse the provided image")
	}
}

func TestChecksumChanges(t *testing.T) {
	a := make([]byte, 1024)
	b := make([]byte, 1024)
	if Checksum(a) != Checksum(b) {
		t.Fatal("identical frames must have identical checksums")
	}
	b[512] ^= 0x01
	if Checksum(a) == Checksum(b) {
		t.Fatal("modified frame must change the checksum")
	}
}
