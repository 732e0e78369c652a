// Package screen decodes raw framebuffer bytes into images.
package screen

import (
	"fmt"
	"image/color"
	"strings"
)

// Format is the pixel format of the target framebuffer.
type Format uint8

const (
	// Mono is the SSD1306-style page-packed monochrome layout: the
	// framebuffer is height/8 pages, each page is width column bytes and
	// bit 0 of a column byte is the topmost row of its page.
	Mono Format = iota
	// RGB565 is 16 bits per pixel, 5/6/5 split, little-endian.
	RGB565
	// RGB565BE is RGB565 with big-endian pixels.
	RGB565BE
	// RGB888 is 24 bits per pixel, R first.
	RGB888
	// XRGB8888 is 32 bits per pixel, little-endian, high byte ignored.
	XRGB8888
	// Gray8 is 8 bits of luminance per pixel.
	Gray8
)

var formatNames = map[string]Format{
	"mono":     Mono,
	"rgb565":   RGB565,
	"rgb565be": RGB565BE,
	"rgb888":   RGB888,
	"xrgb8888": XRGB8888,
	"gray8":    Gray8,
}

// ParseFormat converts a format name from the command line or the config
// file into a Format.
func ParseFormat(s string) (Format, error) {
	f, ok := formatNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown pixel format %q (supported: %s)", s, FormatNames())
	}
	return f, nil
}

// FormatNames returns the comma separated list of supported format names.
func FormatNames() string {
	return "mono, rgb565, rgb565be, rgb888, xrgb8888, gray8"
}

func (f Format) String() string {
	for name, format := range formatNames {
		if format == f {
			return name
		}
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// BytesPerPixel returns the framebuffer size of one pixel. For Mono, which
// packs eight pixels in a byte, it returns 0; use Mode.FrameSize.
func (f Format) BytesPerPixel() int {
	switch f {
	case Mono:
		return 0
	case RGB565, RGB565BE:
		return 2
	case RGB888:
		return 3
	case XRGB8888:
		return 4
	case Gray8:
		return 1
	}
	return 0
}

// Mode describes the geometry and pixel format of the emulated display.
type Mode struct {
	Width  int
	Height int
	Format Format

	// Foreground and Background are only used by the Mono format.
	Foreground color.RGBA
	Background color.RGBA
}

// DefaultMonoPalette returns white pixels on a black background, the most
// common color of the mono OLED modules this layout comes from.
func DefaultMonoPalette() (fg, bg color.RGBA) {
	return color.RGBA{0xff, 0xff, 0xff, 0xff}, color.RGBA{0x00, 0x00, 0x00, 0xff}
}

// Validate checks that the mode describes a decodable framebuffer.
func (m Mode) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", m.Width, m.Height)
	}
	if m.Format == Mono && m.Height%8 != 0 {
		return fmt.Errorf("mono display height must be a multiple of 8, got %d", m.Height)
	}
	return nil
}

// FrameSize returns the number of framebuffer bytes a full frame occupies.
func (m Mode) FrameSize() int {
	if m.Format == Mono {
		return m.Width * (m.Height / 8)
	}
	return m.Width * m.Height * m.Format.BytesPerPixel()
}
