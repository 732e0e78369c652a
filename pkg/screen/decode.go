package screen

import (
	"fmt"
	"hash/fnv"
	"image"
)

// Decode unpacks one frame of raw framebuffer bytes into img, allocating it
// when nil or wrongly sized. The returned image is img (or its replacement)
// so callers can reuse the allocation across frames.
func (m Mode) Decode(raw []byte, img *image.RGBA) (*image.RGBA, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(raw) < m.FrameSize() {
		return nil, fmt.Errorf("short frame: got %d bytes, format %s needs %d", len(raw), m.Format, m.FrameSize())
	}
	if img == nil || img.Rect.Dx() != m.Width || img.Rect.Dy() != m.Height {
		img = image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	}

	switch m.Format {
	case Mono:
		m.decodeMono(raw, img)
	case RGB565, RGB565BE:
		m.decodeRGB565(raw, img)
	case RGB888:
		m.decodeRGB888(raw, img)
	case XRGB8888:
		m.decodeXRGB8888(raw, img)
	case Gray8:
		m.decodeGray8(raw, img)
	default:
		return nil, fmt.Errorf("cannot decode format %s", m.Format)
	}
	return img, nil
}

// decodeMono unpacks the page layout used by SSD1306-class controllers:
// pages of 8 rows, one byte per column, LSB at the top of the page.
func (m Mode) decodeMono(raw []byte, img *image.RGBA) {
	fg, bg := m.Foreground, m.Background
	if fg == bg {
		fg, bg = DefaultMonoPalette()
	}
	pages := m.Height / 8
	for page := 0; page < pages; page++ {
		for column := 0; column < m.Width; column++ {
			b := raw[column+page*m.Width]
			for bit := 0; bit < 8; bit++ {
				c := bg
				if b&(1<<uint(bit)) != 0 {
					c = fg
				}
				img.SetRGBA(column, page*8+bit, c)
			}
		}
	}
}

func (m Mode) decodeRGB565(raw []byte, img *image.RGBA) {
	be := m.Format == RGB565BE
	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var px uint16
			if be {
				px = uint16(raw[i])<<8 | uint16(raw[i+1])
			} else {
				px = uint16(raw[i+1])<<8 | uint16(raw[i])
			}
			i += 2
			o := img.PixOffset(x, y)
			img.Pix[o+0] = expand5(uint8(px >> 11))
			img.Pix[o+1] = expand6(uint8(px >> 5 & 0x3f))
			img.Pix[o+2] = expand5(uint8(px & 0x1f))
			img.Pix[o+3] = 0xff
		}
	}
}

func (m Mode) decodeRGB888(raw []byte, img *image.RGBA) {
	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			o := img.PixOffset(x, y)
			img.Pix[o+0] = raw[i+0]
			img.Pix[o+1] = raw[i+1]
			img.Pix[o+2] = raw[i+2]
			img.Pix[o+3] = 0xff
			i += 3
		}
	}
}

func (m Mode) decodeXRGB8888(raw []byte, img *image.RGBA) {
	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			o := img.PixOffset(x, y)
			// little-endian XRGB: B G R X in memory
			img.Pix[o+0] = raw[i+2]
			img.Pix[o+1] = raw[i+1]
			img.Pix[o+2] = raw[i+0]
			img.Pix[o+3] = 0xff
			i += 4
		}
	}
}

func (m Mode) decodeGray8(raw []byte, img *image.RGBA) {
	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			o := img.PixOffset(x, y)
			v := raw[i]
			img.Pix[o+0] = v
			img.Pix[o+1] = v
			img.Pix[o+2] = v
			img.Pix[o+3] = 0xff
			i++
		}
	}
}

// expand5 scales a 5 bit channel to 8 bits.
func expand5(v uint8) uint8 {
	return uint8((uint16(v&0x1f) * 255) / 31)
}

// expand6 scales a 6 bit channel to 8 bits.
func expand6(v uint8) uint8 {
	return uint8((uint16(v&0x3f) * 255) / 63)
}

// Checksum hashes one frame of raw framebuffer bytes. It is used to skip
// decoding and rendering of unchanged frames.
func Checksum(raw []byte) uint64 {
	h := fnv.New64a()
	h.Write(raw)
	return h.Sum64()
}
