package render

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// scaleImage magnifies img by an integer factor. Nearest neighbor keeps the
// hard pixel edges of a small embedded display instead of smearing them.
func scaleImage(img *image.RGBA, factor int) *image.RGBA {
	if factor <= 1 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, img.Rect.Dx()*factor, img.Rect.Dy()*factor))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, img, img.Rect, xdraw.Src, nil)
	return dst
}
