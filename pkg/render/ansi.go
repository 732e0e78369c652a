package render

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"

	colorable "github.com/mattn/go-colorable"

	"github.com/fbmirror/fbmirror/pkg/logflags"
)

// ansiRenderer draws frames with U+2580 half-block characters, two vertical
// pixels per terminal cell, using 24 bit color escapes. It works on any
// truecolor terminal and needs no graphics protocol.
type ansiRenderer struct {
	out      io.Writer
	scale    int
	started  bool
	lastSum  uint64
	hasFrame bool
	log      logflags.Logger
}

func newANSIRenderer(scale int) *ansiRenderer {
	return &ansiRenderer{
		out:   colorable.NewColorableStdout(),
		scale: scale,
		log:   logflags.RenderLogger(),
	}
}

func (r *ansiRenderer) Render(img *image.RGBA, checksum uint64) error {
	if r.hasFrame && checksum == r.lastSum {
		return nil
	}
	img = scaleImage(img, r.scale)

	if !r.started {
		r.checkFit(img)
		// clear once, hide the cursor for the duration of the session
		if _, err := io.WriteString(r.out, "\x1b[2J\x1b[?25l"); err != nil {
			return err
		}
		r.started = true
	}

	w := bufio.NewWriter(r.out)
	w.WriteString("\x1b[H")

	width, height := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x++ {
			top := img.RGBAAt(x, y)
			bot := top
			if y+1 < height {
				bot = img.RGBAAt(x, y+1)
			}
			fmt.Fprintf(w, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				top.R, top.G, top.B, bot.R, bot.G, bot.B)
		}
		w.WriteString("\x1b[0m\n")
	}
	if err := w.Flush(); err != nil {
		return err
	}

	r.lastSum = checksum
	r.hasFrame = true
	return nil
}

// checkFit warns when the emulated display does not fit the terminal.
func (r *ansiRenderer) checkFit(img *image.RGBA) {
	cols, rows, err := terminalSize(os.Stdout.Fd())
	if err != nil {
		return
	}
	needCols, needRows := img.Rect.Dx(), (img.Rect.Dy()+1)/2
	if needCols > cols || needRows > rows {
		r.log.Warnf("display needs %dx%d cells but the terminal only has %dx%d, output will wrap",
			needCols, needRows, cols, rows)
	}
}

func (r *ansiRenderer) Close() error {
	if !r.started {
		return nil
	}
	_, err := io.WriteString(r.out, "\x1b[0m\x1b[?25h\n")
	return err
}
