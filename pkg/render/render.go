// Package render draws decoded frames on the host, standing in for the
// display the firmware believes it is driving. Frames can go to the
// terminal as sixel graphics or colored half-block characters, or to PNG
// files.
package render

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	isatty "github.com/mattn/go-isatty"
)

// A Renderer shows successive framebuffer frames. The checksum identifies
// the frame contents so renderers can cache their encoded output.
type Renderer interface {
	Render(img *image.RGBA, checksum uint64) error
	Close() error
}

// ErrNotATerminal is returned when a terminal renderer is requested but
// stdout is not a tty.
var ErrNotATerminal = errors.New("stdout is not a terminal, use --renderer png")

// Options configure renderer construction.
type Options struct {
	// Scale is the integer magnification of the emulated display.
	Scale int
	// Path is the output file for the png renderer. A single '%d' verb, if
	// present, is replaced with the frame number.
	Path string
}

// New returns the renderer selected by kind: "sixel", "ansi", "png" or
// "auto".
func New(kind string, opts Options) (Renderer, error) {
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	switch kind {
	case "sixel":
		return newSixelRenderer(opts.Scale), nil
	case "ansi":
		return newANSIRenderer(opts.Scale), nil
	case "png":
		return newPNGRenderer(opts.Path, opts.Scale)
	case "auto", "":
		return autoRenderer(opts)
	}
	return nil, fmt.Errorf("unknown renderer %q (supported: auto, sixel, ansi, png)", kind)
}

func autoRenderer(opts Options) (Renderer, error) {
	if opts.Path != "" {
		return newPNGRenderer(opts.Path, opts.Scale)
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return nil, ErrNotATerminal
	}
	if terminalSupportsSixel() {
		return newSixelRenderer(opts.Scale), nil
	}
	return newANSIRenderer(opts.Scale), nil
}

// terminalSupportsSixel guesses sixel capability from the environment.
// Querying the terminal with DA1 would be authoritative but requires raw
// mode; a TERM allowlist covers the terminals this tool is actually used
// with, and --renderer overrides the guess.
func terminalSupportsSixel() bool {
	term := os.Getenv("TERM")
	for _, t := range []string{"mlterm", "yaft", "foot", "st-", "contour", "wezterm"} {
		if strings.HasPrefix(term, t) {
			return true
		}
	}
	switch os.Getenv("TERM_PROGRAM") {
	case "WezTerm", "mintty", "iTerm.app":
		return true
	}
	return term == "xterm-sixel"
}
