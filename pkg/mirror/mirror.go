// Package mirror runs the read/render loop: poll the framebuffer region
// over the debug transport, decode it, hand it to a renderer, repeat.
package mirror

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/fbmirror/fbmirror/pkg/logflags"
	"github.com/fbmirror/fbmirror/pkg/render"
	"github.com/fbmirror/fbmirror/pkg/screen"
)

// MemoryReader is the slice of the probe session the loop needs.
type MemoryReader interface {
	ReadMemory(data []byte, addr uint64) error
}

const (
	// DefaultFPS is the polling rate used when none is configured.
	DefaultFPS = 30
	// DefaultMaxReadRetries is the number of consecutive failed reads
	// tolerated before the loop gives up.
	DefaultMaxReadRetries = 5

	statsInterval = 5 * time.Second
)

// Config parameterizes the loop.
type Config struct {
	// Mode is the display geometry and pixel format.
	Mode screen.Mode
	// Addr is the framebuffer address in target memory.
	Addr uint64
	// FPS is the polling rate.
	FPS int
	// MaxReadRetries is the number of consecutive failed reads tolerated
	// before the loop exits with the read error.
	MaxReadRetries int
}

// Mirror polls one framebuffer and feeds one renderer.
type Mirror struct {
	probe    MemoryReader
	renderer render.Renderer
	cfg      Config
	log      logflags.Logger

	raw []byte
	img *image.RGBA

	lastSum  uint64
	hasFrame bool

	frames  uint64
	skipped uint64
}

// New returns a Mirror ready to Run.
func New(probe MemoryReader, renderer render.Renderer, cfg Config) (*Mirror, error) {
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.MaxReadRetries <= 0 {
		cfg.MaxReadRetries = DefaultMaxReadRetries
	}
	return &Mirror{
		probe:    probe,
		renderer: renderer,
		cfg:      cfg,
		log:      logflags.MirrorLogger(),
		raw:      make([]byte, cfg.Mode.FrameSize()),
	}, nil
}

// Run polls until ctx is canceled or too many consecutive reads fail.
// Ticks that arrive while a read is still in flight are dropped, the loop
// never queues work.
func (m *Mirror) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(m.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failed := 0
	lastStats := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		start := time.Now()
		if err := m.probe.ReadMemory(m.raw, m.cfg.Addr); err != nil {
			failed++
			if failed > m.cfg.MaxReadRetries {
				return fmt.Errorf("giving up after %d consecutive failed reads: %v", failed, err)
			}
			if logflags.Mirror() {
				m.log.Warnf("framebuffer read failed (%d/%d): %v", failed, m.cfg.MaxReadRetries, err)
			}
			continue
		}
		failed = 0

		if err := m.step(); err != nil {
			return err
		}

		if logflags.Mirror() {
			if d := time.Since(start); d > interval {
				m.log.Debugf("frame took %s, longer than the %s frame period", d, interval)
			}
			if time.Since(lastStats) >= statsInterval {
				m.log.Debugf("%d frames mirrored, %d unchanged", m.frames, m.skipped)
				lastStats = time.Now()
			}
		}
	}
}

// Once reads and renders a single frame, for snapshots.
func (m *Mirror) Once() error {
	if err := m.probe.ReadMemory(m.raw, m.cfg.Addr); err != nil {
		return fmt.Errorf("framebuffer read failed: %v", err)
	}
	m.hasFrame = false // force the render
	return m.step()
}

func (m *Mirror) step() error {
	sum := screen.Checksum(m.raw)
	if m.hasFrame && sum == m.lastSum {
		m.skipped++
		return nil
	}

	img, err := m.cfg.Mode.Decode(m.raw, m.img)
	if err != nil {
		return err
	}
	m.img = img

	if err := m.renderer.Render(img, sum); err != nil {
		return fmt.Errorf("render failed: %v", err)
	}
	m.lastSum = sum
	m.hasFrame = true
	m.frames++
	return nil
}
