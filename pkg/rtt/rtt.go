// Package rtt reads the SEGGER RTT channel exposed over TCP by J-Link GDB
// Server (default port 19021) or by OpenOCD's `rtt server start`. The only
// structured use fbmirror has for the channel is framebuffer address
// discovery; everything else read from it is passed on to the log.
package rtt

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fbmirror/fbmirror/pkg/logflags"
)

// AnnouncePrefix starts the line with which the firmware announces the
// framebuffer address, e.g. "D-VRAM: 0x200003c0".
const AnnouncePrefix = "D-VRAM:"

// ErrNoAnnounce is returned when the RTT stream ended or timed out before
// the framebuffer address was announced.
var ErrNoAnnounce = errors.New("the firmware must send the address of the display frame buffer over RTT, " +
	"following the pattern 'D-VRAM: <address>', e.g.: 'D-VRAM: 0xDEADBEEF'")

// Client reads lines from an RTT TCP server.
type Client struct {
	conn net.Conn
	rdr  *bufio.Reader
	log  logflags.Logger
}

// Dial connects to the RTT TCP server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RTT server at %s: %v", addr, err)
	}
	return &Client{
		conn: conn,
		rdr:  bufio.NewReader(conn),
		log:  logflags.RTTLogger(),
	}, nil
}

// NewClient reads RTT data from an already open connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		rdr:  bufio.NewReader(conn),
		log:  logflags.RTTLogger(),
	}
}

// Close closes the connection to the RTT server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DiscoverVRAM scans the RTT stream for the framebuffer address
// announcement and returns the parsed address. Lines that are not the
// announcement are logged and skipped. If the announcement does not arrive
// within timeout ErrNoAnnounce is returned.
func (c *Client) DiscoverVRAM(timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		line, err := c.rdr.ReadString('\n')
		if line != "" {
			if addr, ok := parseAnnounce(line); ok {
				return addr, nil
			}
			if trimmed := cleanLine(line); trimmed != "" && logflags.RTT() {
				c.log.Debugf("target: %s", trimmed)
			}
		}
		if err != nil {
			if neterr, isneterr := err.(net.Error); isneterr && neterr.Timeout() {
				return 0, ErrNoAnnounce
			}
			if line == "" {
				return 0, fmt.Errorf("RTT stream closed before the framebuffer address was announced: %w", ErrNoAnnounce)
			}
			return 0, err
		}
	}
}

// parseAnnounce parses a framebuffer address announcement line.
func parseAnnounce(line string) (uint64, bool) {
	line = cleanLine(line)
	if !strings.HasPrefix(line, AnnouncePrefix) {
		return 0, false
	}
	val := strings.TrimSpace(line[len(AnnouncePrefix):])
	val = strings.TrimPrefix(val, "0x")
	val = strings.TrimPrefix(val, "0X")
	addr, err := strconv.ParseUint(val, 16, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}

// cleanLine removes the line terminator and any telnet IAC negotiation or
// other control bytes the J-Link RTT telnet port prepends to the stream.
func cleanLine(line string) string {
	clean := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch == telnetIAC && i+2 < len(line) {
			// IAC command: skip verb and option
			i += 2
			continue
		}
		if ch >= 0x20 && ch < 0x7f {
			clean = append(clean, ch)
		}
	}
	return strings.TrimSpace(string(clean))
}

const telnetIAC = 0xff
