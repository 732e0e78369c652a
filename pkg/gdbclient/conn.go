// Package gdbclient implements the subset of the "Gdb Remote Serial
// Protocol" needed to read target memory through a hardware debug probe.
//
// The protocol is specified at:
//   https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
//
// Terminology:
//  * target: the microcontroller whose memory we are reading
//  * stub: the debugger on the other side of the protocol's connection, here
//    either OpenOCD's gdb server or SEGGER's J-Link GDB Server
//
// Implementations of the protocol vary wildly between stubs. Both stubs we
// care about answer qSupported (which we need for PacketSize, governing how
// many bytes a single 'm' packet may return) and QStartNoAckMode, but
// neither can be assumed to implement much beyond the original core of the
// protocol, so this package sticks to 'm', 'qRcmd' and 'D', plus binary 'x'
// reads where the stub answers the 'x0,0' probe.
package gdbclient

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/fbmirror/fbmirror/pkg/logflags"
)

const (
	gdbWireMaxLen = 120

	maxTransmitAttempts    = 3    // number of retransmission attempts on failed checksum
	initialInputBufferSize = 2048 // size of the input buffer for Conn
)

// ErrTooManyAttempts is returned when a packet could not be transmitted or
// received with a good checksum too many times in a row.
var ErrTooManyAttempts = errors.New("too many transmit attempts")

// ProtocolError is an error response (Exx) of Gdb Remote Serial Protocol
// or an "unsupported command" response (empty packet).
type ProtocolError struct {
	context string
	cmd     string
	code    string
}

func (err *ProtocolError) Error() string {
	cmd := err.cmd
	if len(cmd) > 20 {
		cmd = cmd[:20] + "..."
	}
	if err.code == "" {
		return fmt.Sprintf("unsupported packet %s during %s", cmd, err.context)
	}
	return fmt.Sprintf("protocol error %s during %s for packet %s", err.code, err.context, cmd)
}

func isProtocolErrorUnsupported(err error) bool {
	gdberr, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	return gdberr.code == ""
}

// Conn is a connection to a debugger stub that understands Gdb Remote
// Serial Protocol.
type Conn struct {
	conn net.Conn
	rdr  *bufio.Reader

	inbuf  []byte
	outbuf bytes.Buffer

	packetSize int // maximum packet size supported by stub

	ack                 bool // when ack is true acknowledgment packets are enabled
	xcmdok              bool // x (binary read memory) packet supported by stub
	maxTransmitAttempts int  // maximum number of transmit or receive attempts when bad checksums are read

	log logflags.Logger
}

const qSupported = "$qSupported:swbreak+;hwbreak+"

// Dial connects to a stub listening at addr.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Connect(c)
}

// Connect completes the connection with a handshake over c.
func Connect(c net.Conn) (*Conn, error) {
	conn := &Conn{
		conn:                c,
		inbuf:               make([]byte, 0, initialInputBufferSize),
		maxTransmitAttempts: maxTransmitAttempts,
		log:                 logflags.GdbWireLogger(),
	}
	if err := conn.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return conn, nil
}

func (conn *Conn) handshake() error {
	conn.ack = true
	conn.packetSize = 256
	conn.rdr = bufio.NewReader(conn.conn)

	// This first ack packet is needed to start up the connection
	conn.sendack('+')

	conn.disableAck()

	if _, err := conn.qSupported(); err != nil {
		return err
	}

	conn.probeXcmd()

	return nil
}

// probeXcmd checks whether the stub implements the 'x' (binary read memory)
// packet. Stubs that do answer the empty probe with "OK", everything else is
// taken as unsupported.
func (conn *Conn) probeXcmd() {
	resp, err := conn.exec([]byte("$x0,0"), "init/x-probe")
	if err == nil && string(resp) == "OK" {
		conn.xcmdok = true
	}
}

// qSupported interprets qSupported responses, we only care about PacketSize.
func (conn *Conn) qSupported() (features map[string]bool, err error) {
	respBuf, err := conn.exec([]byte(qSupported), "init/qSupported")
	if err != nil {
		return nil, err
	}
	resp := strings.Split(string(respBuf), ";")
	features = make(map[string]bool)
	for _, stubfeature := range resp {
		if len(stubfeature) <= 0 {
			continue
		} else if equal := strings.Index(stubfeature, "="); equal >= 0 {
			if stubfeature[:equal] == "PacketSize" {
				if n, err := strconv.ParseInt(stubfeature[equal+1:], 16, 64); err == nil {
					conn.packetSize = int(n)
				}
			}
		} else if stubfeature[len(stubfeature)-1] == '+' {
			features[stubfeature[:len(stubfeature)-1]] = true
		}
	}
	return features, nil
}

// disableAck disables protocol acks.
func (conn *Conn) disableAck() error {
	_, err := conn.exec([]byte("$QStartNoAckMode"), "init/disableAck")
	if err == nil {
		conn.ack = false
	}
	return err
}

// PacketSize returns the maximum packet size negotiated with the stub.
func (conn *Conn) PacketSize() int {
	return conn.packetSize
}

// ReadMemory fills data with the contents of target memory starting at
// addr. Stubs that implement the 'x' packet get binary reads, which halve
// the wire traffic of a frame; everything else gets hex 'm' reads.
func (conn *Conn) ReadMemory(data []byte, addr uint64) error {
	if conn.xcmdok {
		return conn.readMemoryBinary(data, addr)
	}
	return conn.readMemoryHex(data, addr)
}

// readMemoryBinary executes 'x' (binary read memory) commands.
func (conn *Conn) readMemoryBinary(data []byte, addr uint64) error {
	size := len(data)
	data = data[:0]

	for len(data) < size {
		conn.outbuf.Reset()

		// worst case every payload byte is an escape pair, plus the 'b'
		// reply marker
		sz := size - len(data)
		if dataSize := (conn.packetSize - 5) / 2; sz > dataSize {
			sz = dataSize
		}

		fmt.Fprintf(&conn.outbuf, "$x%x,%x", addr+uint64(len(data)), sz)
		if err := conn.send(conn.outbuf.Bytes()); err != nil {
			return err
		}
		resp, err := conn.recv(conn.outbuf.Bytes(), "binary memory read", true)
		if err != nil {
			return err
		}
		if resp[0] != 'b' {
			return fmt.Errorf("binary memory read at %#x: malformed reply", addr+uint64(len(data)))
		}
		payload := resp[1:]
		if len(payload) < sz {
			return fmt.Errorf("short read at %#x: expected %d bytes, stub returned %d", addr+uint64(len(data)), sz, len(payload))
		}
		data = append(data, payload[:sz]...)
	}
	return nil
}

// readMemoryHex executes 'm' (read memory) commands until data is filled
// with the contents of target memory starting at addr.
func (conn *Conn) readMemoryHex(data []byte, addr uint64) error {
	size := len(data)
	data = data[:0]

	for size > 0 {
		conn.outbuf.Reset()

		// gdbserver will crash if we ask too many bytes... not return an error, actually crash
		sz := size
		if dataSize := (conn.packetSize - 4) / 2; sz > dataSize {
			sz = dataSize
		}
		size = size - sz

		fmt.Fprintf(&conn.outbuf, "$m%x,%x", addr+uint64(len(data)), sz)
		resp, err := conn.exec(conn.outbuf.Bytes(), "memory read")
		if err != nil {
			return err
		}

		for i := 0; i+1 < len(resp); i += 2 {
			n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
			data = append(data, uint8(n))
		}

		if len(resp)/2 < sz {
			return fmt.Errorf("short read at %#x: expected %d bytes, stub returned %d", addr+uint64(len(data)), sz, len(resp)/2)
		}
	}
	return nil
}

func writeAsciiBytes(w *bytes.Buffer, data []byte) {
	for _, b := range data {
		fmt.Fprintf(w, "%02x", b)
	}
}

// Monitor executes a qRcmd command, passing cmd to the stub for
// interpretation (`monitor` in a gdb session). The console output of the
// stub, if any, is returned.
func (conn *Conn) Monitor(cmd string) (string, error) {
	conn.outbuf.Reset()
	fmt.Fprint(&conn.outbuf, "$qRcmd,")
	writeAsciiBytes(&conn.outbuf, []byte(cmd))
	if err := conn.send(conn.outbuf.Bytes()); err != nil {
		return "", err
	}

	var out []byte
	for {
		resp, err := conn.recv(conn.outbuf.Bytes(), "monitor", false)
		if err != nil {
			return string(out), err
		}
		switch {
		case len(resp) >= 2 && resp[0] == 'O' && len(resp)%2 == 1:
			// intermediate console output packet, hex encoded
			for i := 1; i < len(resp); i += 2 {
				n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
				out = append(out, uint8(n))
			}
		case string(resp) == "OK":
			return string(out), nil
		default:
			// some stubs answer with the hex encoded output directly
			for i := 0; i+1 < len(resp); i += 2 {
				n, _ := strconv.ParseUint(string(resp[i:i+2]), 16, 8)
				out = append(out, uint8(n))
			}
			return string(out), nil
		}
	}
}

// Detach executes a 'D' (detach) command and closes the connection.
func (conn *Conn) Detach() error {
	if conn.conn == nil {
		// Already detached
		return nil
	}
	_, err := conn.exec([]byte{'$', 'D'}, "detach")
	conn.conn.Close()
	conn.conn = nil
	if isProtocolErrorUnsupported(err) {
		// J-Link GDB Server may answer 'D' with an empty packet when no
		// target is connected. The session is closed either way.
		return nil
	}
	return err
}

// exec executes a message to the stub and reads a response.
// The details of the wire protocol are described here:
//  https://sourceware.org/gdb/onlinedocs/gdb/Overview.html#Overview
func (conn *Conn) exec(cmd []byte, context string) ([]byte, error) {
	if err := conn.send(cmd); err != nil {
		return nil, err
	}
	return conn.recv(cmd, context, false)
}

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

func (conn *Conn) send(cmd []byte) error {
	if len(cmd) == 0 || cmd[0] != '$' {
		panic("gdb protocol error: command doesn't start with '$'")
	}

	// append checksum to packet
	cmd = append(cmd, '#')
	sum := checksum(cmd)
	cmd = append(cmd, hexdigit[sum>>4], hexdigit[sum&0xf])

	attempt := 0
	for {
		if logflags.GdbWire() {
			if len(cmd) > gdbWireMaxLen {
				conn.log.Debugf("<- %s...", string(cmd[:gdbWireMaxLen]))
			} else {
				conn.log.Debugf("<- %s", string(cmd))
			}
		}
		_, err := conn.conn.Write(cmd)
		if err != nil {
			return err
		}

		if !conn.ack {
			break
		}

		if conn.readack() {
			break
		}
		if attempt > conn.maxTransmitAttempts {
			return ErrTooManyAttempts
		}
		attempt++
	}
	return nil
}

func (conn *Conn) recv(cmd []byte, context string, binary bool) (resp []byte, err error) {
	attempt := 0
	for {
		var err error
		resp, err = conn.rdr.ReadBytes('#')
		if err != nil {
			return nil, err
		}

		// read checksum
		_, err = io.ReadFull(conn.rdr, conn.inbuf[:2])
		if err != nil {
			return nil, err
		}
		if logflags.GdbWire() {
			out := resp
			partial := false
			if idx := bytes.Index(out, []byte{'\n'}); idx >= 0 {
				out = resp[:idx]
				partial = true
			}
			if len(out) > gdbWireMaxLen {
				out = out[:gdbWireMaxLen]
				partial = true
			}
			if !partial {
				conn.log.Debugf("-> %s%s", string(resp), string(conn.inbuf[:2]))
			} else {
				conn.log.Debugf("-> %s...", string(out))
			}
		}

		if resp[0] == '%' {
			// Notification packet, we claimed no support for notifications
			// so it should be safe to ignore regardless.
			continue
		}

		if !conn.ack {
			break
		}

		if checksumok(resp, conn.inbuf[:2]) {
			conn.sendack('+')
			break
		}
		if attempt > conn.maxTransmitAttempts {
			conn.sendack('+')
			return nil, ErrTooManyAttempts
		}
		attempt++
		conn.sendack('-')
	}

	if binary {
		conn.inbuf, resp = binarywiredecode(resp, conn.inbuf)
	} else {
		conn.inbuf, resp = wiredecode(resp, conn.inbuf)
	}

	if len(resp) == 0 || resp[0] == 'E' && len(resp) == 3 {
		cmdstr := ""
		if cmd != nil {
			cmdstr = string(cmd)
		}
		return nil, &ProtocolError{context, cmdstr, string(resp)}
	}

	return resp, nil
}

// readack reads one byte from stub, returns true if the byte is '+'
func (conn *Conn) readack() bool {
	b, err := conn.rdr.ReadByte()
	if err != nil {
		return false
	}
	conn.log.Debugf("-> %s", string(b))
	return b == '+'
}

// sendack executes an ack character, c must be either '+' or '-'
func (conn *Conn) sendack(c byte) {
	if c != '+' && c != '-' {
		panic(fmt.Errorf("sendack(%c)", c))
	}
	conn.conn.Write([]byte{c})
	conn.log.Debugf("<- %s", string(c))
}

// escapeXor is the value mandated by the specification to escape characters
const escapeXor byte = 0x20

// wiredecode decodes the contents of in into buf.
// If buf is nil it will be allocated ex-novo, if the size of buf is not
// enough to hold the decoded contents it will be grown.
// Returns the newly allocated buffer as newbuf and the message contents as
// msg.
func wiredecode(in, buf []byte) (newbuf, msg []byte) {
	if buf != nil {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, 256)
	}

	start := 1

	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case '{': // escape
			if i+1 >= len(in) {
				buf = append(buf, ch)
			} else {
				buf = append(buf, in[i+1]^escapeXor)
				i++
			}
		case ':':
			buf = append(buf, ch)
			if i == 3 {
				// we just read the sequence identifier
				start = i + 1
			}
		case '#': // end of packet
			return buf, buf[start:]
		case '*': // runlength encoding marker
			if i+1 >= len(in) || i == 0 {
				buf = append(buf, ch)
			} else {
				n := in[i+1] - 29
				r := buf[len(buf)-1]
				for j := uint8(0); j < n; j++ {
					buf = append(buf, r)
				}
				i++
			}
		default:
			buf = append(buf, ch)
		}
	}
	return buf, buf[start:]
}

// binarywiredecode is like wiredecode but decodes the wire encoding for
// binary packets, such as the 'x' and 'X' packets.
func binarywiredecode(in, buf []byte) (newbuf, msg []byte) {
	if buf != nil {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, 256)
	}

	start := 1

	for i := 0; i < len(in); i++ {
		switch ch := in[i]; ch {
		case '}': // escape
			if i+1 >= len(in) {
				buf = append(buf, ch)
			} else {
				buf = append(buf, in[i+1]^escapeXor)
				i++
			}
		case '#': // end of packet
			return buf, buf[start:]
		default:
			buf = append(buf, ch)
		}
	}
	return buf, buf[start:]
}

// checksumok checks that checksum is a valid checksum for packet.
func checksumok(packet, checksumBuf []byte) bool {
	if packet[0] != '$' {
		return false
	}

	sum := checksum(packet)
	tgt, err := strconv.ParseUint(string(checksumBuf), 16, 8)
	if err != nil {
		return false
	}
	return sum == uint8(tgt)
}

func checksum(packet []byte) (sum uint8) {
	for i := 1; i < len(packet); i++ {
		if packet[i] == '#' {
			return sum
		}
		sum += packet[i]
	}
	return sum
}
