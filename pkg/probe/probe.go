// Package probe opens a debug session with the hardware probe attached to
// the target, through the probe's gdb server stub: either SEGGER J-Link GDB
// Server or OpenOCD. The stub may already be running (Connect) or be
// spawned for the duration of the session (Launch).
package probe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fbmirror/fbmirror/pkg/gdbclient"
	"github.com/fbmirror/fbmirror/pkg/logflags"
)

// Backend names accepted by the --backend flag.
const (
	JLink   = "jlink"
	OpenOCD = "openocd"
)

const (
	connectTimeout = 10 * time.Second
	connectRetry   = 200 * time.Millisecond
)

// ErrBackendUnavailable is returned when the stub program can not be found.
type ErrBackendUnavailable struct {
	executable string
}

func (err *ErrBackendUnavailable) Error() string {
	return fmt.Sprintf("backend unavailable: %s not found in $PATH", err.executable)
}

var errUnknownBackend = errors.New("unknown backend (supported: jlink, openocd)")

// Options describe how to reach the probe.
type Options struct {
	// Backend is either JLink or OpenOCD.
	Backend string
	// Addr is the gdb server address; when empty the backend default is used.
	Addr string
	// RTTAddr is the RTT TCP server address; when empty the backend default
	// is used.
	RTTAddr string
	// Interface selects the debug transport wired to the target, "swd" or
	// "jtag". Only used when the stub is launched by fbmirror.
	Interface string
	// Device is the target device name passed to J-Link GDB Server.
	Device string
	// MonitorCommands are sent to the stub with qRcmd after connecting.
	MonitorCommands []string
}

// DefaultAddr returns the gdb server address the backend listens on by
// default: J-Link GDB Server uses 2331, OpenOCD uses 3333.
func DefaultAddr(backend string) (string, error) {
	switch backend {
	case JLink:
		return "localhost:2331", nil
	case OpenOCD:
		return "localhost:3333", nil
	}
	return "", errUnknownBackend
}

// DefaultRTTAddr returns the RTT TCP server address for the backend.
// J-Link GDB Server serves RTT on its telnet port 19021. OpenOCD has no
// fixed port; 9090 matches the `rtt server start 9090 0` example from the
// default config file.
func DefaultRTTAddr(backend string) (string, error) {
	switch backend {
	case JLink:
		return "localhost:19021", nil
	case OpenOCD:
		return "localhost:9090", nil
	}
	return "", errUnknownBackend
}

// Session is an open debug session with a probe.
type Session struct {
	Conn *gdbclient.Conn

	// RTTAddr is the resolved RTT server address for this session.
	RTTAddr string

	process *exec.Cmd
	log     logflags.Logger
}

// Connect attaches to an already-running stub and runs the configured
// monitor commands.
func Connect(opts Options) (*Session, error) {
	addr := opts.Addr
	if addr == "" {
		var err error
		if addr, err = DefaultAddr(opts.Backend); err != nil {
			return nil, err
		}
	}
	rttAddr := opts.RTTAddr
	if rttAddr == "" {
		if def, err := DefaultRTTAddr(opts.Backend); err == nil {
			rttAddr = def
		}
	}

	s := &Session{RTTAddr: rttAddr, log: logflags.ProbeLogger()}
	if logflags.Probe() {
		s.log.Debugf("connecting to %s stub at %s", opts.Backend, addr)
	}
	conn, err := gdbclient.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s gdb server at %s: %v", opts.Backend, addr, err)
	}
	s.Conn = conn

	if err := s.runMonitorCommands(opts.MonitorCommands); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Launch spawns the stub for the selected backend, waits for its gdb server
// port to accept connections and completes the session like Connect. The
// spawned process is killed when the session is closed.
//
// serverArgs are appended to the generated command line; for OpenOCD they
// are usually the -f interface/target config file selections.
func Launch(opts Options, serverArgs []string) (*Session, error) {
	executable, args, err := launchCommand(opts, serverArgs)
	if err != nil {
		return nil, err
	}
	absPath, err := exec.LookPath(executable)
	if err != nil {
		return nil, &ErrBackendUnavailable{executable: executable}
	}

	process := exec.Command(absPath, args...)
	if logflags.Probe() {
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
	}
	if err := process.Start(); err != nil {
		return nil, err
	}

	addr := opts.Addr
	if addr == "" {
		addr, _ = DefaultAddr(opts.Backend)
	}
	if err := waitForPort(addr, connectTimeout); err != nil {
		process.Process.Kill()
		process.Wait()
		return nil, fmt.Errorf("%s did not open %s: %v", executable, addr, err)
	}

	s, err := Connect(opts)
	if err != nil {
		process.Process.Kill()
		process.Wait()
		return nil, err
	}
	s.process = process
	return s, nil
}

// launchCommand builds the stub command line for the backend.
func launchCommand(opts Options, serverArgs []string) (string, []string, error) {
	iface := strings.ToLower(opts.Interface)
	if iface == "" {
		iface = "swd"
	}
	if iface != "swd" && iface != "jtag" {
		return "", nil, fmt.Errorf("unknown debug interface %q (supported: swd, jtag)", opts.Interface)
	}

	switch opts.Backend {
	case JLink:
		if opts.Device == "" {
			return "", nil, errors.New("launching J-Link GDB Server requires a device name")
		}
		args := []string{
			"-device", opts.Device,
			"-if", strings.ToUpper(iface),
			"-silent", "-singlerun", "-nogui",
		}
		return "JLinkGDBServerCLExe", append(args, serverArgs...), nil
	case OpenOCD:
		if len(serverArgs) == 0 {
			return "", nil, errors.New("launching OpenOCD requires the -f interface/target arguments")
		}
		args := []string{"-c", "transport select " + iface}
		return "openocd", append(args, serverArgs...), nil
	}
	return "", nil, errUnknownBackend
}

// waitForPort polls addr until something accepts the connection; stubs need
// a moment between process start and listening.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, connectRetry)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(connectRetry)
	}
}

func (s *Session) runMonitorCommands(cmds []string) error {
	for _, cmd := range cmds {
		out, err := s.Conn.Monitor(cmd)
		if err != nil {
			return fmt.Errorf("monitor command %q failed: %v", cmd, err)
		}
		if logflags.Probe() && strings.TrimSpace(out) != "" {
			s.log.Debugf("monitor %q: %s", cmd, strings.TrimSpace(out))
		}
	}
	return nil
}

// Close detaches from the stub and, if the stub was launched by this
// session, kills it.
func (s *Session) Close() error {
	var err error
	if s.Conn != nil {
		err = s.Conn.Detach()
	}
	if s.process != nil {
		s.process.Process.Kill()
		s.process.Wait()
		s.process = nil
	}
	return err
}
