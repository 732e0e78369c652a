// Package logflags turns the comma separated list given to --log-output into
// per-component loggers.
package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var any = false
var gdbWire = false
var probe = false
var rtt = false
var mirror = false
var render = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	} else {
		logger.Out = os.Stderr
	}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

// Any returns true if any logging is enabled.
func Any() bool {
	return any
}

// GdbWire returns true if the gdbclient package should log all the packets
// exchanged with the stub.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the gdb remote serial protocol.
func GdbWireLogger() Logger {
	return makeLogger(gdbWire, Fields{"layer": "gdbconn"})
}

// Probe returns true if the probe package should log session setup.
func Probe() bool {
	return probe
}

// ProbeLogger returns a logger for probe session setup.
func ProbeLogger() Logger {
	return makeLogger(probe, Fields{"layer": "probe"})
}

// RTT returns true if lines read from the RTT channel should be logged.
func RTT() bool {
	return rtt
}

// RTTLogger returns a logger for the RTT channel.
func RTTLogger() Logger {
	return makeLogger(rtt, Fields{"layer": "rtt"})
}

// Mirror returns true if the read/render loop should log statistics.
func Mirror() bool {
	return mirror
}

// MirrorLogger returns a logger for the read/render loop.
func MirrorLogger() Logger {
	return makeLogger(mirror, Fields{"layer": "mirror"})
}

// Render returns true if the renderers should log.
func Render() bool {
	return render
}

// RenderLogger returns a logger for the renderers.
func RenderLogger() Logger {
	return makeLogger(render, Fields{"layer": "render"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If logDest is
// not empty logs will be redirected to the file or file descriptor it names.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "fbmirror-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	any = true
	if logstr == "" {
		logstr = "mirror"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "gdbwire":
			gdbWire = true
		case "probe":
			probe = true
		case "rtt":
			rtt = true
		case "mirror":
			mirror = true
		case "render":
			render = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// always prints the log timestamp and never colorizes the output.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(b, "%s=%v,", key, entry.Data[key])
	}
	if len(keys) > 0 {
		b.Truncate(b.Len() - 1)
		b.WriteByte(' ')
	}

	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

var textFormatterInstance = &textFormatter{}
