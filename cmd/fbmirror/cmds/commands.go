package cmds

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/fbmirror/fbmirror/cmd/fbmirror/cmds/helphelpers"
	"github.com/fbmirror/fbmirror/pkg/config"
	"github.com/fbmirror/fbmirror/pkg/logflags"
	"github.com/fbmirror/fbmirror/pkg/mirror"
	"github.com/fbmirror/fbmirror/pkg/probe"
	"github.com/fbmirror/fbmirror/pkg/render"
	"github.com/fbmirror/fbmirror/pkg/rtt"
	"github.com/fbmirror/fbmirror/pkg/screen"
	"github.com/fbmirror/fbmirror/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath overrides the default ~/.fbmirror/config.yml location.
	configPath string

	// backend selects the probe stub, jlink or openocd.
	backend string
	// addr is the gdb server address of the stub.
	addr string
	// rttAddr is the address of the RTT TCP server used for discovery.
	rttAddr string
	// rttTimeout bounds the wait for the framebuffer address announcement.
	rttTimeout time.Duration
	// vram is the framebuffer address, overriding RTT discovery.
	vram string
	// ifaceFlag selects the debug transport, swd or jtag.
	ifaceFlag string
	// serverArgs are extra stub arguments as a single shell-quoted string.
	serverArgs string
	// monitorCmds are sent to the stub with qRcmd after connecting.
	monitorCmds []string

	// display geometry and format
	width  int
	height int
	format string
	fg     string
	bg     string

	// loop and output settings
	fps            int
	scale          int
	renderer       string
	out            string
	maxReadRetries int

	// profileName selects a profile from the configuration file.
	profileName string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const fbmirrorCommandLongDesc = `fbmirror emulates the display of a microcontroller that has none attached.

It periodically reads the framebuffer region of the target's memory through
a hardware debug probe (SEGGER J-Link or an OpenOCD-supported adapter, over
SWD or JTAG), decodes the raw bytes for the configured pixel format and
draws the result in the terminal or to PNG files.

The firmware announces the framebuffer location by printing a line of the
form 'D-VRAM: 0x20000400' on RTT channel 0; alternatively pass the address
directly with --vram.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "fbmirror",
		Short: "fbmirror mirrors a microcontroller's framebuffer over a debug probe.",
		Long:  fbmirrorCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (gdbwire, probe, rtt, mirror, render).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Reads the configuration from the given file instead of ~/.fbmirror/config.yml.")

	rootCommand.PersistentFlags().StringVar(&backend, "backend", probe.OpenOCD, "Probe backend (jlink or openocd).")
	rootCommand.PersistentFlags().StringVar(&addr, "addr", "", "GDB server address of the stub (default depends on the backend).")
	rootCommand.PersistentFlags().StringVar(&rttAddr, "rtt", "", "RTT TCP server address used for framebuffer address discovery.")
	rootCommand.PersistentFlags().DurationVar(&rttTimeout, "rtt-timeout", 10*time.Second, "How long to wait for the framebuffer address announcement.")
	rootCommand.PersistentFlags().StringVar(&vram, "vram", "", "Framebuffer address (e.g. 0x20000400), skips RTT discovery.")
	rootCommand.PersistentFlags().StringArrayVar(&monitorCmds, "cmd", nil, "Monitor command to run after connecting, may be repeated.")
	rootCommand.PersistentFlags().StringVar(&serverArgs, "server-args", "", "Extra arguments for the launched stub, as one shell-quoted string.")

	rootCommand.PersistentFlags().IntVar(&width, "width", 128, "Width of the emulated display, in pixels.")
	rootCommand.PersistentFlags().IntVar(&height, "height", 64, "Height of the emulated display, in pixels.")
	rootCommand.PersistentFlags().StringVar(&format, "format", "mono", "Framebuffer pixel format ("+screen.FormatNames()+").")
	rootCommand.PersistentFlags().StringVar(&fg, "fg", "", "Foreground color of a mono display, e.g. '#00ff00'.")
	rootCommand.PersistentFlags().StringVar(&bg, "bg", "", "Background color of a mono display.")

	rootCommand.PersistentFlags().IntVar(&fps, "fps", 0, "Polling rate of the read/render loop.")
	rootCommand.PersistentFlags().IntVar(&scale, "scale", 0, "Integer magnification of the emulated display.")
	rootCommand.PersistentFlags().StringVar(&renderer, "renderer", "", "Renderer selection (auto, sixel, ansi, png).")
	rootCommand.PersistentFlags().StringVar(&out, "out", "", "Output path for the png renderer, '%d' is replaced with the frame number.")
	rootCommand.PersistentFlags().IntVar(&maxReadRetries, "max-read-retries", mirror.DefaultMaxReadRetries, "Consecutive failed reads tolerated before exiting.")

	rootCommand.PersistentFlags().StringVar(&profileName, "profile", "", "Name of a profile from the configuration file.")

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Connect to a running gdb server and mirror the framebuffer.",
		Long: `Connect to an already running gdb server stub and begin mirroring.

The stub can be SEGGER J-Link GDB Server (typically localhost:2331) or
OpenOCD (typically localhost:3333). The framebuffer address is discovered
over RTT unless --vram is given.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				addr = args[0]
			}
			os.Exit(execute(sessionConnect, nil, false))
		},
	}
	rootCommand.AddCommand(connectCommand)

	// 'openocd' subcommand.
	openocdCommand := &cobra.Command{
		Use:   "openocd -- [-f interface.cfg -f target.cfg ...]",
		Short: "Launch OpenOCD and mirror the framebuffer.",
		Long: `Launch OpenOCD with the given configuration arguments, connect to its gdb
server and begin mirroring. OpenOCD is killed when fbmirror exits.

Use --interface to pick the debug transport:

	fbmirror openocd -i swd -- -f interface/stlink.cfg -f target/stm32f4x.cfg`,
		Run: func(cmd *cobra.Command, args []string) {
			backend = probe.OpenOCD
			os.Exit(execute(sessionLaunch, args, false))
		},
	}
	openocdCommand.Flags().StringVarP(&ifaceFlag, "interface", "i", "swd", "Debug transport wired to the target (swd or jtag).")
	rootCommand.AddCommand(openocdCommand)

	// 'jlink' subcommand.
	jlinkCommand := &cobra.Command{
		Use:   "jlink <device>",
		Short: "Launch J-Link GDB Server for the device and mirror the framebuffer.",
		Long: `Launch SEGGER J-Link GDB Server for the given device name, connect to it
and begin mirroring. The server is killed when fbmirror exits.

	fbmirror jlink STM32F429ZI --width 240 --height 320 --format rgb565`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a device name")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			backend = probe.JLink
			deviceName = args[0]
			os.Exit(execute(sessionLaunch, nil, false))
		},
	}
	jlinkCommand.Flags().StringVarP(&ifaceFlag, "interface", "i", "swd", "Debug transport wired to the target (swd or jtag).")
	rootCommand.AddCommand(jlinkCommand)

	// 'snapshot' subcommand.
	snapshotCommand := &cobra.Command{
		Use:   "snapshot [addr]",
		Short: "Read a single frame and write it to a PNG file.",
		Long: `Connect to a running gdb server stub, read exactly one frame and write it
to the file given with --out (default screen.png).`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				addr = args[0]
			}
			if out == "" {
				out = "screen.png"
			}
			renderer = "png"
			os.Exit(execute(sessionConnect, nil, true))
		},
	}
	rootCommand.AddCommand(snapshotCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fbmirror %s\n%s\n", version.FbmirrorVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	helpForSubcommands := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		helpForSubcommands(cmd, args)
	})
	usageForSubcommands := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usageForSubcommands(cmd)
	})

	return rootCommand
}

// deviceName is the J-Link device, taken from the jlink subcommand argument.
var deviceName string

type sessionKind int

const (
	sessionConnect sessionKind = iota
	sessionLaunch
)

// applyProfile folds the selected profile and config file defaults into the
// flag variables; flags explicitly set on the command line win.
func applyProfile() error {
	flags := rootCommand.PersistentFlags()

	if conf.Renderer != "" && renderer == "" {
		renderer = conf.Renderer
	}
	if conf.Scale > 0 && scale == 0 {
		scale = conf.Scale
	}
	if conf.FPS > 0 && fps == 0 {
		fps = conf.FPS
	}

	if profileName == "" {
		return nil
	}
	p, ok := conf.Profiles[profileName]
	if !ok {
		return fmt.Errorf("profile %q not found in the configuration file", profileName)
	}
	if p.Width > 0 && !flags.Changed("width") {
		width = p.Width
	}
	if p.Height > 0 && !flags.Changed("height") {
		height = p.Height
	}
	if p.Format != "" && !flags.Changed("format") {
		format = p.Format
	}
	if p.VRAM != "" && vram == "" {
		vram = p.VRAM
	}
	if p.Addr != "" && addr == "" {
		addr = p.Addr
	}
	if p.RTTAddr != "" && rttAddr == "" {
		rttAddr = p.RTTAddr
	}
	if len(p.MonitorCommands) > 0 && len(monitorCmds) == 0 {
		monitorCmds = p.MonitorCommands
	}
	return nil
}

// profileServerArgs returns the stub argument vector: --server-args (parsed
// with shell quoting rules) wins over the profile's server-args entry.
func profileServerArgs() ([]string, error) {
	if serverArgs != "" {
		v, err := argv.Argv(serverArgs, func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in %q", s)
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("could not parse --server-args: %v", err)
		}
		if len(v) != 1 {
			return nil, fmt.Errorf("illegal --server-args %q", serverArgs)
		}
		return v[0], nil
	}
	if profileName != "" {
		if p, ok := conf.Profiles[profileName]; ok && p.ServerArgs != "" {
			return config.SplitQuotedFields(p.ServerArgs, '"'), nil
		}
	}
	return nil, nil
}

func buildMode() (screen.Mode, error) {
	f, err := screen.ParseFormat(format)
	if err != nil {
		return screen.Mode{}, err
	}
	mode := screen.Mode{Width: width, Height: height, Format: f}
	if fg != "" {
		if mode.Foreground, err = parseColor(fg); err != nil {
			return screen.Mode{}, err
		}
	}
	if bg != "" {
		if mode.Background, err = parseColor(bg); err != nil {
			return screen.Mode{}, err
		}
	}
	if (fg == "") != (bg == "") {
		defFg, defBg := screen.DefaultMonoPalette()
		if fg == "" {
			mode.Foreground = defFg
		}
		if bg == "" {
			mode.Background = defBg
		}
	}
	return mode, mode.Validate()
}

// parseColor parses '#rrggbb' or 'rrggbb'.
func parseColor(s string) (color.RGBA, error) {
	v := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(v) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q, expected '#rrggbb'", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q, expected '#rrggbb'", s)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

func parseVRAM(s string) (uint64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "0x")
	v = strings.TrimPrefix(v, "0X")
	n, err := strconv.ParseUint(v, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid framebuffer address %q", s)
	}
	return n, nil
}

// execute opens the probe session, resolves the framebuffer address and
// runs the mirror loop (or a single snapshot read).
func execute(kind sessionKind, stubArgs []string, once bool) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logflags.Close()

	if configPath != "" {
		c, err := config.LoadConfigFile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		conf = c
	}
	if err := applyProfile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	mode, err := buildMode()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	opts := probe.Options{
		Backend:         backend,
		Addr:            addr,
		RTTAddr:         rttAddr,
		Interface:       ifaceFlag,
		Device:          deviceName,
		MonitorCommands: monitorCmds,
	}

	var session *probe.Session
	switch kind {
	case sessionConnect:
		session, err = probe.Connect(opts)
	case sessionLaunch:
		args := stubArgs
		if len(args) == 0 {
			if args, err = profileServerArgs(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}
		session, err = probe.Launch(opts, args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer session.Close()

	fbAddr, err := resolveVRAM(session)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "D-VRAM (display data buffer) at: %#x\n", fbAddr)

	rend, err := render.New(renderer, render.Options{Scale: scale, Path: out})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rend.Close()

	m, err := mirror.New(session.Conn, rend, mirror.Config{
		Mode:           mode,
		Addr:           fbAddr,
		FPS:            fps,
		MaxReadRetries: maxReadRetries,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if once {
		if err := m.Once(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", out)
		return 0
	}

	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		stop()
	}()
	defer signal.Stop(ch)

	if err := m.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// resolveVRAM returns the framebuffer address: --vram when given, RTT
// discovery otherwise.
func resolveVRAM(session *probe.Session) (uint64, error) {
	if vram != "" {
		return parseVRAM(vram)
	}
	client, err := rtt.Dial(session.RTTAddr)
	if err != nil {
		return 0, fmt.Errorf("%v (pass --vram to skip RTT discovery)", err)
	}
	defer client.Close()
	return client.DiscoverVRAM(rttTimeout)
}
