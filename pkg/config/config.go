package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".fbmirror"
	configFile string = "config.yml"
)

// Profile collects the per-target settings needed to mirror one device, so
// that `fbmirror connect --profile name` works without repeating flags.
type Profile struct {
	// Width and Height of the emulated display, in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// Format is the framebuffer pixel format (mono, rgb565, rgb565be,
	// rgb888, xrgb8888, gray8).
	Format string `yaml:"format"`
	// VRAM is the framebuffer address, as a hex string (e.g. "0x20001000").
	// When empty the address is discovered over RTT.
	VRAM string `yaml:"vram,omitempty"`
	// Addr is the GDB server address to connect to.
	Addr string `yaml:"addr,omitempty"`
	// RTTAddr is the address of the RTT TCP server used for framebuffer
	// address discovery.
	RTTAddr string `yaml:"rtt-addr,omitempty"`
	// ServerArgs are extra arguments passed to the launched stub
	// (OpenOCD or J-Link GDB Server), as a single shell-quoted string.
	ServerArgs string `yaml:"server-args,omitempty"`
	// MonitorCommands are sent to the stub with qRcmd after connecting.
	MonitorCommands []string `yaml:"monitor,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Renderer selects the default output ("auto", "sixel", "ansi", "png").
	Renderer string `yaml:"renderer,omitempty"`
	// Scale is the default integer magnification of the emulated display.
	Scale int `yaml:"scale,omitempty"`
	// FPS is the default polling rate of the read/render loop.
	FPS int `yaml:"fps,omitempty"`
	// Profiles maps profile names to per-target settings.
	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// LoadConfigFile reads the configuration from the given file instead of
// the default location. Unlike LoadConfig it neither creates the file nor
// tolerates a broken one.
func LoadConfigFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for fbmirror.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Default renderer selection: auto, sixel, ansi or png.
# renderer: auto

# Default integer magnification of the emulated display.
# scale: 2

# Default polling rate of the read/render loop, in frames per second.
# fps: 30

# Named target profiles, selected with --profile.
profiles:
  # ssd1306:
  #   width: 128
  #   height: 64
  #   format: mono
  #   addr: localhost:2331
  #   rtt-addr: localhost:19021
  # disco-f429:
  #   width: 240
  #   height: 320
  #   format: rgb565
  #   vram: "0xD0000000"
  #   addr: localhost:3333
  #   server-args: "-f interface/stlink.cfg -f target/stm32f4x.cfg"
  #   monitor:
  #     - rtt setup 0x20000000 4096 "SEGGER RTT"
  #     - rtt start
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	if home := os.Getenv("HOME"); home != "" {
		userHomeDir = home
	} else if usr, err := user.Current(); err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
