package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	conf := LoadConfig()
	if conf == nil {
		t.Fatal("LoadConfig returned nil")
	}
	if _, err := os.Stat(filepath.Join(home, configDir, configFile)); err != nil {
		t.Fatalf("default config file was not created: %v", err)
	}
	// the default file only contains commented examples
	if len(conf.Profiles) != 0 {
		t.Fatalf("expected no profiles in default config, got %#v", conf.Profiles)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.yml")
	err := os.WriteFile(path, []byte("renderer: png\nprofiles:\n  tgt:\n    width: 96\n    height: 16\n    format: mono\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}

	conf, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Renderer != "png" || conf.Profiles["tgt"].Width != 96 {
		t.Fatalf("config did not load: %#v", conf)
	}

	if _, err := LoadConfigFile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveConfigRoundtrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	conf := &Config{
		Renderer: "ansi",
		Scale:    2,
		Profiles: map[string]Profile{
			"ssd1306": {
				Width:   128,
				Height:  64,
				Format:  "mono",
				Addr:    "localhost:2331",
				RTTAddr: "localhost:19021",
			},
		},
	}
	if err := createConfigPath(); err != nil {
		t.Fatal(err)
	}
	if err := SaveConfig(conf); err != nil {
		t.Fatal(err)
	}

	loaded := LoadConfig()
	if loaded.Renderer != "ansi" || loaded.Scale != 2 {
		t.Fatalf("defaults did not round-trip: %#v", loaded)
	}
	p, ok := loaded.Profiles["ssd1306"]
	if !ok {
		t.Fatalf("profile missing after round-trip: %#v", loaded.Profiles)
	}
	if p.Width != 128 || p.Height != 64 || p.Format != "mono" {
		t.Fatalf("profile did not round-trip: %#v", p)
	}
}
