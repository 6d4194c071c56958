package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sdhost/sdmmc"
)

func TestParsePin(t *testing.T) {
	tests := []struct {
		name    string
		want    sdmmc.Pin
		wantErr bool
	}{
		{"PA0", 0, false},
		{"PC8", 40, false},
		{"PC12", 44, false},
		{"pd2", 50, false},
		{" PB15 ", 31, false},
		{"PC16", 0, true},
		{"PZ1", 0, true},
		{"C8", 0, true},
		{"P", 0, true},
		{"PCx", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePin(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePin(%q) = %d, want error", tt.name, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePin(%q) failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParsePin(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(`{"target_rate_hz": 12500000, "poll_completion": true}`))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	def := Default()

	if cfg.TargetRate != 12500000 {
		t.Errorf("TargetRate = %d, want 12500000", cfg.TargetRate)
	}
	if !cfg.PollCompletion {
		t.Error("PollCompletion not loaded")
	}
	if cfg.PeripheralClock != def.PeripheralClock {
		t.Errorf("PeripheralClock = %d, want default %d", cfg.PeripheralClock, def.PeripheralClock)
	}
	if cfg.Pins != def.Pins {
		t.Errorf("Pins = %+v, want defaults", cfg.Pins)
	}
	if cfg.Timeouts != def.Timeouts {
		t.Errorf("Timeouts = %+v, want defaults", cfg.Timeouts)
	}
	if cfg.Bridge.Baud != 250000 {
		t.Errorf("Bridge.Baud = %d, want 250000", cfg.Bridge.Baud)
	}
}

func TestLoadKeepsCardDetect(t *testing.T) {
	cfg, err := Load([]byte(`{"pins": {"card_detect": "PG2"}}`))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Pins.CLK != "PC12" || cfg.Pins.CardDetect != "PG2" {
		t.Errorf("Pins = %+v", cfg.Pins)
	}

	sc, err := cfg.Session()
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	if !sc.Pins.HasCardDetect || sc.Pins.CardDetect != 6*16+2 {
		t.Errorf("card detect = %d (%v)", sc.Pins.CardDetect, sc.Pins.HasCardDetect)
	}
}

func TestLoadDurations(t *testing.T) {
	cfg, err := Load([]byte(`{"timeouts": {"command": "5ms", "transfer": "2s"}}`))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if time.Duration(cfg.Timeouts.Command) != 5*time.Millisecond {
		t.Errorf("command timeout = %v", time.Duration(cfg.Timeouts.Command))
	}
	if time.Duration(cfg.Timeouts.Transfer) != 2*time.Second {
		t.Errorf("transfer timeout = %v", time.Duration(cfg.Timeouts.Transfer))
	}
	if time.Duration(cfg.Timeouts.Init) != sdmmc.DefaultInitTimeout {
		t.Errorf("init timeout = %v, want default", time.Duration(cfg.Timeouts.Init))
	}

	if _, err := Load([]byte(`{"timeouts": {"command": 5}}`)); err == nil {
		t.Error("numeric duration accepted")
	}
	if _, err := Load([]byte(`{"timeouts": {"command": "soon"}}`)); err == nil {
		t.Error("malformed duration accepted")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	data, err := json.Marshal(Duration(150 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"150ms"` {
		t.Errorf("Marshal = %s, want \"150ms\"", data)
	}
}

func TestDefaultSession(t *testing.T) {
	sc, err := Default().Session()
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}

	want := sdmmc.BusPins{CLK: 44, CMD: 50, D0: 40, D1: 41, D2: 42, D3: 43, AltFunc: 12}
	if sc.Pins != want {
		t.Errorf("Pins = %+v, want %+v", sc.Pins, want)
	}
	if sc.ClockEdge != sdmmc.EdgeRising || sc.DirPolarity != sdmmc.DirPolarityLow {
		t.Errorf("edge/polarity = %v/%v", sc.ClockEdge, sc.DirPolarity)
	}
	if sc.PeripheralClock != 200000000 || sc.TargetRate != 25000000 {
		t.Errorf("clocks = %d/%d", sc.PeripheralClock, sc.TargetRate)
	}
	if sc.CommandTimeout != sdmmc.DefaultCommandTimeout {
		t.Errorf("CommandTimeout = %v", sc.CommandTimeout)
	}
}

func TestSessionRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"clock edge", func(c *Config) { c.ClockEdge = "both" }},
		{"dir polarity", func(c *Config) { c.DirPolarity = "inverted" }},
		{"clk pin", func(c *Config) { c.Pins.CLK = "12" }},
		{"card detect", func(c *Config) { c.Pins.CardDetect = "PX1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if _, err := cfg.Session(); err == nil {
				t.Error("Session() accepted a bad value")
			}
		})
	}
}

func TestSessionFallingEdgeHighPolarity(t *testing.T) {
	cfg := Default()
	cfg.ClockEdge = "falling"
	cfg.DirPolarity = "high"
	sc, err := cfg.Session()
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	if sc.ClockEdge != sdmmc.EdgeFalling || sc.DirPolarity != sdmmc.DirPolarityHigh {
		t.Errorf("edge/polarity = %v/%v", sc.ClockEdge, sc.DirPolarity)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	if err := os.WriteFile(path, []byte(`{"board": "nucleo-h743"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Board != "nucleo-h743" {
		t.Errorf("Board = %q", cfg.Board)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
}
