// Package config loads the board description the host tool and firmware
// build a session from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sdhost/regs"
	"sdhost/sdmmc"
)

// Duration is a time.Duration written as a string ("100ms") in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// PinConfig names the bus pins, e.g. "PC8"
type PinConfig struct {
	CLK        string `json:"clk"`
	CMD        string `json:"cmd"`
	D0         string `json:"d0"`
	D1         string `json:"d1"`
	D2         string `json:"d2"`
	D3         string `json:"d3"`
	AltFunc    uint8  `json:"alt_func"`
	CardDetect string `json:"card_detect,omitempty"`
}

// TimeoutConfig bounds the session's waits
type TimeoutConfig struct {
	Command  Duration `json:"command"`
	Init     Duration `json:"init"`
	Transfer Duration `json:"transfer"`
}

// BridgeConfig describes the serial link to bridge firmware
type BridgeConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// Config is the board description
type Config struct {
	Board string `json:"board"`

	PeripheralClock uint32 `json:"peripheral_clock_hz"`
	TargetRate      uint32 `json:"target_rate_hz"`

	ClockEdge           string `json:"clock_edge"`   // "rising" or "falling"
	DirPolarity         string `json:"dir_polarity"` // "low" or "high"
	PowerSave           bool   `json:"power_save"`
	HardwareFlowControl bool   `json:"hardware_flow_control"`
	IRQPriority         uint8  `json:"irq_priority"`

	Pins     PinConfig     `json:"pins"`
	Timeouts TimeoutConfig `json:"timeouts"`

	ProbeTrials    int  `json:"probe_trials"`
	PollCompletion bool `json:"poll_completion"`

	// RegisterBase is the physical address of the SDMMC window, for
	// /dev/mem access
	RegisterBase uint32 `json:"register_base"`

	Bridge BridgeConfig `json:"bridge"`
}

// Load parses a JSON configuration and applies defaults
func Load(jsonData []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills missing values from the STM32H7 board
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Board == "" {
		cfg.Board = def.Board
	}
	if cfg.PeripheralClock == 0 {
		cfg.PeripheralClock = def.PeripheralClock
	}
	if cfg.TargetRate == 0 {
		cfg.TargetRate = def.TargetRate
	}
	if cfg.ClockEdge == "" {
		cfg.ClockEdge = def.ClockEdge
	}
	if cfg.DirPolarity == "" {
		cfg.DirPolarity = def.DirPolarity
	}
	if cfg.IRQPriority == 0 {
		cfg.IRQPriority = def.IRQPriority
	}
	if cfg.Pins.CLK == "" && cfg.Pins.CMD == "" {
		cd := cfg.Pins.CardDetect
		cfg.Pins = def.Pins
		cfg.Pins.CardDetect = cd
	}
	if cfg.Pins.AltFunc == 0 {
		cfg.Pins.AltFunc = def.Pins.AltFunc
	}
	if cfg.Timeouts.Command == 0 {
		cfg.Timeouts.Command = def.Timeouts.Command
	}
	if cfg.Timeouts.Init == 0 {
		cfg.Timeouts.Init = def.Timeouts.Init
	}
	if cfg.Timeouts.Transfer == 0 {
		cfg.Timeouts.Transfer = def.Timeouts.Transfer
	}
	if cfg.ProbeTrials == 0 {
		cfg.ProbeTrials = def.ProbeTrials
	}
	if cfg.RegisterBase == 0 {
		cfg.RegisterBase = def.RegisterBase
	}
	if cfg.Bridge.Baud == 0 {
		cfg.Bridge.Baud = def.Bridge.Baud
	}
}

// Default returns the STM32H7 board: SDMMC1 on PC8-PC12 and PD2, kernel
// clock 200 MHz, 25 MHz transfer clock
func Default() *Config {
	return &Config{
		Board:           "stm32h7",
		PeripheralClock: 200000000,
		TargetRate:      25000000,
		ClockEdge:       "rising",
		DirPolarity:     "low",
		IRQPriority:     sdmmc.DefaultIRQPriority,
		Pins: PinConfig{
			CLK:     "PC12",
			CMD:     "PD2",
			D0:      "PC8",
			D1:      "PC9",
			D2:      "PC10",
			D3:      "PC11",
			AltFunc: sdmmc.DefaultAltFunc,
		},
		Timeouts: TimeoutConfig{
			Command:  Duration(sdmmc.DefaultCommandTimeout),
			Init:     Duration(sdmmc.DefaultInitTimeout),
			Transfer: Duration(sdmmc.DefaultTransferTimeout),
		},
		ProbeTrials:  sdmmc.DefaultProbeTrials,
		RegisterBase: regs.SDMMC1Base,
		Bridge: BridgeConfig{
			Device: "/dev/ttyACM0",
			Baud:   250000,
		},
	}
}

// ParsePin converts a port pin name such as "PC8" into the flat pin
// number used by the STM32 machine package: port index × 16 + pin.
func ParsePin(name string) (sdmmc.Pin, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if len(s) < 3 || s[0] != 'P' || s[1] < 'A' || s[1] > 'K' {
		return 0, fmt.Errorf("bad pin name %q", name)
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n < 0 || n > 15 {
		return 0, fmt.Errorf("bad pin name %q", name)
	}
	return sdmmc.Pin(int(s[1]-'A')*16 + n), nil
}

// Session converts the configuration into session parameters
func (c *Config) Session() (sdmmc.Config, error) {
	out := sdmmc.Config{
		PeripheralClock:     c.PeripheralClock,
		TargetRate:          c.TargetRate,
		PowerSave:           c.PowerSave,
		HardwareFlowControl: c.HardwareFlowControl,
		IRQPriority:         c.IRQPriority,
		CommandTimeout:      time.Duration(c.Timeouts.Command),
		InitTimeout:         time.Duration(c.Timeouts.Init),
		TransferTimeout:     time.Duration(c.Timeouts.Transfer),
		ProbeTrials:         c.ProbeTrials,
		PollCompletion:      c.PollCompletion,
	}

	switch c.ClockEdge {
	case "", "rising":
		out.ClockEdge = sdmmc.EdgeRising
	case "falling":
		out.ClockEdge = sdmmc.EdgeFalling
	default:
		return out, fmt.Errorf("clock_edge %q: want rising or falling", c.ClockEdge)
	}

	switch c.DirPolarity {
	case "", "low":
		out.DirPolarity = sdmmc.DirPolarityLow
	case "high":
		out.DirPolarity = sdmmc.DirPolarityHigh
	default:
		return out, fmt.Errorf("dir_polarity %q: want low or high", c.DirPolarity)
	}

	pins := []struct {
		name string
		dst  *sdmmc.Pin
	}{
		{c.Pins.CLK, &out.Pins.CLK},
		{c.Pins.CMD, &out.Pins.CMD},
		{c.Pins.D0, &out.Pins.D0},
		{c.Pins.D1, &out.Pins.D1},
		{c.Pins.D2, &out.Pins.D2},
		{c.Pins.D3, &out.Pins.D3},
	}
	for _, p := range pins {
		pin, err := ParsePin(p.name)
		if err != nil {
			return out, err
		}
		*p.dst = pin
	}
	out.Pins.AltFunc = c.Pins.AltFunc

	if c.Pins.CardDetect != "" {
		pin, err := ParsePin(c.Pins.CardDetect)
		if err != nil {
			return out, fmt.Errorf("card_detect: %w", err)
		}
		out.Pins.CardDetect = pin
		out.Pins.HasCardDetect = true
	}
	return out, nil
}
