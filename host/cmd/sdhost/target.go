package main

import (
	"errors"
	"fmt"
	"io"
	"log"

	"sdhost/bridge"
	"sdhost/config"
	"sdhost/host/mcu"
	"sdhost/host/serial"
	"sdhost/regs"
	"sdhost/sdmmc"
	"sdhost/sdmmc/cardsim"
)

var errNoSession = errors.New("no local session on this target")

// target is whatever the prompt drives: a local session over a register
// bank, or a card behind bridge firmware
type target struct {
	card    bridge.Card
	session *sdmmc.Session // nil when the card is remote
	bank    regs.Bank      // nil when registers are not reachable
	mcu     *mcu.MCU       // nil for local targets
	remote  *mcu.RemoteBank
	closers []io.Closer
}

func (t *target) Close() error {
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openTarget(mode string, cfg *config.Config) (*target, error) {
	switch mode {
	case "sim":
		return openSim(cfg)
	case "loopback":
		return openLoopback(cfg)
	case "device":
		return openDevice(cfg)
	case "regs":
		return openRemoteRegisters(cfg)
	case "devmem":
		return openDevMem(cfg)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func newSession(bank regs.Bank, hal sdmmc.HAL, cfg *config.Config, poll bool) (*sdmmc.Session, error) {
	sc, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	if poll {
		sc.PollCompletion = true
	}
	if *verbose {
		sc.Debug = func(msg string) { log.Print(msg) }
	}
	return sdmmc.New(bank, hal, sc), nil
}

// simRig builds a simulated card with a recognizable first block
func simRig() *cardsim.Rig {
	card := cardsim.NewCard()
	boot := make([]byte, sdmmc.BlockSize)
	copy(boot, "sdhost simulated card")
	boot[510], boot[511] = 0x55, 0xAA
	card.SetBlock(0, boot)
	return cardsim.NewRig(card)
}

func openSim(cfg *config.Config) (*target, error) {
	rig := simRig()
	s, err := newSession(rig.Controller, rig.HAL(), cfg, cfg.PollCompletion)
	if err != nil {
		return nil, err
	}
	return &target{card: s, session: s, bank: rig.Controller}, nil
}

// openLoopback runs the simulated card behind an in-process bridge server
// and drives it through the host client, as a real device would be
func openLoopback(cfg *config.Config) (*target, error) {
	local, err := openSim(cfg)
	if err != nil {
		return nil, err
	}

	hostR, fwW := io.Pipe()
	fwR, hostW := io.Pipe()
	srv := bridge.NewStreamServer(fwW, local.session, local.bank)
	go func() {
		if err := srv.Serve(fwR); err != nil {
			log.Printf("bridge: %v", err)
		}
		fwW.Close()
	}()

	m := mcu.New(&pipePort{Reader: hostR, Writer: hostW, closers: []io.Closer{hostR, hostW}})
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}
	return remoteTarget(m), nil
}

type pipePort struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (p *pipePort) Close() error {
	for _, c := range p.closers {
		c.Close()
	}
	return nil
}

func connect(cfg *config.Config) (*mcu.MCU, error) {
	sc := serial.DefaultConfig(cfg.Bridge.Device)
	sc.Baud = cfg.Bridge.Baud
	fmt.Printf("Connecting to bridge on %s...\n", sc.Device)
	return mcu.Connect(sc)
}

func remoteTarget(m *mcu.MCU) *target {
	t := &target{card: mcu.NewRemoteCard(m), mcu: m, closers: []io.Closer{m}}
	if rb, err := mcu.NewRemoteBank(m); err == nil {
		t.bank, t.remote = rb, rb
	}
	return t
}

func openDevice(cfg *config.Config) (*target, error) {
	m, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return remoteTarget(m), nil
}

// openRemoteRegisters runs the session on the host against the firmware's
// register window. Completion is polled; block transfers need a DMA
// address on the target and are refused.
func openRemoteRegisters(cfg *config.Config) (*target, error) {
	m, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	rb, err := mcu.NewRemoteBank(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	s, err := newSession(rb, sdmmc.HAL{Clock: sdmmc.NewSystemClock()}, cfg, true)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &target{card: s, session: s, bank: rb, mcu: m, remote: rb, closers: []io.Closer{m}}, nil
}

// serveTarget exposes a local target as bridge firmware on the configured
// serial device
func serveTarget(t *target, cfg *config.Config) error {
	if t.session == nil || t.mcu != nil {
		return errors.New("only sim and devmem targets can be served")
	}
	sc := serial.DefaultConfig(cfg.Bridge.Device)
	sc.Baud = cfg.Bridge.Baud
	sc.ReadTimeout = 0
	port, err := serial.Open(sc)
	if err != nil {
		return err
	}
	defer port.Close()

	log.Printf("serving %s card on %s", cfg.Board, sc.Device)
	srv := bridge.NewStreamServer(port, t.card, t.bank)
	srv.Transport().SetResetCallback(func() { log.Print("host restarted the link") })
	return srv.Serve(port)
}
