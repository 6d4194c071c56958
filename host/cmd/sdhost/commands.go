package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"sdhost/regs"
	"sdhost/sdmmc"
)

type command struct {
	usage string
	help  string
	run   func(t *target, args []string, out io.Writer) error
}

var commands = map[string]command{
	"init":    {"", "Bring the card up", cmdInit},
	"status":  {"", "Show the bring-up step and card state", cmdStatus},
	"info":    {"", "Show the card registers read at bring-up", cmdInfo},
	"present": {"", "Read the card-detect switch", cmdPresent},
	"read":    {"<lba> [count]", "Read and dump blocks", cmdRead},
	"write":   {"<lba> <text>", "Write text into one block, zero padded", cmdWrite},
	"fill":    {"<lba> <count> <byte>", "Fill blocks with a byte", cmdFill},
	"regs":    {"", "Dump the peripheral registers", cmdRegs},
	"peek":    {"<offset>", "Read one register", cmdPeek},
	"poke":    {"<offset> <value>", "Write one register", cmdPoke},
	"trace":   {"", "Dump the command trace", cmdTrace},
	"irq":     {"", "Run the completion handler once", cmdIRQ},
	"dict":    {"", "Print the bridge dictionary", cmdDict},
	"watch":   {"", "Poll the card until a key is pressed", cmdWatch},
}

var commandOrder = []string{
	"init", "status", "info", "present", "read", "write", "fill",
	"regs", "peek", "poke", "trace", "irq", "dict", "watch",
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}

// parseOffset parses a register offset inside the SDMMC window
func parseOffset(s string) (uint32, error) {
	off, err := parseUint(s)
	if err != nil {
		return 0, err
	}
	if !regs.Valid(off) {
		return 0, fmt.Errorf("offset 0x%X: %w", off, regs.ErrBadOffset)
	}
	return off, nil
}

func wantArgs(args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return errors.New("wrong number of arguments")
	}
	return nil
}

// step reports the bring-up step of local and remote cards alike
func (t *target) step() sdmmc.Step {
	if s, ok := t.card.(interface{ Step() sdmmc.Step }); ok {
		return s.Step()
	}
	return sdmmc.StepPowerUp
}

func (t *target) checkBank() error {
	if t.remote != nil {
		return t.remote.Err()
	}
	return nil
}

func cmdInit(t *target, args []string, out io.Writer) error {
	if err := t.card.Init(); err != nil {
		if cerr := t.checkBank(); cerr != nil {
			return cerr
		}
		return err
	}
	fmt.Fprintf(out, "Card ready, RCA 0x%04X\n", t.card.RCA()>>16)
	return nil
}

func cmdStatus(t *target, args []string, out io.Writer) error {
	fmt.Fprintf(out, "step: %v\n", t.step())
	if t.card.RCA() != 0 {
		fmt.Fprintf(out, "rca:  0x%04X\n", t.card.RCA()>>16)
	}
	if t.session == nil || !t.session.Ready() {
		return nil
	}
	st, err := t.session.CardStatus()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "card: %v\n", st)
	return nil
}

func cmdInfo(t *target, args []string, out io.Writer) error {
	if t.session == nil {
		return errNoSession
	}
	c := t.session.Card()
	fmt.Fprintf(out, "CID: %08X %08X %08X %08X\n", c.CID[0], c.CID[1], c.CID[2], c.CID[3])
	fmt.Fprintf(out, "CSD: %08X %08X %08X %08X\n", c.CSD[0], c.CSD[1], c.CSD[2], c.CSD[3])
	fmt.Fprintf(out, "SCR: %016X (4-bit: %v)\n", c.SCR.Value(), c.SCR.Supports4Bit())
	fmt.Fprintf(out, "OCR: %08X  version 2: %v\n", c.OCR, c.Version2)
	return nil
}

func cmdPresent(t *target, args []string, out io.Writer) error {
	if t.session == nil {
		return errNoSession
	}
	fmt.Fprintf(out, "card present: %v\n", t.session.CardPresent())
	return nil
}

func cmdRead(t *target, args []string, out io.Writer) error {
	if err := wantArgs(args, 1, 2); err != nil {
		return err
	}
	lba, err := parseUint(args[0])
	if err != nil {
		return err
	}
	count := uint32(1)
	if len(args) == 2 {
		if count, err = parseUint(args[1]); err != nil {
			return err
		}
	}

	buf := make([]byte, count*sdmmc.BlockSize)
	if err := t.card.ReadBlocks(lba, buf); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		fmt.Fprintf(out, "block %d:\n", lba+i)
		fmt.Fprint(out, hex.Dump(buf[i*sdmmc.BlockSize:(i+1)*sdmmc.BlockSize]))
	}
	return nil
}

func cmdWrite(t *target, args []string, out io.Writer) error {
	if err := wantArgs(args, 2, 2); err != nil {
		return err
	}
	lba, err := parseUint(args[0])
	if err != nil {
		return err
	}
	if len(args[1]) > sdmmc.BlockSize {
		return fmt.Errorf("text longer than %d bytes", sdmmc.BlockSize)
	}
	buf := make([]byte, sdmmc.BlockSize)
	copy(buf, args[1])
	if err := t.card.WriteBlocks(lba, buf); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote block %d\n", lba)
	return nil
}

func cmdFill(t *target, args []string, out io.Writer) error {
	if err := wantArgs(args, 3, 3); err != nil {
		return err
	}
	var v [3]uint32
	for i := range v {
		n, err := parseUint(args[i])
		if err != nil {
			return err
		}
		v[i] = n
	}
	if v[2] > 0xFF {
		return fmt.Errorf("fill byte 0x%X out of range", v[2])
	}
	buf := make([]byte, v[1]*sdmmc.BlockSize)
	for i := range buf {
		buf[i] = byte(v[2])
	}
	if err := t.card.WriteBlocks(v[0], buf); err != nil {
		return err
	}
	fmt.Fprintf(out, "filled blocks %d-%d\n", v[0], v[0]+v[1]-1)
	return nil
}

// registerNames lists what regs dumps. FIFO is left out: reading it pops
// data.
var registerNames = []struct {
	name   string
	offset uint32
}{
	{"POWER", regs.POWER}, {"CLKCR", regs.CLKCR}, {"ARG", regs.ARG}, {"CMD", regs.CMD},
	{"RESPCMD", regs.RESPCMD}, {"RESP1", regs.RESP1}, {"RESP2", regs.RESP2},
	{"RESP3", regs.RESP3}, {"RESP4", regs.RESP4}, {"DTIMER", regs.DTIMER},
	{"DLEN", regs.DLEN}, {"DCTRL", regs.DCTRL}, {"DCOUNT", regs.DCOUNT},
	{"STA", regs.STA}, {"MASK", regs.MASK}, {"IDMACTRL", regs.IDMACTRL},
	{"IDMABSIZE", regs.IDMABSIZE}, {"IDMABASE0", regs.IDMABASE0},
}

func cmdRegs(t *target, args []string, out io.Writer) error {
	if t.bank == nil {
		return errors.New("registers are not reachable on this target")
	}
	for _, r := range registerNames {
		fmt.Fprintf(out, "  %-10s 0x%02X = 0x%08X\n", r.name, r.offset, t.bank.Load(r.offset))
	}
	return t.checkBank()
}

func cmdPeek(t *target, args []string, out io.Writer) error {
	if err := wantArgs(args, 1, 1); err != nil {
		return err
	}
	if t.bank == nil {
		return errors.New("registers are not reachable on this target")
	}
	off, err := parseOffset(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "0x%02X = 0x%08X\n", off, t.bank.Load(off))
	return t.checkBank()
}

func cmdPoke(t *target, args []string, out io.Writer) error {
	if err := wantArgs(args, 2, 2); err != nil {
		return err
	}
	if t.bank == nil {
		return errors.New("registers are not reachable on this target")
	}
	off, err := parseOffset(args[0])
	if err != nil {
		return err
	}
	val, err := parseUint(args[1])
	if err != nil {
		return err
	}
	t.bank.Store(off, val)
	return t.checkBank()
}

func cmdTrace(t *target, args []string, out io.Writer) error {
	if t.session == nil {
		return errNoSession
	}
	for _, evt := range t.session.Trace() {
		switch evt.Kind {
		case sdmmc.TraceStep:
			fmt.Fprintf(out, "  %-8v %v\n", evt.Kind, sdmmc.Step(evt.Index))
		default:
			fmt.Fprintf(out, "  %-8v %2d 0x%08X\n", evt.Kind, evt.Index, evt.Value)
		}
	}
	return nil
}

func cmdIRQ(t *target, args []string, out io.Writer) error {
	h, ok := t.card.(interface{ HandleInterrupt() })
	if !ok {
		return errors.New("card has no completion handler")
	}
	h.HandleInterrupt()
	if e, ok := h.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

func cmdDict(t *target, args []string, out io.Writer) error {
	if t.mcu == nil {
		return errors.New("no bridge on this target")
	}
	t.mcu.PrintDictionary(out)
	return nil
}
