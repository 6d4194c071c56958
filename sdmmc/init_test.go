package sdmmc_test

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"sdhost/regs"
	"sdhost/sdmmc"
	"sdhost/sdmmc/cardsim"
)

func testConfig() sdmmc.Config {
	return sdmmc.Config{
		PeripheralClock: 100000000,
		TargetRate:      25000000,
		Pins: sdmmc.BusPins{
			CLK: 44, CMD: 50,
			D0: 40, D1: 41, D2: 42, D3: 43,
		},
		CommandTimeout:  time.Millisecond,
		InitTimeout:     5 * time.Millisecond,
		TransferTimeout: 5 * time.Millisecond,
	}
}

func newSession(card *cardsim.Card, cfg sdmmc.Config) (*sdmmc.Session, *cardsim.Rig) {
	rig := cardsim.NewRig(card)
	return sdmmc.New(rig.Controller, rig.HAL(), cfg), rig
}

// stepOf returns the failed step and the underlying error kind
func stepOf(t *testing.T, err error) (sdmmc.Step, error) {
	t.Helper()
	var se *sdmmc.StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	return se.Step, se.Err
}

func TestInitEndToEnd(t *testing.T) {
	card := cardsim.NewCard()
	card.CID = [4]uint32{1, 2, 3, 4}
	card.RCA = 0x1234
	card.CSD = [4]uint32{5, 6, 7, 8}
	card.SCR = 0x0004000000000000

	s, rig := newSession(card, testConfig())
	if err := s.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	if !s.Ready() || s.Step() != sdmmc.StepReady {
		t.Errorf("session not ready, step %v", s.Step())
	}
	info := s.Card()
	if info.RCA != 0x1234 {
		t.Errorf("RCA = 0x%X, want 0x1234", info.RCA)
	}
	if info.CID != [4]uint32{1, 2, 3, 4} {
		t.Errorf("CID = %v", info.CID)
	}
	if info.CSD != [4]uint32{5, 6, 7, 8} {
		t.Errorf("CSD = %v", info.CSD)
	}
	if info.SCR.High() != 0x00040000 {
		t.Errorf("SCR high = 0x%08X, want 0x00040000", info.SCR.High())
	}
	if !info.Version2 {
		t.Error("card not detected as version 2")
	}

	if n := card.Calls(sdmmc.CmdSendIfCond); n != 1 {
		t.Errorf("version probe took %d trials, want 1", n)
	}
	if n := card.AppCalls(sdmmc.AcmdSDSendOpCond); n != 1 {
		t.Errorf("voltage negotiation took %d rounds, want 1", n)
	}
	if n := card.AppCalls(sdmmc.AcmdSetBusWidth); n != 1 {
		t.Errorf("bus width set %d times, want 1", n)
	}
	if n := card.Calls(sdmmc.CmdSendStatus); n != 1 {
		t.Errorf("ready check took %d polls, want 1", n)
	}

	clkcr := rig.Controller.Load(regs.CLKCR)
	if div := clkcr & regs.CLKCR_CLKDIV; div != 2 {
		t.Errorf("CLKDIV = %d, want 2", div)
	}
	if w := regs.Field(clkcr, regs.CLKCR_WIDBUS_Pos, 2); w != uint32(sdmmc.BusWidth4) {
		t.Errorf("WIDBUS = %d, want 4-bit", w)
	}
	if rig.Controller.Load(regs.POWER)&regs.POWER_PWRCTRL != regs.POWER_PWRCTRL_ON {
		t.Error("card not powered")
	}
	if d := rig.Delay.Calls(); len(d) != 1 || d[0] != 186 {
		t.Errorf("settle delays = %v, want [186]", d)
	}
	for _, pin := range []sdmmc.Pin{40, 41, 42, 43, 44, 50} {
		if af, ok := rig.Pins.AltFunc(pin); !ok || af != 12 {
			t.Errorf("pin %d alternate function = %d, %v; want 12", pin, af, ok)
		}
	}

	want := []uint8{0, 8, 55, 41, 2, 3, 9, 7, 16, 55, 51, 55, 6, 16, 13}
	got := rig.Controller.Commands()
	if len(got) != len(want) {
		t.Fatalf("command sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = CMD%d, want CMD%d", i, got[i], want[i])
		}
	}
}

func TestVersionProbe(t *testing.T) {
	tests := []struct {
		silent int // trials with no terminal condition before the card answers
	}{
		{0}, {1}, {4}, {9},
	}

	for _, tt := range tests {
		t.Run("answers on trial "+strconv.Itoa(tt.silent), func(t *testing.T) {
			card := cardsim.NewCard()
			answered := 0
			card.Override(sdmmc.CmdSendIfCond, false, func(arg uint32) cardsim.Response {
				if answered < tt.silent {
					answered++
					return cardsim.Response{Silent: true}
				}
				return cardsim.Response{Words: [4]uint32{arg & 0xFFF}, Index: sdmmc.CmdSendIfCond}
			})

			s, _ := newSession(card, testConfig())
			if err := s.Init(); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}
			if n := card.Calls(sdmmc.CmdSendIfCond); n != tt.silent+1 {
				t.Errorf("probe took %d attempts, want %d", n, tt.silent+1)
			}
			if !s.Card().Version2 {
				t.Error("version 2 not detected")
			}
		})
	}
}

func TestVersionProbeNeverAnswers(t *testing.T) {
	card := cardsim.NewCard()
	card.Override(sdmmc.CmdSendIfCond, false, func(uint32) cardsim.Response {
		return cardsim.Response{Silent: true}
	})

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepVersionProbe || err != sdmmc.ErrTimeout {
		t.Errorf("Init() failed at %v with %v, want VersionProbe/Timeout", step, err)
	}
	if n := card.Calls(sdmmc.CmdSendIfCond); n != sdmmc.DefaultProbeTrials {
		t.Errorf("probe took %d attempts, want %d", n, sdmmc.DefaultProbeTrials)
	}
}

func TestLegacyCardRejected(t *testing.T) {
	tests := []struct {
		name string
		resp cardsim.Response
	}{
		{"timeout", cardsim.Response{Timeout: true}},
		{"crc failure", cardsim.Response{CRCFail: true, Index: sdmmc.CmdSendIfCond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := cardsim.NewCard()
			card.Override(sdmmc.CmdSendIfCond, false, func(uint32) cardsim.Response { return tt.resp })

			s, _ := newSession(card, testConfig())
			err := s.Init()
			if !errors.Is(err, sdmmc.ErrCardUnsupported) {
				t.Fatalf("Init() = %v, want CardUnsupported", err)
			}
			if step, _ := stepOf(t, err); step != sdmmc.StepVersionProbe {
				t.Errorf("failed at %v, want VersionProbe", step)
			}
			if n := card.Calls(sdmmc.CmdSendIfCond); n != 1 {
				t.Errorf("a definite answer must end the probe, took %d trials", n)
			}
			if s.Card().Version2 {
				t.Error("legacy card reported as version 2")
			}
			if card.AppCalls(sdmmc.AcmdSDSendOpCond) != 0 {
				t.Error("voltage negotiation attempted on a legacy card")
			}
		})
	}
}

func TestProbeCheckPattern(t *testing.T) {
	card := cardsim.NewCard()
	card.Override(sdmmc.CmdSendIfCond, false, func(uint32) cardsim.Response {
		return cardsim.Response{Words: [4]uint32{0x155}, Index: sdmmc.CmdSendIfCond}
	})
	s, _ := newSession(card, testConfig())
	if err := s.Init(); !errors.Is(err, sdmmc.ErrUnexpectedResponse) {
		t.Errorf("Init() = %v, want UnexpectedResponse", err)
	}
}

func TestVoltageNegotiation(t *testing.T) {
	for _, busy := range []int{0, 1, 5, 20} {
		t.Run("busy rounds "+strconv.Itoa(busy), func(t *testing.T) {
			card := cardsim.NewCard()
			card.BusyRounds = busy

			s, _ := newSession(card, testConfig())
			if err := s.Init(); err != nil {
				t.Fatalf("Init() failed: %v", err)
			}
			if n := card.AppCalls(sdmmc.AcmdSDSendOpCond); n != busy+1 {
				t.Errorf("ACMD41 sent %d times, want %d", n, busy+1)
			}
			if n := card.Calls(sdmmc.CmdAppCmd); n < busy+1 {
				t.Errorf("CMD55 sent %d times, want at least %d", n, busy+1)
			}
			if s.Card().OCR&0x80000000 == 0 {
				t.Error("OCR busy bit not recorded")
			}
		})
	}
}

func TestVoltageNegotiationTimeout(t *testing.T) {
	card := cardsim.NewCard()
	card.BusyRounds = 1 << 30

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepVoltageNegotiation || err != sdmmc.ErrTimeout {
		t.Errorf("Init() failed at %v with %v, want VoltageNegotiation/Timeout", step, err)
	}
}

func TestAppCommandEchoMismatch(t *testing.T) {
	card := cardsim.NewCard()
	card.Override(sdmmc.CmdAppCmd, false, func(uint32) cardsim.Response {
		return cardsim.Response{Words: [4]uint32{0x120}, Index: 0x3F}
	})

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepVoltageNegotiation || err != sdmmc.ErrCardUnsupported {
		t.Errorf("Init() failed at %v with %v, want VoltageNegotiation/CardUnsupported", step, err)
	}
}

func TestHighCapacityRejected(t *testing.T) {
	card := cardsim.NewCard()
	card.HighCapacity = true

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepCapacityCheck || err != sdmmc.ErrCapacityUnsupported {
		t.Errorf("Init() failed at %v with %v, want CapacityCheck/CapacityUnsupported", step, err)
	}
	for _, idx := range []uint8{sdmmc.CmdAllSendCID, sdmmc.CmdSendRelativeAddr, sdmmc.CmdSendCSD, sdmmc.CmdSelectDeselectCard} {
		if card.Calls(idx) != 0 {
			t.Errorf("CMD%d issued after a high-capacity response", idx)
		}
	}
}

func TestBusWidthUnsupported(t *testing.T) {
	card := cardsim.NewCard()
	card.SCR = 0x0201000000000000 // 1-bit only

	s, rig := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepBusWidthNegotiation || err != sdmmc.ErrBusWidthUnsupported {
		t.Errorf("Init() failed at %v with %v, want BusWidthNegotiation/BusWidthUnsupported", step, err)
	}
	if card.AppCalls(sdmmc.AcmdSetBusWidth) != 0 {
		t.Error("ACMD6 sent to a 1-bit card")
	}
	if div := rig.Controller.Load(regs.CLKCR) & regs.CLKCR_CLKDIV; div != 125 {
		t.Errorf("CLKDIV = %d, clock must stay at the identification rate", div)
	}
}

func TestReadyCheck(t *testing.T) {
	card := cardsim.NewCard()
	card.StatusSeq = []sdmmc.CardState{sdmmc.CardReady, sdmmc.CardIdentification, sdmmc.CardTransfer}

	s, _ := newSession(card, testConfig())
	if err := s.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if n := card.Calls(sdmmc.CmdSendStatus); n != 3 {
		t.Errorf("ready check took %d polls, want 3", n)
	}
}

func TestReadyCheckTimeout(t *testing.T) {
	card := cardsim.NewCard()
	card.StatusSeq = []sdmmc.CardState{sdmmc.CardStandby}

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepReadyCheck || err != sdmmc.ErrTimeout {
		t.Errorf("Init() failed at %v with %v, want ReadyCheck/Timeout", step, err)
	}
	if s.Ready() {
		t.Error("session must not be ready")
	}
}

func TestInitNoCard(t *testing.T) {
	cfg := testConfig()
	cfg.Pins.CardDetect = 13
	cfg.Pins.HasCardDetect = true

	s, rig := newSession(cardsim.NewCard(), cfg)
	rig.Pins.SetLevel(13, true) // switch open: pulled up

	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepPowerUp || err != sdmmc.ErrNoCard {
		t.Errorf("Init() failed at %v with %v, want PowerUp/NoCard", step, err)
	}
	if !rig.Pins.PulledUp(13) {
		t.Error("card-detect pin not configured with pull-up")
	}

	rig.Pins.SetLevel(13, false)
	if err := s.Init(); err != nil {
		t.Errorf("Init() with card inserted: %v", err)
	}
}

func TestInitEmptySlot(t *testing.T) {
	card := cardsim.NewCard()
	card.Absent = true

	s, _ := newSession(card, testConfig())
	step, err := stepOf(t, s.Init())
	if step != sdmmc.StepVersionProbe || err != sdmmc.ErrTimeout {
		t.Errorf("Init() failed at %v with %v, want VersionProbe/Timeout", step, err)
	}
}

func TestInitPinFailure(t *testing.T) {
	pinErr := errors.New("pin locked")
	s, rig := newSession(cardsim.NewCard(), testConfig())
	rig.Pins.FailOn(44, pinErr)

	if err := s.Init(); !errors.Is(err, pinErr) {
		t.Errorf("Init() = %v, want the pin driver error", err)
	}
}

func TestReinitRestarts(t *testing.T) {
	card := cardsim.NewCard()
	s, _ := newSession(card, testConfig())
	if err := s.Init(); err != nil {
		t.Fatalf("first Init() failed: %v", err)
	}

	card.RCA = 0x77770000
	if err := s.Init(); err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	if s.RCA() != 0x77770000 {
		t.Errorf("RCA = 0x%08X, want the address from the second bring-up", s.RCA())
	}
	if n := card.Calls(sdmmc.CmdGoIdleState); n != 2 {
		t.Errorf("CMD0 sent %d times, want 2", n)
	}
}

func TestDebugOutput(t *testing.T) {
	var lines []string
	cfg := testConfig()
	cfg.Debug = func(s string) { lines = append(lines, s) }

	card := cardsim.NewCard()
	card.HighCapacity = true
	s, _ := newSession(card, cfg)
	_ = s.Init()
	s.DumpTrace()

	joined := strings.Join(lines, "\n")
	for _, want := range []string{"[SDMMC] CapacityCheck failed", "[TRACE] === Command Trace Dump ===", "STEP CapacityCheck"} {
		if !strings.Contains(joined, want) {
			t.Errorf("debug output missing %q:\n%s", want, joined)
		}
	}
	t.Logf("captured %d debug lines, %d trace events", len(lines), len(s.Trace()))
}
