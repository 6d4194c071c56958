package sdmmc

import "sdhost/regs"

// Identification-mode bus clock ceiling
const initClockRate = 400000

// BusWidth is the CLKCR.WIDBUS encoding
type BusWidth uint8

const (
	BusWidth1 BusWidth = 0b00
	BusWidth4 BusWidth = 0b01
)

// ClockEdge selects the SDMMC_CK edge data is driven on
type ClockEdge uint8

const (
	EdgeRising  ClockEdge = 0
	EdgeFalling ClockEdge = 1
)

// DirPolarity is the POWER.DIRPOL setting for external transceivers
type DirPolarity uint8

const (
	DirPolarityLow  DirPolarity = 0
	DirPolarityHigh DirPolarity = 1
)

// InitDivider is the CLKDIV value that keeps the bus at or below 400 kHz
// during identification: SDMMC_CK = kernel / (2 × CLKDIV).
func InitDivider(peripheralClock uint32) uint32 {
	return peripheralClock / (2 * initClockRate)
}

// SpeedDivider is the CLKDIV value for the requested transfer rate,
// rounded up so the bus never runs faster than asked.
func SpeedDivider(peripheralClock, targetRate uint32) uint32 {
	den := 2 * uint64(targetRate)
	return uint32((uint64(peripheralClock) + den - 1) / den)
}

// SettleMicros is the power-up settle time: at least 74 bus clocks at the
// identification rate, plus one microsecond.
func SettleMicros(peripheralClock uint32) uint32 {
	div := InitDivider(peripheralClock)
	if div == 0 {
		div = 1
	}
	initRateKHz := peripheralClock / (2 * div) / 1000
	if initRateKHz == 0 {
		initRateKHz = 1
	}
	return 1 + (74000+initRateKHz-1)/initRateKHz
}

// clockControl is the CLKCR value after bus-width negotiation
type clockControl struct {
	Divider   uint32
	Edge      ClockEdge
	PowerSave bool
	Width     BusWidth
	FlowCtrl  bool
}

// clkcrMask covers every field reprogrammed in the speed transition
const clkcrMask = regs.CLKCR_CLKDIV | regs.CLKCR_PWRSAV | regs.CLKCR_WIDBUS | regs.CLKCR_NEGEDGE |
	regs.CLKCR_HWFC_EN | regs.CLKCR_DDR | regs.CLKCR_BUSSPEED | regs.CLKCR_SELCLKRX

func (c clockControl) bits() uint32 {
	v := (c.Divider << regs.CLKCR_CLKDIV_Pos) & regs.CLKCR_CLKDIV
	v |= uint32(c.Edge) << regs.CLKCR_NEGEDGE_Pos
	v |= b2u(c.PowerSave) << regs.CLKCR_PWRSAV_Pos
	v |= uint32(c.Width) << regs.CLKCR_WIDBUS_Pos
	v |= b2u(c.FlowCtrl) << regs.CLKCR_HWFC_EN_Pos
	return v
}
