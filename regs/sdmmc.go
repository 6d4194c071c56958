package regs

// SDMMC1 base address on the STM32H7 AHB3 bus.
const SDMMC1Base = 0x52007000

// SDMMC register offsets (from base address)
const (
	POWER     = 0x00 // Power control
	CLKCR     = 0x04 // Clock control
	ARG       = 0x08 // Command argument
	CMD       = 0x0C // Command
	RESPCMD   = 0x10 // Command response (echoed index)
	RESP1     = 0x14 // Response 1 (short response, or bits 127:96 of long)
	RESP2     = 0x18 // Response 2
	RESP3     = 0x1C // Response 3
	RESP4     = 0x20 // Response 4
	DTIMER    = 0x24 // Data timer
	DLEN      = 0x28 // Data length
	DCTRL     = 0x2C // Data control
	DCOUNT    = 0x30 // Data counter
	STA       = 0x34 // Status
	ICR       = 0x38 // Interrupt clear
	MASK      = 0x3C // Interrupt mask
	ACKTIME   = 0x40 // Boot acknowledgment timer
	IDMACTRL  = 0x50 // Internal DMA control
	IDMABSIZE = 0x54 // Internal DMA buffer size
	IDMABASE0 = 0x58 // Internal DMA base address 0
	IDMABASE1 = 0x5C // Internal DMA base address 1
	FIFO      = 0x80 // Data FIFO

	// WindowSize covers every register above
	WindowSize = 0x400
)

// POWER register bits
const (
	POWER_PWRCTRL_Pos = 0
	POWER_PWRCTRL     = 0b11 << POWER_PWRCTRL_Pos
	POWER_PWRCTRL_ON  = 0b11 << POWER_PWRCTRL_Pos
	POWER_VSWITCH     = 1 << 2
	POWER_VSWITCHEN   = 1 << 3
	POWER_DIRPOL      = 1 << 4
)

// CLKCR register bits
const (
	CLKCR_CLKDIV_Pos   = 0
	CLKCR_CLKDIV       = 0x3FF << CLKCR_CLKDIV_Pos
	CLKCR_PWRSAV_Pos   = 12
	CLKCR_PWRSAV       = 1 << CLKCR_PWRSAV_Pos
	CLKCR_WIDBUS_Pos   = 14
	CLKCR_WIDBUS       = 0b11 << CLKCR_WIDBUS_Pos
	CLKCR_NEGEDGE_Pos  = 16
	CLKCR_NEGEDGE      = 1 << CLKCR_NEGEDGE_Pos
	CLKCR_HWFC_EN_Pos  = 17
	CLKCR_HWFC_EN      = 1 << CLKCR_HWFC_EN_Pos
	CLKCR_DDR          = 1 << 18
	CLKCR_BUSSPEED     = 1 << 19
	CLKCR_SELCLKRX_Pos = 20
	CLKCR_SELCLKRX     = 0b11 << CLKCR_SELCLKRX_Pos
)

// CMD register bits
const (
	CMD_CMDINDEX_Pos   = 0
	CMD_CMDINDEX       = 0x3F << CMD_CMDINDEX_Pos
	CMD_CMDTRANS       = 1 << 6
	CMD_CMDSTOP        = 1 << 7
	CMD_WAITRESP_Pos   = 8
	CMD_WAITRESP       = 0b11 << CMD_WAITRESP_Pos
	CMD_WAITINT_Pos    = 10
	CMD_WAITINT        = 1 << CMD_WAITINT_Pos
	CMD_WAITPEND_Pos   = 11
	CMD_WAITPEND       = 1 << CMD_WAITPEND_Pos
	CMD_CPSMEN_Pos     = 12
	CMD_CPSMEN         = 1 << CMD_CPSMEN_Pos
	CMD_DTHOLD         = 1 << 13
	CMD_BOOTMODE       = 1 << 14
	CMD_BOOTEN         = 1 << 15
	CMD_CMDSUSPEND_Pos = 16
	CMD_CMDSUSPEND     = 1 << CMD_CMDSUSPEND_Pos
)

// DCTRL register bits
const (
	DCTRL_DTEN           = 1 << 0
	DCTRL_DTDIR          = 1 << 1 // 1 = card to host
	DCTRL_DTMODE_Pos     = 2
	DCTRL_DTMODE         = 0b11 << DCTRL_DTMODE_Pos
	DCTRL_DBLOCKSIZE_Pos = 4
	DCTRL_DBLOCKSIZE     = 0xF << DCTRL_DBLOCKSIZE_Pos
)

// STA register bits. ICR and MASK use the same bit positions.
const (
	STA_CCRCFAIL  = 1 << 0
	STA_DCRCFAIL  = 1 << 1
	STA_CTIMEOUT  = 1 << 2
	STA_DTIMEOUT  = 1 << 3
	STA_TXUNDERR  = 1 << 4
	STA_RXOVERR   = 1 << 5
	STA_CMDREND   = 1 << 6
	STA_CMDSENT   = 1 << 7
	STA_DATAEND   = 1 << 8
	STA_DHOLD     = 1 << 9
	STA_DBCKEND   = 1 << 10
	STA_DABORT    = 1 << 11
	STA_DPSMACT   = 1 << 12
	STA_CPSMACT   = 1 << 13
	STA_TXFIFOHE  = 1 << 14
	STA_RXFIFOHF  = 1 << 15
	STA_TXFIFOF   = 1 << 16
	STA_RXFIFOF   = 1 << 17
	STA_TXFIFOE   = 1 << 18
	STA_RXFIFOE   = 1 << 19
	STA_BUSYD0    = 1 << 20
	STA_BUSYD0END = 1 << 21
	STA_SDIOIT    = 1 << 22
	STA_IDMATE    = 1 << 27
	STA_IDMABTC   = 1 << 28
)

// Grouped status masks used by the engine and the completion handler
const (
	// CmdFlags are the command-completion flags cleared after every command
	CmdFlags = STA_CCRCFAIL | STA_CTIMEOUT | STA_CMDREND | STA_CMDSENT | STA_BUSYD0END

	// CmdDone is any terminal command condition
	CmdDone = STA_CCRCFAIL | STA_CMDREND | STA_CTIMEOUT | STA_BUSYD0END

	// DataFlags are the data-completion flags cleared after every data phase
	DataFlags = STA_DCRCFAIL | STA_DTIMEOUT | STA_TXUNDERR | STA_RXOVERR |
		STA_DATAEND | STA_DHOLD | STA_DBCKEND | STA_DABORT | STA_IDMATE | STA_IDMABTC

	// DataErrors are data-phase failures latched by the completion handler
	DataErrors = STA_DCRCFAIL | STA_DTIMEOUT | STA_TXUNDERR | STA_RXOVERR

	// DataIRQs are the interrupt sources enabled while a transfer is in flight
	DataIRQs = STA_DCRCFAIL | STA_DTIMEOUT | STA_TXUNDERR | STA_DATAEND | STA_RXOVERR
)

// IDMACTRL register bits
const (
	IDMACTRL_IDMAEN    = 1 << 0
	IDMACTRL_IDMABMODE = 1 << 1
	IDMACTRL_IDMABACT  = 1 << 2
)
