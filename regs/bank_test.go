package regs

import "testing"

func TestModifyPreservesUnrelatedBits(t *testing.T) {
	b := NewMemBank()
	b.Store(CMD, CMD_CMDTRANS|CMD_BOOTEN|0x3F)

	Modify(b, CMD, CMD_CMDINDEX, 8<<CMD_CMDINDEX_Pos)

	got := b.Load(CMD)
	want := uint32(CMD_CMDTRANS | CMD_BOOTEN | 8)
	if got != want {
		t.Errorf("Expected CMD 0x%08X, got 0x%08X", want, got)
	}

	writes := b.Writes()
	if len(writes) != 2 {
		t.Fatalf("Expected 2 stores (seed + modify), got %d", len(writes))
	}
}

func TestSetClearBits(t *testing.T) {
	b := NewMemBank()
	SetBits(b, POWER, POWER_DIRPOL)
	SetBits(b, POWER, POWER_PWRCTRL_ON)
	if b.Load(POWER) != POWER_DIRPOL|POWER_PWRCTRL_ON {
		t.Errorf("Unexpected POWER 0x%08X", b.Load(POWER))
	}

	ClearBits(b, POWER, POWER_PWRCTRL)
	if b.Load(POWER) != POWER_DIRPOL {
		t.Errorf("Expected only DIRPOL after clear, got 0x%08X", b.Load(POWER))
	}
}

func TestField(t *testing.T) {
	testCases := []struct {
		name  string
		value uint32
		pos   uint
		width uint
		want  uint32
	}{
		{"card state transfer", 0x00000900, 9, 4, 0x4},
		{"card state standby", 0x00000600, 9, 4, 0x3},
		{"clkdiv", 0x0000407D, CLKCR_CLKDIV_Pos, 10, 125},
		{"widbus", 1 << CLKCR_WIDBUS_Pos, CLKCR_WIDBUS_Pos, 2, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Field(tc.value, tc.pos, tc.width); got != tc.want {
				t.Errorf("Field(0x%08X, %d, %d) = 0x%X, want 0x%X", tc.value, tc.pos, tc.width, got, tc.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	testCases := []struct {
		offset uint32
		want   bool
	}{
		{POWER, true},
		{STA, true},
		{FIFO, true},
		{WindowSize - 4, true},
		{WindowSize, false},
		{0x2000, false},
		{STA + 1, false},
		{0xFFFFFFFE, false},
	}

	for _, tc := range testCases {
		if got := Valid(tc.offset); got != tc.want {
			t.Errorf("Valid(0x%X) = %v, want %v", tc.offset, got, tc.want)
		}
	}
}
