package sdmmc

import "testing"

func TestStepTransitions(t *testing.T) {
	want := []Step{
		StepPowerUp, StepIdle, StepVersionProbe, StepVoltageNegotiation, StepCapacityCheck,
		StepIdentification, StepAddressing, StepCSDRetrieval, StepSelection,
		StepConfigurationRetrieval, StepBusWidthNegotiation, StepSpeedTransition,
		StepBlockLength, StepReadyCheck, StepReady,
	}

	s := StepPowerUp
	for i, w := range want {
		if s != w {
			t.Fatalf("step %d = %v, want %v", i, s, w)
		}
		s = next(s)
	}
	if next(StepReady) != StepReady {
		t.Error("Ready must be terminal")
	}
}

func TestStepString(t *testing.T) {
	if StepVoltageNegotiation.String() != "VoltageNegotiation" {
		t.Errorf("got %q", StepVoltageNegotiation.String())
	}
	if Step(99).String() != "Step(99)" {
		t.Errorf("got %q", Step(99).String())
	}
}

func TestCardStateOf(t *testing.T) {
	tests := []struct {
		status uint32
		want   CardState
	}{
		{0x00000900, CardTransfer},
		{0x00000920, CardTransfer}, // APP_CMD set
		{0x00000500, CardIdentification},
		{0x00000000, CardIdle},
		{0x00000E00, CardProgramming},
		{0xFFFFE1FF, CardIdle},
	}
	for _, tt := range tests {
		if got := CardStateOf(tt.status); got != tt.want {
			t.Errorf("CardStateOf(0x%08X) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	var err error = ErrCapacityUnsupported
	if err.Error() != "sdmmc: high capacity card unsupported" {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := &StepError{Step: StepCapacityCheck, Err: ErrCapacityUnsupported}
	if wrapped.Error() != "sdmmc: CapacityCheck: sdmmc: high capacity card unsupported" {
		t.Errorf("StepError = %q", wrapped.Error())
	}

	tf := &TransferFailure{Status: 0x2}
	if tf.Unwrap() != ErrTransfer {
		t.Error("TransferFailure must unwrap to ErrTransfer")
	}
	if tf.Error() != "sdmmc: transfer error (STA=0x00000002)" {
		t.Errorf("TransferFailure = %q", tf.Error())
	}
}
