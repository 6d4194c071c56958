package sdmmc

// Step is a stage of card bring-up. Steps run strictly in order; next
// gives the only legal transition out of each.
type Step uint8

const (
	StepPowerUp Step = iota
	StepIdle
	StepVersionProbe
	StepVoltageNegotiation
	StepCapacityCheck
	StepIdentification
	StepAddressing
	StepCSDRetrieval
	StepSelection
	StepConfigurationRetrieval
	StepBusWidthNegotiation
	StepSpeedTransition
	StepBlockLength
	StepReadyCheck
	StepReady
)

func (s Step) String() string {
	switch s {
	case StepPowerUp:
		return "PowerUp"
	case StepIdle:
		return "Idle"
	case StepVersionProbe:
		return "VersionProbe"
	case StepVoltageNegotiation:
		return "VoltageNegotiation"
	case StepCapacityCheck:
		return "CapacityCheck"
	case StepIdentification:
		return "Identification"
	case StepAddressing:
		return "Addressing"
	case StepCSDRetrieval:
		return "CSDRetrieval"
	case StepSelection:
		return "Selection"
	case StepConfigurationRetrieval:
		return "ConfigurationRetrieval"
	case StepBusWidthNegotiation:
		return "BusWidthNegotiation"
	case StepSpeedTransition:
		return "SpeedTransition"
	case StepBlockLength:
		return "BlockLength"
	case StepReadyCheck:
		return "ReadyCheck"
	case StepReady:
		return "Ready"
	default:
		return "Step(" + itoa(int(s)) + ")"
	}
}

// next returns the step that follows s. Ready is terminal.
func next(s Step) Step {
	if s >= StepReady {
		return StepReady
	}
	return s + 1
}

// CardState is the CURRENT_STATE field of a card status (R1) response
type CardState uint8

const (
	CardIdle           CardState = 0
	CardReady          CardState = 1
	CardIdentification CardState = 2
	CardStandby        CardState = 3
	CardTransfer       CardState = 4
	CardSendingData    CardState = 5
	CardReceiveData    CardState = 6
	CardProgramming    CardState = 7
	CardDisconnect     CardState = 8
)

func (c CardState) String() string {
	switch c {
	case CardIdle:
		return "idle"
	case CardReady:
		return "ready"
	case CardIdentification:
		return "ident"
	case CardStandby:
		return "stby"
	case CardTransfer:
		return "tran"
	case CardSendingData:
		return "data"
	case CardReceiveData:
		return "rcv"
	case CardProgramming:
		return "prg"
	case CardDisconnect:
		return "dis"
	default:
		return "reserved(" + itoa(int(c)) + ")"
	}
}

// R1 card status bits
const (
	r1StatePos = 9
	r1AppCmd   = 1 << 5
)

// CardStateOf extracts CURRENT_STATE (bits 12:9) from a card status word
func CardStateOf(status uint32) CardState {
	return CardState((status >> r1StatePos) & 0xF)
}
