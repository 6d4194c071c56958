//go:build !tinygo

package sdmmc

// irqState is a placeholder for interrupt state on regular Go
type irqState uintptr

// disableInterrupts is a no-op on regular Go (for testing)
func disableInterrupts() irqState {
	return 0
}

// restoreInterrupts is a no-op on regular Go (for testing)
func restoreInterrupts(state irqState) {
	// No-op
}
