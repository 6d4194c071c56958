package main

import (
	"fmt"
	"io"
	"time"

	tty "github.com/mattn/go-tty"

	"sdhost/regs"
)

const watchInterval = 500 * time.Millisecond

// cmdWatch prints a status line until a key is pressed. 'i' runs bring-up
// and 'r' reads block 0; any other key ends the watch.
func cmdWatch(t *target, args []string, out io.Writer) error {
	term, err := tty.Open()
	if err != nil {
		return err
	}
	defer term.Close()

	keys := make(chan rune)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(keys)
		for {
			r, err := term.ReadRune()
			if err != nil {
				return
			}
			select {
			case keys <- r:
			case <-done:
				return
			}
		}
	}()

	fmt.Fprintln(out, "watching; i = init, r = read block 0, any other key stops")
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-keys:
			if !ok {
				return nil
			}
			switch r {
			case 'i':
				if err := cmdInit(t, nil, out); err != nil {
					fmt.Fprintf(out, "init: %v\n", err)
				}
			case 'r':
				if err := cmdRead(t, []string{"0"}, out); err != nil {
					fmt.Fprintf(out, "read: %v\n", err)
				}
			default:
				return nil
			}
		case <-ticker.C:
			fmt.Fprintf(out, "\r%s  ", t.statusLine())
		}
	}
}

func (t *target) statusLine() string {
	line := fmt.Sprintf("step=%v", t.step())
	if t.session != nil {
		line += fmt.Sprintf(" present=%v", t.session.CardPresent())
		if t.session.Ready() {
			if st, err := t.session.CardStatus(); err == nil {
				line += fmt.Sprintf(" state=%v", st)
			}
		}
	}
	if t.bank != nil {
		line += fmt.Sprintf(" sta=0x%08X", t.bank.Load(regs.STA))
	}
	return line
}
