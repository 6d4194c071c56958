package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/shlex"

	"sdhost/config"
)

var (
	configPath = flag.String("config", "", "Board configuration (JSON); built-in STM32H7 board if empty")
	mode       = flag.String("mode", "sim", "Target: sim, loopback, device, regs or devmem")
	device     = flag.String("device", "", "Serial device path (overrides the configuration)")
	baud       = flag.Int("baud", 0, "Baud rate (ignored for USB CDC)")
	serve      = flag.Bool("serve", false, "Serve the local target over -device instead of opening a prompt")
	verbose    = flag.Bool("verbose", false, "Log bring-up progress")
	script     = flag.String("c", "", "Run these ;-separated commands and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	t, err := openTarget(*mode, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer t.Close()

	if *serve {
		if err := serveTarget(t, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("sdhost - %s target (%s)\n", *mode, cfg.Board)

	if *script != "" {
		for _, line := range strings.Split(*script, ";") {
			if quit, err := t.execute(line, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			} else if quit {
				return
			}
		}
		return
	}

	repl(t, os.Stdin, os.Stdout)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		cfg.Bridge.Device = *device
	}
	if *baud != 0 {
		cfg.Bridge.Baud = *baud
	}
	return cfg, nil
}

func repl(t *target, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		quit, err := t.execute(scanner.Text(), out)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		if quit {
			fmt.Fprintln(out, "Goodbye!")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

// execute runs one command line. It reports true when the session should
// end.
func (t *target) execute(line string, out io.Writer) (bool, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(words) == 0 {
		return false, nil
	}

	cmd, args := words[0], words[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		printHelp(out)
		return false, nil
	}

	h, ok := commands[cmd]
	if !ok {
		return false, fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return false, h.run(t, args, out)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable commands:")
	for _, name := range commandOrder {
		h := commands[name]
		fmt.Fprintf(out, "  %-28s - %s\n", strings.TrimSpace(name+" "+h.usage), h.help)
	}
	fmt.Fprintln(out, "  quit/exit/q                  - Exit the program")
	fmt.Fprintln(out)
}
