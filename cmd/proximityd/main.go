// Command proximityd runs the proximity exchange on a Bluetooth adapter. When attached to a
// terminal it reads commands from stdin; otherwise it runs until interrupted.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/shlex"
	"golang.org/x/term"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/cli"
	"github.com/opencontact/proximity/pkg/connector/ble"
)

const commandTimeout = 5 * time.Second

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

func Usage() {
	fmt.Printf("Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Printf("\nAvailable OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Printf("\nInteractive COMMANDs:\n")
	printHelp(os.Stdout)
}

func runCommand(ctl controller, out io.Writer, args []string) int {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := execute(ctx, ctl, out, args); err != nil {
		writeErr("Failed to execute command: %s", err)
		return 1
	}
	return 0
}

func runInteractiveShell(ctl controller, in io.Reader, out io.Writer, done <-chan os.Signal) int {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprintf(out, "> ")
		select {
		case <-done:
			fmt.Fprintln(out)
			return 0
		case err := <-scanErr:
			if err != nil {
				writeErr("Error reading command: %s", err)
				return 1
			}
			return 0
		case line := <-lines:
			args, err := shlex.Split(line)
			if len(args) == 0 {
				continue
			}
			if args[0] == "exit" {
				return 0
			}
			if err != nil {
				writeErr("Invalid command: %s", err)
				continue
			}
			runCommand(ctl, out, args)
		}
	}
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug        bool
		startOff     bool
		startTimeout time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.BoolVar(&startOff, "off", false, "Start with scanning and advertising turned off")
	flag.DurationVar(&startTimeout, "start-timeout", 15*time.Second, "Set timeout for opening the adapter and the record store")
	config.RegisterCommandLineFlags()
	flag.Parse()
	if !debug {
		if debugEnv, ok := os.LookupEnv("PROXIMITY_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	} else {
		log.SetLevel(log.LevelInfo)
	}
	config.ReadFromEnvironment()

	if err := config.LoadCredentials(); err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	var d *daemon
	app := newApp(options{config: config, startOn: !startOff}, &d)
	if err := app.Err(); err != nil {
		writeErr("Error: %s", err)
		if ble.IsAdapterError(err) {
			writeErr("\n%s", ble.AdapterErrorHelpMessage(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		writeErr("Failed to start: %s", err)
		return
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		status = runInteractiveShell(d, os.Stdin, os.Stdout, interrupt)
	} else {
		log.Info("Running until interrupted")
		<-interrupt
		status = 0
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		writeErr("Error during shutdown: %s", err)
		status = 1
	}
}
