package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/engine"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrInvalidSince    = errors.New("invalid start time")
)

// controller is the part of the daemon the shell commands act on.
type controller interface {
	TurnOn() error
	TurnOff() error
	Status(ctx context.Context) (engine.Status, error)
	List(ctx context.Context, since time.Time) ([]contact.SavedRecord, error)
	SaveIdentity(id string) error
}

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// ParseSince accepts either an RFC 3339 timestamp or a duration counted back from now.
func ParseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidSince, value)
	}
	return now.Add(-d), nil
}

func execute(ctx context.Context, ctl controller, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}
	info, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, ctl, out, keywords)
	}

	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(out, args[0])
	}
	return err
}

func (c *Command) Usage(out io.Writer, name string) {
	fmt.Fprintf(out, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(out, " %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(out, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(out, " %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(out, " ]")
	}
	fmt.Fprintf(out, "\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Fprintf(out, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Fprintf(out, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

func printHelp(out io.Writer) {
	var names []string
	maxLength := 0
	for name := range commands {
		names = append(names, name)
		maxLength = max(maxLength, len(name))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s%s %s\n", name, strings.Repeat(" ", maxLength-len(name)), commands[name].help)
	}
}

var commands map[string]*Command

func init() {
	commands = map[string]*Command{
		"on": {
			help: "Start scanning and advertising",
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				return ctl.TurnOn()
			},
		},
		"off": {
			help: "Stop scanning and advertising, and disconnect every peer",
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				return ctl.TurnOff()
			},
		},
		"status": {
			help: "Show radio and exchange activity",
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				status, err := ctl.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "on:            %v\n", status.On)
				fmt.Fprintf(out, "radio:         %s\n", status.Central.Radio)
				fmt.Fprintf(out, "scanning:      %v\n", status.Central.Scanning)
				fmt.Fprintf(out, "advertising:   %v\n", status.Advertising)
				fmt.Fprintf(out, "peers:         %d\n", status.Central.Peers)
				fmt.Fprintf(out, "long sessions: %d\n", status.Central.LongSessions)
				fmt.Fprintf(out, "known peers:   %d\n", status.KnownPeers)
				return nil
			},
		},
		"records": {
			help: "List saved contact records",
			optional: []Argument{
				{name: "SINCE", help: "RFC 3339 time or duration before now (e.g. 2h). Lists everything if omitted."},
			},
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				since, err := ParseSince(args["SINCE"], time.Now())
				if err != nil {
					writeErr("%s", err)
					return ErrCommandLineArgs
				}
				records, err := ctl.List(ctx, since)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Fprintf(out, "%s %s\n", r.Peer, r.Record)
				}
				fmt.Fprintf(out, "%d record(s)\n", len(records))
				return nil
			},
		},
		"level": {
			help: "Set the log level",
			args: []Argument{
				{name: "LEVEL", help: "none, error, warning, info or debug"},
			},
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				level, ok := log.ParseLevel(args["LEVEL"])
				if !ok {
					writeErr("Unknown log level: %s", args["LEVEL"])
					return ErrCommandLineArgs
				}
				log.SetLevel(level)
				return nil
			},
		},
		"identity": {
			help: "Store the ephemeral identifier to advertise in the system keyring",
			args: []Argument{
				{name: "ID", help: "Ephemeral identifier"},
			},
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				return ctl.SaveIdentity(args["ID"])
			},
		},
		"help": {
			help: "List commands",
			optional: []Argument{
				{name: "COMMAND", help: "Show usage of COMMAND"},
			},
			handler: func(ctx context.Context, ctl controller, out io.Writer, args map[string]string) error {
				name, ok := args["COMMAND"]
				if !ok {
					printHelp(out)
					return nil
				}
				info, ok := commands[name]
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
				}
				info.Usage(out, name)
				return nil
			},
		},
	}
}
