package sequencer

import (
	"fmt"
	"time"

	"github.com/opencontact/proximity/pkg/contact"
)

// Producer computes the value of a Write when the Write is executed. It receives the latest
// aggregated record for the peer.
type Producer func(latest contact.Record) ([]byte, error)

// Command is one protocol step. The set of implementations is closed: Read, Write,
// MeasureSignal, ScheduleRepeating and Cancel.
type Command interface {
	fmt.Stringer
	command()
}

// Read fetches the value of a characteristic.
type Read struct {
	Characteristic string
}

// Write stores the value produced by Value into a characteristic.
type Write struct {
	Characteristic string
	Value          Producer
}

// MeasureSignal samples the signal strength of the connection.
type MeasureSignal struct{}

// ScheduleRepeating runs Commands after Interval, Count times. A Count of zero repeats forever.
type ScheduleRepeating struct {
	Commands []Command
	Interval time.Duration
	Count    int
}

// Cancel ends the sequence. Its Callback runs once, after every other command has completed or
// as soon as a fatal step fails. A Cancel nested in ScheduleRepeating is ignored.
type Cancel struct {
	Callback func()
}

func (Read) command()              {}
func (Write) command()             {}
func (MeasureSignal) command()     {}
func (ScheduleRepeating) command() {}
func (Cancel) command()            {}

func (c Read) String() string        { return fmt.Sprintf("Read(%s)", c.Characteristic) }
func (c Write) String() string       { return fmt.Sprintf("Write(%s)", c.Characteristic) }
func (MeasureSignal) String() string { return "MeasureSignal" }
func (Cancel) String() string        { return "Cancel" }
func (c ScheduleRepeating) String() string {
	return fmt.Sprintf("ScheduleRepeating(%d commands, every %s, count %d)", len(c.Commands), c.Interval, c.Count)
}

// withoutCancel returns commands with every Cancel removed, including from nested
// ScheduleRepeating lists.
func withoutCancel(commands []Command) []Command {
	out := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		switch c := cmd.(type) {
		case Cancel:
		case ScheduleRepeating:
			c.Commands = withoutCancel(c.Commands)
			out = append(out, c)
		default:
			out = append(out, cmd)
		}
	}
	return out
}
