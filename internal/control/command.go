package control

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownCommand = errors.New("control: unknown command payload")

// Kind tags one decoded control command.
type Kind int

const (
	Pause Kind = iota
	Resume
	Terminate
	Stop
)

func (k Kind) String() string {
	switch k {
	case Pause:
		return "PAUSE"
	case Resume:
		return "RESUME"
	case Terminate:
		return "TERMINATE"
	case Stop:
		return "STOP"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is the typed form of one control payload. Name narrows the
// target when several relay instances share one bus; empty targets
// everyone.
type Command struct {
	Kind Kind
	Name string
}

// ParseCommand decodes a textual control payload. Internal code never
// matches raw bytes; decoding happens once, here, at the channel
// boundary.
func ParseCommand(payload []byte) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(string(payload)))
	if len(fields) == 0 || len(fields) > 2 {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, payload)
	}
	var kind Kind
	switch fields[0] {
	case "PAUSE":
		kind = Pause
	case "RESUME":
		kind = Resume
	case "TERMINATE":
		kind = Terminate
	case "STOP":
		kind = Stop
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, payload)
	}
	cmd := Command{Kind: kind}
	if len(fields) == 2 {
		cmd.Name = fields[1]
	}
	return cmd, nil
}

// Payload renders the command back to its textual wire form, keeping
// interop with peers that speak plain byte commands.
func (c Command) Payload() []byte {
	if c.Name == "" {
		return []byte(c.Kind.String())
	}
	return []byte(c.Kind.String() + " " + c.Name)
}

// Matches reports whether the command targets the given instance name.
// Unnamed commands target every instance.
func (c Command) Matches(name string) bool {
	return c.Name == "" || c.Name == name
}
