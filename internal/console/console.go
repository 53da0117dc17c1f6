// Package console implements a line-oriented text protocol for driving the
// treadmill from a terminal or a serial-attached head unit.
//
// Commands, one per line, case-insensitive:
//
//	SPEED <kph>
//	STOP
//	RAISE
//	LOWER
//	SHUTDOWN
//
// Events are written back one per line:
//
//	SPEED 6.00
//	INCLINE 2
//	KEY REMOVED
//	KEY INSERTED
//	MSG <text>
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/sweeney/treadmill/internal/treadmill"
)

// Sender delivers commands to the treadmill. *treadmill.Bus satisfies it.
type Sender interface {
	Send(ctx context.Context, cmd treadmill.Command) error
}

// ErrEmpty is returned by ParseCommand for blank lines and comments.
var ErrEmpty = errors.New("empty line")

// ParseCommand parses a single protocol line into a command.
func ParseCommand(line string) (treadmill.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return treadmill.Command{}, ErrEmpty
	}
	fields := strings.Fields(line)
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	switch verb {
	case "SPEED":
		if len(args) != 1 {
			return treadmill.Command{}, fmt.Errorf("SPEED takes one argument")
		}
		kph, err := strconv.ParseFloat(args[0], 64)
		if err != nil || math.IsNaN(kph) || math.IsInf(kph, 0) {
			return treadmill.Command{}, fmt.Errorf("invalid speed %q", args[0])
		}
		return treadmill.SetSpeed(kph), nil
	case "STOP", "RAISE", "LOWER", "SHUTDOWN":
		if len(args) != 0 {
			return treadmill.Command{}, fmt.Errorf("%s takes no arguments", verb)
		}
	default:
		return treadmill.Command{}, fmt.Errorf("unknown command %q", fields[0])
	}

	switch verb {
	case "STOP":
		return treadmill.SetSpeed(0), nil
	case "RAISE":
		return treadmill.RaiseIncline(), nil
	case "LOWER":
		return treadmill.LowerIncline(), nil
	}
	return treadmill.Shutdown(), nil
}

// FormatEvent renders an event as a protocol line without the trailing newline.
func FormatEvent(e treadmill.Event) string {
	switch e.Kind {
	case treadmill.EventSpeedChanged:
		return fmt.Sprintf("SPEED %.2f", e.Speed)
	case treadmill.EventInclineChanged:
		return fmt.Sprintf("INCLINE %d", e.Incline)
	case treadmill.EventSafetyKeyRemoved:
		return "KEY REMOVED"
	case treadmill.EventSafetyKeyInserted:
		return "KEY INSERTED"
	case treadmill.EventMessage:
		return "MSG " + strings.ReplaceAll(e.Text, "\n", " ")
	}
	return "MSG " + string(e.Kind)
}

// Console couples a byte stream with the command sender and event stream.
type Console struct {
	rw     io.ReadWriter
	sender Sender
}

// New creates a Console over rw.
func New(rw io.ReadWriter, sender Sender) *Console {
	return &Console{rw: rw, sender: sender}
}

// Run reads commands from the stream and writes events to it until ctx is
// done, the stream reaches EOF, or events closes. Parse errors are reported
// back on the stream as "ERR <reason>" and do not stop the console.
func (c *Console) Run(ctx context.Context, events <-chan treadmill.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.rw)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.writeLine(FormatEvent(e)); err != nil {
				return fmt.Errorf("console write: %w", err)
			}
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("console read: %w", err)
					}
				default:
				}
				return nil
			}
			c.handle(ctx, line)
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) {
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrEmpty) {
		return
	}
	if err != nil {
		c.writeLine("ERR " + err.Error())
		return
	}
	if err := c.sender.Send(ctx, cmd); err != nil {
		log.Printf("console: %s: %v", cmd, err)
		c.writeLine("ERR " + err.Error())
	}
}

func (c *Console) writeLine(s string) error {
	_, err := io.WriteString(c.rw, s+"\n")
	return err
}

// OpenSerial opens a serial port for the console at the given baud rate.
func OpenSerial(port string, baud int) (serial.Port, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, nil
}
