// Package shell is an interactive command line over a viewer session.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/schemerge/internal/merge"
	"github.com/MarcoPoloResearchLab/schemerge/internal/schematic"
	"github.com/MarcoPoloResearchLab/schemerge/internal/session"
	"github.com/chzyer/readline"
)

// ErrQuit is returned by Execute for quit and exit.
var ErrQuit = errors.New("shell: quit requested")

const helpText = `commands:
  page N|NAME          show a page by number (1-based) or name
  goto HASH            follow a hash such as sub1,U3
  search QUERY         search components, nets, pins and text
  next | prev          cycle through search results
  results [N]          show result page N
  toggle ID on|off     check or uncheck a diff
  all ours|theirs on|off
  filter [TEXT]        filter the diff table
  collapse PAIR | expand PAIR
  diffs                list the diff table
  conflicts            list pages with unresolved conflicts
  inspect SELECTOR [HOST] [probe]
  submit [force]       apply the selection
  set KEY VALUE        change a viewer setting
  quit`

// Dispatcher is the session surface the shell drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, command session.Command) (session.Effects, error)
	Rows() []merge.Row
	Conflicts() []merge.ConflictWarning
	Database() *schematic.Database
}

// Shell parses lines into session commands and prints their effects.
type Shell struct {
	session Dispatcher
	out     io.Writer
}

// New constructs a Shell writing to out.
func New(viewer Dispatcher, out io.Writer) *Shell {
	return &Shell{session: viewer, out: out}
}

// Run reads lines from rl until quit or EOF. Interrupts clear the line.
func (s *Shell) Run(ctx context.Context, rl *readline.Instance) error {
	s.out = rl.Stdout()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Fprintln(s.out, "Use 'quit' to leave the shell.")
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Execute(ctx, ParseArgs(line)); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

// ParseArgs splits a line on spaces, keeping double-quoted runs together.
func ParseArgs(input string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	for _, char := range input {
		switch {
		case char == '"':
			inQuotes = !inQuotes
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

// Execute runs one parsed command line.
func (s *Shell) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "quit", "exit":
		return ErrQuit
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "diffs":
		s.printRows(s.session.Rows())
		return nil
	case "conflicts":
		s.printConflicts(s.session.Conflicts())
		return nil
	}

	command, err := s.parse(args)
	if err != nil {
		return err
	}
	effects, err := s.session.Dispatch(ctx, command)
	if err != nil {
		return err
	}
	s.printEffects(effects)
	return nil
}

func (s *Shell) parse(args []string) (session.Command, error) {
	rest := args[1:]
	switch strings.ToLower(args[0]) {
	case "page":
		if len(rest) != 1 {
			return nil, usage("page N|NAME")
		}
		if number, err := strconv.Atoi(rest[0]); err == nil {
			return session.SelectPage{Page: number - 1}, nil
		}
		return session.Navigate{Hash: rest[0]}, nil
	case "goto":
		if len(rest) != 1 {
			return nil, usage("goto HASH")
		}
		return session.Navigate{Hash: rest[0]}, nil
	case "search":
		return session.Search{Query: strings.Join(rest, " ")}, nil
	case "next":
		return session.CycleResult{}, nil
	case "prev":
		return session.CycleResult{Backward: true}, nil
	case "results":
		if len(rest) == 0 {
			return session.GotoResultPage{Page: 1}, nil
		}
		number, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, usage("results [N]")
		}
		return session.GotoResultPage{Page: number}, nil
	case "toggle":
		if len(rest) != 2 {
			return nil, usage("toggle ID on|off")
		}
		value, err := onOff(rest[1])
		if err != nil {
			return nil, err
		}
		return session.ToggleDiff{ID: rest[0], Checked: value}, nil
	case "all":
		if len(rest) != 2 {
			return nil, usage("all ours|theirs on|off")
		}
		var side schematic.Side
		switch strings.ToLower(rest[0]) {
		case "ours":
			side = schematic.Ours
		case "theirs":
			side = schematic.Theirs
		default:
			return nil, usage("all ours|theirs on|off")
		}
		value, err := onOff(rest[1])
		if err != nil {
			return nil, err
		}
		return session.CheckAll{Side: side, Checked: value}, nil
	case "filter":
		return session.FilterChanges{Query: strings.Join(rest, " ")}, nil
	case "collapse", "expand":
		if len(rest) != 1 {
			return nil, usage(args[0] + " PAIR")
		}
		pair, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, usage(args[0] + " PAIR")
		}
		return session.CollapseGroup{Pair: schematic.PairIndex(pair), Collapsed: strings.EqualFold(args[0], "collapse")}, nil
	case "inspect":
		if len(rest) == 0 {
			return nil, usage("inspect SELECTOR [HOST] [probe]")
		}
		command := session.InspectElement{Selector: rest[0]}
		for _, arg := range rest[1:] {
			if strings.EqualFold(arg, "probe") {
				command.Probe = true
				continue
			}
			command.Host = arg
		}
		return command, nil
	case "submit":
		confirmed := len(rest) == 1 && strings.EqualFold(rest[0], "force")
		return session.Submit{Confirmed: confirmed}, nil
	case "set":
		if len(rest) != 2 {
			return nil, usage("set KEY VALUE")
		}
		return session.SetSetting{Key: rest[0], Value: rest[1]}, nil
	default:
		return nil, fmt.Errorf("unknown command %q, try help", args[0])
	}
}

func usage(form string) error {
	return fmt.Errorf("usage: %s", form)
}

func onOff(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}
