package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/ardnew/mscfs/fatfs"
	"github.com/ardnew/mscfs/pkg"
	"github.com/ardnew/mscfs/rtc"
)

// ErrDuplicateCommand is returned when registering a name twice.
var ErrDuplicateCommand = errors.New("shell: duplicate command")

// Prompt is printed before each input line.
const Prompt = "> "

// Command is a named shell command.
type Command struct {
	Name string
	Help string
	Run  func(s *Shell, args []string)
}

// Shell dispatches command lines to file and clock operations and writes
// their output, one CR/LF terminated line at a time.
type Shell struct {
	out      io.Writer
	vols     *fatfs.Volumes
	clock    *rtc.Clock
	commands map[string]*Command
	names    []string // sorted
}

// New creates a shell writing to out with the built-in commands
// registered.
func New(out io.Writer, vols *fatfs.Volumes, clock *rtc.Clock) *Shell {
	s := &Shell{
		out:      out,
		vols:     vols,
		clock:    clock,
		commands: make(map[string]*Command),
	}
	for _, cmd := range builtins() {
		if err := s.Register(cmd); err != nil {
			panic(err)
		}
	}
	return s
}

// Register adds cmd.
func (s *Shell) Register(cmd Command) error {
	if _, ok := s.commands[cmd.Name]; ok {
		return fmt.Errorf("%s: %w", cmd.Name, ErrDuplicateCommand)
	}
	c := cmd
	s.commands[cmd.Name] = &c
	i, _ := slices.BinarySearch(s.names, cmd.Name)
	s.names = slices.Insert(s.names, i, cmd.Name)
	return nil
}

// Commands returns the registered commands sorted by name.
func (s *Shell) Commands() []Command {
	list := make([]Command, 0, len(s.names))
	for _, name := range s.names {
		list = append(list, *s.commands[name])
	}
	return list
}

// Complete returns the command names starting with prefix.
func (s *Shell) Complete(prefix string) []string {
	var match []string
	for _, name := range s.names {
		if strings.HasPrefix(name, prefix) {
			match = append(match, name)
		}
	}
	return match
}

// Exec runs one command line. Blank lines are ignored.
func (s *Shell) Exec(line string) {
	tokens := Tokenize(line)
	if len(tokens) == 0 {
		return
	}
	name, args := tokens[0], tokens[1:]
	cmd, ok := s.commands[name]
	if !ok {
		s.println("Unknown command: %s. Write \"help\" for a list of available commands", name)
		return
	}
	pkg.LogDebug(pkg.ComponentShell, "command", "name", name, "args", len(args))
	cmd.Run(s, args)
}

// Banner prints the clock reading and how to get help.
func (s *Shell) Banner() {
	dt := s.clock.Now()
	s.println("date=%02d/%02d/%04d time=%02d:%02d:%02d",
		dt.Month, dt.Day, dt.Year, dt.Hour, dt.Minute, dt.Second)
	s.println("Please use the CLI to set the date and time for file")
	s.println("timestamps before accessing the filesystem")
	s.println("Type help for more information")
}

// Run reads a raw terminal rune by rune through a line editor until in is
// exhausted or ctx is done.
func (s *Shell) Run(ctx context.Context, in io.RuneReader) error {
	ed := NewEditor(s)
	ed.Start()
	for ctx.Err() == nil {
		r, _, err := in.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ed.Feed(r)
	}
	return nil
}

// RunLines executes each line of in until it is exhausted or ctx is done.
// It suits input that is not an interactive terminal.
func (s *Shell) RunLines(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil && scanner.Scan() {
		s.Exec(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}

func (s *Shell) println(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\r\n", args...)
}

func (s *Shell) write(p []byte) {
	s.out.Write(p)
}
