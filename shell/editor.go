package shell

import (
	"bufio"
	"strings"
	"unicode"
)

// Editor limits.
const (
	MaxLineLength  = 256
	HistoryEntries = 16
)

// Control characters understood by the editor.
const (
	keyCtrlC     = 0x03
	keyBackspace = 0x08
	keyTab       = 0x09
	keyLF        = 0x0A
	keyCR        = 0x0D
	keyEscape    = 0x1B
	keyDelete    = 0x7F
)

type escState uint8

const (
	escNone escState = iota
	escStart
	escCSI
)

// Editor turns terminal input into command lines for a Shell. It echoes
// printable input, erases on backspace or DEL, completes command names on
// Tab and walks the history with the up and down arrow keys.
type Editor struct {
	sh      *Shell
	line    []rune
	history []string
	browse  int // history index shown, len(history) when editing
	esc     escState
	lastCR  bool
}

// NewEditor creates an editor feeding s.
func NewEditor(s *Shell) *Editor {
	return &Editor{sh: s}
}

// Start prints the prompt.
func (e *Editor) Start() {
	e.sh.write([]byte(Prompt))
}

// Line returns the line being edited.
func (e *Editor) Line() string {
	return string(e.line)
}

// History returns the remembered lines, oldest first.
func (e *Editor) History() []string {
	return append([]string(nil), e.history...)
}

// Flush discards input already buffered in r, such as keys pressed on a
// serial console before the shell started.
func Flush(r *bufio.Reader) {
	r.Discard(r.Buffered())
}

// Feed processes one input rune.
func (e *Editor) Feed(r rune) {
	switch e.esc {
	case escStart:
		e.esc = escNone
		if r == '[' {
			e.esc = escCSI
		}
		return
	case escCSI:
		e.esc = escNone
		switch r {
		case 'A':
			e.recall(-1)
		case 'B':
			e.recall(1)
		}
		return
	}

	if r == keyLF && e.lastCR {
		e.lastCR = false
		return
	}
	e.lastCR = r == keyCR

	switch r {
	case keyCR, keyLF:
		e.submit()
	case keyBackspace, keyDelete:
		if len(e.line) > 0 {
			e.line = e.line[:len(e.line)-1]
			e.sh.write([]byte("\b \b"))
		}
	case keyCtrlC:
		e.line = e.line[:0]
		e.browse = len(e.history)
		e.sh.write([]byte("^C\r\n" + Prompt))
	case keyTab:
		e.complete()
	case keyEscape:
		e.esc = escStart
	default:
		if unicode.IsPrint(r) && len(e.line) < MaxLineLength {
			e.line = append(e.line, r)
			e.sh.write([]byte(string(r)))
		}
	}
}

func (e *Editor) submit() {
	line := string(e.line)
	e.line = e.line[:0]
	e.sh.write([]byte("\r\n"))

	if strings.TrimSpace(line) != "" {
		if n := len(e.history); n == 0 || e.history[n-1] != line {
			e.history = append(e.history, line)
			if len(e.history) > HistoryEntries {
				e.history = e.history[1:]
			}
		}
		e.sh.Exec(line)
	}
	e.browse = len(e.history)
	e.sh.write([]byte(Prompt))
}

// recall replaces the line with the history entry step away from the one
// shown.
func (e *Editor) recall(step int) {
	next := e.browse + step
	if next < 0 || next > len(e.history) {
		return
	}
	e.browse = next
	text := ""
	if next < len(e.history) {
		text = e.history[next]
	}
	e.replace([]rune(text))
}

// replace erases the displayed line and shows text instead.
func (e *Editor) replace(text []rune) {
	e.sh.write([]byte(strings.Repeat("\b \b", len(e.line))))
	e.line = append(e.line[:0], text...)
	e.sh.write([]byte(string(e.line)))
}

// complete extends a command name being typed to the longest prefix its
// candidates share. A unique match is completed with a trailing space;
// several are listed.
func (e *Editor) complete() {
	prefix := string(e.line)
	if strings.ContainsAny(prefix, " \t") {
		return
	}
	match := e.sh.Complete(prefix)
	switch len(match) {
	case 0:
		return
	case 1:
		e.replace([]rune(match[0] + " "))
		return
	}

	common := match[0]
	for _, m := range match[1:] {
		for !strings.HasPrefix(m, common) {
			common = common[:len(common)-1]
		}
	}
	if len(common) > len(prefix) {
		e.replace([]rune(common))
		return
	}
	e.sh.write([]byte("\r\n"))
	for _, m := range match {
		e.sh.println("%s", m)
	}
	e.sh.write([]byte(Prompt + string(e.line)))
}
