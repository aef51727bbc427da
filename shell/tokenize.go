package shell

import "strings"

// Tokenize splits line on whitespace. A double quoted section is part of
// one token and may contain spaces; a backslash before a double quote
// makes it literal. An unterminated quote runs to the end of the line.
func Tokenize(line string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quoted bool
		inTok  bool
	)
	flush := func() {
		if inTok {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inTok = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			inTok = true
			i++
		case c == '"':
			quoted = !quoted
			inTok = true
		case !quoted && (c == ' ' || c == '\t'):
			flush()
		default:
			cur.WriteByte(c)
			inTok = true
		}
	}
	flush()
	return tokens
}
