package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alqutdigital/finance-chat/internal/llm"
)

// InvalidQuery is the sentinel the model returns for questions it will not translate.
const InvalidQuery = "INVALID_QUERY"

var (
	// ErrInvalidQuery means the model declined the question.
	ErrInvalidQuery = errors.New("model responded with " + InvalidQuery)
	// ErrRejectedStatement means the generated text is not a single read-only query.
	ErrRejectedStatement = errors.New("rejected SQL statement")
)

// forbiddenWords may not appear as keywords anywhere in a generated query.
var forbiddenWords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"CREATE": true, "TRUNCATE": true, "MERGE": true, "GRANT": true, "REVOKE": true,
	"CALL": true, "EXEC": true, "EXECUTE": true, "LOAD": true, "HANDLER": true,
	"LOCK": true, "UNLOCK": true, "RENAME": true, "SET": true, "INTO": true,
	"OUTFILE": true, "DUMPFILE": true, "ATTACH": true, "DETACH": true, "PRAGMA": true,
	"VACUUM": true, "COPY": true, "SHUTDOWN": true,
}

// functionOnlyWords are allowed only when used as a function call.
var functionOnlyWords = map[string]bool{
	"REPLACE": true,
}

// Statement is a generated query that passed validation.
type Statement struct {
	SQL string
}

// ParseStatement validates model output as a single read-only query.
// It returns ErrInvalidQuery for the sentinel and wraps ErrRejectedStatement
// for anything else it will not run.
func ParseStatement(raw string) (Statement, error) {
	text := cleanModelOutput(raw)
	if text == "" {
		return Statement{}, fmt.Errorf("%w: empty output", ErrRejectedStatement)
	}
	if strings.EqualFold(strings.Trim(text, "\"'`. "), InvalidQuery) {
		return Statement{}, ErrInvalidQuery
	}

	sc, err := scanSQL(text)
	if err != nil {
		return Statement{}, fmt.Errorf("%w: %v", ErrRejectedStatement, err)
	}
	if len(sc.words) == 0 {
		return Statement{}, fmt.Errorf("%w: no keywords", ErrRejectedStatement)
	}

	switch sc.words[0].text {
	case "SELECT":
	case "WITH":
		if !sc.has("SELECT") {
			return Statement{}, fmt.Errorf("%w: WITH without SELECT", ErrRejectedStatement)
		}
	default:
		return Statement{}, fmt.Errorf("%w: %s is not allowed", ErrRejectedStatement, sc.words[0].text)
	}

	for _, w := range sc.words {
		if forbiddenWords[w.text] {
			return Statement{}, fmt.Errorf("%w: %s is not allowed", ErrRejectedStatement, w.text)
		}
		if functionOnlyWords[w.text] && w.next != '(' {
			return Statement{}, fmt.Errorf("%w: %s is not allowed", ErrRejectedStatement, w.text)
		}
	}

	return Statement{SQL: sc.body}, nil
}

// cleanModelOutput removes markdown fences, including unbalanced ones.
func cleanModelOutput(raw string) string {
	text := llm.StripCodeFence(raw)
	for _, prefix := range []string{"```sql", "```SQL", "```"} {
		if strings.HasPrefix(text, prefix) {
			text = text[len(prefix):]
			break
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

type sqlWord struct {
	text string // upper-cased
	next byte   // first non-space byte after the word, 0 at end
}

type scanResult struct {
	words []sqlWord
	body  string // statement without its trailing semicolon
}

func (s scanResult) has(word string) bool {
	for _, w := range s.words {
		if w.text == word {
			return true
		}
	}
	return false
}

// scanSQL walks the statement outside of quoted literals, collecting keywords
// and rejecting comments and statement chaining.
func scanSQL(text string) (scanResult, error) {
	var res scanResult
	end := len(text)

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j, err := skipQuoted(text, i)
			if err != nil {
				return res, err
			}
			i = j
		case c == '-' && i+1 < len(text) && text[i+1] == '-',
			c == '/' && i+1 < len(text) && text[i+1] == '*',
			c == '#':
			return res, errors.New("comments are not allowed")
		case c == ';':
			if strings.TrimSpace(text[i+1:]) != "" {
				return res, errors.New("multiple statements are not allowed")
			}
			end = i
			i = len(text)
		case isWordByte(c):
			j := i
			for j < len(text) && isWordByte(text[j]) {
				j++
			}
			word := sqlWord{text: strings.ToUpper(text[i:j])}
			k := j
			for k < len(text) && isSpace(text[k]) {
				k++
			}
			if k < len(text) {
				word.next = text[k]
			}
			if !isDigit(text[i]) {
				res.words = append(res.words, word)
			}
			i = j
		default:
			i++
		}
	}

	res.body = strings.TrimSpace(text[:end])
	return res, nil
}

func skipQuoted(text string, start int) (int, error) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			if i+1 < len(text) && text[i+1] == quote {
				i++
				continue
			}
			return i + 1, nil
		}
	}
	return 0, errors.New("unterminated quoted literal")
}

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
