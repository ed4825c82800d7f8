// Package classifier decides which strategy answers a question and rewrites
// vague follow-ups using the chat history.
package classifier

import (
	"fmt"
	"strings"
)

// Strategy is the closed set of ways a question can be answered.
type Strategy int

const (
	StrategySQL Strategy = iota + 1
	StrategyRAG
	StrategyInvalid
)

// String returns the wire name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategySQL:
		return "sql"
	case StrategyRAG:
		return "rag"
	case StrategyInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps a model label onto a Strategy. Case and surrounding
// quotes or whitespace are ignored.
func ParseStrategy(label string) (Strategy, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(label), "\"'`")) {
	case "sql":
		return StrategySQL, nil
	case "rag":
		return StrategyRAG, nil
	case "invalid":
		return StrategyInvalid, nil
	default:
		return 0, fmt.Errorf("unknown classification %q", label)
	}
}

// NoRewrite marks a question that should be executed as asked.
const NoRewrite = "N/A"

// Result is the classifier verdict.
type Result struct {
	Strategy          Strategy
	RewrittenQuestion string
}

// Question returns the text downstream stages should execute: the rewrite
// when there is one, else the original question.
func (r Result) Question(original string) string {
	q := strings.TrimSpace(r.RewrittenQuestion)
	if q == "" || q == NoRewrite {
		return original
	}
	return q
}

// ErrorMessage is the user-facing message of every classification failure.
const ErrorMessage = "Error while classifying the strategy based on question"

// ClassifierError reports a failed classification. It is fatal for the turn.
type ClassifierError struct {
	Message string
	Cause   error
}

func (e *ClassifierError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *ClassifierError) Unwrap() error {
	return e.Cause
}

func newError(cause error) *ClassifierError {
	return &ClassifierError{Message: ErrorMessage, Cause: cause}
}
