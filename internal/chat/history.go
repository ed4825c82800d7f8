package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is a single utterance in a session. On the wire it is {"user": "..."} or {"bot": "..."}.
type Turn struct {
	Role Role
	Text string
}

// UserTurn builds a user utterance.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// BotTurn builds a bot utterance.
func BotTurn(text string) Turn { return Turn{Role: RoleBot, Text: text} }

// History is the ordered turn sequence of a session.
type History []Turn

// UserTurns counts user utterances.
func (h History) UserTurns() int {
	n := 0
	for _, t := range h {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Transcript renders the history as "User: ..." and "Bot: ..." lines.
func (h History) Transcript() string {
	lines := make([]string, 0, len(h))
	for _, t := range h {
		switch t.Role {
		case RoleUser:
			lines = append(lines, "User: "+t.Text)
		case RoleBot:
			lines = append(lines, "Bot: "+t.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// MarshalJSON writes the turn as a single-key object keyed by role.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{string(t.Role): t.Text})
}

// UnmarshalJSON accepts {"user": "..."} or {"bot": "..."}.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if text, ok := raw[string(RoleUser)]; ok {
		*t = UserTurn(text)
		return nil
	}
	if text, ok := raw[string(RoleBot)]; ok {
		*t = BotTurn(text)
		return nil
	}
	return fmt.Errorf("turn must have a user or bot key")
}
