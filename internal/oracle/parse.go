package oracle

import (
	"encoding/json"
	"errors"
)

const (
	KeyCommand     = "command"
	KeyExplanation = "explanation"
)

// Suggestion is the oracle's answer to an instruction.
type Suggestion struct {
	Command string `json:"command"`
}

// Explanation is the oracle's account of an executed command.
type Explanation struct {
	Explanation string `json:"explanation"`
}

var errMissingKey = errors.New("key missing or null")

// ParseSuggestion decodes a raw oracle response into a Suggestion.
// The command is returned exactly as the oracle wrote it.
func ParseSuggestion(raw string) (Suggestion, error) {
	var doc struct {
		Command *string `json:"command"`
	}
	if err := decodeObject(raw, KeyCommand, &doc); err != nil {
		return Suggestion{}, err
	}
	if doc.Command == nil {
		return Suggestion{}, &MalformedResponseError{Key: KeyCommand, Raw: raw, Err: errMissingKey}
	}
	return Suggestion{Command: *doc.Command}, nil
}

// ParseExplanation decodes a raw oracle response into an Explanation.
func ParseExplanation(raw string) (Explanation, error) {
	var doc struct {
		Explanation *string `json:"explanation"`
	}
	if err := decodeObject(raw, KeyExplanation, &doc); err != nil {
		return Explanation{}, err
	}
	if doc.Explanation == nil {
		return Explanation{}, &MalformedResponseError{Key: KeyExplanation, Raw: raw, Err: errMissingKey}
	}
	return Explanation{Explanation: *doc.Explanation}, nil
}

// decodeObject unmarshals raw into v. A JSON value of the wrong shape, such as
// an array, a bare string or a non-string field, fails the same way as invalid
// syntax.
func decodeObject(raw, key string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &MalformedResponseError{Key: key, Raw: raw, Err: err}
	}
	return nil
}
