package pipeline

import (
	"time"

	"github.com/michaelbrown/sandcmd/internal/sandbox"
)

// State is a step of a pipeline run. Runs only move forward; any error
// moves a run to StateFailed.
type State string

const (
	StateInit      State = "INIT"
	StateSuggested State = "SUGGESTED"
	StateExecuted  State = "EXECUTED"
	StateExplained State = "EXPLAINED"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Result holds every value a run produced, up to the state it reached.
type Result struct {
	ID             string              `json:"id"`
	State          State               `json:"state"`
	Instruction    string              `json:"instruction"`
	Image          string              `json:"image"`
	Prompt         string              `json:"prompt"`
	RawSuggestion  string              `json:"raw_suggestion,omitempty"`
	Command        string              `json:"command,omitempty"`
	ContainerID    string              `json:"container_id,omitempty"`
	Exec           *sandbox.ExecResult `json:"exec,omitempty"`
	FeedbackPrompt string              `json:"feedback_prompt,omitempty"`
	RawExplanation string              `json:"raw_explanation,omitempty"`
	Explanation    string              `json:"explanation,omitempty"`
	Error          string              `json:"error,omitempty"`

	// FailedIn is the state the run was in when it failed.
	FailedIn State `json:"failed_in,omitempty"`
}

// Transition describes one state change of a run.
type Transition struct {
	From    State
	To      State
	Result  *Result
	Err     error         // set when To is StateFailed
	Elapsed time.Duration // time spent in From
}
