// Package oracle turns natural-language instructions into shell command
// suggestions, and command results into explanations, by prompting an LLM
// for JSON.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/michaelbrown/sandcmd/internal/llm"
)

// CommandFormatHint is appended to instructions so the model answers with
// the JSON shape ParseSuggestion expects.
const CommandFormatHint = "Your response should be a json with a single key 'command' and the value should be the command I asked."

// Oracle wraps an LLM client with the request settings every call shares.
type Oracle struct {
	client llm.Client
	opts   llm.CompletionOptions
}

// New creates an Oracle. Requests are sent with opts unchanged.
func New(client llm.Client, opts llm.CompletionOptions) *Oracle {
	return &Oracle{client: client, opts: opts}
}

// Generate sends prompt to the model and returns its raw text. An empty
// system string sends no system message. The response is not inspected.
func (o *Oracle) Generate(ctx context.Context, prompt, system string) (string, error) {
	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.SystemMessage(system))
	}
	messages = append(messages, llm.UserMessage(prompt))

	resp, err := o.client.ChatCompletion(ctx, messages, o.opts)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp.Message.Content, nil
}

// InstructionPrompt appends the command format hint to an instruction,
// unless the instruction already names the 'command' key itself.
func InstructionPrompt(instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if strings.Contains(instruction, "'command'") {
		return instruction
	}
	return instruction + " " + CommandFormatHint
}

// FeedbackPrompt builds the follow-up instruction asking the model to
// explain a command result. All three values are embedded verbatim.
func FeedbackPrompt(command string, exitCode int, output string) string {
	return fmt.Sprintf("By running the following command: `%s`, I receive the following exit code: `%d` and output: `%s`. "+
		"Please explain giving me a JSON output, with a single key 'explanation' and the value should be the explanation of the command and its output.",
		command, exitCode, output)
}
