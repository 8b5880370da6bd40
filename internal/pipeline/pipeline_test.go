package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/michaelbrown/sandcmd/internal/oracle"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
)

type generateCall struct {
	prompt string
	system string
}

// scriptedOracle returns its replies in order.
type scriptedOracle struct {
	replies []string
	err     error
	calls   []generateCall
}

func (o *scriptedOracle) Generate(_ context.Context, prompt, system string) (string, error) {
	o.calls = append(o.calls, generateCall{prompt: prompt, system: system})
	if o.err != nil {
		return "", o.err
	}
	if len(o.calls) > len(o.replies) {
		return "", errors.New("scriptedOracle: out of replies")
	}
	return o.replies[len(o.calls)-1], nil
}

type fakeSandbox struct {
	provisionErr error
	execErr      error
	removeErr    error
	result       sandbox.ExecResult

	provisioned []string
	executed    []string
	removed     []string
}

func (s *fakeSandbox) Provision(_ context.Context, image string) (*sandbox.Container, error) {
	s.provisioned = append(s.provisioned, image)
	if s.provisionErr != nil {
		return nil, s.provisionErr
	}
	return &sandbox.Container{ID: "c-1", Image: image}, nil
}

func (s *fakeSandbox) Exec(_ context.Context, c *sandbox.Container, command string) (*sandbox.ExecResult, error) {
	s.executed = append(s.executed, command)
	if s.execErr != nil {
		return nil, s.execErr
	}
	res := s.result
	return &res, nil
}

func (s *fakeSandbox) Remove(_ context.Context, c *sandbox.Container) error {
	s.removed = append(s.removed, c.ID)
	return s.removeErr
}

func newTestPipeline(o Generator, sb sandbox.Sandbox) (*Pipeline, *[]Transition) {
	p := New(o, sb, Config{Image: "ubuntu:latest"}, zap.NewNop())
	var transitions []Transition
	p.OnTransition = func(t Transition) { transitions = append(transitions, t) }
	return p, &transitions
}

func states(ts []Transition) []State {
	var out []State
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func TestRoundTripCreatesFile(t *testing.T) {
	o := &scriptedOracle{replies: []string{
		`{"command": "touch /tmp/hello.txt"}`,
		`{"explanation": "The command created an empty file."}`,
	}}
	sb := &fakeSandbox{result: sandbox.ExecResult{ExitCode: 0, Output: ""}}
	p, transitions := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "Give me a command that creates a hello.txt file in the /tmp folder."})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.State != StateDone {
		t.Errorf("state = %s, want DONE", res.State)
	}
	if res.Command != "touch /tmp/hello.txt" {
		t.Errorf("command = %q", res.Command)
	}
	if res.Explanation != "The command created an empty file." {
		t.Errorf("explanation = %q", res.Explanation)
	}
	if diff := cmp.Diff([]string{"touch /tmp/hello.txt"}, sb.executed); diff != "" {
		t.Errorf("executed mismatch (-want +got):\n%s", diff)
	}

	if len(o.calls) != 2 {
		t.Fatalf("oracle called %d times, want 2", len(o.calls))
	}
	feedback := o.calls[1].prompt
	if feedback != oracle.FeedbackPrompt("touch /tmp/hello.txt", 0, "") {
		t.Errorf("feedback prompt = %q", feedback)
	}
	for _, want := range []string{"`touch /tmp/hello.txt`", "`0`", "``"} {
		if !strings.Contains(feedback, want) {
			t.Errorf("feedback prompt missing %s", want)
		}
	}
	if !strings.HasSuffix(o.calls[0].prompt, oracle.CommandFormatHint) {
		t.Errorf("first prompt lacks format hint: %q", o.calls[0].prompt)
	}

	want := []State{StateSuggested, StateExecuted, StateExplained, StateDone}
	if diff := cmp.Diff(want, states(*transitions)); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if (*transitions)[0].From != StateInit {
		t.Errorf("first transition from %s, want INIT", (*transitions)[0].From)
	}
	if diff := cmp.Diff([]string{"c-1"}, sb.removed); diff != "" {
		t.Errorf("sandbox not torn down (-want +got):\n%s", diff)
	}
}

func TestNonZeroExitIsNotAFailure(t *testing.T) {
	o := &scriptedOracle{replies: []string{
		`{"command": "false"}`,
		`{"explanation": "false always exits 1."}`,
	}}
	sb := &fakeSandbox{result: sandbox.ExecResult{ExitCode: 1, Output: ""}}
	p, _ := newTestPipeline(o, sb)

	core, logs := observer.New(zapcore.InfoLevel)
	p.logger = zap.New(core)

	res, err := p.Run(context.Background(), Request{Instruction: "run false"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want DONE", res.State)
	}
	if res.Exec == nil || res.Exec.ExitCode != 1 {
		t.Errorf("exec = %+v, want exit code 1", res.Exec)
	}
	if !strings.Contains(o.calls[1].prompt, "exit code: `1`") {
		t.Errorf("feedback prompt lacks exit code 1: %q", o.calls[1].prompt)
	}

	warns := logs.FilterMessage("command exited with non-zero status").All()
	if len(warns) != 1 {
		t.Fatalf("got %d non-zero exit warnings, want 1", len(warns))
	}
	if warns[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %s, want warn", warns[0].Level)
	}
	if got := warns[0].ContextMap()["exit_code"]; got != int64(1) {
		t.Errorf("exit_code field = %v, want 1", got)
	}
}

func TestMalformedSuggestionNeverExecutes(t *testing.T) {
	o := &scriptedOracle{replies: []string{"not json"}}
	sb := &fakeSandbox{}
	p, transitions := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "anything"})
	if !errors.Is(err, oracle.ErrMalformedResponse) {
		t.Fatalf("error = %v, want ErrMalformedResponse", err)
	}
	var mre *oracle.MalformedResponseError
	if !errors.As(err, &mre) || mre.Raw != "not json" {
		t.Errorf("MalformedResponseError = %+v", mre)
	}

	if res.State != StateFailed || res.FailedIn != StateInit {
		t.Errorf("state = %s (failed in %s), want FAILED in INIT", res.State, res.FailedIn)
	}
	if res.RawSuggestion != "not json" {
		t.Errorf("raw suggestion = %q", res.RawSuggestion)
	}
	if len(sb.provisioned) != 0 || len(sb.executed) != 0 {
		t.Errorf("sandbox used after malformed response: provisioned=%v executed=%v", sb.provisioned, sb.executed)
	}
	if len(o.calls) != 1 {
		t.Errorf("oracle called %d times, want 1", len(o.calls))
	}
	if diff := cmp.Diff([]State{StateFailed}, states(*transitions)); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if (*transitions)[0].Err == nil {
		t.Error("failed transition carries no error")
	}
}

func TestProvisionFailureNeverExecutes(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"command": "ls"}`}}
	pullErr := &sandbox.ProvisionError{Image: "ubuntu:latest", Err: errors.New("pull access denied")}
	sb := &fakeSandbox{provisionErr: pullErr}
	p, _ := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "list"})
	if !errors.Is(err, sandbox.ErrProvision) {
		t.Fatalf("error = %v, want ErrProvision", err)
	}
	if res.State != StateFailed || res.FailedIn != StateSuggested {
		t.Errorf("state = %s (failed in %s), want FAILED in SUGGESTED", res.State, res.FailedIn)
	}
	if len(sb.executed) != 0 {
		t.Errorf("exec attempted after provision failure: %v", sb.executed)
	}
	if len(sb.removed) != 0 {
		t.Errorf("remove called without a container: %v", sb.removed)
	}
	if len(o.calls) != 1 {
		t.Errorf("oracle called %d times, want 1", len(o.calls))
	}
}

func TestExecutionErrorFailsAndTearsDown(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"command": "ls"}`}}
	sb := &fakeSandbox{execErr: &sandbox.ExecutionError{ContainerID: "c-1", Err: errors.New("container is not running")}}
	p, _ := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "list"})
	if !errors.Is(err, sandbox.ErrExecution) {
		t.Fatalf("error = %v, want ErrExecution", err)
	}
	if res.FailedIn != StateSuggested {
		t.Errorf("failed in %s, want SUGGESTED", res.FailedIn)
	}
	if diff := cmp.Diff([]string{"c-1"}, sb.removed); diff != "" {
		t.Errorf("teardown mismatch (-want +got):\n%s", diff)
	}
}

func TestMalformedExplanationFails(t *testing.T) {
	o := &scriptedOracle{replies: []string{
		`{"command": "ls"}`,
		`{"command": "ls again"}`,
	}}
	sb := &fakeSandbox{result: sandbox.ExecResult{Output: "bin\netc\n"}}
	p, _ := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "list"})
	var mre *oracle.MalformedResponseError
	if !errors.As(err, &mre) || mre.Key != oracle.KeyExplanation {
		t.Fatalf("error = %v, want MalformedResponseError for explanation", err)
	}
	if res.FailedIn != StateExecuted {
		t.Errorf("failed in %s, want EXECUTED", res.FailedIn)
	}
	if res.Exec == nil || res.Exec.Output != "bin\netc\n" {
		t.Errorf("exec result lost: %+v", res.Exec)
	}
	if len(sb.removed) != 1 {
		t.Errorf("sandbox not torn down")
	}
}

func TestOracleBackendError(t *testing.T) {
	backendErr := errors.New("connection refused")
	o := &scriptedOracle{err: backendErr}
	sb := &fakeSandbox{}
	p, _ := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "x"})
	if !errors.Is(err, backendErr) {
		t.Fatalf("error = %v, want %v", err, backendErr)
	}
	if errors.Is(err, oracle.ErrMalformedResponse) {
		t.Error("backend error reported as malformed response")
	}
	if res.State != StateFailed || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestKeepSandboxSkipsTeardown(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"command": "ls"}`, `{"explanation": "lists"}`}}
	sb := &fakeSandbox{}
	p := New(o, sb, Config{Image: "ubuntu:latest", KeepSandbox: true}, nil)

	if _, err := p.Run(context.Background(), Request{Instruction: "list"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sb.removed) != 0 {
		t.Errorf("container removed despite KeepSandbox: %v", sb.removed)
	}
}

func TestTeardownFailureDoesNotFailRun(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"command": "ls"}`, `{"explanation": "lists"}`}}
	sb := &fakeSandbox{removeErr: errors.New("daemon gone")}
	p, _ := newTestPipeline(o, sb)

	res, err := p.Run(context.Background(), Request{Instruction: "list"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want DONE", res.State)
	}
}

func TestRequestOverrides(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"command": "ls"}`, `{"explanation": "lists"}`}}
	sb := &fakeSandbox{}
	p := New(o, sb, Config{Image: "ubuntu:latest", SystemPrompt: "default system"}, nil)

	res, err := p.Run(context.Background(), Request{
		ID:           "run-42",
		Instruction:  "list",
		Image:        "alpine:3.20",
		SystemPrompt: "You are an expert in writing CLI commands for Linux.",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ID != "run-42" || res.Image != "alpine:3.20" {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"alpine:3.20"}, sb.provisioned); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
	for i, c := range o.calls {
		if c.system != "You are an expert in writing CLI commands for Linux." {
			t.Errorf("call %d system = %q", i, c.system)
		}
	}
}

func TestGeneratedRunID(t *testing.T) {
	o := &scriptedOracle{replies: []string{"not json"}}
	p, _ := newTestPipeline(o, &fakeSandbox{})

	res, _ := p.Run(context.Background(), Request{Instruction: "x"})
	if len(res.ID) != 36 {
		t.Errorf("id = %q, want a uuid", res.ID)
	}
}
