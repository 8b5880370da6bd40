package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/michaelbrown/sandcmd/internal/config"
	"github.com/michaelbrown/sandcmd/internal/llm"
	"github.com/michaelbrown/sandcmd/internal/metrics"
	"github.com/michaelbrown/sandcmd/internal/oracle"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
	"github.com/michaelbrown/sandcmd/internal/storage"
	"github.com/michaelbrown/sandcmd/internal/storage/sqlite"
)

// fakeClient replies with the given contents in order.
type fakeClient struct {
	mu      sync.Mutex
	replies []string
	calls   [][]llm.Message
	opts    []llm.CompletionOptions
}

func (c *fakeClient) ChatCompletion(_ context.Context, msgs []llm.Message, opts llm.CompletionOptions) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, msgs)
	c.opts = append(c.opts, opts)
	if len(c.replies) == 0 {
		return nil, errors.New("fakeClient: out of replies")
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &llm.Response{Message: llm.AssistantMessage(reply)}, nil
}

type fakeSandbox struct {
	result  sandbox.ExecResult
	started chan struct{}
	release chan struct{}
	images  []string
}

func (s *fakeSandbox) Provision(_ context.Context, image string) (*sandbox.Container, error) {
	s.images = append(s.images, image)
	return &sandbox.Container{ID: "c-1", Image: image}, nil
}

func (s *fakeSandbox) Exec(ctx context.Context, _ *sandbox.Container, _ string) (*sandbox.ExecResult, error) {
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	res := s.result
	return &res, nil
}

func (s *fakeSandbox) Remove(context.Context, *sandbox.Container) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		DefaultProvider: "local",
		Providers: map[string]config.ProviderConfig{
			"local": {Type: config.ProviderTypeOpenAI, BaseURL: "http://localhost:11434/v1/", Models: map[string]string{"default": "llama3.2"}},
		},
		Oracle: config.OracleConfig{
			JSONMode:    true,
			MaxTokens:   256,
			Instruction: config.DefaultInstruction,
		},
		Sandbox: config.SandboxConfig{Image: "ubuntu:latest"},
	}
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecuteRecordsCompletedRun(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"command": "touch /tmp/hello.txt"}`,
		`{"explanation": "Created the file."}`,
	}}
	store := testStore(t)
	m := metrics.New()

	a, err := New(testConfig(), Options{}, Deps{
		Client:  client,
		Sandbox: &fakeSandbox{},
		Store:   store,
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var seen []pipeline.State
	res, err := a.Execute(context.Background(), pipeline.Request{}, func(tr pipeline.Transition) {
		seen = append(seen, tr.To)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Instruction != config.DefaultInstruction {
		t.Errorf("instruction = %q, want default", res.Instruction)
	}
	if len(seen) != 4 || seen[3] != pipeline.StateDone {
		t.Errorf("transitions = %v", seen)
	}

	rec, err := store.GetRun(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.Command != "touch /tmp/hello.txt" {
		t.Errorf("command = %q", rec.Command)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", rec.ExitCode)
	}
	if rec.Explanation != "Created the file." {
		t.Errorf("explanation = %q", rec.Explanation)
	}
	if rec.Provider != "local" || rec.Model != "llama3.2" {
		t.Errorf("provider/model = %s/%s", rec.Provider, rec.Model)
	}

	if opts := client.opts[0]; !opts.JSONMode || opts.MaxTokens != 256 || opts.Temperature == nil || *opts.Temperature != 0 {
		t.Errorf("completion options = %+v", opts)
	}
}

func TestExecuteRecordsFailedRun(t *testing.T) {
	client := &fakeClient{replies: []string{`{"cmd": "ls"}`}}
	store := testStore(t)
	sb := &fakeSandbox{}

	a, err := New(testConfig(), Options{}, Deps{Client: client, Sandbox: sb, Store: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := a.Execute(context.Background(), pipeline.Request{Instruction: "list files"}, nil)
	if !errors.Is(err, oracle.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if len(sb.images) != 0 {
		t.Errorf("sandbox provisioned for malformed suggestion")
	}

	rec, err := store.GetRun(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != storage.StatusFailed || rec.State != string(pipeline.StateFailed) {
		t.Errorf("status/state = %s/%s", rec.Status, rec.State)
	}
	if rec.Error == "" {
		t.Error("expected error to be recorded")
	}
}

func TestTryExecuteBusy(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"command": "sleep 1"}`,
		`{"explanation": "Slept."}`,
	}}
	sb := &fakeSandbox{started: make(chan struct{}), release: make(chan struct{})}

	a, err := New(testConfig(), Options{}, Deps{Client: client, Sandbox: sb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Execute(context.Background(), pipeline.Request{Instruction: "wait"}, nil)
		done <- err
	}()

	<-sb.started
	if _, err := a.TryExecute(context.Background(), pipeline.Request{Instruction: "again"}, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("TryExecute err = %v, want ErrBusy", err)
	}
	close(sb.release)

	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestOptionsOverrideConfig(t *testing.T) {
	sb := &fakeSandbox{}
	client := &fakeClient{replies: []string{
		`{"command": "uname"}`,
		`{"explanation": "Printed the kernel name."}`,
	}}

	a, err := New(testConfig(), Options{Model: "qwen2.5", Image: "alpine:3.20", SystemPrompt: "be brief"}, Deps{Client: client, Sandbox: sb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Model() != "qwen2.5" || a.Image() != "alpine:3.20" {
		t.Errorf("model/image = %s/%s", a.Model(), a.Image())
	}

	if _, err := a.Execute(context.Background(), pipeline.Request{Instruction: "kernel"}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sb.images) != 1 || sb.images[0] != "alpine:3.20" {
		t.Errorf("provisioned = %v", sb.images)
	}
	if first := client.calls[0][0]; first.Role != llm.RoleSystem || first.Content != "be brief" {
		t.Errorf("first message = %+v, want system prompt", first)
	}
}

func TestUnknownProvider(t *testing.T) {
	if _, err := New(testConfig(), Options{Provider: "nope"}, Deps{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewClientByType(t *testing.T) {
	c, err := NewClient(config.ProviderConfig{Type: config.ProviderTypeAnthropic, APIKey: "k"}, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(*llm.AnthropicClient); !ok {
		t.Errorf("client = %T, want *llm.AnthropicClient", c)
	}
	if _, err := NewClient(config.ProviderConfig{Type: "bogus"}, "m"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSandboxPolicy(t *testing.T) {
	p := SandboxPolicy(config.SandboxConfig{MaxMemory: "1g", Images: []string{"alpine"}, Shell: "/bin/sh"})
	if p.MaxMemory != "1g" || p.Shell != "/bin/sh" || !p.IsImageAllowed("alpine") || p.IsImageAllowed("ubuntu") {
		t.Errorf("policy = %+v", p)
	}
	if p.StartTimeout != sandbox.DefaultPolicy().StartTimeout {
		t.Errorf("start timeout = %v, want default", p.StartTimeout)
	}
}

func TestOptionPrecedence(t *testing.T) {
	dir := t.TempDir()
	profile := "name: linux\nmodel: llama3.1:8b\nimage: debian:bookworm\n"
	if err := os.WriteFile(filepath.Join(dir, "linux.yaml"), []byte(profile), 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}

	tests := []struct {
		name      string
		opts      Options
		wantModel string
		wantImage string
	}{
		{"config only", Options{}, "llama3.2", "ubuntu:latest"},
		{"profile over config", Options{Profile: "linux"}, "llama3.1:8b", "debian:bookworm"},
		{"flag over profile", Options{Profile: "linux", Model: "qwen2.5", Image: "alpine:3.20"}, "qwen2.5", "alpine:3.20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ProfilesDir = dir
			a, err := New(cfg, tt.opts, Deps{Client: &fakeClient{}, Sandbox: &fakeSandbox{}})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if a.Model() != tt.wantModel || a.Image() != tt.wantImage {
				t.Errorf("model/image = %s/%s, want %s/%s", a.Model(), a.Image(), tt.wantModel, tt.wantImage)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"", ""}, ""},
		{[]string{"", "profile", "config"}, "profile"},
		{[]string{"flag", "profile", "config"}, "flag"},
	}
	for _, tt := range tests {
		if got := firstNonEmpty(tt.in...); got != tt.want {
			t.Errorf("firstNonEmpty(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
