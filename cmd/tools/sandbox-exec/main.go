// Command sandbox-exec is an MCP stdio server that runs shell commands in
// throwaway containers, optionally letting the model pick the command.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/app"
	"github.com/michaelbrown/sandcmd/internal/config"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
)

const maxOutput = 4000

// executor runs the full pipeline. *app.App satisfies it.
type executor interface {
	Execute(ctx context.Context, req pipeline.Request, observe func(pipeline.Transition)) (*pipeline.Result, error)
}

type toolServer struct {
	sandbox sandbox.Sandbox
	app     executor
	image   string
	logger  *zap.Logger
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("SANDCMD_CONFIG"))
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	sb := sandbox.NewDockerSandbox(app.SandboxPolicy(cfg.Sandbox))
	a, err := app.New(cfg, app.Options{}, app.Deps{Sandbox: sb, Logger: logger})
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	ts := &toolServer{sandbox: sb, app: a, image: a.Image(), logger: logger}
	s := server.NewMCPServer("sandcmd-sandbox-exec", "0.1.0")
	ts.register(s)

	if err := server.ServeStdio(s); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}

func (ts *toolServer) register(s *server.MCPServer) {
	s.AddTool(mcp.Tool{
		Name:        "sandbox_exec",
		Description: fmt.Sprintf("Run a shell command in a fresh Docker container that is removed afterwards. Default image: %s.", ts.image),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to execute",
				},
				"image": map[string]any{
					"type":        "string",
					"description": "Container image (optional)",
				},
			},
			Required: []string{"command"},
		},
	}, ts.handleSandboxExec)

	s.AddTool(mcp.Tool{
		Name:        "suggest_and_run",
		Description: "Ask the model for a command that satisfies an instruction, run it in a sandbox and return the command, its output and the model's explanation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "What the command should accomplish",
				},
			},
			Required: []string{"instruction"},
		},
	}, ts.handleSuggestAndRun)
}

func (ts *toolServer) handleSandboxExec(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	command, _ := args["command"].(string)
	image, _ := args["image"].(string)
	if strings.TrimSpace(command) == "" {
		return errResult("error: 'command' is required"), nil
	}
	if image == "" {
		image = ts.image
	}

	c, err := ts.sandbox.Provision(ctx, image)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	defer func() {
		if err := ts.sandbox.Remove(context.WithoutCancel(ctx), c); err != nil {
			ts.logger.Warn("removing container failed", zap.String("container_id", c.ID), zap.Error(err))
		}
	}()

	result, err := ts.sandbox.Exec(ctx, c, command)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	return textResult(formatExec(result)), nil
}

func (ts *toolServer) handleSuggestAndRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	instruction, _ := args["instruction"].(string)
	if strings.TrimSpace(instruction) == "" {
		return errResult("error: 'instruction' is required"), nil
	}

	var stages []string
	res, err := ts.app.Execute(ctx, pipeline.Request{Instruction: instruction}, func(t pipeline.Transition) {
		stages = append(stages, fmt.Sprintf("%s (%dms)", t.To, t.Elapsed.Milliseconds()))
	})

	var out strings.Builder
	if len(stages) > 0 {
		fmt.Fprintf(&out, "stages: %s\n", strings.Join(stages, " -> "))
	}
	if res != nil && res.Command != "" {
		fmt.Fprintf(&out, "command: %s\n\n", res.Command)
	}
	if res != nil && res.Exec != nil {
		out.WriteString(formatExec(res.Exec))
		out.WriteString("\n\n")
	}
	if err != nil {
		fmt.Fprintf(&out, "error: %v", err)
		return errResult(out.String()), nil
	}
	fmt.Fprintf(&out, "explanation: %s", res.Explanation)

	return textResult(out.String()), nil
}

// formatExec renders output plus the exit code. A non-zero exit is a normal
// result, so callers do not mark it as a tool error.
func formatExec(result *sandbox.ExecResult) string {
	text := result.Output
	if len(text) > maxOutput {
		n := maxOutput
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n] + "\n... (output truncated)"
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + fmt.Sprintf("exit code: %d", result.ExitCode)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
