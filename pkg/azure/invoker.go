package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stackdeck/stackdeck/pkg/engine"
)

// CLIInvoker deploys stacks by shelling out to the az CLI. It implements
// both engine.Invoker and engine.OutputFetcher.
type CLIInvoker struct {
	opts   InvokerOptions
	logger zerolog.Logger
}

// InvokerOptions configures a CLIInvoker.
type InvokerOptions struct {
	Command CommandOptions

	// DryRun suppresses execution: commands are logged and synthetic
	// outputs are fabricated from the stack's exports so downstream
	// bindings still resolve structurally.
	DryRun bool

	// Echo logs the full command line before running it.
	Echo bool
}

// NewCLIInvoker creates an invoker.
func NewCLIInvoker(opts InvokerOptions, logger zerolog.Logger) *CLIInvoker {
	return &CLIInvoker{opts: opts, logger: logger}
}

// Deploy implements engine.Invoker.
func (c *CLIInvoker) Deploy(ctx context.Context, cfg *engine.StackConfig, overrides map[string]any) (*engine.OutputRecord, error) {
	argv, err := BuildCreateCommand(cfg, overrides, c.opts.Command)
	if err != nil {
		return nil, err
	}

	if c.opts.DryRun {
		c.logger.Info().Str("stack", cfg.Name).
			Str("command", FormatCommand(argv)).
			Msg("dry run, skipping deployment")
		return syntheticRecord(cfg), nil
	}

	if c.opts.Echo {
		c.logger.Info().Str("stack", cfg.Name).Msg(FormatCommand(argv))
	}

	if _, err := c.run(ctx, cfg.Name, cfg.Dir, argv); err != nil {
		return nil, err
	}

	outputs, err := c.FetchOutputs(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}
	return &engine.OutputRecord{StackName: cfg.Name, Outputs: outputs}, nil
}

// FetchOutputs implements engine.OutputFetcher: it reads the outputs of an
// already deployed stack. A stack that does not exist yields an empty output
// set rather than an error, so binding resolution can degrade gracefully.
func (c *CLIInvoker) FetchOutputs(ctx context.Context, stack string) (map[string]any, error) {
	argv := BuildShowCommand(stack, "", c.opts.Command)
	stdout, err := c.run(ctx, stack, "", argv)
	if err != nil {
		c.logger.Warn().Str("stack", stack).Err(err).
			Msg("could not read deployed stack outputs, continuing without them")
		return map[string]any{}, nil
	}
	outputs, err := parseOutputs(stdout)
	if err != nil {
		return nil, engine.NewInvokeError("deployed stack outputs are not valid JSON", err).WithStack(stack)
	}
	return outputs, nil
}

func (c *CLIInvoker) run(ctx context.Context, stack, dir string, argv []string) ([]byte, error) {
	// Cancellation only prevents new invocations from starting. One already
	// running is deliberately not killed: an aborted stack operation would
	// leave Azure with a half-applied deployment, so the process runs to its
	// natural completion and the scheduler simply stops launching more.
	if err := ctx.Err(); err != nil {
		return nil, engine.NewInvokeError("deployment canceled", err).WithStack(stack)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().Str("stack", stack).Str("command", FormatCommand(argv)).Msg("executing")
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, engine.NewInvokeError(
			fmt.Sprintf("%s not found on PATH", argv[0]), err).WithStack(stack)
	}
	return nil, engine.NewInvokeError(
		fmt.Sprintf("command failed: %s", stderrTail(stderr.Bytes())), err).WithStack(stack)
}

// syntheticRecord fabricates outputs for a dry run. Every export the stack
// declares is present under its local key with a placeholder value, so a
// dependent's bindings resolve to the same shape a real run would produce.
func syntheticRecord(cfg *engine.StackConfig) *engine.OutputRecord {
	outputs := make(map[string]any, len(cfg.Exports))
	for localKey := range cfg.Exports {
		outputs[localKey] = fmt.Sprintf("dry-run:%s.%s", cfg.Name, localKey)
	}
	return &engine.OutputRecord{StackName: cfg.Name, Outputs: outputs, Synthetic: true}
}

// stderrTail keeps the last few lines of stderr for the error message.
func stderrTail(stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	if text == "" {
		return "(no output)"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
