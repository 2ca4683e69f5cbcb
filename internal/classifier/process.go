package classifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/your-org/reserve/internal/config"
)

const processBackend = "process"

// ProcessClassifier invokes an external classifier once per image with the
// absolute image path as its only extra argument.
type ProcessClassifier struct {
	command      string
	args         []string
	timeout      time.Duration
	strict       bool
	failOnStderr bool
	slots        *semaphore.Weighted
}

func NewProcessClassifier(cfg config.ClassifierConfig) *ProcessClassifier {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &ProcessClassifier{
		command:      cfg.Command,
		args:         append([]string(nil), cfg.Args...),
		timeout:      cfg.Timeout,
		strict:       cfg.StrictOutput,
		failOnStderr: cfg.FailOnStderr,
		slots:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (p *ProcessClassifier) Classify(ctx context.Context, path string) (res *Result, err error) {
	start := time.Now()
	defer func() { record(processBackend, start, err) }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newError(KindProcess, "resolve image path", err)
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, newError(KindProcess, "wait for classifier slot", err)
	}
	defer p.slots.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), p.args...), abs)
	cmd := exec.CommandContext(ctx, p.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	slog.Debug("running classifier", "command", p.command, "image", abs)

	if runErr := cmd.Run(); runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindProcess, "classifier timed out", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "classifier exited with an error"
		}
		return nil, newError(KindProcess, msg, runErr)
	}

	if diag := strings.TrimSpace(stderr.String()); diag != "" {
		if p.failOnStderr {
			return nil, newError(KindProcess, diag, nil)
		}
		slog.Warn("classifier stderr", "image", abs, "output", diag)
	}

	return parseOutput(stdout.Bytes(), p.strict)
}
