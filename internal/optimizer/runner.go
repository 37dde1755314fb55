package optimizer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	optimizeVerb = "optimize"

	// ResultFDEnv tells the worker which descriptor carries NDJSON results.
	ResultFDEnv = "OPTIMIZER_RESULT_FD"

	maxStructuredLine = 16 << 20
	waitDelay         = 5 * time.Second
)

// Runner executes one unit of work on the external optimizer. Diagnostic
// output is copied to stream as it arrives.
type Runner interface {
	Run(ctx context.Context, input any, stream io.Writer) (*Invocation, error)
}

type Invocation struct {
	Diagnostics string
	Structured  [][]byte
	Duration    time.Duration
}

// ExitError reports a worker that ran but exited unsuccessfully.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	tail := lastLine(e.Stderr)
	if tail == "" {
		return fmt.Sprintf("optimizer exited with code %d", e.Code)
	}
	return fmt.Sprintf("optimizer exited with code %d: %s", e.Code, tail)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type ProcessConfig struct {
	Command           string
	Args              []string
	WorkDir           string
	TempDir           string
	StructuredChannel bool
}

// ProcessRunner runs the optimizer as a child process per invocation. It
// never imposes a timeout of its own; callers bound ctx.
type ProcessRunner struct {
	cfg    ProcessConfig
	logger *zap.Logger
}

func NewProcessRunner(cfg ProcessConfig, logger *zap.Logger) *ProcessRunner {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessRunner{cfg: cfg, logger: logger}
}

func (r *ProcessRunner) Run(ctx context.Context, input any, stream io.Writer) (*Invocation, error) {
	path, err := r.writeInput(input)
	if err != nil {
		return nil, err
	}
	defer r.removeInput(path)

	if stream == nil {
		stream = io.Discard
	}

	args := make([]string, 0, len(r.cfg.Args)+2)
	args = append(args, r.cfg.Args...)
	args = append(args, optimizeVerb, path)

	//nolint:gosec // command and args come from operator configuration
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = os.Environ()
	cmd.WaitDelay = waitDelay

	var diagnostics lockedBuffer
	cmd.Stderr = io.MultiWriter(&diagnostics, stream)
	cmd.Stdout = io.Discard

	var (
		resultReader *os.File
		resultWriter *os.File
	)
	if r.cfg.StructuredChannel {
		resultReader, resultWriter, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("open result channel: %w", err)
		}
		cmd.ExtraFiles = []*os.File{resultWriter}
		cmd.Env = append(cmd.Env, ResultFDEnv+"=3")
	}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		closeQuietly(resultReader)
		closeQuietly(resultWriter)
		return nil, fmt.Errorf("start optimizer: %w", err)
	}
	closeQuietly(resultWriter)

	var (
		structured [][]byte
		readerDone sync.WaitGroup
	)
	if resultReader != nil {
		readerDone.Add(1)
		go func() {
			defer readerDone.Done()
			defer closeQuietly(resultReader)
			structured = readStructured(resultReader)
		}()
	}

	waitErr := cmd.Wait()
	readerDone.Wait()

	invocation := &Invocation{
		Diagnostics: diagnostics.String(),
		Structured:  structured,
		Duration:    time.Since(startedAt),
	}
	r.logger.Debug("optimizer exited",
		zap.String("input", filepath.Base(path)),
		zap.Duration("duration", invocation.Duration),
		zap.Int("structured_lines", len(structured)),
		zap.Error(waitErr),
	)

	if waitErr == nil {
		return invocation, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return invocation, fmt.Errorf("optimizer interrupted: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return invocation, &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: invocation.Diagnostics,
			Err:    waitErr,
		}
	}
	return invocation, fmt.Errorf("wait optimizer: %w", waitErr)
}

func (r *ProcessRunner) writeInput(input any) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode optimizer input: %w", err)
	}
	if err := os.MkdirAll(r.cfg.TempDir, 0o750); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(r.cfg.TempDir, uuid.NewString()+".json")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("write optimizer input: %w", err)
	}
	return path, nil
}

// removeInput is best effort; a leftover temp file never fails the job.
func (r *ProcessRunner) removeInput(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("remove optimizer input failed", zap.String("path", path), zap.Error(err))
	}
}

func readStructured(reader io.Reader) [][]byte {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStructuredLine)

	lines := make([][]byte, 0, 1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines
}

func closeQuietly(file *os.File) {
	if file != nil {
		_ = file.Close()
	}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
