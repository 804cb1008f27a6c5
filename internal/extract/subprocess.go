package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

// SubprocessConfig describes the external extractor command and its
// startup budget. The command speaks a line protocol on stdio: it prints
// {"ready":true} once running, {"initialized":true} once its models are
// loaded, then answers each file path line with a one-line JSON result.
type SubprocessConfig struct {
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	Startup time.Duration `json:"startup"`
}

// wireResult is the subprocess's per-document answer.
type wireResult struct {
	Success    bool   `json:"success"`
	Text       string `json:"text"`
	WordCount  int64  `json:"wordCount"`
	CharCount  int64  `json:"charCount"`
	TableCount int64  `json:"tableCount"`
	ImageCount int64  `json:"imageCount"`
	Error      string `json:"error"`
}

// errEngineDown marks an Extract attempted against a killed process, e.g.
// after the stall watchdog took it down while the worker sat idle. Callers
// restart and retry rather than blaming the document.
var errEngineDown = errors.New("extractor subprocess not running")

type handshake struct {
	Ready       bool `json:"ready"`
	Initialized bool `json:"initialized"`
}

// proc is one live extractor process.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// Subprocess manages one external extractor process for one worker.
// Extract calls are serialized by mu; Kill takes only the process lock so
// the stall watchdog can terminate a wedged process mid-request.
type Subprocess struct {
	config *SubprocessConfig
	logger zerolog.Logger

	mu sync.Mutex

	procMu sync.Mutex
	proc   *proc
}

// NewSubprocess builds the handle; Start launches the process.
func NewSubprocess(config *SubprocessConfig, workerID int) *Subprocess {
	if config.Startup <= 0 {
		config.Startup = 2 * time.Minute
	}
	return &Subprocess{
		config: config,
		logger: logging.GetExtractLogger(workerID),
	}
}

// Start launches the command and waits for both readiness lines. Model
// loading happens between them and dominates the startup budget.
func (s *Subprocess) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(ctx)
}

func (s *Subprocess) start(ctx context.Context) error {
	cmd := exec.Command(s.config.Command, s.config.Args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start extractor %s: %w", s.config.Command, err)
	}
	p := &proc{cmd: cmd, stdin: stdin, stdout: bufio.NewReaderSize(stdout, 1<<20)}
	s.setProc(p)

	startupCtx, cancel := context.WithTimeout(ctx, s.config.Startup)
	defer cancel()

	for _, want := range []string{"ready", "initialized"} {
		line, err := readLine(startupCtx, p)
		if err != nil {
			s.Kill()
			return fmt.Errorf("extractor startup (%s): %w", want, err)
		}
		var hs handshake
		if err := json.Unmarshal([]byte(line), &hs); err != nil {
			s.Kill()
			return fmt.Errorf("extractor startup: bad handshake line %q: %w", strings.TrimSpace(line), err)
		}
		if (want == "ready" && !hs.Ready) || (want == "initialized" && !hs.Initialized) {
			s.Kill()
			return fmt.Errorf("extractor startup: expected %s, got %q", want, strings.TrimSpace(line))
		}
	}
	s.logger.Info().Str("command", s.config.Command).Int("pid", cmd.Process.Pid).Msg("Extractor subprocess ready")
	return nil
}

// Extract sends one file path and waits for the one-line result. On
// cancellation or deadline the process is killed mid-request, since the
// protocol has no way to abandon a single document.
func (s *Subprocess) Extract(ctx context.Context, path string) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getProc()
	if p == nil {
		return nil, errEngineDown
	}
	if _, err := io.WriteString(p.stdin, path+"\n"); err != nil {
		s.Kill()
		return nil, fmt.Errorf("write to extractor: %w", err)
	}
	line, err := readLine(ctx, p)
	if err != nil {
		s.Kill()
		return nil, err
	}

	var res wireResult
	if err := json.Unmarshal([]byte(line), &res); err != nil {
		s.Kill()
		return nil, fmt.Errorf("bad extractor response: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("extraction failed: %s", res.Error)
	}
	return &Output{
		Text:       res.Text,
		WordCount:  res.WordCount,
		CharCount:  res.CharCount,
		TableCount: res.TableCount,
		ImageCount: res.ImageCount,
	}, nil
}

// Restart tears the process down and starts a fresh one.
func (s *Subprocess) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Kill()
	return s.start(ctx)
}

// Kill hard-terminates the process. Safe to call from any goroutine; an
// in-flight Extract fails with EOF and the next one fails until Restart.
func (s *Subprocess) Kill() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.proc == nil {
		return
	}
	if s.proc.cmd.Process != nil {
		s.proc.cmd.Process.Kill()
	}
	s.proc.cmd.Wait()
	s.proc = nil
}

// Close shuts the process down for good.
func (s *Subprocess) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getProc()
	if p == nil {
		return nil
	}
	// Closing stdin lets a well-behaved extractor exit on its own.
	p.stdin.Close()
	done := make(chan struct{})
	go func() {
		p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.cmd.Process.Kill()
		<-done
	}
	s.setProc(nil)
	return nil
}

func (s *Subprocess) getProc() *proc {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc
}

func (s *Subprocess) setProc(p *proc) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	s.proc = p
}

// readLine reads one response line, honoring ctx. The read runs in a
// goroutine because pipe reads cannot be interrupted directly; killing the
// process on cancellation unblocks it with EOF.
func readLine(ctx context.Context, p *proc) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("read from extractor: %w", res.err)
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
