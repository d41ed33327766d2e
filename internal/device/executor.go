package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Executor abstracts helper process execution for testability.
type Executor interface {
	// Run executes a one-shot command, streaming stdout lines to onStdout.
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
	// Start launches a long-lived command spoken to line by line.
	Start(binary string, args []string) (Conversation, error)
}

// Conversation is a running helper process.
type Conversation interface {
	// ReadLine returns the next stdout line, or io.EOF once the process exits.
	ReadLine(ctx context.Context) (string, error)
	WriteLine(line string) error
	// Close stops the process and returns its exit error, if it exited on its own.
	Close() error
}

const stderrTailLines = 5

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg      sync.WaitGroup
		scanErr error
		once    sync.Once
		tail    []string
	)
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, func(line string) {
		if onStdout != nil {
			onStdout(line)
		}
	})
	go scan(stderr, func(line string) {
		if line = strings.TrimSpace(line); line == "" {
			return
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
	})
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		if len(tail) > 0 {
			return fmt.Errorf("%w: %s", err, strings.Join(tail, "; "))
		}
		return err
	}
	return nil
}

func (commandExecutor) Start(binary string, args []string) (Conversation, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	conv := &commandConversation{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go conv.pump(stdout)
	return conv, nil
}

type commandConversation struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	done    chan struct{}
	waitErr error

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *commandConversation) pump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)
	c.waitErr = c.cmd.Wait()
	close(c.done)
}

func (c *commandConversation) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *commandConversation) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.stdin, line+"\n")
	return err
}

func (c *commandConversation) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		select {
		case <-c.done:
			c.closeErr = c.waitErr
			return
		default:
		}
		// drain so pump can reach Wait
		go func() {
			for range c.lines {
			}
		}()
		select {
		case <-c.done:
			c.closeErr = c.waitErr
		case <-time.After(2 * time.Second):
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	})
	return c.closeErr
}

// exitCode extracts a process exit status from err, if any.
func exitCode(err error) (int, bool) {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode(), true
	}
	return 0, false
}
