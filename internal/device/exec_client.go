package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"jitstreamer/internal/logging"
)

// Helper exit statuses with protocol meaning.
const (
	exitUnreachable       = 2
	exitInvalidCredential = 3
)

// Option configures the exec client.
type Option func(*ExecClient)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *ExecClient) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the logger used for helper diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ExecClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ExecClient speaks to devices through an external helper binary.
//
// Subcommands: connect, heartbeat (interactive: prints "marco <secs>", reads
// "polo"), images, chip-id, mount (prints "progress <done> <total>"), apps.
// Exit status 3 means the device rejected the pairing record and 2 means it
// could not be reached.
type ExecClient struct {
	binary         string
	label          string
	connectTimeout time.Duration
	exec           Executor
	logger         *slog.Logger
}

// NewExecClient constructs a client for the helper at binary.
func NewExecClient(binary, label string, connectTimeout time.Duration, opts ...Option) (*ExecClient, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("device helper binary required")
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	client := &ExecClient{
		binary:         binary,
		label:          label,
		connectTimeout: connectTimeout,
		exec:           commandExecutor{},
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "device")
	return client, nil
}

// Connect verifies the device accepts the pairing record and returns a session.
func (c *ExecClient) Connect(ctx context.Context, target Target) (Session, error) {
	if target.Credential == nil || target.Credential.Path == "" {
		return nil, NewError(KindInvalidCredential, "connect", errors.New("no pairing file"))
	}
	if !target.Address.IsValid() {
		return nil, NewError(KindUnreachable, "connect", fmt.Errorf("invalid address for %s", target.UDID))
	}
	session := &execSession{
		client: c,
		target: target,
		args: []string{
			"--udid", target.UDID,
			"--address", target.Address.String(),
			"--pairing-file", target.Credential.Path,
			"--label", c.label,
		},
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	if err := c.exec.Run(connectCtx, c.binary, session.command("connect"), nil); err != nil {
		return nil, classify("connect", err)
	}
	return session, nil
}

func classify(op string, err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindUnreachable, op, err)
	}
	if code, ok := exitCode(err); ok {
		switch code {
		case exitInvalidCredential:
			return NewError(KindInvalidCredential, op, err)
		case exitUnreachable:
			return NewError(KindUnreachable, op, err)
		}
	}
	return NewError(KindUnexpectedResponse, op, err)
}

type execSession struct {
	client *ExecClient
	target Target
	args   []string

	mu   sync.Mutex
	conv Conversation
}

func (s *execSession) command(sub string, extra ...string) []string {
	args := make([]string, 0, 1+len(s.args)+len(extra))
	args = append(args, sub)
	args = append(args, s.args...)
	return append(args, extra...)
}

func (s *execSession) conversation() (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		return s.conv, nil
	}
	conv, err := s.client.exec.Start(s.client.binary, s.command("heartbeat"))
	if err != nil {
		return nil, err
	}
	s.conv = conv
	return conv, nil
}

func (s *execSession) Heartbeat(ctx context.Context, interval time.Duration) (time.Duration, error) {
	conv, err := s.conversation()
	if err != nil {
		return 0, classify("heartbeat", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, interval+s.client.connectTimeout)
	defer cancel()
	line, err := conv.ReadLine(readCtx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			exitErr := conv.Close()
			if exitErr == nil {
				exitErr = errors.New("heartbeat helper exited")
			}
			return 0, classify("heartbeat", exitErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, NewError(KindUnreachable, "heartbeat", fmt.Errorf("no keep-alive within %s", interval))
		}
		return 0, classify("heartbeat", err)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "marco" {
		return 0, NewError(KindUnexpectedResponse, "heartbeat", fmt.Errorf("unexpected line %q", line))
	}
	next := interval
	if len(fields) > 1 {
		secs, err := strconv.Atoi(fields[1])
		if err != nil || secs <= 0 {
			return 0, NewError(KindUnexpectedResponse, "heartbeat", fmt.Errorf("bad interval %q", fields[1]))
		}
		next = time.Duration(secs) * time.Second
	}
	return next, nil
}

func (s *execSession) Acknowledge(context.Context) error {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return NewError(KindUnexpectedResponse, "acknowledge", errors.New("no keep-alive pending"))
	}
	if err := conv.WriteLine("polo"); err != nil {
		return NewError(KindUnreachable, "acknowledge", err)
	}
	return nil
}

func (s *execSession) capture(ctx context.Context, op string, extra ...string) ([]byte, error) {
	var b strings.Builder
	err := s.client.exec.Run(ctx, s.client.binary, s.command(op, extra...), func(line string) {
		b.WriteString(line)
		b.WriteByte('\n')
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return []byte(b.String()), nil
}

func (s *execSession) ListMountedImages(ctx context.Context) ([]ImageDescriptor, error) {
	out, err := s.capture(ctx, "images")
	if err != nil {
		return nil, err
	}
	images, err := ParseImageList(out)
	if err != nil {
		return nil, NewError(KindUnexpectedResponse, "images", err)
	}
	return images, nil
}

func (s *execSession) UniqueChipID(ctx context.Context) (uint64, error) {
	out, err := s.capture(ctx, "chip-id")
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, NewError(KindUnexpectedResponse, "chip-id", err)
	}
	return id, nil
}

func (s *execSession) MountImage(ctx context.Context, image DiskImage, chipID uint64, progress func(done, total int)) error {
	dir := image.Dir
	if dir == "" {
		tmp, err := stageDiskImage(image)
		if err != nil {
			return NewError(KindUnexpectedResponse, "mount", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	args := []string{
		"--image", filepath.Join(dir, ImageFile),
		"--trustcache", filepath.Join(dir, TrustCacheFile),
		"--manifest", filepath.Join(dir, ManifestFile),
		"--chip-id", strconv.FormatUint(chipID, 10),
	}
	err := s.client.exec.Run(ctx, s.client.binary, s.command("mount", args...), func(line string) {
		done, total, ok := parseProgressLine(line)
		if !ok {
			s.client.logger.Debug("helper output", logging.UDID(s.target.UDID), logging.String("line", line))
			return
		}
		if progress != nil {
			progress(done, total)
		}
	})
	if err != nil {
		return classify("mount", err)
	}
	return nil
}

func (s *execSession) ListApps(ctx context.Context) ([]App, error) {
	out, err := s.capture(ctx, "apps")
	if err != nil {
		return nil, err
	}
	apps, err := ParseApps(out)
	if err != nil {
		return nil, NewError(KindUnexpectedResponse, "apps", err)
	}
	return apps, nil
}

func (s *execSession) Close() error {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()
	if conv != nil {
		_ = conv.Close()
	}
	return nil
}

func parseProgressLine(line string) (int, int, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "progress" {
		return 0, 0, false
	}
	done, err := strconv.Atoi(fields[1])
	if err != nil || done < 0 {
		return 0, 0, false
	}
	total, err := strconv.Atoi(fields[2])
	if err != nil || total <= 0 {
		return 0, 0, false
	}
	return done, total, true
}

func stageDiskImage(image DiskImage) (string, error) {
	dir, err := os.MkdirTemp("", "jitstreamer-ddi-")
	if err != nil {
		return "", fmt.Errorf("stage disk image: %w", err)
	}
	files := map[string][]byte{
		ImageFile:      image.Image,
		TrustCacheFile: image.TrustCache,
		ManifestFile:   image.Manifest,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return dir, nil
}
