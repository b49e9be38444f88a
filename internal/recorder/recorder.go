// Package recorder archives chat lines to rotating JSONL files, one file per
// platform and channel, and hands finished files to the uploader.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/john/orchid/internal/message"
)

// FileTimeLayout is the timestamp suffix of archive file names.
const FileTimeLayout = "20060102_1504"

// A file rotated and reopened within the same minute is appended to.
const osAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

// archive is one open JSONL file
type archive struct {
	file         afero.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	pending      []message.ChatMessage
	platform     string
	channel      string
	filename     string
}

// Recorder buffers chat lines and writes them through an afero filesystem.
type Recorder struct {
	fs            afero.Fs
	outputDir     string
	bufferSize    int
	rotateAfter   time.Duration
	rotateBytes   int64
	checkInterval time.Duration
	now           func() time.Time

	archives map[string]*archive // key: "platform_channel"
	mu       sync.Mutex
}

type Option func(*Recorder)

// WithCheckInterval sets how often files are checked for rotation.
func WithCheckInterval(d time.Duration) Option {
	return func(r *Recorder) {
		r.checkInterval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates a recorder writing into outputDir on fs.
func New(fs afero.Fs, outputDir string, bufferSize int, rotateAfter time.Duration, rotateMegabytes int, opts ...Option) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	r := &Recorder{
		fs:            fs,
		outputDir:     outputDir,
		bufferSize:    bufferSize,
		rotateAfter:   rotateAfter,
		rotateBytes:   int64(rotateMegabytes) * 1024 * 1024,
		checkInterval: time.Minute,
		now:           time.Now,
		archives:      make(map[string]*archive),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start records messages until ctx is cancelled, then flushes and queues
// every open file.
func (r *Recorder) Start(ctx context.Context, messages <-chan message.ChatMessage, files chan<- string) error {
	if err := r.fs.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-messages:
			if err := r.Record(msg); err != nil {
				slog.Error("failed to record message", "channel", msg.Channel, "error", err)
			}

		case <-ticker.C:
			r.checkRotation(files)

		case <-ctx.Done():
			slog.Info("recorder shutting down, flushing buffers")
			r.flushAll(files)
			return ctx.Err()
		}
	}
}

// Record buffers one message, flushing when the buffer is full.
func (r *Recorder) Record(msg message.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := msg.Platform
	if platform == "" {
		platform = message.PlatformTwitch
	}
	channel := sanitize(msg.Channel)
	key := platform + "_" + channel

	a := r.archives[key]
	if a == nil {
		var err error
		a, err = r.open(platform, channel)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		r.archives[key] = a
	}

	a.pending = append(a.pending, msg)
	if len(a.pending) >= r.bufferSize {
		if err := r.flush(a); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

func (r *Recorder) open(platform, channel string) (*archive, error) {
	now := r.now()
	filename := fmt.Sprintf("%s_%s_%s.jsonl", platform, channel, now.UTC().Format(FileTimeLayout))
	path := filepath.Join(r.outputDir, filename)

	file, err := r.fs.OpenFile(path, osAppendFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	slog.Info("created archive file", "file", filename)
	return &archive{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		pending:   make([]message.ChatMessage, 0, r.bufferSize),
		platform:  platform,
		channel:   channel,
		filename:  filename,
	}, nil
}

func (r *Recorder) flush(a *archive) error {
	for _, msg := range a.pending {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("failed to marshal message", "error", err)
			continue
		}
		n, err := a.writer.Write(append(data, '\n'))
		a.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	a.pending = a.pending[:0]
	return a.writer.Flush()
}

func (r *Recorder) checkRotation(files chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, a := range r.archives {
		switch {
		case r.rotateAfter > 0 && r.now().Sub(a.createdAt) >= r.rotateAfter:
			slog.Info("rotating archive", "file", a.filename, "reason", "age")
		case r.rotateBytes > 0 && a.bytesWritten >= r.rotateBytes:
			slog.Info("rotating archive", "file", a.filename, "reason", "size")
		default:
			continue
		}
		r.close(a, files)
		delete(r.archives, key)
	}
}

// close flushes and closes a, then queues it for upload.
func (r *Recorder) close(a *archive, files chan<- string) {
	if err := r.flush(a); err != nil {
		slog.Error("failed to flush archive", "file", a.filename, "error", err)
	}
	if err := a.file.Close(); err != nil {
		slog.Error("failed to close archive", "file", a.filename, "error", err)
	}

	path := filepath.Join(r.outputDir, a.filename)
	select {
	case files <- path:
		slog.Info("queued archive for upload", "file", a.filename)
	default:
		slog.Warn("upload queue full, file will be uploaded on next scan", "file", a.filename)
	}
}

func (r *Recorder) flushAll(files chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, a := range r.archives {
		r.close(a, files)
		delete(r.archives, key)
	}
	slog.Info("all archives flushed and closed")
}

// sanitize keeps channel names safe for file names.
func sanitize(channel string) string {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))
	if channel == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '-'
		}
		return r
	}, channel)
}
