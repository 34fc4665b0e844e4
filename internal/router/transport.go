// Package router implements the NE8000 command execution core: the
// SSH/Telnet transports, the connection pool and the batch executor
// with retry/backoff, plus the output parsers.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

// promptTerminators are the bytes a Huawei VRP prompt ends with.
// `<NE8000>` user view, `[NE8000]` system view, `#`/`>` generic.
var promptTerminators = []byte{'>', '#', ']', '<'}

// readPollInterval is how often the receive loop re-checks the buffer
// while waiting for a prompt (sleep-and-check, not fully blocking).
const readPollInterval = 100 * time.Millisecond

// Session is one live interactive channel to the device.
// A Session is not safe for concurrent use; the pool enforces exclusivity.
type Session interface {
	// Send writes a command and reads until the next prompt or timeout.
	// On a read timeout the buffered partial output is returned with a
	// nil error; the device is assumed to be between commands again.
	// A non-nil error means the session itself is broken.
	Send(command string, timeout time.Duration) (string, error)
	// Alive is a cheap health probe; it must not block on network I/O
	// for longer than a keepalive round-trip.
	Alive() bool
	Close() error
}

// Transport dials authenticated sessions to the configured device.
type Transport struct {
	cfg config.Router
	log zerolog.Logger
}

// NewTransport returns a Transport for the given device endpoint.
func NewTransport(cfg config.Router, log zerolog.Logger) *Transport {
	return &Transport{cfg: cfg, log: log.With().Str("component", "transport").Logger()}
}

// Protocol returns the configured protocol ("ssh" or "telnet").
func (t *Transport) Protocol() string { return t.cfg.Protocol }

// Connect opens and authenticates a new session using the configured
// protocol. The returned session has already seen an initial prompt.
func (t *Transport) Connect(ctx context.Context) (Session, error) {
	switch t.cfg.Protocol {
	case "telnet":
		return t.connectTelnet(ctx)
	default:
		return t.connectSSH(ctx)
	}
}

// ── prompt-driven receive buffer ─────────────────────────────────────────────

// promptReader pumps a raw stream into a buffer from a background
// goroutine so the caller can poll for prompt terminators without
// blocking on the read itself.
type promptReader struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	err    error
}

func newPromptReader(r io.Reader) *promptReader {
	pr := &promptReader{}
	go pr.pump(r)
	return pr
}

func (pr *promptReader) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		pr.mu.Lock()
		if n > 0 {
			pr.buf.Write(chunk[:n])
		}
		if err != nil {
			pr.closed = true
			pr.err = err
			pr.mu.Unlock()
			return
		}
		pr.mu.Unlock()
	}
}

// snapshot returns the buffered bytes and whether the stream is closed.
func (pr *promptReader) snapshot() (data []byte, closed bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return append([]byte(nil), pr.buf.Bytes()...), pr.closed
}

// take drains and returns everything buffered so far.
func (pr *promptReader) take() []byte {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	data := append([]byte(nil), pr.buf.Bytes()...)
	pr.buf.Reset()
	return data
}

// awaitPrompt polls the buffer until its tail looks like a device prompt,
// a marker string is seen, or the timeout elapses. It returns the drained
// text and whether a prompt/marker was actually observed.
func (pr *promptReader) awaitPrompt(marker string, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		data, closed := pr.snapshot()
		if promptSeen(data, marker) {
			return string(pr.take()), true, nil
		}
		if closed {
			if len(data) > 0 {
				return string(pr.take()), false, nil
			}
			return "", false, fmt.Errorf("session closed: %w", pr.closedErr())
		}
		if time.Now().After(deadline) {
			return string(pr.take()), false, nil
		}
		time.Sleep(readPollInterval)
	}
}

// isClosed reports whether the underlying stream has ended.
func (pr *promptReader) isClosed() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.closed
}

func (pr *promptReader) closedErr() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.err != nil {
		return pr.err
	}
	return io.EOF
}

// promptSeen reports whether the buffered tail ends in a prompt
// terminator (ignoring trailing spaces), or contains the marker.
func promptSeen(data []byte, marker string) bool {
	if marker != "" && bytes.Contains(data, []byte(marker)) {
		return true
	}
	tail := bytes.TrimRight(data, " \t")
	if len(tail) == 0 {
		return false
	}
	last := tail[len(tail)-1]
	for _, p := range promptTerminators {
		if last == p {
			return true
		}
	}
	return false
}

// ── output cleaning ──────────────────────────────────────────────────────────

// CleanOutput removes the echoed command line (first occurrence) and
// trailing prompt/blank lines from raw device output. Cleaning output
// that is already clean returns it unchanged.
func CleanOutput(raw, command string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	cmd := strings.TrimSpace(command)

	kept := make([]string, 0, len(lines))
	skipEcho := cmd != ""
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if skipEcho && strings.Contains(line, cmd) {
			skipEcho = false
			continue
		}
		kept = append(kept, line)
	}

	// Trim trailing prompt and blank lines.
	for len(kept) > 0 {
		last := strings.TrimSpace(kept[len(kept)-1])
		if last == "" || isPromptLine(last) {
			kept = kept[:len(kept)-1]
			continue
		}
		break
	}
	// Trim leading blank lines left behind the echo.
	for len(kept) > 0 && strings.TrimSpace(kept[0]) == "" {
		kept = kept[1:]
	}

	return strings.Join(kept, "\n")
}

// isPromptLine reports whether a trimmed line looks like a bare VRP
// prompt rather than command output.
func isPromptLine(line string) bool {
	if len(line) > 64 {
		return false
	}
	last := line[len(line)-1]
	for _, p := range promptTerminators {
		if last == p {
			return true
		}
	}
	return false
}
