package router

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Br10Consultoria/webhuawei/internal/config"
)

// noPagingSuffix is appended to bare display commands so the device
// streams the full output instead of paging it.
const noPagingSuffix = " | no-more"

// readOnlyPrefixes enumerates the command shapes Execute will send.
// Anything else is rejected before a session is touched.
var readOnlyPrefixes = []string{
	"display ",
	"ping ",
	"tracert ",
}

// privilegedPrefixes extends the read-only set with the state-changing
// commands the audited API paths compose (interface shutdown, PPPoE
// session disconnect). Only ExecutePrivileged admits these; the
// ad-hoc execute endpoint never reaches them.
var privilegedPrefixes = append([]string{
	"system-view",
	"interface ",
	"shutdown",
	"undo shutdown",
	"undo access-user username ",
	"commit",
	"quit",
	"return",
}, readOnlyPrefixes...)

// ExecError reports a batch that failed after all retry attempts.
type ExecError struct {
	Attempts int
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor runs command batches against the pooled device sessions
// with exponential-backoff retry. A batch is all or nothing: any
// transport error aborts the remaining commands and the whole batch
// is retried on a fresh session.
type Executor struct {
	pool       *Pool
	retry      config.Retry
	cmdTimeout time.Duration
	log        zerolog.Logger
}

// NewExecutor wires an executor over the given pool.
func NewExecutor(pool *Pool, retry config.Retry, cmdTimeout time.Duration, log zerolog.Logger) *Executor {
	return &Executor{
		pool:       pool,
		retry:      retry,
		cmdTimeout: cmdTimeout,
		log:        log.With().Str("component", "executor").Logger(),
	}
}

// Execute normalizes, validates and runs a batch of read-only
// commands on one session, returning one cleaned output per command
// in order.
func (e *Executor) Execute(ctx context.Context, commands []string) ([]string, error) {
	return e.run(ctx, commands, readOnlyPrefixes)
}

// ExecutePrivileged is Execute with the state-changing command set
// admitted. Callers own the audit trail; nothing reaches this path
// except the audited action handlers.
func (e *Executor) ExecutePrivileged(ctx context.Context, commands []string) ([]string, error) {
	return e.run(ctx, commands, privilegedPrefixes)
}

func (e *Executor) run(ctx context.Context, commands, allowed []string) ([]string, error) {
	cmds := Normalize(commands)
	if len(cmds) == 0 {
		return nil, nil
	}
	for _, cmd := range cmds {
		if !permitted(cmd, allowed) {
			return nil, fmt.Errorf("command %q is not permitted", cmd)
		}
	}

	// Wall-clock budget for the whole batch including retries.
	budget := 2 * e.cmdTimeout * time.Duration(len(cmds))
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		results, err := e.runBatch(ctx, cmds)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt == e.retry.MaxAttempts {
			break
		}
		delay := backoffDelay(e.retry, attempt)
		e.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("batch failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			attempt = e.retry.MaxAttempts
		}
	}
	return nil, &ExecError{Attempts: e.retry.MaxAttempts, Err: lastErr}
}

func (e *Executor) runBatch(ctx context.Context, cmds []string) ([]string, error) {
	results := make([]string, 0, len(cmds))
	err := e.pool.WithSession(ctx, func(sess Session) error {
		for _, cmd := range cmds {
			out, err := sess.Send(cmd, e.cmdTimeout)
			if err != nil {
				return fmt.Errorf("send %q: %w", cmd, err)
			}
			results = append(results, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Normalize trims whitespace, drops empty entries and appends the
// no-paging suffix to display commands that carry no pipe already.
func Normalize(commands []string) []string {
	out := make([]string, 0, len(commands))
	for _, cmd := range commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if strings.HasPrefix(cmd, "display") && !strings.Contains(cmd, "|") {
			cmd += noPagingSuffix
		}
		out = append(out, cmd)
	}
	return out
}

// Permitted reports whether a normalized command is in the read-only
// set Execute admits.
func Permitted(cmd string) bool {
	return permitted(cmd, readOnlyPrefixes)
}

// PermittedPrivileged reports whether a normalized command is in the
// extended set ExecutePrivileged admits.
func PermittedPrivileged(cmd string) bool {
	return permitted(cmd, privilegedPrefixes)
}

func permitted(cmd string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

// backoffDelay returns base * multiplier^(attempt-1), capped at max.
func backoffDelay(r config.Retry, attempt int) time.Duration {
	d := time.Duration(float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt-1)))
	if d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}
