package router

import (
	"context"
	"fmt"
	"net"
	"time"
)

// telnetSession drives a plain TCP telnet login. VRP telnet service
// does not negotiate options aggressively, so a raw stream with the
// Username:/Password: challenge sequence is sufficient.
type telnetSession struct {
	conn   net.Conn
	reader *promptReader
	closed bool
}

func (t *Transport) connectTelnet(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.TelnetPort))
	dialer := net.Dialer{Timeout: t.cfg.Timeouts.Connect}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("telnet dial %s: %w", addr, err)
	}

	s := &telnetSession{conn: conn, reader: newPromptReader(conn)}
	authDeadline := t.cfg.Timeouts.Auth

	if _, ok, err := s.reader.awaitPrompt("Username:", authDeadline); err != nil || !ok {
		s.Close()
		return nil, fmt.Errorf("telnet login %s: no username prompt: %w", addr, errOr(err, authDeadline))
	}
	if _, err := conn.Write([]byte(t.cfg.Username + "\n")); err != nil {
		s.Close()
		return nil, fmt.Errorf("telnet login %s: %w", addr, err)
	}
	if _, ok, err := s.reader.awaitPrompt("Password:", authDeadline); err != nil || !ok {
		s.Close()
		return nil, fmt.Errorf("telnet login %s: no password prompt: %w", addr, errOr(err, authDeadline))
	}
	if _, err := conn.Write([]byte(t.cfg.Password + "\n")); err != nil {
		s.Close()
		return nil, fmt.Errorf("telnet login %s: %w", addr, err)
	}
	if _, ok, err := s.reader.awaitPrompt("", authDeadline); err != nil || !ok {
		s.Close()
		return nil, fmt.Errorf("telnet login %s: no shell prompt: %w", addr, errOr(err, authDeadline))
	}

	if _, err := s.Send("screen-length 0 temporary", t.cfg.Timeouts.Command); err != nil {
		s.Close()
		return nil, fmt.Errorf("telnet setup: %w", err)
	}
	t.log.Debug().Str("addr", addr).Msg("telnet session established")
	return s, nil
}

func errOr(err error, timeout time.Duration) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("timed out after %s", timeout)
}

func (s *telnetSession) Send(command string, timeout time.Duration) (string, error) {
	s.reader.take()
	if _, err := s.conn.Write([]byte(command + "\n")); err != nil {
		s.closed = true
		return "", fmt.Errorf("write %q: %w", command, err)
	}
	out, _, err := s.reader.awaitPrompt("", timeout)
	if err != nil {
		s.closed = true
		return "", fmt.Errorf("read %q: %w", command, err)
	}
	return CleanOutput(out, command), nil
}

// Alive reports whether the connection is still open. Telnet has no
// in-band keepalive, so this relies on the receive pump having seen
// EOF or a local write/read failure.
func (s *telnetSession) Alive() bool {
	return !s.closed && !s.reader.isClosed()
}

func (s *telnetSession) Close() error {
	s.closed = true
	return s.conn.Close()
}
