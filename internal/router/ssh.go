package router

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// sshSession drives an interactive shell over an SSH connection.
type sshSession struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	reader *promptReader
}

// connectSSH dials, authenticates and opens an interactive shell,
// then waits for the initial prompt within the auth timeout.
func (t *Transport) connectSSH(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.SSHPort))
	cfg := &ssh.ClientConfig{
		User: t.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.cfg.Password),
			ssh.KeyboardInteractive(func(string, string, []string, []bool) ([]string, error) {
				return []string{t.cfg.Password}, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.cfg.Timeouts.Connect,
		Config: ssh.Config{
			// Older VRP builds only offer legacy key exchange.
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
			},
		},
	}

	dialer := net.Dialer{Timeout: t.cfg.Timeouts.Connect}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(cc, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh pty: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh shell: %w", err)
	}

	s := &sshSession{
		client: client,
		sess:   sess,
		stdin:  stdin,
		reader: newPromptReader(stdout),
	}
	if _, ok, err := s.reader.awaitPrompt("", t.cfg.Timeouts.Auth); err != nil || !ok {
		s.Close()
		if err == nil {
			err = fmt.Errorf("no prompt within %s", t.cfg.Timeouts.Auth)
		}
		return nil, fmt.Errorf("ssh login %s: %w", addr, err)
	}
	// Disable interactive paging for the lifetime of the shell.
	if _, err := s.Send("screen-length 0 temporary", t.cfg.Timeouts.Command); err != nil {
		s.Close()
		return nil, fmt.Errorf("ssh setup: %w", err)
	}
	t.log.Debug().Str("addr", addr).Msg("ssh session established")
	return s, nil
}

func (s *sshSession) Send(command string, timeout time.Duration) (string, error) {
	s.reader.take() // drop anything unsolicited since the last command
	if _, err := s.stdin.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("write %q: %w", command, err)
	}
	out, _, err := s.reader.awaitPrompt("", timeout)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", command, err)
	}
	return CleanOutput(out, command), nil
}

// Alive sends an SSH keepalive; a dead transport errors immediately.
func (s *sshSession) Alive() bool {
	if s.client == nil {
		return false
	}
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *sshSession) Close() error {
	if s.sess != nil {
		s.sess.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
