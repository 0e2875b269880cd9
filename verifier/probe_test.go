package verifier

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// smtpScript answers one client line. An empty reply sends nothing; hangup
// closes the connection after the reply.
type smtpScript func(line string) (reply string, hangup bool)

type fakeSMTPServer struct {
	port     int
	accepted atomic.Int32

	mu       sync.Mutex
	sessions [][]string
}

func (s *fakeSMTPServer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []string
	for _, session := range s.sessions {
		all = append(all, session...)
	}
	return all
}

func (s *fakeSMTPServer) session(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions[i]...)
}

func startSMTPServer(t *testing.T, greeting string, script smtpScript) *fakeSMTPServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	server := &fakeSMTPServer{port: ln.Addr().(*net.TCPAddr).Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			server.mu.Lock()
			idx := len(server.sessions)
			server.sessions = append(server.sessions, nil)
			server.mu.Unlock()
			server.accepted.Add(1)
			go server.serve(conn, idx, greeting, script)
		}
	}()
	return server
}

func (s *fakeSMTPServer) serve(conn net.Conn, idx int, greeting string, script smtpScript) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if greeting != "" {
		if _, err := conn.Write([]byte(greeting + "\r\n")); err != nil {
			return
		}
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.sessions[idx] = append(s.sessions[idx], line)
		s.mu.Unlock()

		reply, hangup := script(line)
		if reply != "" {
			if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
				return
			}
		}
		if hangup {
			return
		}
	}
}

func happyPath(line string) (string, bool) {
	switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); {
	case verb == "EHLO":
		return "250-mx.test\r\n250 SIZE 10240000", false
	case verb == "HELO":
		return "250 mx.test", false
	case strings.HasPrefix(verb, "MAIL"), strings.HasPrefix(verb, "RCPT"):
		return "250 2.1.0 ok", false
	case verb == "QUIT":
		return "221 bye", true
	default:
		return "502 not implemented", false
	}
}

// override replaces the reply for lines starting with prefix.
func override(prefix, reply string, hangup bool) smtpScript {
	return func(line string) (string, bool) {
		if strings.HasPrefix(line, prefix) {
			return reply, hangup
		}
		return happyPath(line)
	}
}

func newTestProber(port int, timeout time.Duration) *SMTPProber {
	return NewSMTPProber(SMTPProberConfig{HelloName: "probe.test", Port: port, Timeout: timeout})
}

func TestProbeAcceptedRecipient(t *testing.T) {
	server := startSMTPServer(t, "220 mx.test ESMTP", happyPath)

	outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "sender@probe.test", "user@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 250, outcome.Code)
	assert.Equal(t, "2.1.0 ok", outcome.Message)

	lines := server.lines()
	assert.Equal(t, []string{
		"EHLO probe.test",
		"MAIL FROM:<sender@probe.test>",
		"RCPT TO:<user@example.com>",
		"QUIT",
	}, lines)
	assert.NotContains(t, lines, "DATA")
}

func TestProbeRejectedRecipient(t *testing.T) {
	server := startSMTPServer(t, "220 mx.test", override("RCPT", "550 5.1.1 user unknown", false))

	outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "sender@probe.test", "ghost@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 550, outcome.Code)
	assert.Equal(t, "5.1.1 user unknown", outcome.Message)
}

func TestProbeContinuesAfterRejectedSender(t *testing.T) {
	server := startSMTPServer(t, "220 mx.test", override("MAIL", "553 sender rejected", false))

	outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "sender@probe.test", "user@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 250, outcome.Code)
	assert.Contains(t, server.lines(), "RCPT TO:<user@example.com>")
}

func TestProbeReportsGreetingRefusal(t *testing.T) {
	script := func(line string) (string, bool) {
		if strings.HasPrefix(line, "EHLO") || strings.HasPrefix(line, "HELO") {
			return "554 5.7.1 go away", false
		}
		return happyPath(line)
	}
	server := startSMTPServer(t, "220 mx.test", script)

	outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "sender@probe.test", "user@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 554, outcome.Code)
	assert.NotContains(t, server.lines(), "RCPT TO:<user@example.com>")
}

func TestProbeFallsBackToPlaintextWhenStartTLSFails(t *testing.T) {
	script := func(line string) (string, bool) {
		switch {
		case strings.HasPrefix(line, "EHLO"):
			return "250-mx.test\r\n250 STARTTLS", false
		case line == "STARTTLS":
			return "220 ready", true
		}
		return happyPath(line)
	}
	server := startSMTPServer(t, "220 mx.test", script)
	prober := NewSMTPProber(SMTPProberConfig{HelloName: "probe.test", Port: server.port, Timeout: time.Second, StartTLS: true})

	outcome := prober.Probe(context.Background(), "127.0.0.1", "sender@probe.test", "user@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 250, outcome.Code)
	assert.Equal(t, int32(2), server.accepted.Load())
	assert.Contains(t, server.session(0), "STARTTLS")
	assert.NotContains(t, server.session(1), "STARTTLS")
	assert.Contains(t, server.session(1), "RCPT TO:<user@example.com>")
}

func TestProbeStaysOnSessionWhenStartTLSRefused(t *testing.T) {
	script := func(line string) (string, bool) {
		switch {
		case strings.HasPrefix(line, "EHLO"):
			return "250-mx.test\r\n250 STARTTLS", false
		case line == "STARTTLS":
			return "454 4.7.0 TLS not available", false
		}
		return happyPath(line)
	}
	server := startSMTPServer(t, "220 mx.test", script)
	prober := NewSMTPProber(SMTPProberConfig{HelloName: "probe.test", Port: server.port, Timeout: time.Second, StartTLS: true})

	outcome := prober.Probe(context.Background(), "127.0.0.1", "sender@probe.test", "user@example.com")

	require.NoError(t, outcome.Err)
	assert.Equal(t, 250, outcome.Code)
	assert.Equal(t, int32(1), server.accepted.Load())
	assert.Equal(t, []string{
		"EHLO probe.test",
		"STARTTLS",
		"MAIL FROM:<sender@probe.test>",
		"RCPT TO:<user@example.com>",
		"QUIT",
	}, server.session(0))
}

func TestProbeTransportFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		outcome := newTestProber(port, time.Second).Probe(context.Background(), "127.0.0.1", "s@probe.test", "u@example.com")

		var probeErr *ProbeError
		require.True(t, errors.As(outcome.Err, &probeErr))
		assert.Equal(t, StageConnect, probeErr.Stage)
		result, _ := classify("u@example.com", outcome)
		assert.Equal(t, CategoryConnectError, result.Category)
	})

	t.Run("refused greeting", func(t *testing.T) {
		server := startSMTPServer(t, "554 no service", happyPath)

		outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "s@probe.test", "u@example.com")

		result, _ := classify("u@example.com", outcome)
		assert.Equal(t, CategoryConnectError, result.Category)
	})

	t.Run("disconnect at rcpt", func(t *testing.T) {
		server := startSMTPServer(t, "220 mx.test", override("RCPT", "", true))

		outcome := newTestProber(server.port, time.Second).Probe(context.Background(), "127.0.0.1", "s@probe.test", "u@example.com")

		var probeErr *ProbeError
		require.True(t, errors.As(outcome.Err, &probeErr))
		assert.Equal(t, StageRcpt, probeErr.Stage)
		result, _ := classify("u@example.com", outcome)
		assert.Equal(t, CategoryDisconnected, result.Category)
	})

	t.Run("silent server", func(t *testing.T) {
		server := startSMTPServer(t, "220 mx.test", func(string) (string, bool) { return "", false })

		start := time.Now()
		outcome := newTestProber(server.port, 150*time.Millisecond).Probe(context.Background(), "127.0.0.1", "s@probe.test", "u@example.com")

		result, _ := classify("u@example.com", outcome)
		assert.Equal(t, CategoryTimeout, result.Category)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestProbeWaitsForLimiter(t *testing.T) {
	server := startSMTPServer(t, "220 mx.test", happyPath)
	prober := NewSMTPProber(SMTPProberConfig{
		Port:    server.port,
		Timeout: time.Second,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})

	first := prober.Probe(context.Background(), "127.0.0.1", "s@probe.test", "u@example.com")
	require.NoError(t, first.Err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second := prober.Probe(ctx, "127.0.0.1", "s@probe.test", "u@example.com")

	assert.Error(t, second.Err)
	assert.Equal(t, int32(1), server.accepted.Load())
}
