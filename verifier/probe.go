package verifier

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Prober runs one partial SMTP transaction against a mail exchanger and
// reports the RCPT reply without ever sending DATA.
type Prober interface {
	Probe(ctx context.Context, host, sender, recipient string) ProbeOutcome
}

// SMTPProberConfig holds the probe settings. Zero values take the defaults
// applied by NewSMTPProber.
type SMTPProberConfig struct {
	HelloName string
	Port      int
	Timeout   time.Duration
	StartTLS  bool
	// Limiter caps outbound connections across all callers. Nil disables it.
	Limiter *rate.Limiter
	Logger  *logrus.Entry
}

type SMTPProber struct {
	helloName string
	port      int
	timeout   time.Duration
	startTLS  bool
	limiter   *rate.Limiter
	logger    *logrus.Entry
}

// NewSMTPProber defaults to HELO name localhost, port 25 and a 7s timeout.
func NewSMTPProber(cfg SMTPProberConfig) *SMTPProber {
	p := &SMTPProber{
		helloName: cfg.HelloName,
		port:      cfg.Port,
		timeout:   cfg.Timeout,
		startTLS:  cfg.StartTLS,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
	}
	if p.helloName == "" {
		p.helloName = "localhost"
	}
	if p.port == 0 {
		p.port = 25
	}
	if p.timeout <= 0 {
		p.timeout = 7 * time.Second
	}
	if p.logger == nil {
		p.logger = logrus.WithField("component", "smtp-probe")
	}
	return p
}

func (p *SMTPProber) Probe(ctx context.Context, host, sender, recipient string) ProbeOutcome {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ProbeOutcome{Err: err}
		}
	}

	outcome, tlsFailed := p.session(ctx, host, sender, recipient, p.startTLS)
	if tlsFailed {
		p.logger.WithField("host", host).Debug("STARTTLS failed, probing again in plaintext")
		outcome, _ = p.session(ctx, host, sender, recipient, false)
	}
	return outcome
}

// session runs greeting through RCPT on a fresh connection. The second return
// value asks the caller to retry without STARTTLS after a broken handshake.
func (p *SMTPProber) session(ctx context.Context, host, sender, recipient string, tryTLS bool) (ProbeOutcome, bool) {
	dialer := net.Dialer{Timeout: p.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.port)))
	if err != nil {
		return failed(StageConnect, err), false
	}
	defer raw.Close()
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(&deadlineConn{Conn: raw, ctx: ctx, timeout: p.timeout}, host)
	if err != nil {
		return failed(StageConnect, err), false
	}
	quit := true
	defer func() {
		if quit {
			_ = client.Quit()
		}
		_ = client.Close()
	}()

	if err := client.Hello(p.helloName); err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) {
			return ProbeOutcome{Code: reply.Code, Message: reply.Msg}, false
		}
		quit = false
		return failed(StageHello, err), false
	}

	if tryTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			// MX certificates rarely match the exchanger name; only the channel matters here.
			tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: true} //nolint:gosec
			if err := client.StartTLS(tlsConfig); err != nil {
				// A refusal reply leaves the plaintext session usable.
				var reply *textproto.Error
				if !errors.As(err, &reply) {
					quit = false
					return ProbeOutcome{}, true
				}
				p.logger.WithFields(logrus.Fields{
					"host":  host,
					"code":  reply.Code,
					"reply": reply.Msg,
				}).Debug("STARTTLS refused, continuing in plaintext")
			}
		}
	}

	code, msg, err := command(client.Text, "MAIL FROM:<%s>", sender)
	if err != nil {
		quit = false
		return failed(StageMail, err), false
	}
	if code/100 != 2 {
		p.logger.WithFields(logrus.Fields{
			"host":  host,
			"code":  code,
			"reply": msg,
		}).Debug("sender refused, continuing to RCPT")
	}

	code, msg, err = command(client.Text, "RCPT TO:<%s>", recipient)
	if err != nil {
		quit = false
		return failed(StageRcpt, err), false
	}
	return ProbeOutcome{Code: code, Message: msg}, false
}

// command sends one line and reads the reply whatever its code.
func command(text *textproto.Conn, format string, args ...any) (int, string, error) {
	id, err := text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	text.StartResponse(id)
	defer text.EndResponse(id)
	return text.ReadResponse(0)
}

func failed(stage string, err error) ProbeOutcome {
	return ProbeOutcome{Err: &ProbeError{Stage: stage, Err: err}}
}

// deadlineConn gives every read and write its own timeout, so a slow server
// costs at most one timeout per round trip.
type deadlineConn struct {
	net.Conn
	ctx     context.Context
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
