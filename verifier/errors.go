package verifier

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrDomainNotFound = errors.New("domain does not exist")
	ErrLookupFailed   = errors.New("mx lookup failed")
	ErrNoMXRecords    = errors.New("mx record not found")
)

// Probe stages reported in ProbeError.
const (
	StageConnect  = "connect"
	StageHello    = "hello"
	StageMail     = "mail"
	StageRcpt     = "rcpt"
	StageStartTLS = "starttls"
)

// ProbeError is a transport failure during one SMTP attempt.
type ProbeError struct {
	Stage string
	Err   error
}

func (e *ProbeError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func isConnectFailure(err error) bool {
	var probeErr *ProbeError
	return errors.As(err, &probeErr) && probeErr.Stage == StageConnect
}
