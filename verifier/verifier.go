// Package verifier decides whether an address is likely deliverable by
// resolving its mail exchanger and probing it with a partial SMTP transaction.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSenders is the MAIL FROM pool used when none is configured.
var DefaultSenders = []string{"verify@yourdomain.com"}

// Options configures a Verifier.
type Options struct {
	Senders          []string
	MaxRetries       int
	RetryDelay       time.Duration
	CourtesyDelayMin time.Duration
	CourtesyDelayMax time.Duration
	Syntax           SyntaxFilter

	// Rand and Sleep are replaceable so tests can pin senders and skip delays.
	Rand   *rand.Rand
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *logrus.Entry
}

// DefaultOptions allows three retries five seconds apart and a courtesy
// delay of 1 to 2.5 seconds before each probe.
func DefaultOptions() Options {
	return Options{
		Senders:          DefaultSenders,
		MaxRetries:       3,
		RetryDelay:       5 * time.Second,
		CourtesyDelayMin: time.Second,
		CourtesyDelayMax: 2500 * time.Millisecond,
		Syntax:           IsValidAddress,
	}
}

// Verifier runs the per-address state machine: syntax, resolution, probe,
// classification and the bounded retry of transient replies.
type Verifier struct {
	resolver    Resolver
	prober      Prober
	syntax      SyntaxFilter
	senders     []string
	maxRetries  int
	retryDelay  time.Duration
	courtesyMin time.Duration
	courtesyMax time.Duration
	rnd         *lockedRand
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *logrus.Entry
}

// New builds a Verifier; unset options fall back to their defaults.
func New(resolver Resolver, prober Prober, opts Options) *Verifier {
	v := &Verifier{
		resolver:    resolver,
		prober:      prober,
		syntax:      opts.Syntax,
		senders:     opts.Senders,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		courtesyMin: opts.CourtesyDelayMin,
		courtesyMax: opts.CourtesyDelayMax,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
	if v.syntax == nil {
		v.syntax = IsValidAddress
	}
	if len(v.senders) == 0 {
		v.senders = DefaultSenders
	}
	if v.maxRetries < 0 {
		v.maxRetries = 0
	}
	if v.courtesyMax < v.courtesyMin {
		v.courtesyMax = v.courtesyMin
	}
	if v.sleep == nil {
		v.sleep = sleepContext
	}
	if v.logger == nil {
		v.logger = logrus.WithField("component", "verifier")
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	v.rnd = &lockedRand{r: r}
	return v
}

// Syntax returns the filter addresses must pass before any lookup.
func (v *Verifier) Syntax() SyntaxFilter {
	return v.syntax
}

// Verify always returns a verdict; failures are folded into the result.
func (v *Verifier) Verify(ctx context.Context, address string) Result {
	address = strings.TrimSpace(address)
	if !v.syntax(address) {
		return danger(address, CategoryInvalidFormat)
	}
	domain := Domain(address)
	log := v.logger.WithField("email", address)

	remaining := v.maxRetries
	for {
		host, err := v.exchanger(ctx, domain)
		if err != nil {
			log.WithError(err).Debug("mx lookup failed")
			return resolutionFailure(address, err)
		}

		if err := v.sleep(ctx, v.courtesyDelay()); err != nil {
			return UnknownError(address, err)
		}
		outcome := v.prober.Probe(ctx, host, v.sender(), address)
		result, transient := classify(address, outcome)
		if !transient || remaining == 0 {
			log.WithFields(logrus.Fields{
				"host":   host,
				"code":   outcome.Code,
				"status": result.Category,
			}).Debug("probe finished")
			return result
		}

		log.WithFields(logrus.Fields{
			"host":      host,
			"code":      outcome.Code,
			"remaining": remaining,
		}).Info("transient SMTP reply, retrying")
		if err := v.sleep(ctx, v.retryDelay); err != nil {
			return result
		}
		remaining--
	}
}

// exchanger resolves the single most preferred mail exchanger of domain.
func (v *Verifier) exchanger(ctx context.Context, domain string) (string, error) {
	hosts, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		return "", err
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("%w: %s: %w", ErrLookupFailed, domain, ErrNoMXRecords)
	}
	return strings.TrimSuffix(hosts[0], "."), nil
}

func resolutionFailure(address string, err error) Result {
	if errors.Is(err, ErrDomainNotFound) {
		return dnsWarning(address, CategoryDomainNotFound)
	}
	return dnsWarning(address, CategoryLookupFailed)
}

func (v *Verifier) sender() string {
	return v.senders[v.rnd.intn(len(v.senders))]
}

func (v *Verifier) courtesyDelay() time.Duration {
	spread := v.courtesyMax - v.courtesyMin
	if spread <= 0 {
		return v.courtesyMin
	}
	return v.courtesyMin + time.Duration(v.rnd.float64()*float64(spread))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lockedRand makes a *rand.Rand safe to share between workers.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
