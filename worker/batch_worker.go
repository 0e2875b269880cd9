package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailprobe/utils"
	"mailprobe/verifier"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 10

// AddressVerifier produces exactly one verdict per call and never fails.
type AddressVerifier interface {
	Verify(ctx context.Context, address string) verifier.Result
}

// RunObserver is notified of run progress. Calls for one run may arrive
// from several workers concurrently.
type RunObserver interface {
	RunStarted(run *BatchRun)
	ResultRecorded(run *BatchRun, result verifier.Result)
	RunCompleted(run *BatchRun)
}

// BatchRun is one submission: its deduplicated addresses and the results
// collected so far, in completion order.
type BatchRun struct {
	ID        string
	Addresses []string
	StartedAt time.Time

	mu          sync.Mutex
	results     []verifier.Result
	completedAt time.Time
	done        chan struct{}
}

func newBatchRun(addresses []string) *BatchRun {
	return &BatchRun{
		ID:        uuid.NewString(),
		Addresses: addresses,
		StartedAt: time.Now(),
		results:   make([]verifier.Result, 0, len(addresses)),
		done:      make(chan struct{}),
	}
}

func (r *BatchRun) Total() int {
	return len(r.Addresses)
}

// Results returns a copy of the results recorded so far.
func (r *BatchRun) Results() []verifier.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]verifier.Result, len(r.results))
	copy(out, r.results)
	return out
}

// ResultsFrom returns the results recorded after the first offset ones.
func (r *BatchRun) ResultsFrom(offset int) []verifier.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= len(r.results) {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	out := make([]verifier.Result, len(r.results)-offset)
	copy(out, r.results[offset:])
	return out
}

func (r *BatchRun) Processed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *BatchRun) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed once every address has a result.
func (r *BatchRun) Done() <-chan struct{} {
	return r.done
}

// CompletedAt is zero until the run completes.
func (r *BatchRun) CompletedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedAt
}

func (r *BatchRun) record(result verifier.Result) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

// complete stamps the completion time, runs notify, then releases Done
// waiters, so observers have finished by the time Done is closed.
func (r *BatchRun) complete(notify func()) {
	r.mu.Lock()
	r.completedAt = time.Now()
	r.mu.Unlock()
	if notify != nil {
		notify()
	}
	close(r.done)
}

type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Total    int    `json:"total"`
	RunID    string `json:"run_id"`
}

// Scheduler fans a submission out over a fixed worker pool. Only the most
// recent submission is visible; older runs finish into their own results.
type Scheduler struct {
	ctx       context.Context
	verifier  AddressVerifier
	workers   int
	observers []RunObserver
	logger    *logrus.Entry

	mu      sync.RWMutex
	current *BatchRun
}

// NewScheduler binds every run to ctx, which is cancelled only at shutdown.
func NewScheduler(ctx context.Context, v AddressVerifier, workers int, observers ...RunObserver) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	empty := newBatchRun(nil)
	empty.complete(nil)
	return &Scheduler{
		ctx:       ctx,
		verifier:  v,
		workers:   workers,
		observers: observers,
		logger:    logrus.WithField("component", "batch-worker"),
		current:   empty,
	}
}

// Submit replaces the current run and returns without waiting for results.
func (s *Scheduler) Submit(addresses []string) SubmitResult {
	run := newBatchRun(Dedupe(addresses))

	s.mu.Lock()
	s.current = run
	s.mu.Unlock()

	if run.Total() == 0 {
		run.complete(nil)
		return SubmitResult{Accepted: false, Total: 0, RunID: run.ID}
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"total":   run.Total(),
		"workers": s.workers,
	}).Info("Verification run started")
	for _, o := range s.observers {
		o.RunStarted(run)
	}

	go s.process(run)
	return SubmitResult{Accepted: true, Total: run.Total(), RunID: run.ID}
}

// Current returns the most recently submitted run.
func (s *Scheduler) Current() *BatchRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Results is a snapshot of the current run.
func (s *Scheduler) Results() []verifier.Result {
	return s.Current().Results()
}

func (s *Scheduler) process(run *BatchRun) {
	jobs := make(chan string, len(run.Addresses))
	for _, address := range run.Addresses {
		jobs <- address
	}
	close(jobs)

	workers := s.workers
	if workers > len(run.Addresses) {
		workers = len(run.Addresses)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for address := range jobs {
				result := s.verifyOne(run, address)
				run.record(result)
				for _, o := range s.observers {
					o.ResultRecorded(run, result)
				}
			}
		}()
	}
	wg.Wait()

	run.complete(func() {
		for _, o := range s.observers {
			o.RunCompleted(run)
		}
	})
	utils.LogEvent("verification_run_completed", map[string]interface{}{
		"run_id":   run.ID,
		"total":    run.Total(),
		"duration": time.Since(run.StartedAt).String(),
	})
}

// verifyOne turns a panic into an Unknown error result so the run still
// gets exactly one result per address.
func (s *Scheduler) verifyOne(run *BatchRun, address string) (result verifier.Result) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			utils.LogError("verification_panic", err, map[string]interface{}{
				"run_id": run.ID,
				"email":  address,
			})
			result = verifier.UnknownError(address, err)
		}
	}()
	return s.verifier.Verify(s.ctx, address)
}

// Dedupe trims every entry, drops blanks and keeps the first occurrence of
// each address.
func Dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}
