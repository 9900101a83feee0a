// Package coordinator orchestrates report generation against the lookout
// API: it submits the creation request, tracks an optimistic placeholder
// entry, and polls the listing until the generated report appears or the
// attempt times out.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/logging"
)

// ErrGenerationPending is returned when a generation attempt is started
// while a previous one is still in flight.
var ErrGenerationPending = errors.New("a report generation is already in progress")

// CreationRejectedError is returned when the backend rejects a creation
// request. Reason is the user-facing text taken from the server response.
type CreationRejectedError struct {
	Reason string
}

func (e *CreationRejectedError) Error() string {
	return fmt.Sprintf("report creation rejected: %s", e.Reason)
}

// Client is the subset of the lookout API the coordinator depends on.
type Client interface {
	CreateReport(ctx context.Context, request api.CreateReportRequest) (api.CreationOutcome, error)
	ListReports(ctx context.Context) (*api.ReportListing, error)
}

// Notifier receives the user-facing outcome of a generation attempt.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Success(message string)
	Warning(message string)
	Error(message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Warning(string) {}
func (NopNotifier) Error(string)   {}

// User-facing notification text
const (
	msgGenerationComplete = "Report generated successfully"
	msgGenerationSlow     = "Report generation is taking longer than expected. The report will appear in the listing once it is ready."
)

// Defaults for the polling loop
const (
	DefaultPollInterval     = 3 * time.Second
	DefaultMaxPolls         = 100
	DefaultFastRefreshDelay = 2 * time.Second
)

// Config configures a Coordinator.
type Config struct {
	Client   Client
	Notifier Notifier
	Logger   logging.Logger

	// PollInterval is the spacing between listing polls. Default: 3s.
	PollInterval time.Duration

	// MaxPolls caps the number of poll iterations before the attempt
	// times out. Default: 100 (about five minutes).
	MaxPolls int

	// FastRefreshDelay schedules one extra listing fetch shortly after
	// submission to surface fast completions sooner. It does not count
	// toward MaxPolls. Zero disables it; production wiring passes
	// DefaultFastRefreshDelay.
	FastRefreshDelay time.Duration

	// OnRefresh, if set, is invoked with the current display snapshot
	// whenever the coordinator's view of the listing changes.
	OnRefresh func([]api.ReportRecord)
}

// Coordinator owns the transient state of one view over the report
// listing. It is safe for concurrent use. Callers must Close it when the
// owning view goes away so that timers are released.
type Coordinator struct {
	client   Client
	notifier Notifier
	logger   logging.Logger

	pollInterval     time.Duration
	maxPolls         int
	fastRefreshDelay time.Duration
	onRefresh        func([]api.ReportRecord)

	mu          sync.Mutex
	pending     bool
	resolved    bool
	generation  int
	pollSeq     int
	placeholder *api.ReportRecord
	knownIDs    map[string]struct{}
	listing     []api.ReportRecord
	stopCh      chan struct{}
	stopped     bool
	fastTimer   *time.Timer
	pollCancel  context.CancelFunc
	closed      bool
}

// New creates a Coordinator from the given config.
func New(cfg Config) *Coordinator {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}

	return &Coordinator{
		client:           cfg.Client,
		notifier:         cfg.Notifier,
		logger:           cfg.Logger,
		pollInterval:     cfg.PollInterval,
		maxPolls:         cfg.MaxPolls,
		fastRefreshDelay: cfg.FastRefreshDelay,
		onRefresh:        cfg.OnRefresh,
	}
}

// Pending reports whether a generation attempt is currently in flight.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Snapshot returns the current display state: the placeholder entry, if
// one exists, followed by the last observed listing.
func (c *Coordinator) Snapshot() []api.ReportRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() []api.ReportRecord {
	out := make([]api.ReportRecord, 0, len(c.listing)+1)
	if c.placeholder != nil {
		out = append(out, *c.placeholder)
	}
	out = append(out, c.listing...)
	return out
}

// RefreshListing fetches the listing once and updates the display state.
// It is independent of any generation attempt.
func (c *Coordinator) RefreshListing(ctx context.Context) error {
	listing, err := c.client.ListReports(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.listing = listing.Flatten()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyRefresh(snapshot)
	return nil
}

// Generate submits a report generation request. On acceptance it installs
// a placeholder entry and starts the polling loop; the call returns as
// soon as the creation response is classified. On rejection the
// placeholder is discarded and a CreationRejectedError is returned.
// Returns ErrGenerationPending if an attempt is already in flight.
func (c *Coordinator) Generate(ctx context.Context, request api.CreateReportRequest, title string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator is closed")
	}
	if c.pending {
		c.mu.Unlock()
		return ErrGenerationPending
	}

	c.generation++
	gen := c.generation
	c.pending = true
	c.resolved = false
	c.pollSeq = 0

	placeholder := api.NewPlaceholderRecord(time.Now(), title)
	c.placeholder = &placeholder

	// Baseline: every ID already visible in the current listing. A
	// success is a completed record whose ID has never been observed
	// during this attempt.
	c.knownIDs = make(map[string]struct{}, len(c.listing))
	for _, r := range c.listing {
		c.knownIDs[r.ID] = struct{}{}
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyRefresh(snapshot)

	outcome, err := c.client.CreateReport(ctx, request)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"generation": gen,
			"error":      err.Error(),
		}).Warn("report creation request failed")
	}

	if !outcome.Accepted {
		if outcome.Reason == "" {
			outcome.Reason = api.GenericCreationFailure
		}
		c.mu.Lock()
		c.pending = false
		c.placeholder = nil
		snapshot := c.snapshotLocked()
		c.mu.Unlock()

		c.notifyRefresh(snapshot)
		c.notifier.Error(outcome.Reason)
		return &CreationRejectedError{Reason: outcome.Reason}
	}

	c.startPolling(ctx, gen)
	return nil
}

// startPolling launches the ticker loop and the one-shot fast refresh for
// the given generation.
func (c *Coordinator) startPolling(ctx context.Context, gen int) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopCh := make(chan struct{})

	c.mu.Lock()
	c.pollCancel = cancel
	c.stopCh = stopCh
	c.stopped = false
	if c.fastRefreshDelay > 0 {
		c.fastTimer = time.AfterFunc(c.fastRefreshDelay, func() {
			// Supplementary refresh: may surface completion early but
			// never counts as a poll iteration.
			go c.poll(pollCtx, gen, 0)
		})
	}
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.resolved || c.generation != gen {
					c.mu.Unlock()
					return
				}
				c.pollSeq++
				seq := c.pollSeq
				c.mu.Unlock()

				// Fire without waiting for the previous response so a
				// slow fetch never delays the schedule. Responses may
				// arrive out of order; only the first success acts.
				go c.poll(pollCtx, gen, seq)

				if seq >= c.maxPolls {
					return
				}
			}
		}
	}()
}

// poll fetches the listing once and feeds the result back into the state
// machine. seq is 0 for the supplementary fast refresh.
func (c *Coordinator) poll(ctx context.Context, gen, seq int) {
	listing, err := c.client.ListReports(ctx)
	c.handlePollResult(gen, seq, listing, err)
}

func (c *Coordinator) handlePollResult(gen, seq int, listing *api.ReportListing, err error) {
	c.mu.Lock()

	// Stale responses from a previous attempt, or duplicates arriving
	// after resolution, are discarded without acting.
	if c.generation != gen || c.resolved || !c.pending {
		c.mu.Unlock()
		return
	}

	if err != nil {
		// A single failed fetch means no new information; the loop keeps
		// going. Only the iteration cap ends the attempt.
		c.logger.WithFields(logging.Fields{
			"generation": gen,
			"poll":       seq,
			"error":      err.Error(),
		}).Debug("listing poll failed")
		c.finishIterationLocked(gen, seq)
		return
	}

	flat := listing.Flatten()

	var novel *api.ReportRecord
	for i := range flat {
		if flat[i].Status != api.StatusCompleted {
			continue
		}
		if _, seen := c.knownIDs[flat[i].ID]; !seen {
			novel = &flat[i]
			break
		}
	}

	if novel != nil {
		c.resolved = true
		c.pending = false
		c.placeholder = nil
		c.listing = flat
		c.stopTimersLocked()
		snapshot := c.snapshotLocked()
		reportID := novel.ID
		c.mu.Unlock()

		c.logger.WithFields(logging.Fields{
			"generation": gen,
			"poll":       seq,
			"report_id":  reportID,
		}).Info("report generation completed")
		c.notifyRefresh(snapshot)
		c.notifier.Success(msgGenerationComplete)
		return
	}

	// No success: remember every observed ID so later completions of
	// already-visible reports are not mistaken for ours.
	for _, r := range flat {
		c.knownIDs[r.ID] = struct{}{}
	}
	c.listing = flat
	c.finishIterationLocked(gen, seq)
}

// finishIterationLocked ends an unsuccessful iteration, timing the
// attempt out if this was the final one. Releases the mutex.
func (c *Coordinator) finishIterationLocked(gen, seq int) {
	if seq < c.maxPolls {
		c.mu.Unlock()
		return
	}

	c.resolved = true
	c.pending = false
	c.placeholder = nil
	c.stopTimersLocked()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithFields(logging.Fields{
		"generation": gen,
		"polls":      seq,
	}).Warn("report generation timed out, presuming still running server-side")
	c.notifyRefresh(snapshot)
	c.notifier.Warning(msgGenerationSlow)
}

// stopTimersLocked releases the ticker, the fast-refresh timer, and the
// poll context. Callers hold the mutex. Idempotent.
func (c *Coordinator) stopTimersLocked() {
	if !c.stopped && c.stopCh != nil {
		close(c.stopCh)
		c.stopped = true
	}
	if c.fastTimer != nil {
		c.fastTimer.Stop()
		c.fastTimer = nil
	}
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// Close releases all timers and in-flight polls. The cleanup is
// unconditional: it runs regardless of whether the attempt resolved.
// The coordinator cannot be reused afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = false
	c.resolved = true
	c.generation++
	c.placeholder = nil
	c.stopTimersLocked()
}

func (c *Coordinator) notifyRefresh(snapshot []api.ReportRecord) {
	if c.onRefresh != nil {
		c.onRefresh(snapshot)
	}
}
