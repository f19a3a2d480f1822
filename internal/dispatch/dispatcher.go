// Package dispatch drains the outbox against the remote ledger.
//
// The Dispatcher is the only writer of command outcomes. It sends one
// command at a time, per workspace in admission order, and records each
// outcome together with its entity's sync status in one store transaction.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Dispatch(), SyncOnce(): must not run concurrently with Run()
//   - Notify(), Subscribe(), the manual operations: safe from any goroutine
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/tillsync/internal/metrics"
	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
)

// DefaultPollInterval is how long Run sleeps when nothing wakes it.
const DefaultPollInterval = 30 * time.Second

// Submitter sends a command to the ledger. It returns an error only when
// ctx ended before an outcome was known.
type Submitter interface {
	Submit(ctx context.Context, cmd pos.Command) (outbox.Outcome, error)
}

// Queue is the durable outbox the dispatcher drains. *store.Store
// implements it.
type Queue interface {
	PendingWorkspaces(ctx context.Context) ([]string, error)
	HeadCommand(ctx context.Context, workspaceID string) (pos.Command, bool, error)
	NextAttemptAt(ctx context.Context) (*time.Time, error)
	ClaimCommand(ctx context.Context, id string) (pos.Command, error)
	ReleaseCommand(ctx context.Context, id, note string) error
	PromoteCommand(ctx context.Context, id string) (pos.Command, error)
	ApplyOutcome(ctx context.Context, id string, out outbox.Outcome, nextAttemptAt time.Time) (pos.Command, error)
	RecoverInFlight(ctx context.Context) (int, error)
	RetryFailedCommand(ctx context.Context, id string) (pos.Command, error)
	RetryFailedCommands(ctx context.Context) ([]pos.Command, error)
	DropCommand(ctx context.Context, id, reason string) (pos.Command, error)
	CountCommands(ctx context.Context) (map[pos.CommandStatus]int, error)
}

// Result is what one Dispatch call did.
type Result struct {
	Command pos.Command
	Outcome outbox.Outcome

	// Released is set when the command went back to PENDING with nothing
	// recorded: the context ended mid-send, or the outcome could not be
	// stored. The next send reuses the same idempotency key.
	Released bool

	Err error
}

// Dispatcher sends outbox commands to the ledger.
type Dispatcher struct {
	queue     Queue
	submitter Submitter
	logger    *zap.Logger
	policy    outbox.Policy
	clock     pos.Clock
	metrics   *metrics.Metrics
	poll      time.Duration

	bus  *Bus
	wake chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithPolicy sets the retry policy. Default: outbox.DefaultPolicy().
func WithPolicy(p outbox.Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithClock sets the clock used for backoff deadlines.
func WithClock(c pos.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithPollInterval bounds how long Run waits between drains.
func WithPollInterval(p time.Duration) Option {
	return func(d *Dispatcher) {
		if p > 0 {
			d.poll = p
		}
	}
}

// New creates a Dispatcher draining q through sub.
func New(q Queue, sub Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     q,
		submitter: sub,
		logger:    zap.NewNop(),
		policy:    outbox.DefaultPolicy(),
		clock:     pos.SystemClock{},
		poll:      DefaultPollInterval,
		bus:       NewBus(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers for command events. See Bus.Subscribe.
func (d *Dispatcher) Subscribe(buffer int) (<-chan Event, func()) {
	return d.bus.Subscribe(buffer)
}

// Notify wakes Run for an immediate drain. Signals coalesce.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Dispatch claims cmd, submits it and records the outcome.
//
// A retryable FAILED command whose backoff has elapsed is promoted first.
// If ctx ends while the request is in flight the command is released to
// PENDING and Result.Err carries the context error. Once an outcome is
// known it is recorded even if ctx has ended.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd pos.Command) Result {
	if cmd.Retryable() {
		promoted, err := d.queue.PromoteCommand(ctx, cmd.ID)
		if err != nil {
			return Result{Command: cmd, Err: err}
		}
		d.publish(EventRetried, promoted, nil)
		cmd = promoted
	}

	claimed, err := d.queue.ClaimCommand(ctx, cmd.ID)
	if err != nil {
		return Result{Command: cmd, Err: err}
	}
	d.publish(EventClaimed, claimed, nil)
	start := time.Now()

	out, err := d.submitter.Submit(ctx, claimed)
	if err != nil {
		log := d.logger.With(zap.String("command_id", claimed.ID))
		if relErr := d.queue.ReleaseCommand(context.WithoutCancel(ctx), claimed.ID, "dispatch cancelled"); relErr != nil {
			log.Error("release cancelled command", zap.Error(relErr))
			return Result{Command: claimed, Err: errors.Join(err, relErr)}
		}
		claimed.Status = pos.CommandPending
		d.publish(EventReleased, claimed, nil)
		log.Info("dispatch cancelled, command released", zap.Error(err))
		return Result{Command: claimed, Released: true, Err: err}
	}

	attempt := claimed.Attempts + 1
	if out.Kind == outbox.Retryable && d.policy.Exhausted(attempt) {
		out = outbox.Outcome{
			Kind:       outbox.Fatal,
			Remote:     out.Remote,
			Code:       out.Code,
			Message:    fmt.Sprintf("gave up after %d attempts: %s", attempt, out.Err()),
			HTTPStatus: out.HTTPStatus,
		}
	}
	next := d.clock.Now().Add(d.policy.Delay(attempt))

	applied, err := d.queue.ApplyOutcome(context.WithoutCancel(ctx), claimed.ID, out, next)
	if err != nil {
		log := d.logger.With(zap.String("command_id", claimed.ID), zap.Stringer("outcome", out.Kind))
		log.Error("record outcome", zap.Error(err))
		if relErr := d.queue.ReleaseCommand(context.WithoutCancel(ctx), claimed.ID, "record outcome failed: "+err.Error()); relErr != nil {
			log.Error("release unrecorded command", zap.Error(relErr))
			return Result{Command: claimed, Outcome: out, Err: errors.Join(err, relErr)}
		}
		claimed.Status = pos.CommandPending
		d.publish(EventReleased, claimed, nil)
		return Result{Command: claimed, Outcome: out, Released: true, Err: err}
	}
	d.metrics.ObserveDispatch(applied.Type, out.Kind.String(), time.Since(start))
	d.publish(EventApplied, applied, &out)

	fields := []zap.Field{
		zap.String("command_id", applied.ID),
		zap.String("type", string(applied.Type)),
		zap.String("entity_id", applied.EntityID),
		zap.Int64("seq", applied.Seq),
		zap.Int("attempts", applied.Attempts),
		zap.Stringer("outcome", out.Kind),
	}
	switch out.Kind {
	case outbox.Succeeded, outbox.Replayed:
		d.logger.Info("command synced", fields...)
	case outbox.Retryable:
		d.logger.Warn("command will retry", append(fields, zap.String("error", out.Err()), zap.Timep("next_attempt_at", applied.NextAttemptAt))...)
	case outbox.Fatal:
		d.logger.Error("command failed", append(fields, zap.String("error", out.Err()))...)
	}
	return Result{Command: applied, Outcome: out}
}

// SyncOnce drains every workspace once.
//
// Within a workspace commands go strictly in seq order. The drain of a
// workspace stops at the first command that cannot be sent now: one that
// is backing off or just failed retryably. Fatal and dropped commands
// never block the commands behind them.
//
// The returned error is ctx's error if the drain was cut short, or a
// store error. Per-command failures are reported in the results.
func (d *Dispatcher) SyncOnce(ctx context.Context) ([]Result, error) {
	workspaces, err := d.queue.PendingWorkspaces(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, ws := range workspaces {
		res, err := d.drainWorkspace(ctx, ws)
		results = append(results, res...)
		if err != nil {
			return results, err
		}
	}
	d.refreshDepth(ctx)
	return results, nil
}

func (d *Dispatcher) drainWorkspace(ctx context.Context, workspaceID string) ([]Result, error) {
	var results []Result
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		head, ok, err := d.queue.HeadCommand(ctx, workspaceID)
		if err != nil {
			return results, err
		}
		if !ok {
			return results, nil
		}

		switch {
		case head.Status == pos.CommandPending:
		case head.Retryable():
			if head.NextAttemptAt != nil && head.NextAttemptAt.After(d.clock.Now()) {
				return results, nil
			}
		default:
			// IN_FLIGHT or CONFLICT left by a crash; RecoverInFlight owns it.
			d.logger.Warn("workspace blocked by unsettled command",
				zap.String("workspace_id", workspaceID),
				zap.String("command_id", head.ID),
				zap.String("status", string(head.Status)),
			)
			return results, nil
		}

		res := d.Dispatch(ctx, head)
		results = append(results, res)
		if res.Released && ctx.Err() != nil {
			return results, res.Err
		}
		if res.Err != nil {
			d.logger.Error("dispatch failed",
				zap.String("workspace_id", workspaceID),
				zap.String("command_id", head.ID),
				zap.Error(res.Err),
			)
			return results, nil
		}
		if res.Outcome.Kind == outbox.Retryable {
			return results, nil
		}
	}
}

// Run recovers commands left IN_FLIGHT by a previous process, then drains
// the outbox until ctx ends. It wakes on Notify, on the earliest backoff
// deadline, or after the poll interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	n, err := d.queue.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight commands: %w", err)
	}
	d.logger.Info("dispatcher starting", zap.Int("recovered", n), zap.Duration("poll_interval", d.poll))

	for {
		if _, err := d.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("sync pass failed", zap.Error(err))
		}

		timer := time.NewTimer(d.nextWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("dispatcher stopping", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-d.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (d *Dispatcher) nextWait(ctx context.Context) time.Duration {
	wait := d.poll
	next, err := d.queue.NextAttemptAt(ctx)
	if err != nil {
		d.logger.Warn("read next backoff deadline", zap.Error(err))
		return wait
	}
	if next != nil {
		until := next.Sub(d.clock.Now())
		if until < 0 {
			until = 0
		}
		wait = min(wait, until)
	}
	return wait
}

// RetryFailedCommand returns one FAILED command to PENDING and wakes Run.
func (d *Dispatcher) RetryFailedCommand(ctx context.Context, id string) (pos.Command, error) {
	cmd, err := d.queue.RetryFailedCommand(ctx, id)
	if err != nil {
		return pos.Command{}, err
	}
	d.logger.Info("operator retry", zap.String("command_id", id))
	d.publish(EventRetried, cmd, nil)
	d.Notify()
	return cmd, nil
}

// RetryFailedCommands returns every non-dropped FAILED command to PENDING
// and wakes Run.
func (d *Dispatcher) RetryFailedCommands(ctx context.Context) ([]pos.Command, error) {
	cmds, err := d.queue.RetryFailedCommands(ctx)
	if err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		d.publish(EventRetried, cmd, nil)
	}
	d.logger.Info("operator retry all", zap.Int("count", len(cmds)))
	if len(cmds) > 0 {
		d.Notify()
	}
	return cmds, nil
}

// DropCommand marks a command as abandoned. Dropped commands are never
// sent again and cannot be retried.
func (d *Dispatcher) DropCommand(ctx context.Context, id, reason string) (pos.Command, error) {
	cmd, err := d.queue.DropCommand(ctx, id, reason)
	if err != nil {
		return pos.Command{}, err
	}
	d.logger.Warn("command dropped", zap.String("command_id", id), zap.String("reason", reason))
	d.publish(EventDropped, cmd, nil)
	d.Notify()
	return cmd, nil
}

func (d *Dispatcher) publish(t EventType, cmd pos.Command, out *outbox.Outcome) {
	d.bus.Publish(Event{Type: t, Command: cmd, Outcome: out, At: d.clock.Now()})
}

func (d *Dispatcher) refreshDepth(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	counts, err := d.queue.CountCommands(ctx)
	if err != nil {
		d.logger.Debug("count commands", zap.Error(err))
		return
	}
	d.metrics.SetOutboxDepth(counts)
}
