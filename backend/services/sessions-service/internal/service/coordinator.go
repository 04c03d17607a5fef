package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/sessions-service/internal/metrics"
	"vacstation/backend/services/sessions-service/internal/models"
	redisstore "vacstation/backend/services/sessions-service/internal/redis"
	"vacstation/backend/services/sessions-service/internal/repository"
)

var (
	// ErrInvalidRequest rejects malformed activation input.
	ErrInvalidRequest = errors.New("invalid activation request")
	// ErrDeviceCommandFailure means the device never started. The debit was
	// refunded.
	ErrDeviceCommandFailure = errors.New("device command failed")
	// ErrSessionNotRunning is returned when closing a session that is not
	// running, including when a concurrent close won.
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrStateConflict means another writer moved the session first.
	ErrStateConflict = errors.New("session state changed concurrently")
)

const (
	defaultMaxMinutes   = 120
	defaultRejectWindow = time.Minute
	backgroundTimeout   = 30 * time.Second
)

// OpenInput requests an activation.
type OpenInput struct {
	AccountID string
	DeviceID  string
	Minutes   int
}

// StopInput selects the session to stop early, by id or by device.
type StopInput struct {
	AccountID string
	SessionID string
	DeviceID  string
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMinute sets the length of a billed minute. Tests shrink it.
func WithMinute(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.minute = d
		}
	}
}

// WithMaxMinutes caps a single reservation.
func WithMaxMinutes(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxMinutes = n
		}
	}
}

// WithRejectWindow bounds how long after start a device rejection of a
// running session is still refunded. Later rejections close the session
// like a device stop.
func WithRejectWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.rejectWindow = d
		}
	}
}

// WithActiveCache enables the per-device status cache.
func WithActiveCache(cache ActiveCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// Coordinator turns a debit into a device activation and owns the session
// state machine. Cross-instance exclusion comes from the session store.
type Coordinator struct {
	sessions   SessionStore
	history    HistoryStore
	devices    DeviceStore
	rates      *RateService
	wallet     Wallet
	commands   CommandSender
	cache      ActiveCache
	timers     *Countdown
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
	minute     time.Duration
	maxMinutes int

	rejectWindow time.Duration
}

// NewCoordinator wires the coordinator.
func NewCoordinator(
	sessions SessionStore,
	history HistoryStore,
	devices DeviceStore,
	rates *RateService,
	wallet Wallet,
	commands CommandSender,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		sessions:   sessions,
		history:    history,
		devices:    devices,
		rates:      rates,
		wallet:     wallet,
		commands:   commands,
		timers:     NewCountdown(),
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		minute:     time.Minute,
		maxMinutes: defaultMaxMinutes,

		rejectWindow: defaultRejectWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DebitKey is the journal key of the session's debit.
func DebitKey(sessionID string) string {
	return "session:" + sessionID + ":debit"
}

// Open claims the device, debits the frozen cost and switches the device
// on. A failed command is compensated with a credit keyed by the session id.
func (c *Coordinator) Open(ctx context.Context, in OpenInput) (*models.Session, error) {
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.AccountID == "" || in.DeviceID == "" {
		return nil, fmt.Errorf("%w: account and device are required", ErrInvalidRequest)
	}
	if in.Minutes <= 0 || in.Minutes > c.maxMinutes {
		return nil, fmt.Errorf("%w: minutes must be between 1 and %d", ErrInvalidRequest, c.maxMinutes)
	}

	rate, err := c.rates.RatePerMinute(ctx, in.DeviceID)
	if err != nil {
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, err
	}

	session := &models.Session{
		ID:              uuid.NewString(),
		DeviceID:        in.DeviceID,
		AccountID:       in.AccountID,
		RatePerMinute:   rate,
		ReservedMinutes: in.Minutes,
		Cost:            rate * int64(in.Minutes),
		State:           models.StateRequested,
	}
	logger := c.logger.With(
		zap.String("session_id", session.ID),
		zap.String("device_id", session.DeviceID),
		zap.String("account_id", session.AccountID),
	)

	if err := c.sessions.Claim(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDeviceBusy) {
			c.metrics.Activations.WithLabelValues("busy").Inc()
			logger.Info("device busy")
		} else {
			c.metrics.Activations.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if _, err := c.wallet.DebitWithKey(ctx, session.AccountID, session.Cost, DebitKey(session.ID), session.ID); err != nil {
		return nil, c.abandonClaim(ctx, session, err, logger)
	}

	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateRequested}, models.StateDebited, models.SessionPatch{})
	if err != nil || !ok {
		if err == nil {
			// The sweeper rejected the claim while the debit was in flight.
			// Refunded keeps the credit on the sweeper's retry list.
			c.rejectLateDebit(ctx, session, logger)
			err = ErrStateConflict
		}
		c.refund(ctx, session, logger)
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, err
	}
	session.State = models.StateDebited

	if err := c.history.Append(ctx, &models.HistoryRecord{
		SessionID:       session.ID,
		DeviceID:        session.DeviceID,
		AccountID:       session.AccountID,
		ReservedMinutes: session.ReservedMinutes,
		Cost:            session.Cost,
		Status:          models.HistoryInProgress,
		StartedAt:       c.now(),
	}); err != nil {
		logger.Error("failed to append activation history", zap.Error(err))
		c.compensate(ctx, session, []models.SessionState{models.StateDebited}, "history unavailable", logger)
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, err
	}

	ok, err = c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateDebited}, models.StateCommandSent, models.SessionPatch{})
	if err != nil || !ok {
		if err == nil {
			err = ErrStateConflict
		}
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, err
	}
	session.State = models.StateCommandSent

	cmd := redisstore.Command{
		Action:          redisstore.ActionOn,
		SessionID:       session.ID,
		DurationSeconds: int((time.Duration(session.ReservedMinutes) * time.Minute).Seconds()),
	}
	if err := c.commands.Send(ctx, session.DeviceID, cmd); err != nil {
		logger.Warn("activation command failed", zap.Error(err))
		c.compensate(ctx, session, []models.SessionState{models.StateCommandSent}, "command failed: "+err.Error(), logger)
		c.metrics.Activations.WithLabelValues("command_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrDeviceCommandFailure, err)
	}

	started := c.now()
	expires := started.Add(time.Duration(session.ReservedMinutes) * c.minute)
	ok, err = c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateCommandSent}, models.StateRunning, models.SessionPatch{
		StartedAt: &started,
		ExpiresAt: &expires,
	})
	if err != nil {
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, err
	}
	if !ok {
		// A device rejection can land between send and here.
		current, getErr := c.sessions.Get(ctx, session.ID)
		if getErr == nil && current.State.Terminal() {
			c.metrics.Activations.WithLabelValues("command_failed").Inc()
			return current, ErrDeviceCommandFailure
		}
		c.metrics.Activations.WithLabelValues("error").Inc()
		return nil, ErrStateConflict
	}
	session.State = models.StateRunning
	session.StartedAt = &started
	session.ExpiresAt = &expires

	c.arm(session.ID, expires.Sub(c.now()))
	c.cacheActive(ctx, session, logger)

	c.metrics.Activations.WithLabelValues("ok").Inc()
	c.metrics.ReservedMinutes.Observe(float64(session.ReservedMinutes))
	logger.Info("session running",
		zap.Int("reserved_minutes", session.ReservedMinutes),
		zap.Int64("cost", session.Cost),
		zap.Time("expires_at", expires),
	)
	return session, nil
}

func (c *Coordinator) rejectLateDebit(ctx context.Context, session *models.Session, logger *zap.Logger) {
	reason := "debited after rejection"
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateRejected}, models.StateRefunded, models.SessionPatch{
		FailureReason: &reason,
	})
	if err != nil {
		logger.Error("failed to mark late debit refunded", zap.Error(err))
		return
	}
	if ok {
		logger.Warn("debit landed after the claim was rejected", zap.Int64("amount", session.Cost))
		c.metrics.Finished.WithLabelValues(string(models.StateRefunded)).Inc()
	}
}

// abandonClaim drops the claim after a failed debit. When the outcome of the
// debit is unknown the claim is left for the sweeper.
func (c *Coordinator) abandonClaim(ctx context.Context, session *models.Session, debitErr error, logger *zap.Logger) error {
	switch {
	case errors.Is(debitErr, ledger.ErrAccountNotFound):
		debitErr = ledger.ErrInsufficientBalance
		fallthrough
	case errors.Is(debitErr, ledger.ErrInsufficientBalance),
		errors.Is(debitErr, ledger.ErrInvalidAmount),
		errors.Is(debitErr, ledger.ErrContention):
		if err := c.sessions.Release(ctx, session.ID); err != nil {
			logger.Warn("failed to release session claim", zap.Error(err))
		}
		if errors.Is(debitErr, ledger.ErrInsufficientBalance) {
			c.metrics.Activations.WithLabelValues("insufficient_balance").Inc()
			logger.Info("activation refused: insufficient balance", zap.Int64("cost", session.Cost))
		} else {
			c.metrics.Activations.WithLabelValues("error").Inc()
		}
	default:
		c.metrics.Activations.WithLabelValues("error").Inc()
		logger.Warn("debit outcome unknown, leaving claim for sweeper", zap.Error(debitErr))
	}
	return debitErr
}

// Stop ends a running session on the owner's request. Cost is not
// recomputed.
func (c *Coordinator) Stop(ctx context.Context, in StopInput) (*models.Session, error) {
	var (
		session *models.Session
		err     error
	)
	switch {
	case in.SessionID != "":
		session, err = c.sessions.Get(ctx, in.SessionID)
	case in.DeviceID != "":
		session, err = c.sessions.OpenByDevice(ctx, in.DeviceID)
	default:
		return nil, fmt.Errorf("%w: session or device is required", ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	if session.AccountID != in.AccountID {
		return nil, repository.ErrSessionNotFound
	}
	if session.State != models.StateRunning {
		return nil, ErrSessionNotRunning
	}
	return c.finish(ctx, session, "stopped by user")
}

// HandleDeviceEvent applies a device callback to its session.
func (c *Coordinator) HandleDeviceEvent(ctx context.Context, event models.DeviceEvent) error {
	c.metrics.DeviceEvents.WithLabelValues(string(event.Type)).Inc()

	var (
		session *models.Session
		err     error
	)
	if event.SessionID != "" {
		session, err = c.sessions.Get(ctx, event.SessionID)
		if err == nil && event.DeviceID != "" && session.DeviceID != event.DeviceID {
			err = repository.ErrSessionNotFound
		}
	} else {
		session, err = c.sessions.OpenByDevice(ctx, event.DeviceID)
	}
	if err != nil {
		return err
	}

	logger := c.logger.With(
		zap.String("session_id", session.ID),
		zap.String("device_id", session.DeviceID),
		zap.String("event", string(event.Type)),
	)

	switch event.Type {
	case models.DeviceAccepted:
		logger.Info("device accepted activation")
		return nil
	case models.DeviceRejected:
		if session.State == models.StateRunning && session.StartedAt != nil && c.now().Sub(*session.StartedAt) > c.rejectWindow {
			logger.Warn("late device rejection closes session without refund", zap.Timep("started_at", session.StartedAt))
			return ignoreLostRace(c.finish(ctx, session, reasonOf("device rejected", event.Reason)))
		}
		c.compensate(ctx, session, []models.SessionState{models.StateDebited, models.StateCommandSent, models.StateRunning},
			reasonOf("device rejected", event.Reason), logger)
		return nil
	case models.DeviceError:
		if session.State == models.StateRunning {
			return ignoreLostRace(c.finish(ctx, session, reasonOf("device error", event.Reason)))
		}
		c.compensate(ctx, session, []models.SessionState{models.StateDebited, models.StateCommandSent},
			reasonOf("device error", event.Reason), logger)
		return nil
	case models.DeviceStopped:
		if session.State != models.StateRunning {
			return nil
		}
		return ignoreLostRace(c.finish(ctx, session, reasonOf("device stopped", event.Reason)))
	default:
		return fmt.Errorf("%w: unknown device event %q", ErrInvalidRequest, event.Type)
	}
}

func ignoreLostRace(_ *models.Session, err error) error {
	if errors.Is(err, ErrSessionNotRunning) {
		return nil
	}
	return err
}

func reasonOf(prefix, detail string) string {
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}

// finish is the single close path. Only the caller that wins the
// Running->Completing swap sends OFF and finalizes history.
func (c *Coordinator) finish(ctx context.Context, session *models.Session, reason string) (*models.Session, error) {
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateRunning}, models.StateCompleting, models.SessionPatch{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotRunning
	}
	c.timers.Cancel(session.ID)
	c.metrics.PendingTimers.Set(float64(c.timers.Pending()))
	return c.complete(ctx, session, reason)
}

// complete finalizes a session already in Completing.
func (c *Coordinator) complete(ctx context.Context, session *models.Session, reason string) (*models.Session, error) {
	logger := c.logger.With(zap.String("session_id", session.ID), zap.String("device_id", session.DeviceID))

	if err := c.commands.Send(ctx, session.DeviceID, redisstore.Command{Action: redisstore.ActionOff, SessionID: session.ID}); err != nil {
		logger.Warn("deactivation command failed", zap.Error(err))
	}

	ended := c.now()
	minutes := 0
	if session.StartedAt != nil {
		minutes = int(ended.Sub(*session.StartedAt).Round(c.minute) / c.minute)
	}

	status := models.HistoryCompleted
	update := models.HistoryUpdate{Status: &status, EndedAt: &ended, DurationMinutes: &minutes}
	if reason != "" {
		update.Reason = &reason
	}
	if err := c.history.Update(ctx, session.ID, update); err != nil {
		logger.Error("failed to finalize activation history", zap.Error(err))
	}

	patch := models.SessionPatch{EndedAt: &ended, ActualDurationMinutes: &minutes}
	if reason != "" {
		patch.FailureReason = &reason
	}
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateCompleting}, models.StateCompleted, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateConflict
	}
	c.evict(ctx, session, logger)

	session.State = models.StateCompleted
	patch.Apply(session)
	c.metrics.Finished.WithLabelValues(string(models.StateCompleted)).Inc()
	logger.Info("session completed", zap.Int("actual_minutes", minutes), zap.String("reason", reason))
	return session, nil
}

// compensate fails a session that never ran and gives the money back. It
// reports whether this call performed the transition.
func (c *Coordinator) compensate(ctx context.Context, session *models.Session, from []models.SessionState, reason string, logger *zap.Logger) bool {
	ended := c.now()
	ok, err := c.sessions.Transition(ctx, session.ID, from, models.StateFailed, models.SessionPatch{
		EndedAt:       &ended,
		FailureReason: &reason,
	})
	if err != nil {
		logger.Error("failed to mark session failed", zap.Error(err))
		return false
	}
	if !ok {
		logger.Debug("session already left compensable state")
		return false
	}
	c.timers.Cancel(session.ID)
	c.metrics.PendingTimers.Set(float64(c.timers.Pending()))
	c.metrics.Compensations.Inc()
	c.metrics.Finished.WithLabelValues(string(models.StateFailed)).Inc()
	logger.Warn("compensating session", zap.String("reason", reason), zap.Int64("amount", session.Cost))

	c.refund(ctx, session, logger)

	status := models.HistoryFailed
	if err := c.history.Update(ctx, session.ID, models.HistoryUpdate{Status: &status, EndedAt: &ended, Reason: &reason}); err != nil &&
		!errors.Is(err, repository.ErrHistoryNotFound) {
		logger.Error("failed to finalize activation history", zap.Error(err))
	}
	c.evict(ctx, session, logger)
	return true
}

// refund credits the session cost under the session id. A failure leaves
// refunded_at unset so the sweeper retries.
func (c *Coordinator) refund(ctx context.Context, session *models.Session, logger *zap.Logger) bool {
	if _, err := c.wallet.Credit(ctx, session.AccountID, session.Cost, session.ID); err != nil {
		logger.Error("refund failed", zap.Error(err))
		return false
	}
	if err := c.sessions.MarkRefunded(ctx, session.ID, c.now()); err != nil {
		logger.Warn("failed to stamp refund", zap.Error(err))
	}
	return true
}

func (c *Coordinator) arm(sessionID string, d time.Duration) {
	c.timers.Start(sessionID, d, func() { c.expire(sessionID) })
	c.metrics.PendingTimers.Set(float64(c.timers.Pending()))
}

// expire is the countdown callback.
func (c *Coordinator) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		c.logger.Error("countdown fired for unreadable session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if _, err := c.finish(ctx, session, ""); err != nil && !errors.Is(err, ErrSessionNotRunning) {
		c.logger.Error("failed to close expired session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Resume re-arms countdowns for sessions that were running when the process
// stopped. Sessions already past expiry are closed now.
func (c *Coordinator) Resume(ctx context.Context) error {
	open, err := c.sessions.ListOpen(ctx, 1000)
	if err != nil {
		return err
	}
	now := c.now()
	for i := range open {
		session := &open[i]
		if session.State != models.StateRunning || session.ExpiresAt == nil {
			continue
		}
		if session.ExpiresAt.After(now) {
			c.arm(session.ID, session.ExpiresAt.Sub(now))
			continue
		}
		if _, err := c.finish(ctx, session, ""); err != nil && !errors.Is(err, ErrSessionNotRunning) {
			c.logger.Error("failed to close overdue session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	c.logger.Info("countdowns resumed", zap.Int("armed", c.timers.Pending()))
	return nil
}

// Shutdown disarms local timers. Running sessions are picked up by Resume
// or the sweeper.
func (c *Coordinator) Shutdown() {
	c.timers.StopAll()
}

func (c *Coordinator) cacheActive(ctx context.Context, session *models.Session, logger *zap.Logger) {
	if c.cache == nil {
		return
	}
	entry := redisstore.ActiveSession{
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		AccountID: session.AccountID,
		State:     string(session.State),
	}
	if session.ExpiresAt != nil {
		entry.ExpiresAt = *session.ExpiresAt
	}
	if err := c.cache.Save(ctx, entry); err != nil {
		logger.Warn("failed to cache active session", zap.Error(err))
	}
}

func (c *Coordinator) evict(ctx context.Context, session *models.Session, logger *zap.Logger) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, session.DeviceID, session.ID); err != nil {
		logger.Warn("failed to delete active session cache", zap.Error(err))
	}
}
