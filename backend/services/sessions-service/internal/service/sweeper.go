package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/sessions-service/internal/models"
	"vacstation/backend/services/sessions-service/internal/repository"
)

const (
	sweepBatch       = 100
	overdueGrace     = 30 * time.Second
	rejectedLookback = time.Hour
)

// SweepReport counts what one pass resolved.
type SweepReport struct {
	Rejected int `json:"rejected"`
	Refunded int `json:"refunded"`
	Resumed  int `json:"resumed"`
	Closed   int `json:"closed"`
	Retried  int `json:"retried"`
}

// Sweeper resolves sessions a crash left between steps.
//
//   - requested past staleAfter: refunded if the debit landed, rejected if not
//   - rejected within rejectedLookback whose debit landed late: refunded
//   - debited past staleAfter: refunded
//   - command_sent past staleAfter: running again, closed if already expired
//   - running past expiry: closed
//   - completing past staleAfter: finalized
//   - failed or refunded without refunded_at: credit retried
type Sweeper struct {
	coord      *Coordinator
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
}

// NewSweeper returns a sweeper over coord.
func NewSweeper(coord *Coordinator, interval, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{coord: coord, interval: interval, staleAfter: staleAfter, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if report != (SweepReport{}) {
				s.logger.Warn("sweep resolved stale sessions",
					zap.Int("rejected", report.Rejected),
					zap.Int("refunded", report.Refunded),
					zap.Int("resumed", report.Resumed),
					zap.Int("closed", report.Closed),
					zap.Int("retried", report.Retried),
				)
			}
		}
	}
}

// SweepOnce runs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	c := s.coord
	now := c.now()
	cutoff := now.Add(-s.staleAfter)

	requested, err := c.sessions.ListStale(ctx, models.StateRequested, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range requested {
		session := &requested[i]
		_, err := c.wallet.Entry(ctx, DebitKey(session.ID))
		switch {
		case errors.Is(err, ledger.ErrEntryNotFound):
			if s.reject(ctx, session) {
				report.Rejected++
			}
		case err != nil:
			s.logger.Warn("cannot tell whether stale claim was debited", zap.String("session_id", session.ID), zap.Error(err))
		default:
			if s.refundStale(ctx, session, models.StateRequested) {
				report.Refunded++
			}
		}
	}

	rejected, err := c.sessions.ListRejectedSince(ctx, now.Add(-rejectedLookback), sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range rejected {
		session := &rejected[i]
		_, err := c.wallet.Entry(ctx, DebitKey(session.ID))
		switch {
		case errors.Is(err, ledger.ErrEntryNotFound):
		case err != nil:
			s.logger.Warn("cannot tell whether rejected claim was debited", zap.String("session_id", session.ID), zap.Error(err))
		default:
			if s.refundStale(ctx, session, models.StateRejected) {
				report.Refunded++
			}
		}
	}

	debited, err := c.sessions.ListStale(ctx, models.StateDebited, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range debited {
		if s.refundStale(ctx, &debited[i], models.StateDebited) {
			report.Refunded++
		}
	}

	sent, err := c.sessions.ListStale(ctx, models.StateCommandSent, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range sent {
		switch s.resumeUnconfirmed(ctx, &sent[i]) {
		case resumed:
			report.Resumed++
		case closed:
			report.Closed++
		}
	}

	overdue, err := c.sessions.ListOverdue(ctx, now.Add(-overdueGrace), sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range overdue {
		if _, err := c.finish(ctx, &overdue[i], "expired"); err == nil {
			s.count("closed")
			report.Closed++
		} else if !errors.Is(err, ErrSessionNotRunning) {
			s.logger.Error("failed to close overdue session", zap.String("session_id", overdue[i].ID), zap.Error(err))
		}
	}

	completing, err := c.sessions.ListStale(ctx, models.StateCompleting, cutoff, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range completing {
		if _, err := c.complete(ctx, &completing[i], ""); err == nil {
			s.count("closed")
			report.Closed++
		}
	}

	unrefunded, err := c.sessions.ListUnrefunded(ctx, sweepBatch)
	if err != nil {
		return report, err
	}
	for i := range unrefunded {
		session := &unrefunded[i]
		logger := s.logger.With(zap.String("session_id", session.ID))
		if c.refund(ctx, session, logger) {
			s.count("refund_retried")
			report.Retried++
		}
	}

	return report, nil
}

func (s *Sweeper) reject(ctx context.Context, session *models.Session) bool {
	c := s.coord
	reason := "abandoned before debit"
	ended := c.now()
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateRequested}, models.StateRejected, models.SessionPatch{
		EndedAt:       &ended,
		FailureReason: &reason,
	})
	if err != nil {
		s.logger.Error("failed to reject stale claim", zap.String("session_id", session.ID), zap.Error(err))
		return false
	}
	if ok {
		s.count("rejected")
		c.metrics.Finished.WithLabelValues(string(models.StateRejected)).Inc()
	}
	return ok
}

// refundStale moves a session that never ran to Refunded and credits it.
func (s *Sweeper) refundStale(ctx context.Context, session *models.Session, from models.SessionState) bool {
	c := s.coord
	logger := s.logger.With(zap.String("session_id", session.ID), zap.String("from", string(from)))
	reason := "refunded by sweeper"
	ended := c.now()
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{from}, models.StateRefunded, models.SessionPatch{
		EndedAt:       &ended,
		FailureReason: &reason,
	})
	if err != nil {
		logger.Error("failed to mark stale session refunded", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	logger.Warn("refunding stale session", zap.Int64("amount", session.Cost))
	c.refund(ctx, session, logger)

	status := models.HistoryRefunded
	err = c.history.Update(ctx, session.ID, models.HistoryUpdate{Status: &status, EndedAt: &ended, Reason: &reason})
	if err != nil && !errors.Is(err, repository.ErrHistoryNotFound) {
		logger.Error("failed to finalize activation history", zap.Error(err))
	}
	c.evict(ctx, session, logger)
	s.count("refunded")
	c.metrics.Finished.WithLabelValues(string(models.StateRefunded)).Inc()
	return true
}

type resumeResult int

const (
	untouched resumeResult = iota
	resumed
	closed
)

// resumeUnconfirmed treats a sent command as delivered: the device runs the
// reservation on its own, so the session is charged and counted down.
func (s *Sweeper) resumeUnconfirmed(ctx context.Context, session *models.Session) resumeResult {
	c := s.coord
	logger := s.logger.With(zap.String("session_id", session.ID))
	started := session.UpdatedAt
	expires := started.Add(time.Duration(session.ReservedMinutes) * c.minute)
	ok, err := c.sessions.Transition(ctx, session.ID, []models.SessionState{models.StateCommandSent}, models.StateRunning, models.SessionPatch{
		StartedAt: &started,
		ExpiresAt: &expires,
	})
	if err != nil {
		logger.Error("failed to resume unconfirmed session", zap.Error(err))
		return untouched
	}
	if !ok {
		return untouched
	}
	session.State = models.StateRunning
	session.StartedAt = &started
	session.ExpiresAt = &expires

	if now := c.now(); expires.After(now) {
		c.arm(session.ID, expires.Sub(now))
		c.cacheActive(ctx, session, logger)
		s.count("resumed")
		return resumed
	}
	if _, err := c.finish(ctx, session, "command unconfirmed"); err != nil {
		logger.Error("failed to close unconfirmed session", zap.Error(err))
		return untouched
	}
	s.count("closed")
	return closed
}

func (s *Sweeper) count(action string) {
	s.coord.metrics.SweepActions.WithLabelValues(action).Inc()
}
