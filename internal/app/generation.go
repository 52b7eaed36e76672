package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"courtroom/api/internal/court"
	"courtroom/api/internal/store"
	"courtroom/api/internal/verdict"
)

const (
	generationFailedMessage  = "The judge could not reach a verdict. Please try again."
	generationTimeoutMessage = "The judge took too long to deliberate. Please try again."
	commitTimeout            = 10 * time.Second
)

type generationStep func(current *court.Session, env court.Env) (court.Result, error)

// startGeneration calls the verdict service in the background for the
// deliberation named by effect. The caller's ack does not wait for it.
func (s *Service) startGeneration(snapshot *court.Session, effect court.Effect) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		ctx, cancel := context.WithTimeout(s.jobsCtx, s.cfg.VerdictTimeout)
		defer cancel()

		var step generationStep
		switch effect.Kind {
		case court.EffectGenerateHybrid:
			step = s.generateHybrid(ctx, snapshot, effect.Seq)
		default:
			step = s.generateVerdict(ctx, snapshot, effect.Seq)
		}
		s.commitGeneration(snapshot.ID, effect.Seq, step)
	}()
}

func (s *Service) generateVerdict(ctx context.Context, snapshot *court.Session, seq int) generationStep {
	started := time.Now()
	result, err := s.generator.Generate(ctx, verdict.RequestFor(snapshot))
	if err == nil {
		err = result.Validate()
	}
	entry := s.log.WithFields(logrus.Fields{
		"session_id":   snapshot.ID,
		"deliberation": seq,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("verdict generation failed")
		message := failureMessage(ctx, err)
		return func(current *court.Session, env court.Env) (court.Result, error) {
			return court.ApplyGenerationFailure(current, seq, message, env)
		}
	}
	entry.Info("verdict generated")
	gen := court.Generation{Ruling: result.Ruling, Analysis: result.Analysis}
	return func(current *court.Session, env court.Env) (court.Result, error) {
		return court.ApplyGeneration(current, seq, gen, env)
	}
}

func (s *Service) generateHybrid(ctx context.Context, snapshot *court.Session, seq int) generationStep {
	option, err := s.generator.Hybrid(ctx, verdict.HybridRequestFor(snapshot))
	entry := s.log.WithFields(logrus.Fields{"session_id": snapshot.ID, "deliberation": seq})
	if err != nil {
		entry.WithError(err).Error("hybrid resolution failed")
		message := failureMessage(ctx, err)
		return func(current *court.Session, env court.Env) (court.Result, error) {
			return court.ApplyGenerationFailure(current, seq, message, env)
		}
	}
	entry.Info("hybrid resolution generated")
	return func(current *court.Session, env court.Env) (court.Result, error) {
		return court.ApplyHybrid(current, seq, option, env)
	}
}

func failureMessage(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return generationTimeoutMessage
	}
	return generationFailedMessage
}

// commitGeneration applies a generation outcome under the session lock.
// Results for a deliberation the session has moved past are dropped.
func (s *Service) commitGeneration(sessionID string, seq int, step generationStep) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	entry := s.log.WithFields(logrus.Fields{"session_id": sessionID, "deliberation": seq})

	for attempt := 0; attempt < 2; attempt++ {
		prev, res, err := s.applyGenerationStep(ctx, sessionID, step)
		if errors.Is(err, court.ErrStaleGeneration) {
			entry.Info("dropping stale generation result")
			return
		}
		if errors.Is(err, store.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			entry.WithError(err).Error("commit generation failed")
			return
		}
		s.afterCommit(ctx, prev, res)
		return
	}
	entry.Error("commit generation failed after revision conflicts")
}

func (s *Service) applyGenerationStep(ctx context.Context, sessionID string, step generationStep) (*court.Session, court.Result, error) {
	defer s.lockSession(sessionID)()

	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, court.Result{}, err
	}
	res, err := step(current, s.env())
	if err != nil {
		return nil, court.Result{}, err
	}
	if err := s.store.SaveSession(ctx, res.Session, current.Revision); err != nil {
		return nil, court.Result{}, err
	}
	return current, res, nil
}
