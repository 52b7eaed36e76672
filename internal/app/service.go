package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courtroom/api/internal/archive"
	"courtroom/api/internal/config"
	"courtroom/api/internal/court"
	"courtroom/api/internal/export"
	"courtroom/api/internal/replay"
	"courtroom/api/internal/store"
	"courtroom/api/internal/util"
	"courtroom/api/internal/verdict"
)

type dataStore interface {
	CreateSession(context.Context, *court.Session) error
	SaveSession(context.Context, *court.Session, int64) error
	GetSession(context.Context, string) (*court.Session, error)
	CurrentSessionForUser(context.Context, string) (*court.Session, error)
	OpenSessionForUser(context.Context, string) (*court.Session, error)
	ListVerdictVersions(context.Context, string) ([]court.VerdictVersion, error)
	Ping(context.Context) error
}

type archiveService interface {
	CommitVersion(string, court.VerdictVersion, string) (archive.Commit, error)
	History(string, int) ([]archive.Commit, error)
	Read(string, int) (court.VerdictVersion, error)
}

type exportService interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Deps are the collaborators of a Service. Archive may be nil.
type Deps struct {
	Store     dataStore
	Replay    replay.Cache
	Notifier  replay.Notifier
	Generator verdict.Generator
	Archive   archiveService
	Exporter  exportService
	Logger    *logrus.Logger
}

// Service is the single writer of court sessions. Actions on one session
// are serialized by a per-session lock; serves share one lock because they
// check two users for open sessions.
type Service struct {
	cfg       config.Config
	store     dataStore
	replay    replay.Cache
	notifier  replay.Notifier
	generator verdict.Generator
	archive   archiveService
	exporter  exportService
	log       *logrus.Logger
	now       func() time.Time

	lockMu  sync.Mutex
	locks   map[string]*sessionLock
	serveMu sync.Mutex

	jobs       sync.WaitGroup
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Replay == nil {
		deps.Replay = replay.NewMemoryStore(cfg.ReplayTTL)
	}
	if deps.Notifier == nil {
		deps.Notifier = replay.NewLocalNotifier()
	}
	if deps.Generator == nil {
		deps.Generator = verdict.Static{}
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewService()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if cfg.VerdictTimeout <= 0 {
		cfg.VerdictTimeout = 90 * time.Second
	}
	jobsCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		replay:     deps.Replay,
		notifier:   deps.Notifier,
		generator:  deps.Generator,
		archive:    deps.Archive,
		exporter:   deps.Exporter,
		log:        deps.Logger,
		now:        time.Now,
		locks:      make(map[string]*sessionLock),
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Notifier() replay.Notifier {
	return s.notifier
}

// State projects the session userID currently sees.
func (s *Service) State(ctx context.Context, userID string) (court.View, error) {
	current, err := s.store.CurrentSessionForUser(ctx, userID)
	if err != nil {
		return court.View{}, fmt.Errorf("load current session: %w", err)
	}
	return court.Project(current, userID), nil
}

type dispatched struct {
	prev   *court.Session
	result court.Result
	view   court.View
}

// Dispatch applies one action for userID. A non-empty requestID makes the
// call idempotent: a resend returns the current state (or the original
// rejection) without mutating again.
func (s *Service) Dispatch(ctx context.Context, userID, requestID string, action court.Action) (court.View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return court.View{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if view, ok, err := s.replayed(ctx, userID, requestID); ok {
		return view, err
	}

	var (
		out dispatched
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		out, err = s.dispatchOnce(ctx, userID, requestID, action)
		if !errors.Is(err, store.ErrRevisionConflict) {
			break
		}
		s.log.WithFields(logrus.Fields{"user_id": userID, "action": action.Kind}).Warn("revision conflict, reapplying action")
	}
	if err != nil {
		return court.View{}, err
	}
	if out.result.Changed {
		s.afterCommit(ctx, out.prev, out.result)
	}
	return out.view, nil
}

func (s *Service) dispatchOnce(ctx context.Context, userID, requestID string, action court.Action) (dispatched, error) {
	if action.Kind == court.ActionServe {
		s.serveMu.Lock()
		defer s.serveMu.Unlock()
	}
	current, release, err := s.lockCurrent(ctx, userID)
	if err != nil {
		return dispatched{}, err
	}
	defer release()

	if view, ok, err := s.replayed(ctx, userID, requestID); ok {
		return dispatched{view: view}, err
	}

	res, err := court.Apply(current, userID, action, s.env())
	if err == nil && action.Kind == court.ActionServe {
		err = s.checkPartnerFree(ctx, res.Session.PartnerID)
	}
	if err != nil {
		mapped := mapError(err)
		if mapped.Status < http.StatusInternalServerError {
			s.record(ctx, userID, requestID, replay.Entry{Status: mapped.Status, Code: mapped.Code, Message: mapped.Message})
			return dispatched{}, mapped
		}
		return dispatched{}, err
	}

	if res.Changed {
		if err := s.persist(ctx, current, res); err != nil {
			return dispatched{}, err
		}
	}
	s.record(ctx, userID, requestID, replay.Entry{Applied: true})

	view := court.Idle()
	if res.Session != nil {
		view = court.Project(res.Session, userID)
	}
	return dispatched{prev: current, result: res, view: view}, nil
}

// lockCurrent loads the user's current session and holds its lock. The
// lookup is repeated under the lock so a session served to the user in
// between is not missed.
func (s *Service) lockCurrent(ctx context.Context, userID string) (*court.Session, func(), error) {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := s.store.CurrentSessionForUser(ctx, userID)
		if err != nil {
			return nil, nil, fmt.Errorf("load current session: %w", err)
		}
		if current == nil {
			return nil, func() {}, nil
		}
		unlock := s.lockSession(current.ID)
		fresh, err := s.store.CurrentSessionForUser(ctx, userID)
		if err != nil {
			unlock()
			return nil, nil, fmt.Errorf("reload current session: %w", err)
		}
		if fresh != nil && fresh.ID == current.ID {
			return fresh, unlock, nil
		}
		unlock()
	}
	return nil, nil, fmt.Errorf("%w: current session kept changing", store.ErrRevisionConflict)
}

func (s *Service) checkPartnerFree(ctx context.Context, partnerID string) error {
	open, err := s.store.OpenSessionForUser(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("load partner session: %w", err)
	}
	if open != nil {
		return court.ErrPartnerBusy
	}
	return nil
}

func (s *Service) persist(ctx context.Context, prev *court.Session, res court.Result) error {
	if res.Retired != nil {
		if err := s.store.SaveSession(ctx, res.Retired, prev.Revision); err != nil {
			return fmt.Errorf("retire session: %w", err)
		}
	}
	if prev == nil || prev.ID != res.Session.ID {
		if err := s.store.CreateSession(ctx, res.Session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		s.log.WithFields(logrus.Fields{
			"session_id": res.Session.ID,
			"creator_id": res.Session.CreatorID,
			"partner_id": res.Session.PartnerID,
			"flow":       res.Session.Flow,
		}).Info("session created")
		return nil
	}
	if err := s.store.SaveSession(ctx, res.Session, prev.Revision); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// afterCommit runs the effects of a persisted transition.
func (s *Service) afterCommit(ctx context.Context, prev *court.Session, res court.Result) {
	next := res.Session
	for _, effect := range res.Effects {
		switch effect.Kind {
		case court.EffectGenerateVerdict, court.EffectGenerateHybrid:
			s.startGeneration(next, effect)
		case court.EffectCompleted:
			s.log.WithFields(logrus.Fields{"session_id": next.ID, "outcome": effect.Outcome}).Info("session completed")
		}
	}
	if next.Phase == court.PhaseClosed && (prev == nil || prev.Phase != court.PhaseClosed) && len(res.Effects) == 0 {
		s.log.WithFields(logrus.Fields{"session_id": next.ID, "outcome": next.Outcome}).Info("session closed")
	}
	s.archiveNew(prev, next)

	users := []string{next.CreatorID, next.PartnerID}
	s.publish(ctx, replay.Update{SessionID: next.ID, UserIDs: users})
	if res.Retired != nil {
		s.publish(ctx, replay.Update{SessionID: res.Retired.ID, UserIDs: []string{res.Retired.CreatorID, res.Retired.PartnerID}})
	}
}

func (s *Service) publish(ctx context.Context, update replay.Update) {
	if err := s.notifier.Publish(context.WithoutCancel(ctx), update); err != nil {
		s.log.WithError(err).WithField("session_id", update.SessionID).Warn("publish session update failed")
	}
}

func (s *Service) archiveNew(prev, next *court.Session) {
	if s.archive == nil {
		return
	}
	stored := 0
	if prev != nil && prev.ID == next.ID {
		if current := prev.CurrentVerdict(); current != nil {
			stored = current.Version
		}
	}
	for _, version := range next.Verdicts {
		if version.Version <= stored {
			continue
		}
		author := "court"
		if version.Addendum != nil {
			author = next.ParticipantID(version.Addendum.Author)
		}
		if _, err := s.archive.CommitVersion(next.ID, version, author); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"session_id": next.ID, "version": version.Version}).Error("archive verdict version failed")
		}
	}
}

// replayed answers a request id that was already acknowledged. The
// returned error is the original rejection, if any.
func (s *Service) replayed(ctx context.Context, userID, requestID string) (court.View, bool, error) {
	if requestID == "" {
		return court.View{}, false, nil
	}
	entry, ok, err := s.replay.Lookup(ctx, userID, requestID)
	if err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Warn("replay lookup failed")
		return court.View{}, false, nil
	}
	if !ok {
		return court.View{}, false, nil
	}
	if !entry.Applied {
		return court.View{}, true, domainError(entry.Status, entry.Code, entry.Message, nil)
	}
	view, err := s.State(ctx, userID)
	return view, true, err
}

func (s *Service) record(ctx context.Context, userID, requestID string, entry replay.Entry) {
	if requestID == "" {
		return
	}
	entry.RecordedAt = s.now().UTC()
	if err := s.replay.Record(ctx, userID, requestID, entry); err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Warn("replay record failed")
	}
}

func (s *Service) env() court.Env {
	return court.Env{
		Now:           s.now().UTC(),
		NewID:         func() string { return util.NewID("ses") },
		AddendumLimit: s.cfg.AddendumLimit,
	}
}

// sessionLock is held in the locks map only while someone holds or waits
// for it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lockSession serializes work on one session and returns the unlock func.
func (s *Service) lockSession(sessionID string) func() {
	s.lockMu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.lockMu.Unlock()
	}
}

// participantSession loads a session and checks that userID takes part in it.
func (s *Service) participantSession(ctx context.Context, userID, sessionID string) (*court.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := session.RoleOf(userID); !ok {
		return nil, court.ErrNotParticipant
	}
	return session, nil
}

// VerdictHistory lists every verdict version of a session, oldest first.
func (s *Service) VerdictHistory(ctx context.Context, userID, sessionID string) ([]court.VerdictVersion, error) {
	if _, err := s.participantSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListVerdictVersions(ctx, sessionID)
}

func (s *Service) ExportVerdict(ctx context.Context, userID, sessionID string, version int, format export.Format) (*export.Result, error) {
	session, err := s.participantSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		Session:  session,
		ViewerID: userID,
		Version:  version,
		Format:   format,
	})
}

func (s *Service) ArchiveHistory(ctx context.Context, userID, sessionID string, limit int) ([]archive.Commit, error) {
	if s.archive == nil {
		return nil, domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Verdict archive is not configured", nil)
	}
	if _, err := s.participantSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.archive.History(sessionID, limit)
}

// ArchivedVersion reads one verdict version back from the archive.
func (s *Service) ArchivedVersion(ctx context.Context, userID, sessionID string, version int) (court.VerdictVersion, error) {
	if s.archive == nil {
		return court.VerdictVersion{}, domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Verdict archive is not configured", nil)
	}
	if _, err := s.participantSession(ctx, userID, sessionID); err != nil {
		return court.VerdictVersion{}, err
	}
	return s.archive.Read(sessionID, version)
}

// Shutdown waits for in-flight deliberations. When ctx expires first the
// remaining ones are cancelled and recorded as failures.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelJobs()
		return nil
	case <-ctx.Done():
		s.cancelJobs()
		<-done
		return ctx.Err()
	}
}
