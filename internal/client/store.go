package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courtroom/api/internal/court"
	"courtroom/api/internal/util"
)

const (
	DefaultWatchdog     = 2600 * time.Millisecond
	DefaultQueueLimit   = 16
	maxDeliveryAttempts = 3
	undeliveredMessage  = "The action could not be delivered. Please try again."
)

type Flags struct {
	Submitting        bool   `json:"submitting"`
	GeneratingVerdict bool   `json:"generatingVerdict"`
	Error             string `json:"error,omitempty"`
}

// Drafts hold text the user is still typing. They never leave the client
// except as the arguments of a submit action.
type Drafts struct {
	Evidence string `json:"evidence,omitempty"`
	Feelings string `json:"feelings,omitempty"`
	Needs    string `json:"needs,omitempty"`
	Addendum string `json:"addendum,omitempty"`
}

type Snapshot struct {
	View   court.View `json:"view"`
	Flags  Flags      `json:"flags"`
	Drafts Drafts     `json:"drafts"`
}

type queuedAction struct {
	requestID string
	action    court.Action
	attempts  int
}

// Store holds the single authoritative snapshot of one participant.
// Snapshots are only ever replaced by a view from the server.
type Store struct {
	rest       Transport
	log        *logrus.Logger
	newID      func() string
	watchdog   time.Duration
	queueLimit int

	mu         sync.Mutex
	channel    Transport
	view       court.View
	flags      Flags
	drafts     Drafts
	ignored    string
	inFlight   int
	applied    uint64
	queue      []queuedAction
	onChange   func(Snapshot)
	onComplete func(court.View)
}

type StoreOption func(*Store)

func WithLogger(log *logrus.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

func WithWatchdog(d time.Duration) StoreOption {
	return func(s *Store) { s.watchdog = d }
}

func WithQueueLimit(n int) StoreOption {
	return func(s *Store) { s.queueLimit = n }
}

// NewStore builds a store that falls back to rest whenever the push
// channel is missing or does not answer.
func NewStore(rest Transport, opts ...StoreOption) *Store {
	s := &Store{
		rest:       rest,
		newID:      func() string { return util.NewID("req") },
		watchdog:   DefaultWatchdog,
		queueLimit: DefaultQueueLimit,
		view:       court.Idle(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{View: s.view, Flags: s.flags, Drafts: s.drafts}
}

// OnChange registers fn to receive every new snapshot.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnComplete registers fn to run once when the session resolves or settles.
func (s *Store) OnComplete(fn func(court.View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

func (s *Store) SetChannel(channel Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = channel
}

func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Store) UpdateDrafts(fn func(*Drafts)) {
	s.mu.Lock()
	fn(&s.drafts)
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

// HandlePush accepts a view pushed by the server.
func (s *Store) HandlePush(view court.View) {
	s.apply(view)
}

// Dispatch sends action and returns the resulting snapshot. A rejection
// is returned as *Error; ErrQueued means the action will be retried on the
// next Flush.
func (s *Store) Dispatch(ctx context.Context, action court.Action) (Snapshot, error) {
	if action.Kind == court.ActionDismiss {
		return s.Dismiss(ctx), nil
	}
	requestID := s.newID()
	restore := s.begin(action)
	err := s.send(ctx, requestID, action, restore)
	s.finish()
	return s.Snapshot(), err
}

func (s *Store) send(ctx context.Context, requestID string, action court.Action, restore Drafts) error {
	view, err := s.deliver(ctx, requestID, action)
	switch {
	case err == nil:
		s.apply(view)
		return nil
	case IsRejection(err), ctx.Err() != nil:
		s.fail(err, restore)
		return err
	}

	if qerr := s.enqueue(requestID, action); qerr != nil {
		s.fail(qerr, restore)
		return qerr
	}
	s.log.WithError(err).WithField("action", action.Kind).Warn("server unreachable, action queued")
	return ErrQueued
}

// deliver tries the push channel first. Anything short of a definitive
// answer is resent over REST under the same request id, so the server
// applies the action at most once.
func (s *Store) deliver(ctx context.Context, requestID string, action court.Action) (court.View, error) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if channel != nil {
		view, err := channel.Send(ctx, requestID, action)
		if err == nil || IsRejection(err) {
			return view, err
		}
		if ctx.Err() != nil {
			return court.View{}, ctx.Err()
		}
		s.log.WithError(err).WithFields(logrus.Fields{"action": action.Kind, "request_id": requestID}).Info("push channel did not ack, resending over REST")
	}
	if s.rest == nil {
		return court.View{}, ErrUnavailable
	}
	return s.rest.Send(ctx, requestID, action)
}

// begin marks an action in flight, clears the drafts it submits and arms
// the staleness watchdog. It returns the drafts to restore on failure.
func (s *Store) begin(action court.Action) Drafts {
	s.mu.Lock()
	restore := s.drafts
	switch action.Kind {
	case court.ActionSubmitEvidence:
		s.drafts.Evidence, s.drafts.Feelings, s.drafts.Needs = "", "", ""
	case court.ActionSubmitAddendum:
		s.drafts.Addendum = ""
	}
	s.inFlight++
	s.flags.Submitting = true
	s.flags.Error = ""
	seen := s.applied
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	if s.watchdog > 0 {
		time.AfterFunc(s.watchdog, func() { s.checkStale(seen) })
	}
	return restore
}

func (s *Store) finish() {
	s.mu.Lock()
	s.inFlight--
	s.flags.Submitting = s.inFlight > 0
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

func (s *Store) fail(err error, restore Drafts) {
	s.mu.Lock()
	s.flags.Error = errorMessage(err)
	if s.drafts.Evidence == "" && s.drafts.Feelings == "" && s.drafts.Needs == "" {
		s.drafts.Evidence, s.drafts.Feelings, s.drafts.Needs = restore.Evidence, restore.Feelings, restore.Needs
	}
	if s.drafts.Addendum == "" {
		s.drafts.Addendum = restore.Addendum
	}
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

func errorMessage(err error) string {
	var courtErr *Error
	if errors.As(err, &courtErr) && courtErr.Message != "" {
		return courtErr.Message
	}
	return err.Error()
}

// checkStale forces one refetch when an action is still in flight and no
// snapshot arrived since it started.
func (s *Store) checkStale(seen uint64) {
	s.mu.Lock()
	stale := s.inFlight > 0 && s.applied == seen
	s.mu.Unlock()
	if !stale {
		return
	}
	s.log.Info("no snapshot since action started, refetching")
	ctx, cancel := context.WithTimeout(context.Background(), DefaultAckTimeout)
	defer cancel()
	s.Refetch(ctx)
}

// Refetch replaces the snapshot with the server's current view.
func (s *Store) Refetch(ctx context.Context) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if channel != nil {
		view, err := channel.Fetch(ctx)
		if err == nil {
			s.apply(view)
			return
		}
		s.log.WithError(err).Debug("channel fetch failed, trying REST")
	}
	if s.rest == nil {
		return
	}
	view, err := s.rest.Fetch(ctx)
	if err != nil {
		s.log.WithError(err).Warn("state fetch failed")
		return
	}
	s.apply(view)
}

func (s *Store) enqueue(requestID string, action court.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= s.queueLimit {
		return ErrQueueFull
	}
	s.queue = append(s.queue, queuedAction{requestID: requestID, action: action})
	return nil
}

// Flush resends queued actions in order. An action that still cannot be
// delivered after three flushes is dropped and reported through Flags.Error.
func (s *Store) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	var keep []queuedAction
	for i, item := range pending {
		view, err := s.deliver(ctx, item.requestID, item.action)
		switch {
		case err == nil:
			s.apply(view)
			continue
		case IsRejection(err):
			s.setError(errorMessage(err))
			continue
		}
		item.attempts++
		if item.attempts >= maxDeliveryAttempts {
			s.log.WithError(err).WithField("action", item.action.Kind).Warn("dropping undeliverable action")
			s.setError(undeliveredMessage)
			continue
		}
		keep = append(keep, item)
		if ctx.Err() != nil {
			keep = append(keep, pending[i+1:]...)
			break
		}
	}

	s.mu.Lock()
	s.queue = append(keep, s.queue...)
	s.mu.Unlock()
}

func (s *Store) setError(message string) {
	s.mu.Lock()
	s.flags.Error = message
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(snap)
	}
}

// Dismiss hides the current session locally right away and tells the
// server on a best-effort basis. It never fails.
func (s *Store) Dismiss(ctx context.Context) Snapshot {
	s.mu.Lock()
	if s.view.Session != nil {
		s.ignored = s.view.Session.ID
	}
	s.view = court.View{Phase: court.ViewIdle, Version: s.view.Version}
	s.drafts = Drafts{}
	s.flags.Error = ""
	s.flags.GeneratingVerdict = false
	s.applied++
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(snap)
	}

	requestID := s.newID()
	action := court.Action{Kind: court.ActionDismiss}
	view, err := s.deliver(ctx, requestID, action)
	switch {
	case err == nil:
		s.apply(view)
	case IsRejection(err):
		s.log.WithError(err).Info("server rejected dismiss")
	default:
		if qerr := s.enqueue(requestID, action); qerr != nil {
			s.log.WithError(qerr).Warn("dismiss not delivered")
		}
	}
	return s.Snapshot()
}

// apply installs view as the new snapshot unless it is older than the
// current one or belongs to a dismissed session.
func (s *Store) apply(view court.View) {
	s.mu.Lock()
	if view.Version < s.view.Version {
		s.mu.Unlock()
		return
	}
	if view.Session != nil {
		if view.Session.ID == s.ignored {
			s.mu.Unlock()
			return
		}
		s.ignored = ""
	}

	prev := s.view
	sessionChanged := sessionID(prev) != sessionID(view)
	if view.Phase == court.ViewIdle || view.Phase == court.ViewClosed || sessionChanged {
		s.drafts = Drafts{}
	}
	s.view = view
	s.applied++
	s.flags.GeneratingVerdict = generating(view)
	if sessionChanged {
		s.flags.Error = ""
	}

	var completed func(court.View)
	if completes(prev, view) {
		completed = s.onComplete
	}
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	if completed != nil {
		completed(view)
	}
}

func sessionID(view court.View) string {
	if view.Session == nil {
		return ""
	}
	return view.Session.ID
}

func generating(view court.View) bool {
	if view.Session == nil || view.Session.GenerationError != "" {
		return false
	}
	return view.Phase == court.ViewAnalyzing || view.Session.HybridPending
}

func completes(prev, next court.View) bool {
	if next.Phase != court.ViewClosed || next.Session == nil {
		return false
	}
	if next.Session.Outcome != court.OutcomeResolved && next.Session.Outcome != court.OutcomeSettled {
		return false
	}
	return prev.Phase != court.ViewClosed || sessionID(prev) != sessionID(next)
}
