package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	minGroupSize          = 2
	maxConversationName   = 100
	speedBroadcastWorkers = 5

	speedWelcomeFormat = "Bienvenue %s — vous avez **%s** ⏳.\n" +
		"Soyez respectueux·ses. Le fil sera **clôturé** à la fin."
	speedWarningMessage = "⏰ **Plus qu’1 minute** ! Échangez vos contacts si ça matche 💞"

	opCreateConversation = "create_conversation"
	opAddParticipant     = "add_participant"
	opSendWelcome        = "send_welcome"
	opSendWarning        = "send_warning"
	opCloseConversation  = "close_conversation"
)

// ConversationRef identifies an ephemeral conversation opened for one
// group during a speed dating run
type ConversationRef struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ParentID     string   `json:"parent_id"`
	Participants []string `json:"participants"`
}

// Conversations opens and closes the ephemeral conversations used by
// speed dating runs. discordConversations implements it with private
// threads.
type Conversations interface {
	CreateConversation(ctx context.Context, parentID string, name string) (ConversationRef, error)
	AddParticipant(ctx context.Context, ref ConversationRef, userID string) error
	Send(ctx context.Context, ref ConversationRef, content string) error

	// Close deletes the conversation if delete is set, otherwise
	// archives and locks it
	Close(ctx context.Context, ref ConversationRef, delete bool) error
}

// RunClock persists the time of the last speed dating run
type RunClock interface {
	GetLastRunAt(ctx context.Context) (time.Time, error)
	SetLastRunAt(ctx context.Context, t time.Time) error
}

// ReportSink receives the report of every closed run
type ReportSink func(ctx context.Context, report *Report)

type timer interface {
	Stop() bool
}

// RunRequest describes one speed dating run
type RunRequest struct {
	// Roster is the list of eligible participants. It's copied, so later
	// changes don't affect the run.
	Roster []string

	// Members per conversation, defaults to the configured group size
	GroupSize int

	// Maximum number of conversations, 0=unlimited
	MaxGroups int

	// Duration defaults to the configured duration
	Duration time.Duration

	RequestedBy string

	// ParentID is the channel conversations are opened in
	ParentID string

	NamePrefix string

	// Delete conversations when the run ends, rather than archiving them
	Delete bool

	// DisplayNames are used to name conversations. Missing entries
	// fall back to the user ID.
	DisplayNames map[string]string
}

// Failure records a collaborator call that failed during a run
type Failure struct {
	Op     string `json:"op"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

func failureFromError(err error) Failure {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return Failure{Op: ce.Op, Target: ce.Target, Error: ce.Err.Error()}
	}
	return Failure{Error: err.Error()}
}

// Report summarizes a closed run
type Report struct {
	SessionID     string            `json:"session_id"`
	RequestedBy   string            `json:"requested_by"`
	StartedAt     time.Time         `json:"started_at"`
	ClosedAt      time.Time         `json:"closed_at"`
	Duration      time.Duration     `json:"duration"`
	Conversations []ConversationRef `json:"conversations"`
	Unpaired      []string          `json:"unpaired,omitempty"`
	Failures      []Failure         `json:"failures,omitempty"`
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", r.SessionID),
		slog.String("requested_by", r.RequestedBy),
		slog.Duration("duration", r.Duration),
		slog.Int("conversations", len(r.Conversations)),
		slog.Int("unpaired", len(r.Unpaired)),
		slog.Int("failures", len(r.Failures)),
	)
}

// Scheduler runs speed dating events: it partitions a roster into
// groups, opens one conversation per group, warns before the end and
// closes everything when the duration elapses.
type Scheduler struct {
	clock         RunClock
	conversations Conversations
	config        *SpeedDatingConfig
	reportSink    ReportSink
	logger        *slog.Logger

	now       func() time.Time
	shuffle   func([]string)
	afterFunc func(time.Duration, func()) timer
	newID     func() string

	mu        sync.Mutex
	lastRunAt time.Time
	events    map[string]*SpeedEvent
}

func NewScheduler(
	config *SpeedDatingConfig,
	clock RunClock,
	conversations Conversations,
	sink ReportSink,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig().SpeedDating
	}
	return &Scheduler{
		clock:         clock,
		conversations: conversations,
		config:        config,
		reportSink:    sink,
		logger:        logger,
		now:           time.Now,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		newID:  newSessionID,
		events: make(map[string]*SpeedEvent),
	}
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// LastRunAt returns the latest of the in-memory and persisted run times
func (s *Scheduler) LastRunAt(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun(ctx)
}

func (s *Scheduler) lastRun(ctx context.Context) time.Time {
	last := s.lastRunAt
	if s.clock == nil {
		return last
	}
	persisted, err := s.clock.GetLastRunAt(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "error reading last run time", tint.Err(err))
		return last
	}
	if persisted.After(last) {
		return persisted
	}
	return last
}

// Start validates the request, opens the conversations and schedules
// the warning and closing steps, returning without waiting for them.
// A request within the cooldown window fails with a *CooldownError, and
// fewer than two distinct participants with ErrNotEnoughParticipants.
// Neither rejection has side effects.
func (s *Scheduler) Start(ctx context.Context, req RunRequest) (*SpeedEvent, error) {
	roster := dedupe(req.Roster)

	s.mu.Lock()
	now := s.now()
	if s.config.Cooldown > 0 {
		last := s.lastRun(ctx)
		if elapsed := now.Sub(last); !last.IsZero() && elapsed < s.config.Cooldown {
			s.mu.Unlock()
			return nil, &CooldownError{Remaining: s.config.Cooldown - elapsed}
		}
	}
	if len(roster) < minGroupSize {
		s.mu.Unlock()
		return nil, ErrNotEnoughParticipants
	}
	s.lastRunAt = now
	s.mu.Unlock()

	if s.clock != nil {
		if err := s.clock.SetLastRunAt(ctx, now); err != nil {
			s.logger.ErrorContext(ctx, "error persisting last run time", tint.Err(err))
		}
	}

	groupSize := req.GroupSize
	if groupSize == 0 {
		groupSize = s.config.GroupSize
	}
	duration := req.Duration
	if duration <= 0 {
		duration = s.config.DefaultDuration
	}

	s.shuffle(roster)
	groups, unpaired := partitionRoster(roster, groupSize, req.MaxGroups)

	event := &SpeedEvent{
		SessionID:   s.newID(),
		RequestedBy: req.RequestedBy,
		Roster:      roster,
		Groups:      groups,
		Unpaired:    unpaired,
		StartedAt:   now,
		Duration:    duration,
		delete:      req.Delete,
		scheduler:   s,
		done:        make(chan struct{}),
	}
	logger := s.logger.With("session_id", event.SessionID)
	logger.InfoContext(
		ctx,
		"starting speed dating",
		"requested_by", req.RequestedBy,
		"participants", len(roster),
		"groups", len(groups),
		"unpaired", len(unpaired),
		"duration", duration,
	)

	welcomeDuration := formatEventDuration(duration)
	for _, group := range groups {
		ref, err := s.openConversation(ctx, req, group, welcomeDuration)
		if err != nil {
			logger.WarnContext(ctx, "skipping group", "group", group, tint.Err(err))
			event.recordFailure(err)
			continue
		}
		event.Conversations = append(event.Conversations, ref)
	}

	// the countdown starts once every conversation is open
	event.ClosesAt = s.now().Add(duration)

	// registered before the timers, so an early close can forget it
	s.mu.Lock()
	s.events[event.SessionID] = event
	s.mu.Unlock()

	// timers outlive the request that started the run
	timerCtx := context.WithoutCancel(ctx)
	lead := s.config.WarningLead
	var warnTimer timer
	if lead > 0 && duration >= 2*lead {
		warnTimer = s.afterFunc(
			duration-lead, func() {
				defer func() {
					if rc := recover(); rc != nil {
						handleRecover(timerCtx, rc)
					}
				}()
				if warnErr := event.Warn(timerCtx); warnErr != nil {
					logger.WarnContext(timerCtx, "warning not delivered everywhere", tint.Err(warnErr))
				}
			},
		)
	}
	closeTimer := s.afterFunc(
		duration, func() {
			defer func() {
				if rc := recover(); rc != nil {
					handleRecover(timerCtx, rc)
				}
			}()
			if _, closeErr := event.Close(timerCtx); closeErr != nil {
				logger.WarnContext(timerCtx, "conversations not all closed", tint.Err(closeErr))
			}
		},
	)
	event.mu.Lock()
	event.warnTimer, event.closeTimer = warnTimer, closeTimer
	event.mu.Unlock()

	return event, nil
}

// Run starts a run and blocks until it's closed
func (s *Scheduler) Run(ctx context.Context, req RunRequest) (*Report, error) {
	event, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return event.Wait(ctx)
}

// openConversation creates the conversation for one group and adds its
// members. If a member can't be added, the conversation is removed and
// the group is skipped. A failed welcome message doesn't skip the group.
func (s *Scheduler) openConversation(
	ctx context.Context,
	req RunRequest,
	group []string,
	duration string,
) (ConversationRef, error) {
	name := conversationName(req.NamePrefix, group, req.DisplayNames)
	ref, err := s.conversations.CreateConversation(ctx, req.ParentID, name)
	if err != nil {
		return ref, collaboratorErr(opCreateConversation, name, err)
	}
	if ref.ParentID == "" {
		ref.ParentID = req.ParentID
	}
	if ref.Name == "" {
		ref.Name = name
	}

	for _, userID := range group {
		if addErr := s.conversations.AddParticipant(ctx, ref, userID); addErr != nil {
			if closeErr := s.conversations.Close(ctx, ref, true); closeErr != nil {
				s.logger.WarnContext(
					ctx,
					"error removing incomplete conversation",
					"conversation", ref.ID,
					tint.Err(closeErr),
				)
			}
			return ConversationRef{}, collaboratorErr(opAddParticipant, userID, addErr)
		}
		ref.Participants = append(ref.Participants, userID)
	}

	welcome := fmt.Sprintf(speedWelcomeFormat, joinMentions(group), duration)
	if sendErr := s.conversations.Send(ctx, ref, welcome); sendErr != nil {
		s.logger.WarnContext(
			ctx,
			"error sending welcome message",
			"conversation", ref.ID,
			tint.Err(collaboratorErr(opSendWelcome, ref.ID, sendErr)),
		)
	}
	return ref, nil
}

// InFlight returns the runs that haven't been closed yet
func (s *Scheduler) InFlight() []*SpeedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]*SpeedEvent, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	return events
}

// CloseAll closes every in-flight run immediately. Used on shutdown.
func (s *Scheduler) CloseAll(ctx context.Context) error {
	var errs []error
	for _, e := range s.InFlight() {
		if _, err := e.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
}

// SpeedEvent is one in-flight speed dating run
type SpeedEvent struct {
	SessionID     string
	RequestedBy   string
	Roster        []string
	Groups        [][]string
	Unpaired      []string
	StartedAt     time.Time
	ClosesAt      time.Time
	Duration      time.Duration
	Conversations []ConversationRef

	delete     bool
	scheduler  *Scheduler
	warnTimer  timer
	closeTimer timer
	done       chan struct{}

	mu       sync.Mutex
	warned   bool
	closed   bool
	report   *Report
	failures []Failure
}

func (e *SpeedEvent) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, failureFromError(err))
}

// broadcast applies f to every conversation concurrently, recording
// failures. It returns all errors joined.
func (e *SpeedEvent) broadcast(
	ctx context.Context,
	f func(ctx context.Context, ref ConversationRef) error,
) error {
	var errMu sync.Mutex
	var errs []error

	g := new(errgroup.Group)
	g.SetLimit(speedBroadcastWorkers)
	for _, ref := range e.Conversations {
		g.Go(
			func() error {
				if err := f(ctx, ref); err != nil {
					e.recordFailure(err)
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
				return nil
			},
		)
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Warn sends the one-minute warning to every conversation. It does
// nothing once the event was warned or closed.
func (e *SpeedEvent) Warn(ctx context.Context) error {
	e.mu.Lock()
	if e.warned || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.warned = true
	e.mu.Unlock()

	conversations := e.scheduler.conversations
	return e.broadcast(
		ctx, func(ctx context.Context, ref ConversationRef) error {
			return collaboratorErr(
				opSendWarning,
				ref.ID,
				conversations.Send(ctx, ref, speedWarningMessage),
			)
		},
	)
}

// Close closes every conversation, delivers the report to the sink and
// returns it. Later calls return the same report and a nil error.
func (e *SpeedEvent) Close(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return e.finalReport(), nil
	}
	e.closed = true
	timers := []timer{e.warnTimer, e.closeTimer}
	e.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}

	s := e.scheduler
	err := e.broadcast(
		ctx, func(ctx context.Context, ref ConversationRef) error {
			return collaboratorErr(
				opCloseConversation,
				ref.ID,
				s.conversations.Close(ctx, ref, e.delete),
			)
		},
	)

	report := e.buildReport(s.now())
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	s.forget(e.SessionID)
	s.logger.InfoContext(ctx, "speed dating closed", "report", report)
	close(e.done)

	if s.reportSink != nil {
		s.reportSink(ctx, report)
	}
	return report, err
}

func (e *SpeedEvent) buildReport(closedAt time.Time) *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	conversations := make([]ConversationRef, len(e.Conversations))
	copy(conversations, e.Conversations)
	failures := make([]Failure, len(e.failures))
	copy(failures, e.failures)
	return &Report{
		SessionID:     e.SessionID,
		RequestedBy:   e.RequestedBy,
		StartedAt:     e.StartedAt,
		ClosedAt:      closedAt,
		Duration:      e.Duration,
		Conversations: conversations,
		Unpaired:      e.Unpaired,
		Failures:      failures,
	}
}

func (e *SpeedEvent) finalReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Done is closed once the event's conversations are closed
func (e *SpeedEvent) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the event is closed, and returns its report
func (e *SpeedEvent) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return e.finalReport(), nil
	}
}

// partitionRoster slices the roster into consecutive groups of size.
// A trailing group smaller than two is left unpaired, as is everyone
// past maxGroups (when maxGroups > 0).
func partitionRoster(roster []string, size int, maxGroups int) ([][]string, []string) {
	if size < minGroupSize {
		size = minGroupSize
	}
	var groups [][]string
	var unpaired []string
	for i := 0; i < len(roster); i += size {
		end := min(i+size, len(roster))
		group := roster[i:end]
		if len(group) < minGroupSize || (maxGroups > 0 && len(groups) >= maxGroups) {
			unpaired = append(unpaired, group...)
			continue
		}
		groups = append(groups, append([]string(nil), group...))
	}
	return groups, unpaired
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	rv := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rv = append(rv, id)
	}
	return rv
}

// conversationName builds "<prefix> <a> × <b>"
func conversationName(prefix string, group []string, displayNames map[string]string) string {
	names := make([]string, 0, len(group))
	for _, userID := range group {
		name := displayNames[userID]
		if name == "" {
			name = userID
		}
		names = append(names, name)
	}
	name := strings.Join(names, " × ")
	if prefix != "" {
		name = prefix + " " + name
	}
	return truncate(name, maxConversationName)
}

// joinMentions renders "<@a> et <@b>", or "<@a>, <@b> et <@c>"
func joinMentions(userIDs []string) string {
	mentions := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		mentions = append(mentions, userMention(id))
	}
	if len(mentions) < 2 {
		return strings.Join(mentions, "")
	}
	return strings.Join(mentions[:len(mentions)-1], ", ") + " et " + mentions[len(mentions)-1]
}
