package rencontre

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StartPolicy decides what happens when a user starts the questionnaire
// while a session is already active.
type StartPolicy string

const (
	// StartPolicyReplace discards the active session and starts over
	StartPolicyReplace StartPolicy = "replace"

	// StartPolicyReject keeps the active session and returns ErrSessionActive
	StartPolicyReject StartPolicy = "reject"
)

type SessionMode string

const (
	SessionModeCreate SessionMode = "create"
	SessionModeEdit   SessionMode = "edit"
)

// Step is a question index, StepAge through StepPhoto
type Step int

const (
	StepAge Step = iota
	StepGender
	StepOrientation
	StepPassions
	StepActivity
	StepPhoto
)

const (
	stepCount = 6

	GenderFemale = "Femme"
	GenderMale   = "Homme"

	minimumAge = 18

	maxOrientationLength = 100
	maxPassionsLength    = 200
	maxActivityLength    = 150

	emptyAnswerPlaceholder = "—"

	keywordStop = "stop"
	keywordSkip = "skip"

	promptFormat = "%d/6 — %s"

	reasonInvalidAge    = "⚠️ Entre un nombre valide (ex: 22)."
	reasonInvalidGender = "⚠️ Réponds par **Femme** ou **Homme**."
	reasonInvalidPhoto  = "⚠️ Envoie une **image** ou un **lien direct** (.png/.jpg/.webp)."
)

var (
	stepQuestions = [stepCount]string{
		StepAge:         "Quel est **ton âge** ? (nombre ≥ 18)",
		StepGender:      "Ton **genre** ? (Femme / Homme)",
		StepOrientation: "Ton **attirance** (orientation) ? (ex : hétéro, bi, pan…)",
		StepPassions:    "Tes **passions** ? (quelques mots)",
		StepActivity:    "Ton **activité** (ce que tu fais dans la vie) ?",
		StepPhoto:       "📸 Envoie une **photo** (fichier image) **ou** un **lien direct** (.png/.jpg/.webp).",
	}
	stepNames = [stepCount]string{
		StepAge:         "age",
		StepGender:      "gender",
		StepOrientation: "orientation",
		StepPassions:    "passions",
		StepActivity:    "activity",
		StepPhoto:       "photo",
	}

	nonDigitPattern  = regexp.MustCompile(`\D`)
	imageLinkPattern = regexp.MustCompile(`(?i)^https?://\S+\.(png|jpe?g|gif|webp)(\?\S*)?$`)
)

func (s Step) String() string {
	if s < 0 || int(s) >= stepCount {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Prompt returns the numbered question for the step, ex:
// "1/6 — Quel est **ton âge** ? (nombre ≥ 18)"
func (s Step) Prompt() string {
	if s < 0 || int(s) >= stepCount {
		return ""
	}
	return fmt.Sprintf(promptFormat, int(s)+1, stepQuestions[s])
}

// Attachment is a file sent along with a direct message
type Attachment struct {
	URL         string
	ContentType string
}

// ProfileDraft holds validated answers. It's complete once the photo
// step is answered.
type ProfileDraft struct {
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	Orientation string `json:"orientation"`
	Passions    string `json:"passions"`
	Activity    string `json:"activity"`
	PhotoURL    string `json:"photo_url"`
}

// OnboardingSession is the in-memory state of one user's questionnaire
type OnboardingSession struct {
	UserID        string       `json:"user_id"`
	Step          Step         `json:"step"`
	Answers       ProfileDraft `json:"answers"`
	Mode          SessionMode  `json:"mode"`
	PriorPhotoURL string       `json:"prior_photo_url"`
	StartedAt     time.Time    `json:"started_at"`

	// LastActivityAt is the time of the last accepted answer
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s OnboardingSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", s.UserID),
		slog.String("step", s.Step.String()),
		slog.String("mode", string(s.Mode)),
		slog.Time("started_at", s.StartedAt),
	)
}

type OutcomeKind int

const (
	// OutcomeNoSession means the user has no active session, and the
	// input should be ignored
	OutcomeNoSession OutcomeKind = iota
	OutcomeNextPrompt
	OutcomeValidationError
	OutcomeCompleted
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoSession:
		return "no_session"
	case OutcomeNextPrompt:
		return "next_prompt"
	case OutcomeValidationError:
		return "validation_error"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

type CancelReason string

const (
	CancelStopped  CancelReason = "stopped"
	CancelUnderage CancelReason = "underage"
	CancelExpired  CancelReason = "expired"
	CancelReplaced CancelReason = "replaced"
)

// Outcome is the result of submitting an answer. Prompt is set for
// OutcomeNextPrompt and OutcomeValidationError (the same step, asked
// again), Reason for OutcomeValidationError, Draft for OutcomeCompleted
// and CancelReason for OutcomeCancelled.
type Outcome struct {
	Kind         OutcomeKind
	Step         Step
	Prompt       string
	Reason       string
	Draft        *ProfileDraft
	Mode         SessionMode
	CancelReason CancelReason
}

// SessionManager drives the per-user questionnaire. It holds no durable
// state; finished drafts are handed back to the caller.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*OnboardingSession
	timeout  time.Duration
	policy   StartPolicy
	now      func() time.Time
	logger   *slog.Logger
}

func NewSessionManager(config *OnboardingConfig, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := DefaultOnboardingSessionTimeout
	policy := DefaultOnboardingStartPolicy
	if config != nil {
		if config.SessionTimeout > 0 {
			timeout = config.SessionTimeout
		}
		if config.StartPolicy != "" {
			policy = config.StartPolicy
		}
	}
	return &SessionManager{
		sessions: make(map[string]*OnboardingSession),
		timeout:  timeout,
		policy:   policy,
		now:      time.Now,
		logger:   logger,
	}
}

// Start creates a session for the user and returns the first prompt.
// priorPhotoURL is kept for "skip" at the photo step, in edit mode.
// With StartPolicyReject, an active (non-expired) session causes
// ErrSessionActive and is left untouched.
func (m *SessionManager) Start(
	userID string,
	mode SessionMode,
	priorPhotoURL string,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.sessions[userID]; ok {
		switch {
		case m.expired(existing, now):
			m.logger.Info("discarding expired session", "session", existing)
		case m.policy == StartPolicyReject:
			return "", ErrSessionActive
		default:
			m.logger.Info(
				"replacing active session",
				"session", existing,
				"cancel_reason", CancelReplaced,
			)
		}
	}
	if mode == "" {
		mode = SessionModeCreate
	}

	s := &OnboardingSession{
		UserID:         userID,
		Step:           StepAge,
		Mode:           mode,
		PriorPhotoURL:  priorPhotoURL,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[userID] = s
	m.logger.Info("started session", "session", s)
	return StepAge.Prompt(), nil
}

// Submit applies one answer to the user's session. Stale sessions are
// expired here as well as by ExpireStale, so an answer arriving after
// the timeout yields a single OutcomeCancelled (CancelExpired), then
// OutcomeNoSession.
func (m *SessionManager) Submit(
	userID string,
	input string,
	attachments []Attachment,
) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Outcome{Kind: OutcomeNoSession}
	}

	now := m.now()
	if m.expired(s, now) {
		delete(m.sessions, userID)
		m.logger.Info("session expired", "session", s)
		return Outcome{
			Kind:         OutcomeCancelled,
			Step:         s.Step,
			Mode:         s.Mode,
			CancelReason: CancelExpired,
		}
	}

	input = strings.TrimSpace(input)
	if strings.EqualFold(input, keywordStop) {
		delete(m.sessions, userID)
		m.logger.Info("session stopped by user", "session", s)
		return Outcome{
			Kind:         OutcomeCancelled,
			Step:         s.Step,
			Mode:         s.Mode,
			CancelReason: CancelStopped,
		}
	}

	step := s.Step

	switch step {
	case StepAge:
		age, valid := parseAge(input)
		if !valid {
			return m.invalid(s, reasonInvalidAge)
		}
		if age < minimumAge {
			delete(m.sessions, userID)
			m.logger.Info("session cancelled, underage", "session", s)
			return Outcome{
				Kind:         OutcomeCancelled,
				Step:         step,
				Mode:         s.Mode,
				CancelReason: CancelUnderage,
			}
		}
		s.Answers.Age = age
	case StepGender:
		gender, valid := parseGender(input)
		if !valid {
			return m.invalid(s, reasonInvalidGender)
		}
		s.Answers.Gender = gender
	case StepOrientation:
		s.Answers.Orientation = freeText(input, maxOrientationLength)
	case StepPassions:
		s.Answers.Passions = freeText(input, maxPassionsLength)
	case StepActivity:
		s.Answers.Activity = freeText(input, maxActivityLength)
	case StepPhoto:
		photo, valid := parsePhoto(input, attachments, s.Mode, s.PriorPhotoURL)
		if !valid {
			return m.invalid(s, reasonInvalidPhoto)
		}
		s.Answers.PhotoURL = photo
		delete(m.sessions, userID)

		draft := s.Answers
		m.logger.Info("session completed", "session", s)
		return Outcome{
			Kind:  OutcomeCompleted,
			Step:  step,
			Mode:  s.Mode,
			Draft: &draft,
		}
	default:
		// unreachable unless a session was built outside Start
		delete(m.sessions, userID)
		return Outcome{Kind: OutcomeNoSession}
	}

	// only accepted answers keep the session alive
	s.LastActivityAt = now
	s.Step++
	return Outcome{
		Kind:   OutcomeNextPrompt,
		Step:   s.Step,
		Mode:   s.Mode,
		Prompt: s.Step.Prompt(),
	}
}

func (m *SessionManager) invalid(s *OnboardingSession, reason string) Outcome {
	m.logger.Debug("invalid answer", "session", s, "reason", reason)
	return Outcome{
		Kind:   OutcomeValidationError,
		Step:   s.Step,
		Mode:   s.Mode,
		Prompt: s.Step.Prompt(),
		Reason: reason,
	}
}

func (m *SessionManager) expired(s *OnboardingSession, now time.Time) bool {
	return now.Sub(s.LastActivityAt) > m.timeout
}

// ExpireStale removes every session idle for longer than the timeout,
// and returns the IDs of their users.
func (m *SessionManager) ExpireStale(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for userID, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, userID)
			expired = append(expired, userID)
			m.logger.Info("session expired", "session", s)
		}
	}
	return expired
}

// Sweep runs ExpireStale every interval until ctx is done. onExpire,
// if set, is called for each expired user outside the lock.
func (m *SessionManager) Sweep(
	ctx context.Context,
	interval time.Duration,
	onExpire func(ctx context.Context, userID string),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range m.ExpireStale(m.now()) {
				if onExpire != nil {
					onExpire(ctx, userID)
				}
			}
		}
	}
}

// Cancel drops the user's session, returning false if there wasn't one
func (m *SessionManager) Cancel(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; !ok {
		return false
	}
	delete(m.sessions, userID)
	return true
}

// Active reports whether the user has a session that hasn't expired
func (m *SessionManager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return ok && !m.expired(s, m.now())
}

// Session returns a copy of the user's session
func (m *SessionManager) Session(userID string) (OnboardingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return OnboardingSession{}, ErrSessionNotFound
	}
	return *s, nil
}

func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// parseAge keeps only the digits of the input, so "22 ans" is 22
func parseAge(input string) (int, bool) {
	digits := nonDigitPattern.ReplaceAllString(input, "")
	if digits == "" {
		return 0, false
	}
	age, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return age, true
}

func parseGender(input string) (string, bool) {
	v := strings.ToLower(input)
	switch {
	case strings.HasPrefix(v, "f"):
		return GenderFemale, true
	case strings.HasPrefix(v, "h"):
		return GenderMale, true
	default:
		return "", false
	}
}

// freeText trims and truncates the input. Empty input and "skip"
// become a placeholder.
func freeText(input string, maxLength int) string {
	if input == "" || strings.EqualFold(input, keywordSkip) {
		return emptyAnswerPlaceholder
	}
	return truncate(input, maxLength)
}

// parsePhoto accepts, in order: an attachment declared as an image,
// "skip" in edit mode (keeping the prior photo), or a direct link to
// an image file.
func parsePhoto(
	input string,
	attachments []Attachment,
	mode SessionMode,
	priorPhotoURL string,
) (string, bool) {
	for _, a := range attachments {
		if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") && a.URL != "" {
			return a.URL, true
		}
	}
	if mode == SessionModeEdit && strings.EqualFold(input, keywordSkip) {
		return priorPhotoURL, true
	}
	if imageLinkPattern.MatchString(input) {
		return input, true
	}
	return "", false
}
