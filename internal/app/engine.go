package app

import (
	"context"
	"errors"
	"log"
	"math"

	"livequiz-service/internal/domain"
)

// SessionStore abstracts session state storage (in-memory, Redis-backed).
// Load returns domain.ErrSessionNotFound when no session exists for the code.
type SessionStore interface {
	Load(ctx context.Context, code string) (*domain.Session, error)
	Save(ctx context.Context, code string, session *domain.Session) error
	Remove(ctx context.Context, code string) error
	ListAll(ctx context.Context) ([]*domain.Session, error)
}

// QuizRepository loads quiz content from the authoring side by game code.
type QuizRepository interface {
	GetQuiz(ctx context.Context, code string) (domain.Quiz, error)
}

// Engine is the per-session state machine: create/join, start, question
// advancement, answer scoring, settlement, and cleanup. All mutating
// operations for one code are serialized through a per-code lock; the
// countdown expiry callback re-enters through the same lock, so expiry and
// submissions for a code are strictly ordered.
type Engine struct {
	store      SessionStore
	quizzes    QuizRepository
	registry   *ConnectionRegistry
	countdowns *CountdownScheduler
	locks      *codeLocks
}

func NewEngine(store SessionStore, quizzes QuizRepository, registry *ConnectionRegistry, countdowns *CountdownScheduler) *Engine {
	return &Engine{
		store:      store,
		quizzes:    quizzes,
		registry:   registry,
		countdowns: countdowns,
		locks:      newCodeLocks(),
	}
}

// Countdowns exposes the scheduler so the transport can start question
// timers with its own tick/expiry fan-out.
func (e *Engine) Countdowns() *CountdownScheduler { return e.countdowns }

// PlayerQuestion is the question payload shown to participants; it never
// carries the correct option.
type PlayerQuestion struct {
	Index        int      `json:"index"`
	Total        int      `json:"total"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	Points       int      `json:"points"`
	TimeLimitSec int      `json:"timeLimitSec"`
	ImageURL     string   `json:"imageUrl,omitempty"`
}

// HostQuestion additionally reveals the correct option to the moderator.
type HostQuestion struct {
	PlayerQuestion
	Correct int `json:"correct"`
}

// JoinResult describes the session after a join.
type JoinResult struct {
	Code        string
	Title       string
	IsHost      bool
	Created     bool
	Players     []domain.Participant
	PlayerCount int
}

// AdvanceResult carries either the next question (per-audience variants) or,
// once the sequence is exhausted, the final leaderboard and winner.
type AdvanceResult struct {
	Over         bool
	Host         HostQuestion
	Player       PlayerQuestion
	TimeLimitSec int
	Final        []domain.LeaderboardEntry
	Winner       string
}

// AnswerResult is returned to the submitter only; the correct option is
// revealed separately when the question settles.
type AnswerResult struct {
	Awarded    int
	TotalScore int
}

// SettleResult reveals the correct option and the leaderboard.
type SettleResult struct {
	Correct     int
	Leaderboard []domain.LeaderboardEntry
}

// LeaveResult describes the roster after a departure. Removed is set when
// the departure emptied the session and it was cleaned up.
type LeaveResult struct {
	Code        string
	Name        string
	Removed     bool
	Players     []domain.Participant
	PlayerCount int
}

// EvictResult lists the connections evicted by a moderator disconnect-all.
type EvictResult struct {
	Evicted []string
}

// Join registers a participant in the session for a code. When no session
// exists and the joiner is the reserved host name, a fresh session is created
// from the authoring side's quiz content; anyone else gets
// domain.ErrSessionNotFound. Rejoins by the same name are idempotent: no
// duplicate roster entry, score left untouched.
func (e *Engine) Join(ctx context.Context, code, name string, teamID int, connID string) (*JoinResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	created := false
	session, err := e.store.Load(ctx, code)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		if name != domain.HostName {
			return nil, domain.ErrSessionNotFound
		}
		quiz, err := e.quizzes.GetQuiz(ctx, code)
		if err != nil {
			return nil, err
		}
		session = domain.NewSession(code, quiz)
		created = true
		log.Printf("session %s created for quiz %q (%d questions)", code, quiz.Title, len(quiz.Questions))
	case err != nil:
		return nil, err
	}

	if name != domain.HostName {
		if _, ok := session.ParticipantByName(name); !ok {
			session.Participants = append(session.Participants, domain.Participant{Name: name, TeamID: teamID})
			if _, ok := session.Scores[name]; !ok {
				session.Scores[name] = 0
			}
			session.PlayerCount++
		}
	}

	if err := e.store.Save(ctx, code, session); err != nil {
		return nil, err
	}
	if connID != "" {
		// A rejoin supersedes the previous connection for the same name, so
		// the dead socket's eventual close is absorbed as an unknown
		// connection instead of evicting the live player.
		if prev, ok := e.registry.ConnFor(code, name); ok && prev != connID {
			e.registry.Unregister(prev)
		}
		e.registry.Register(connID, code, name)
	}

	return &JoinResult{
		Code:        code,
		Title:       session.Title,
		IsHost:      name == domain.HostName,
		Created:     created,
		Players:     rosterOf(session),
		PlayerCount: session.PlayerCount,
	}, nil
}

// Start resets all scores and answers and enters the first question. It
// fails with domain.ErrInvalidState when no session exists or the session
// has already started (the question index never decreases). The
// zero-participant guard is the caller's job.
func (e *Engine) Start(ctx context.Context, code string) (*AdvanceResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, domain.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	if session.CurrentQuestion >= 0 {
		return nil, domain.ErrInvalidState
	}

	session.Scores = make(map[string]int)
	session.Answers = make(map[string]domain.Answer)
	return e.advanceLocked(ctx, session)
}

// Advance moves to the next question, or ends the game when the sequence is
// exhausted. A finished session stays in the store for late leaderboard
// queries; only the zero-participant cleanup removes it.
func (e *Engine) Advance(ctx context.Context, code string) (*AdvanceResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.Active || session.CurrentQuestion < 0 {
		return nil, domain.ErrInvalidState
	}

	// The old question's countdown must die before a replacement starts.
	e.countdowns.Cancel(code)
	return e.advanceLocked(ctx, session)
}

func (e *Engine) advanceLocked(ctx context.Context, session *domain.Session) (*AdvanceResult, error) {
	session.CurrentQuestion++

	if session.IsOver() {
		session.Active = false
		final := BuildLeaderboard(session)
		winner := ""
		if len(final) > 0 {
			winner = final[0].Name
		}
		if err := e.store.Save(ctx, session.Code, session); err != nil {
			return nil, err
		}
		log.Printf("session %s finished, winner %q", session.Code, winner)
		return &AdvanceResult{Over: true, Final: final, Winner: winner}, nil
	}

	session.Answers = make(map[string]domain.Answer)
	if err := e.store.Save(ctx, session.Code, session); err != nil {
		return nil, err
	}

	q := session.Questions[session.CurrentQuestion]
	player := PlayerQuestion{
		Index:        session.CurrentQuestion,
		Total:        len(session.Questions),
		Text:         q.Text,
		Options:      q.Options,
		Points:       q.Points,
		TimeLimitSec: q.TimeLimitSec,
		ImageURL:     q.ImageURL,
	}
	return &AdvanceResult{
		Host:         HostQuestion{PlayerQuestion: player, Correct: q.Correct},
		Player:       player,
		TimeLimitSec: q.TimeLimitSec,
	}, nil
}

// SubmitAnswer scores a submission against the current question. A correct
// answer is worth ceil(1000 * secondsLeft/timeLimit); an incorrect one is
// worth zero. Resubmitting replaces the prior answer, points included. The
// engine stays quiet (nil result) when the session is inactive or between
// questions; it never rejects a late answer itself. After expiry the
// transport stops relaying them.
func (e *Engine) SubmitAnswer(ctx context.Context, code, name string, option, secondsLeft int) (*AnswerResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, nil
	}
	q, ok := session.CurrentQuestionRef()
	if !ok {
		return nil, nil
	}

	bonus := 0.0
	if q.TimeLimitSec > 0 {
		bonus = float64(secondsLeft) / float64(q.TimeLimitSec)
	}
	if bonus < 0 {
		bonus = 0
	}
	if bonus > 1 {
		bonus = 1
	}

	correct := option == q.Correct
	points := 0
	if correct {
		points = int(math.Ceil(1000 * bonus))
	}

	// Last submission wins, for the cumulative score too.
	if prev, ok := session.Answers[name]; ok {
		session.Scores[name] -= prev.Points
	}
	session.Answers[name] = domain.Answer{
		Option:      option,
		Correct:     correct,
		Points:      points,
		SecondsLeft: secondsLeft,
		TimeBonus:   bonus,
	}
	session.Scores[name] += points

	if err := e.store.Save(ctx, code, session); err != nil {
		return nil, err
	}
	return &AnswerResult{Awarded: points, TotalScore: session.Scores[name]}, nil
}

// SettleQuestion closes the question at the given index: the correct option
// is revealed and the leaderboard computed. Called on countdown expiry or
// when the moderator forces the question to end. A settle for a question the
// session has already moved past is absorbed as a no-op, so an expiry that
// raced an advance can neither reveal the active question nor kill its
// countdown.
func (e *Engine) SettleQuestion(ctx context.Context, code string, questionIndex int) (*SettleResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.CurrentQuestion != questionIndex {
		return nil, nil
	}
	q, ok := session.CurrentQuestionRef()
	if !ok {
		return nil, domain.ErrInvalidState
	}

	// No-op after natural expiry; stops the timer on a forced end.
	e.countdowns.Cancel(code)

	return &SettleResult{
		Correct:     q.Correct,
		Leaderboard: BuildLeaderboard(session),
	}, nil
}

// PlayerCount reports the live non-moderator participant count. The
// zero-participant start rejection lives with the caller, not the engine.
func (e *Engine) PlayerCount(ctx context.Context, code string) (int, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return 0, err
	}
	return session.PlayerCount, nil
}

// Leaderboard returns the current standings without settling anything.
func (e *Engine) Leaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	return BuildLeaderboard(session), nil
}

// HandleDisconnect reconciles a closed connection with session state. An
// unregistered connection is silently absorbed. A departing participant loses
// their score entry and roster slot; when the last participant leaves, the
// session is cleaned up entirely (timer cancelled, cache and store purged).
// The host leaving an emptied session also triggers cleanup.
func (e *Engine) HandleDisconnect(ctx context.Context, connID string) (*LeaveResult, error) {
	code, name, ok := e.registry.Lookup(connID)
	if !ok {
		return nil, nil
	}
	e.registry.Unregister(connID)

	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if name == domain.HostName {
		if session.PlayerCount <= 0 && len(session.Participants) == 0 {
			if err := e.cleanupLocked(ctx, code); err != nil {
				return nil, err
			}
			return &LeaveResult{Code: code, Name: name, Removed: true}, nil
		}
		return &LeaveResult{Code: code, Name: name, Players: rosterOf(session), PlayerCount: session.PlayerCount}, nil
	}

	if _, ok := session.ParticipantByName(name); ok {
		session.Participants = removeParticipant(session.Participants, name)
		delete(session.Scores, name)
		delete(session.Answers, name)
		session.PlayerCount--
	}

	if session.PlayerCount <= 0 {
		if err := e.cleanupLocked(ctx, code); err != nil {
			return nil, err
		}
		return &LeaveResult{Code: code, Name: name, Removed: true}, nil
	}

	if err := e.store.Save(ctx, code, session); err != nil {
		return nil, err
	}
	return &LeaveResult{Code: code, Name: name, Players: rosterOf(session), PlayerCount: session.PlayerCount}, nil
}

// Leave is an explicit departure for a still-open connection.
func (e *Engine) Leave(ctx context.Context, code, connID string) (*LeaveResult, error) {
	if got, _, ok := e.registry.Lookup(connID); !ok || got != code {
		return nil, nil
	}
	return e.HandleDisconnect(ctx, connID)
}

// DisconnectAll evicts every participant, keeping only the moderator in the
// roster and score map. It does not clean the session up, since the moderator
// remains. Returned connection IDs are for the transport to close.
func (e *Engine) DisconnectAll(ctx context.Context, code string) (*EvictResult, error) {
	unlock := e.locks.lock(code)
	defer unlock()

	session, err := e.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]int)
	if hostScore, ok := session.Scores[domain.HostName]; ok {
		scores[domain.HostName] = hostScore
	}
	answers := make(map[string]domain.Answer)
	if hostAnswer, ok := session.Answers[domain.HostName]; ok {
		answers[domain.HostName] = hostAnswer
	}
	session.Scores = scores
	session.Answers = answers
	session.Participants = nil
	session.PlayerCount = 0

	if err := e.store.Save(ctx, code, session); err != nil {
		return nil, err
	}

	var evicted []string
	for _, id := range e.registry.ConnectionsFor(code) {
		if _, name, ok := e.registry.Lookup(id); ok && name != domain.HostName {
			e.registry.Unregister(id)
			evicted = append(evicted, id)
		}
	}
	log.Printf("session %s: moderator evicted %d participants", code, len(evicted))
	return &EvictResult{Evicted: evicted}, nil
}

// Rehydrate reloads all durably stored sessions into the cache after a
// restart and returns how many came back.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	sessions, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// Shutdown stops every running countdown.
func (e *Engine) Shutdown() {
	e.countdowns.CancelAll()
}

func (e *Engine) cleanupLocked(ctx context.Context, code string) error {
	e.countdowns.Cancel(code)
	if err := e.store.Remove(ctx, code); err != nil {
		return err
	}
	log.Printf("session %s cleaned up", code)
	return nil
}

func rosterOf(s *domain.Session) []domain.Participant {
	roster := make([]domain.Participant, len(s.Participants))
	copy(roster, s.Participants)
	return roster
}

func removeParticipant(roster []domain.Participant, name string) []domain.Participant {
	out := roster[:0]
	for _, p := range roster {
		if p.Name != name {
			out = append(out, p)
		}
	}
	return out
}
