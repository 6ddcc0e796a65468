package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

const testCode = "AB12CD"

func TestHostJoinCreatesSession(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	res, err := engine.Join(ctx, testCode, domain.HostName, 0, "conn-host")
	if err != nil {
		t.Fatalf("host join: %v", err)
	}
	if !res.Created || !res.IsHost {
		t.Fatalf("expected created host session, got %+v", res)
	}

	session, err := store.Load(ctx, testCode)
	if err != nil {
		t.Fatalf("load after create: %v", err)
	}
	if session.CurrentQuestion != -1 || !session.Active {
		t.Fatalf("expected pre-start session, got index=%d active=%v", session.CurrentQuestion, session.Active)
	}
	if len(session.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(session.Questions))
	}
	if len(session.Participants) != 0 {
		t.Fatalf("host must not appear in roster, got %+v", session.Participants)
	}
}

func TestJoinUnknownCodeRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.Join(ctx, "NOPE42", "Alice", 0, "conn-1")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHostJoinUnknownQuizRejected(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	_, err := engine.Join(ctx, "NOPE42", domain.HostName, 0, "conn-1")
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")

	mustJoin(t, engine, "Alice", 1, "conn-a1")
	res := mustJoin(t, engine, "Alice", 1, "conn-a2")

	if res.PlayerCount != 1 {
		t.Fatalf("expected one player after rejoin, got %d", res.PlayerCount)
	}
	session, _ := store.Load(ctx, testCode)
	if len(session.Participants) != 1 {
		t.Fatalf("expected one roster entry, got %+v", session.Participants)
	}
	if len(session.Scores) != 1 {
		t.Fatalf("expected one score entry, got %+v", session.Scores)
	}
}

func TestStartResetsAndEntersFirstQuestion(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 1, "conn-alice")

	res, err := engine.Start(ctx, testCode)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Over {
		t.Fatalf("start must enter a question")
	}
	if res.Host.Index != 0 || res.Player.Index != 0 {
		t.Fatalf("expected question 0, got host=%d player=%d", res.Host.Index, res.Player.Index)
	}
	if res.TimeLimitSec != 30 {
		t.Fatalf("expected 30s budget, got %d", res.TimeLimitSec)
	}

	session, _ := store.Load(ctx, testCode)
	if len(session.Scores) != 0 {
		t.Fatalf("expected scores reset to empty, got %+v", session.Scores)
	}
	if len(session.Answers) != 0 {
		t.Fatalf("expected answers cleared, got %+v", session.Answers)
	}

	// Restarting would rewind the question index; the engine refuses.
	if _, err := engine.Start(ctx, testCode); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double start, got %v", err)
	}
}

func TestStartWithoutSessionIsInvalidState(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Start(context.Background(), "NOPE42"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPlayerPayloadOmitsCorrectOption(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")

	res, err := engine.Start(ctx, testCode)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Host.Correct != 2 {
		t.Fatalf("host payload must carry the correct option, got %d", res.Host.Correct)
	}
	if len(res.Player.Options) != len(res.Host.Options) || res.Player.Text != res.Host.Text {
		t.Fatalf("player payload should mirror the question content")
	}
}

func TestScoring(t *testing.T) {
	cases := []struct {
		name        string
		option      int
		secondsLeft int
		want        int
	}{
		{"correct full time", 2, 30, 1000},
		{"correct half time", 2, 15, 500},
		{"incorrect full time", 0, 30, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newTestEngine(t)
			mustJoin(t, engine, domain.HostName, 0, "conn-host")
			mustJoin(t, engine, "Alice", 1, "conn-alice")
			if _, err := engine.Start(ctx, testCode); err != nil {
				t.Fatalf("start: %v", err)
			}

			res, err := engine.SubmitAnswer(ctx, testCode, "Alice", tc.option, tc.secondsLeft)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if res == nil {
				t.Fatalf("expected a result for an active question")
			}
			if res.Awarded != tc.want {
				t.Fatalf("expected %d points, got %d", tc.want, res.Awarded)
			}
			if res.TotalScore != tc.want {
				t.Fatalf("expected cumulative %d, got %d", tc.want, res.TotalScore)
			}
		})
	}
}

func TestResubmissionLastWins(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	if _, err := engine.Start(ctx, testCode); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := engine.SubmitAnswer(ctx, testCode, "Alice", 2, 30); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	res, err := engine.SubmitAnswer(ctx, testCode, "Alice", 0, 20)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Awarded != 0 || res.TotalScore != 0 {
		t.Fatalf("last submission must win: awarded=%d total=%d", res.Awarded, res.TotalScore)
	}
}

func TestSubmitBeforeStartIsAbsent(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")

	res, err := engine.SubmitAnswer(ctx, testCode, "Alice", 1, 10)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res != nil {
		t.Fatalf("expected absent result before start, got %+v", res)
	}
}

func TestAdvanceIsMonotonicAndEndsGame(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	if _, err := engine.Start(ctx, testCode); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.SubmitAnswer(ctx, testCode, "Alice", 2, 30); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 1; i < 3; i++ {
		res, err := engine.Advance(ctx, testCode)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if res.Over {
			t.Fatalf("game over too early at advance %d", i)
		}
		if res.Host.Index != i {
			t.Fatalf("expected question %d, got %d", i, res.Host.Index)
		}

		session, _ := store.Load(ctx, testCode)
		if len(session.Answers) != 0 {
			t.Fatalf("answers must reset on advance, got %+v", session.Answers)
		}
	}

	res, err := engine.Advance(ctx, testCode)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if !res.Over {
		t.Fatalf("expected game over")
	}
	if res.Winner != "Alice" {
		t.Fatalf("expected Alice as winner, got %q", res.Winner)
	}
	if len(res.Final) != 1 || res.Final[0].Score != 1000 {
		t.Fatalf("unexpected final leaderboard %+v", res.Final)
	}

	// The finished session survives for late leaderboard queries.
	session, err := store.Load(ctx, testCode)
	if err != nil {
		t.Fatalf("load after finish: %v", err)
	}
	if session.Active {
		t.Fatalf("finished session must be inactive")
	}

	// Advancing a finished session is invalid, not a crash.
	if _, err := engine.Advance(ctx, testCode); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSettleQuestionRevealsCorrectOption(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	if _, err := engine.Start(ctx, testCode); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.SubmitAnswer(ctx, testCode, "Alice", 2, 12); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := engine.SettleQuestion(ctx, testCode, 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Correct != 2 {
		t.Fatalf("expected correct option 2, got %d", res.Correct)
	}
	if len(res.Leaderboard) != 1 || res.Leaderboard[0].Name != "Alice" {
		t.Fatalf("unexpected leaderboard %+v", res.Leaderboard)
	}
	if res.Leaderboard[0].LastAnswer.SecondsLeft != 12 {
		t.Fatalf("expected last answer snapshot, got %+v", res.Leaderboard[0].LastAnswer)
	}
}

func TestStaleSettleAfterAdvanceIsDropped(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	if _, err := engine.Start(ctx, testCode); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.Advance(ctx, testCode); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// Stands in for the countdown armed when question 1 went live.
	engine.Countdowns().Start(testCode, 600, nil, nil)

	// An expiry for question 0 that fired just before the advance cancelled
	// it must neither reveal question 1 nor stop its countdown.
	res, err := engine.SettleQuestion(ctx, testCode, 0)
	if err != nil {
		t.Fatalf("stale settle: %v", err)
	}
	if res != nil {
		t.Fatalf("stale settle must be a no-op, got %+v", res)
	}
	if !engine.Countdowns().Active(testCode) {
		t.Fatalf("stale settle stopped the active question's countdown")
	}

	res, err = engine.SettleQuestion(ctx, testCode, 1)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res == nil || res.Correct != 1 {
		t.Fatalf("expected question 1 settled, got %+v", res)
	}
	if engine.Countdowns().Active(testCode) {
		t.Fatalf("settling the live question must stop its countdown")
	}
}

func TestRejoinSupersedesOldConnection(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 1, "conn-a1")
	mustJoin(t, engine, "Alice", 1, "conn-a2")

	// The superseded socket's close arrives late; it must not evict the
	// rejoined player or tear the session down.
	res, err := engine.HandleDisconnect(ctx, "conn-a1")
	if err != nil || res != nil {
		t.Fatalf("stale close must be absorbed, got res=%+v err=%v", res, err)
	}
	session, err := store.Load(ctx, testCode)
	if err != nil {
		t.Fatalf("session gone after stale close: %v", err)
	}
	if _, ok := session.ParticipantByName("Alice"); !ok || session.PlayerCount != 1 {
		t.Fatalf("live player lost: %+v", session.Participants)
	}

	// The live connection still drives the real departure.
	lres, err := engine.HandleDisconnect(ctx, "conn-a2")
	if err != nil {
		t.Fatalf("live disconnect: %v", err)
	}
	if lres == nil || !lres.Removed {
		t.Fatalf("expected cleanup when the last player leaves, got %+v", lres)
	}
}

func TestLeaveRemovesPlayer(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	mustJoin(t, engine, "Bob", 0, "conn-bob")

	// A leave for a connection bound to a different code is ignored.
	if res, err := engine.Leave(ctx, "NOPE42", "conn-alice"); err != nil || res != nil {
		t.Fatalf("mismatched leave must be a no-op, got res=%+v err=%v", res, err)
	}

	res, err := engine.Leave(ctx, testCode, "conn-alice")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.Removed || res.PlayerCount != 1 || len(res.Players) != 1 || res.Players[0].Name != "Bob" {
		t.Fatalf("unexpected roster after leave: %+v", res)
	}
	session, _ := store.Load(ctx, testCode)
	if _, ok := session.Scores["Alice"]; ok {
		t.Fatalf("departed player kept a score entry")
	}
}

func TestDisconnectRemovesPlayerAndCleansEmptySession(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	mustJoin(t, engine, "Bob", 0, "conn-bob")

	res, err := engine.HandleDisconnect(ctx, "conn-alice")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if res.Removed || res.PlayerCount != 1 {
		t.Fatalf("expected one player left, got %+v", res)
	}
	session, _ := store.Load(ctx, testCode)
	if _, ok := session.Scores["Alice"]; ok {
		t.Fatalf("departed player must lose their score entry")
	}

	res, err = engine.HandleDisconnect(ctx, "conn-bob")
	if err != nil {
		t.Fatalf("disconnect last: %v", err)
	}
	if !res.Removed {
		t.Fatalf("expected session cleanup when last player leaves")
	}
	if _, err := store.Load(ctx, testCode); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	engine, _ := newTestEngine(t)
	res, err := engine.HandleDisconnect(context.Background(), "never-registered")
	if err != nil || res != nil {
		t.Fatalf("expected silent no-op, got res=%+v err=%v", res, err)
	}
}

func TestDisconnectAllKeepsHostOnly(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")
	mustJoin(t, engine, "Alice", 0, "conn-alice")
	mustJoin(t, engine, "Bob", 0, "conn-bob")

	res, err := engine.DisconnectAll(ctx, testCode)
	if err != nil {
		t.Fatalf("disconnect all: %v", err)
	}
	if len(res.Evicted) != 2 {
		t.Fatalf("expected 2 evicted connections, got %d", len(res.Evicted))
	}

	session, err := store.Load(ctx, testCode)
	if err != nil {
		t.Fatalf("session must survive a mass eviction: %v", err)
	}
	if len(session.Participants) != 0 || session.PlayerCount != 0 {
		t.Fatalf("expected empty roster, got %+v", session.Participants)
	}

	// Host leaving the emptied session finishes the teardown.
	lres, err := engine.HandleDisconnect(ctx, "conn-host")
	if err != nil {
		t.Fatalf("host disconnect: %v", err)
	}
	if !lres.Removed {
		t.Fatalf("expected cleanup once host leaves empty session")
	}
	if _, err := store.Load(ctx, testCode); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestRehydrateCountsStoredSessions(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)
	mustJoin(t, engine, domain.HostName, 0, "conn-host")

	n, err := engine.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
}

func newTestEngine(t *testing.T) (*app.Engine, app.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		testCode: sampleQuiz(),
	}), 5*time.Minute)
	engine := app.NewEngine(store, quizzes, app.NewConnectionRegistry(), app.NewCountdownScheduler())
	return engine, store
}

func mustJoin(t *testing.T, engine *app.Engine, name string, teamID int, connID string) *app.JoinResult {
	t.Helper()
	res, err := engine.Join(context.Background(), testCode, name, teamID, connID)
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return res
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Capitals",
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Berlin", "Madrid", "Paris", "Rome"}, Correct: 2, Points: 1000, TimeLimitSec: 30},
			{Text: "Capital of Japan?", Options: []string{"Kyoto", "Tokyo", "Osaka"}, Correct: 1, Points: 1000, TimeLimitSec: 20},
			{Text: "Capital of Peru?", Options: []string{"Lima", "Quito", "Bogota"}, Correct: 0, Points: 1000, TimeLimitSec: 15},
		},
		Teams: []domain.Team{
			{ID: 1, Name: "Red", Color: "#e74c3c"},
			{ID: 2, Name: "Blue", Color: "#3498db"},
		},
	}
}
