package domain

// HostName is the reserved display name for the session moderator. The host
// drives start/advance/end, never appears in player-facing rosters, and is
// excluded from the persisted score side table.
const HostName = "host"

// Question models a timed multiple-choice question.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	Correct      int      `json:"correct"`
	Points       int      `json:"points"`
	TimeLimitSec int      `json:"timeLimitSec"`
	ImageURL     string   `json:"imageUrl,omitempty"`
}

// Team is owned by the session; participants only reference it by ID.
type Team struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Participant is a roster entry. Names are unique within a session,
// case-sensitive.
type Participant struct {
	Name   string `json:"name"`
	TeamID int    `json:"teamId,omitempty"`
}

// Answer records a participant's last submission for the current question.
// TimeBonus is the remaining-time fraction (0..1) used to scale points.
type Answer struct {
	Option      int     `json:"option"`
	Correct     bool    `json:"correct"`
	Points      int     `json:"points"`
	SecondsLeft int     `json:"secondsLeft"`
	TimeBonus   float64 `json:"timeBonus"`
}

// Quiz is the content pulled from the authoring side when a host opens a
// session for a game code.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	Teams     []Team     `json:"teams,omitempty"`
}

// Session is the live state of one running game, keyed by its code ("PIN").
// CurrentQuestion is -1 before start and only ever increases; an index past
// the last question means the game is over.
type Session struct {
	Code            string
	QuizID          string
	Title           string
	Questions       []Question
	Teams           []Team
	Participants    []Participant
	Active          bool
	CurrentQuestion int
	PlayerCount     int
	Scores          map[string]int
	Answers         map[string]Answer
}

// NewSession builds a pre-start session from quiz content.
func NewSession(code string, quiz Quiz) *Session {
	return &Session{
		Code:            code,
		QuizID:          quiz.ID,
		Title:           quiz.Title,
		Questions:       quiz.Questions,
		Teams:           quiz.Teams,
		Active:          true,
		CurrentQuestion: -1,
		Scores:          make(map[string]int),
		Answers:         make(map[string]Answer),
	}
}

// CurrentQuestionRef returns the active question, or false when the session
// has not started or has run out of questions.
func (s *Session) CurrentQuestionRef() (*Question, bool) {
	if s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Questions) {
		return nil, false
	}
	return &s.Questions[s.CurrentQuestion], true
}

// IsOver reports whether the question sequence is exhausted.
func (s *Session) IsOver() bool {
	return s.CurrentQuestion >= len(s.Questions)
}

// TeamByID resolves a participant's weak team reference.
func (s *Session) TeamByID(id int) (Team, bool) {
	for _, t := range s.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

// ParticipantByName returns the roster entry for a display name.
func (s *Session) ParticipantByName(name string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}

// LeaderboardEntry is derived per participant when a question settles; it is
// never stored. LastAnswer is the zero value when the participant has not
// answered the current question.
type LeaderboardEntry struct {
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Team       *Team  `json:"team,omitempty"`
	LastAnswer Answer `json:"lastAnswer"`
}
