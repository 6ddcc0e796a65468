package redis

import (
	"encoding/json"
	"fmt"
	"sort"

	"livequiz-service/internal/domain"
)

// schemaVersion tags the persisted session blob so future shape changes can
// be migrated deliberately instead of by field-presence guessing.
const schemaVersion = 1

// Redis has no native map value, so the score and answer maps are persisted
// as ordered key/value pair slices.
type scorePair struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type answerPair struct {
	Name   string        `json:"name"`
	Answer domain.Answer `json:"answer"`
}

type sessionRecord struct {
	Version         int                  `json:"version"`
	Code            string               `json:"code"`
	QuizID          string               `json:"quizId,omitempty"`
	Title           string               `json:"title,omitempty"`
	Questions       []domain.Question    `json:"questions"`
	Teams           []domain.Team        `json:"teams,omitempty"`
	Participants    []domain.Participant `json:"participants,omitempty"`
	Active          bool                 `json:"active"`
	CurrentQuestion int                  `json:"currentQuestion"`
	PlayerCount     int                  `json:"playerCount"`
	Scores          []scorePair          `json:"scores,omitempty"`
	Answers         []answerPair         `json:"answers,omitempty"`
}

func encodeSession(session *domain.Session) ([]byte, error) {
	rec := sessionRecord{
		Version:         schemaVersion,
		Code:            session.Code,
		QuizID:          session.QuizID,
		Title:           session.Title,
		Questions:       session.Questions,
		Teams:           session.Teams,
		Participants:    session.Participants,
		Active:          session.Active,
		CurrentQuestion: session.CurrentQuestion,
		PlayerCount:     session.PlayerCount,
	}
	for name, score := range session.Scores {
		rec.Scores = append(rec.Scores, scorePair{Name: name, Score: score})
	}
	for name, answer := range session.Answers {
		rec.Answers = append(rec.Answers, answerPair{Name: name, Answer: answer})
	}
	// Stable blobs regardless of map iteration order.
	sort.Slice(rec.Scores, func(i, j int) bool { return rec.Scores[i].Name < rec.Scores[j].Name })
	sort.Slice(rec.Answers, func(i, j int) bool { return rec.Answers[i].Name < rec.Answers[j].Name })
	return json.Marshal(rec)
}

func decodeSession(blob []byte) (*domain.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRecord, err)
	}
	if rec.Version != schemaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", domain.ErrBadRecord, rec.Version)
	}
	session := &domain.Session{
		Code:            rec.Code,
		QuizID:          rec.QuizID,
		Title:           rec.Title,
		Questions:       rec.Questions,
		Teams:           rec.Teams,
		Participants:    rec.Participants,
		Active:          rec.Active,
		CurrentQuestion: rec.CurrentQuestion,
		PlayerCount:     rec.PlayerCount,
		Scores:          make(map[string]int, len(rec.Scores)),
		Answers:         make(map[string]domain.Answer, len(rec.Answers)),
	}
	for _, p := range rec.Scores {
		session.Scores[p.Name] = p.Score
	}
	for _, p := range rec.Answers {
		session.Answers[p.Name] = p.Answer
	}
	return session, nil
}
