package app

import (
	"sort"

	"livequiz-service/internal/domain"
)

// BuildLeaderboard assembles the ranked scoreboard from session state. It is
// a pure function: identical state yields identical entries and ordering.
//
// Ranking: cumulative score descending, then last-answer correctness (a
// correct final answer outranks an incorrect one on equal score), then
// last-answer time bonus descending, then name ascending to keep the order
// total regardless of map iteration.
func BuildLeaderboard(s *domain.Session) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.Scores))
	for name, score := range s.Scores {
		if name == domain.HostName {
			continue
		}
		entry := domain.LeaderboardEntry{
			Name:       name,
			Score:      score,
			LastAnswer: s.Answers[name],
		}
		if p, ok := s.ParticipantByName(name); ok && p.TeamID != 0 {
			if team, ok := s.TeamByID(p.TeamID); ok {
				entry.Team = &team
			}
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LastAnswer.Correct != b.LastAnswer.Correct {
			return a.LastAnswer.Correct
		}
		if a.LastAnswer.TimeBonus != b.LastAnswer.TimeBonus {
			return a.LastAnswer.TimeBonus > b.LastAnswer.TimeBonus
		}
		return a.Name < b.Name
	})
	return entries
}
