// Package engagement derives learner-engagement metrics from session state
// and ships them to an exporter on a background schedule.
package engagement

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/moneymentor/mentor/pkg/domain"
)

// Report is the per-session engagement row handed to exporters.
type Report struct {
	UserID           string        `json:"user_id"`
	SessionID        string        `json:"session_id"`
	MessagesSent     int           `json:"messages_per_session"`
	SessionDuration  time.Duration `json:"session_duration"`
	QuizzesAttempted int           `json:"quizzes_attempted"`
	CorrectAnswers   int           `json:"correct_answers"`
	LastActivity     time.Time     `json:"last_activity"`
}

// quizOutcome is the typed view of an opaque quiz record. Records that don't
// carry these keys simply decode to zero values.
type quizOutcome struct {
	QuizID  string  `mapstructure:"quiz_id"`
	Correct bool    `mapstructure:"correct"`
	Score   float64 `mapstructure:"score"`
}

// BuildReport computes the engagement metrics for one session.
func BuildReport(s *domain.Session, now time.Time) Report {
	r := Report{
		UserID:           s.UserID,
		SessionID:        s.ID,
		QuizzesAttempted: len(s.QuizHistory),
		LastActivity:     s.UpdatedAt,
	}

	// Only learner-authored turns count as engagement.
	for _, msg := range s.ChatHistory {
		if msg.Role == "user" {
			r.MessagesSent++
		}
	}

	if !s.CreatedAt.IsZero() && now.After(s.CreatedAt) {
		r.SessionDuration = now.Sub(s.CreatedAt)
	}

	for _, rec := range s.QuizHistory {
		var outcome quizOutcome
		if err := mapstructure.Decode(rec, &outcome); err != nil {
			continue
		}
		if outcome.Correct || outcome.Score >= 1 {
			r.CorrectAnswers++
		}
	}

	return r
}

// BuildReports computes reports for a batch of sessions.
func BuildReports(sessions []*domain.Session, now time.Time) []Report {
	reports := make([]Report, 0, len(sessions))
	for _, s := range sessions {
		reports = append(reports, BuildReport(s, now))
	}
	return reports
}
