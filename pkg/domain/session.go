package domain

import "time"

// Message is a single chat turn in a tutoring conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// QuizRecord is an opaque quiz event (questions asked, answers given, scores).
// The session layer never inspects it; reporting code may decode it.
type QuizRecord = map[string]any

// Session is the unit of per-conversation state: the chat transcript, the quiz
// history and the learner's progress map.
type Session struct {
	// ID is opaque and immutable once assigned.
	ID string `json:"id"`

	// UserID is the owning identity, set at creation.
	UserID string `json:"user_id"`

	// ChatHistory is append-only between explicit clears.
	ChatHistory []Message `json:"chat_history"`

	// QuizHistory is append-only between explicit clears.
	QuizHistory []QuizRecord `json:"quiz_history"`

	// Progress is mutated by shallow merge, never wholesale replacement.
	Progress map[string]any `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session for a user.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		ChatHistory: []Message{},
		QuizHistory: []QuizRecord{},
		Progress:    make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers can never alias cache-owned state.
// Quiz records and progress values are copied one level deep; nested values
// are treated as immutable by convention (they arrive from JSON decoding and
// are never mutated in place).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	out := *s

	out.ChatHistory = make([]Message, len(s.ChatHistory))
	copy(out.ChatHistory, s.ChatHistory)

	out.QuizHistory = make([]QuizRecord, len(s.QuizHistory))
	for i, rec := range s.QuizHistory {
		copied := make(QuizRecord, len(rec))
		for k, v := range rec {
			copied[k] = v
		}
		out.QuizHistory[i] = copied
	}

	out.Progress = make(map[string]any, len(s.Progress))
	for k, v := range s.Progress {
		out.Progress[k] = v
	}

	return &out
}
