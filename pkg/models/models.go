package models

import "time"

// Domain models matching the local store layout in db/migrations and the
// remote form service's JSON payloads.

// BoolTypeCode marks a question whose answer is a boolean switch. Every other
// type code is answered with free text.
const BoolTypeCode = 2

type Form struct {
	ID       string `json:"ID" db:"id"`
	FormName string `json:"formName" db:"form_name"`
	Active   bool   `json:"active" db:"active"`
}

type Question struct {
	ID       string `json:"ID"`
	FormID   string `json:"form_ID"`
	Question string `json:"question"`
	TypeCode int    `json:"type_code"`
}

// IsBool reports whether the question is answered with a boolean.
func (q Question) IsBool() bool { return q.TypeCode == BoolTypeCode }

// AnswerRecord is one answer inside a deep-insert payload. Exactly one of
// TextAnswer and BoolAnswer is set.
type AnswerRecord struct {
	ID         string  `json:"ID,omitempty"`
	QuestionID string  `json:"question_ID"`
	TextAnswer *string `json:"textAnswer,omitempty"`
	BoolAnswer *bool   `json:"boolAnswer,omitempty"`
}

// QueuedSubmission is the deep-insert body for a FormRecord and its answers.
// The IDs are fixed before the first network attempt so that replaying the
// same payload never creates a second record server-side.
type QueuedSubmission struct {
	ID            string         `json:"ID,omitempty"`
	FormID        string         `json:"form_ID"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	AnswerRecords []AnswerRecord `json:"answerRecords"`
}

// QueueRow is a pending submission in the local queue. Key is the
// auto-increment sequence that defines replay order.
type QueueRow struct {
	Key        int64            `json:"id" db:"id"`
	EnqueuedAt time.Time        `json:"ts" db:"enqueued_at"`
	Payload    QueuedSubmission `json:"payload" db:"payload"`
}
