package models

import (
	"database/sql"
	"time"
)

// QuizQuestion is a single multiple-choice question inside a lesson's mini quiz.
// CorrectAnswer is a zero-based index into Options.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// LessonPlan is one day's generated teaching content.
type LessonPlan struct {
	Title           string         `json:"title"`
	Date            string         `json:"date"`
	DayNumber       int            `json:"dayNumber,omitempty"`
	Duration        string         `json:"duration"`
	Notes           []string       `json:"notes"`
	ReviewQuestions []string       `json:"reviewQuestions"`
	MiniQuiz        []QuizQuestion `json:"miniQuiz"`
	Standards       []string       `json:"standards"`
	Chapter         string         `json:"chapter"`
}

// LessonPlanSet maps ISO date strings (YYYY-MM-DD) to lesson plans.
type LessonPlanSet map[string]LessonPlan

type Document struct {
	ID           int64
	OriginalName string
	StoredPath   string
	PageCount    int
	UploadedAt   time.Time
}

// Generation records one completed lesson-plan generation, including the
// upstream resource ids it consumed so cleanup is auditable.
type Generation struct {
	ID            int64
	DocumentID    sql.NullInt64
	DocumentName  string
	DurationDays  int
	TeacherPrompt string
	StartDate     string
	PlanCount     int
	Payload       string
	FileID        string
	AssistantID   string
	ThreadID      string
	RunID         string
	CreatedAt     time.Time
}
