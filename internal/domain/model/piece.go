package model

import "time"

// Piece is an imported sheet of music.
type Piece struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	SourceName string     `json:"source_name"`
	Score      ScoreModel `json:"score"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PracticeSession is one analyzed attempt at a piece.
type PracticeSession struct {
	ID              string           `json:"id"`
	PieceID         string           `json:"piece_id"`
	UserID          string           `json:"user_id"`
	Instrument      Instrument       `json:"instrument"`
	DynamicsEnabled bool             `json:"dynamics_enabled"`
	Performance     PerformanceModel `json:"performance"`
	Feedback        FeedbackReport   `json:"feedback"`
	CreatedAt       time.Time        `json:"created_at"`
}

// JobStatus tracks an asynchronous practice analysis.
type JobStatus string

// Job lifecycle.
const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// PracticeJob is the payload that flows through the job queue.
type PracticeJob struct {
	ID              string     `json:"id"`
	PieceID         string     `json:"piece_id"`
	UserID          string     `json:"user_id"`
	Instrument      Instrument `json:"instrument"`
	DynamicsEnabled bool       `json:"dynamics_enabled"`
	Samples         []float64  `json:"-"`
	SampleRate      int        `json:"sample_rate"`
	Channels        int        `json:"channels"`
	SubmittedAt     time.Time  `json:"submitted_at"`
}

// JobInfo is the visible state of a practice job.
type JobInfo struct {
	ID        string    `json:"id"`
	PieceID   string    `json:"piece_id"`
	UserID    string    `json:"user_id"`
	Status    JobStatus `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
