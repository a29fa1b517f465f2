package models

import "time"

// QueryLogEntry records one gateway call in the history log.
type QueryLogEntry struct {
	RequestID    string    `json:"request_id"`
	QuestionHash string    `json:"question_hash"`
	Question     string    `json:"question,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Recovered    bool      `json:"recovered"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueryLogOpts specifies filters for querying the history log.
type QueryLogOpts struct {
	Outcome   Outcome
	ErrorKind string
	Since     time.Time
	RequestID string
	Limit     int
}

// QueryLogStat holds aggregate history counts for an outcome/day combination.
type QueryLogStat struct {
	Outcome Outcome
	Day     string
	Count   int
}

// HistoryConfig controls the query history log.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	// StoreQuestions keeps the question text; otherwise only its hash is kept.
	StoreQuestions bool `yaml:"store_questions"`
	// MaxQuestionSize truncates stored questions (bytes). 0 means no limit.
	MaxQuestionSize int `yaml:"max_question_size"`
}
