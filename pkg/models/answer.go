package models

import "time"

// Outcome annotates how an answer was produced.
type Outcome string

const (
	OutcomeHitEphemeral Outcome = "hit_ephemeral"
	OutcomeHitDurable   Outcome = "hit_durable"
	OutcomeMiss         Outcome = "miss"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeError        Outcome = "error"
)

// CacheHit reports whether the answer was served from either cache tier.
func (o Outcome) CacheHit() bool {
	return o == OutcomeHitEphemeral || o == OutcomeHitDurable
}

// Answer is the single result of a gateway call.
type Answer struct {
	Question  string        `json:"question"`
	Response  Response      `json:"response"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind string        `json:"error_kind,omitempty"`
	WaitTime  time.Duration `json:"wait_time,omitempty"`
	Recovered bool          `json:"recovered,omitempty"`
}
