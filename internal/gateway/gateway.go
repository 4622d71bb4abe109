// Package gateway provides the client side of the AI analysis service: given
// a round number, an image reference and the prior round history, the service
// returns a structured analysis payload. The service is external, slow, and
// occasionally produces malformed output; callers must treat every failure
// kind explicitly.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gavrielSorek/innerview-server/internal/domain"
)

// Failure kinds for gateway errors.
const (
	KindTimeout         = "timeout"
	KindRateLimited     = "rate_limited"
	KindUnreachable     = "unreachable"
	KindMalformedOutput = "malformed_output"
)

// Error is a gateway failure. The core never retries these itself; the kind
// is surfaced so the caller can decide between immediate retry, backoff, or
// abort.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analysis gateway failure (%s)", e.Kind)
	}
	return fmt.Sprintf("analysis gateway failure (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PriorRound is the read-only slice of history handed to the gateway as
// context for a later round.
type PriorRound struct {
	RoundNumber int                   `json:"round_number"`
	RoundLabel  string                `json:"round_label"`
	Passed      bool                  `json:"passed"`
	Analysis    *domain.RoundAnalysis `json:"analysis,omitempty"`
}

// AnalysisRequest carries everything the analysis service needs for one round.
type AnalysisRequest struct {
	SessionID         string       `json:"session_id"`
	ClientID          string       `json:"client_id"`
	RoundNumber       int          `json:"round_number"`
	RoundLabel        string       `json:"round_label"`
	ImageRef          string       `json:"image_ref"`
	AdditionalContext string       `json:"additional_context,omitempty"`
	PriorRounds       []PriorRound `json:"prior_rounds,omitempty"`
}

// Analyzer is the AI analysis gateway the workflow consumes. The raw payload
// flows back unparsed so the core owns the shape-vs-rules distinction.
type Analyzer interface {
	AnalyzeRound(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)
	Close() error
}
