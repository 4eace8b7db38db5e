package model

// Outcome classifies the result of one processing attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip and failure reasons reported in Result.Reason.
const (
	ReasonNotPending     = "not-pending"
	ReasonAlreadyClaimed = "already-claimed"
	ReasonNotFound       = "not-found"
	ReasonClaimError     = "claim-error"
	ReasonValidation     = "validation"
	ReasonGateway        = "gateway"
	ReasonPersistence    = "persistence"
	ReasonInternal       = "internal"
)

// Result is the structured per-item outcome of a batch run.
type Result struct {
	PayoutID       string       `json:"payoutId"`
	Outcome        Outcome      `json:"outcome"`
	Reason         string       `json:"reason,omitempty"`
	Status         PayoutStatus `json:"status,omitempty"`
	TransactionRef string       `json:"transactionRef,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Summary counts results by outcome.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize tallies a batch of results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			s.Completed++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}
