package model

import "time"

// State is the lifecycle state of a job.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
)

// Status is a point-in-time view of one job.
type Status struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Outcome    *Outcome  `json:"outcome,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the job reached its terminal state.
func (s Status) Done() bool {
	return s.State == StateDone
}

// ResultResponse is the body of GET /result/:id.
type ResultResponse struct {
	Status string      `json:"status"`
	Result *string     `json:"result,omitempty"`
	Kind   OutcomeKind `json:"kind,omitempty"`
}

// ToResponse renders the status in the API shape.
func (s Status) ToResponse() ResultResponse {
	if !s.Done() || s.Outcome == nil {
		return ResultResponse{Status: string(StateRunning)}
	}
	text := s.Outcome.Text()
	return ResultResponse{Status: string(StateDone), Result: &text, Kind: s.Outcome.Kind}
}
