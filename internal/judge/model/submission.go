package model

// Submission is the accepted body of POST /submit.
// Lang is informational; every submission takes the C++ toolchain path.
type Submission struct {
	Lang  string  `json:"lang"`
	Code  string  `json:"code"`
	Input *string `json:"input,omitempty"`
}

// OutcomeEvent is published once per job after it reaches Done.
type OutcomeEvent struct {
	JobID      string  `json:"job_id"`
	Lang       string  `json:"lang"`
	Outcome    Outcome `json:"outcome"`
	Result     string  `json:"result"`
	CreatedAt  int64   `json:"created_at"`
	FinishedAt int64   `json:"finished_at"`
	DurationMs int64   `json:"duration_ms"`
}

// FinishedJob is handed to outcome sinks after the registry records Done.
// WorkDir still holds the job's artifacts while sinks run.
type FinishedJob struct {
	Status     Status
	Submission Submission
	WorkDir    string
	SourcePath string
}
