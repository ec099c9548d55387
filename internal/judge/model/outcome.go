package model

import "fmt"

// OutcomeKind tags which stage produced a job's terminal outcome.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeWriteFailure   OutcomeKind = "write_failure"
	OutcomeCompileFailure OutcomeKind = "compile_failure"
	OutcomeLaunchFailure  OutcomeKind = "launch_failure"
	OutcomeRuntimeFailure OutcomeKind = "runtime_failure"
	OutcomeTimeout        OutcomeKind = "timeout"
	OutcomeCanceled       OutcomeKind = "canceled"
)

// Outcome is the terminal payload of a job.
// Output is set only for success; Detail carries the failure description.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Output   string      `json:"output,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	ExitCode int         `json:"exit_code"`
}

// Success wraps captured program output.
func Success(output string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Output: output}
}

// WriteFailure records a source write error.
func WriteFailure(detail string) Outcome {
	return Outcome{Kind: OutcomeWriteFailure, Detail: detail, ExitCode: -1}
}

// CompileFailure records a non-zero compiler exit with its diagnostics.
func CompileFailure(detail string, exitCode int) Outcome {
	return Outcome{Kind: OutcomeCompileFailure, Detail: detail, ExitCode: exitCode}
}

// LaunchFailure records an executable that could not be started.
func LaunchFailure(detail string) Outcome {
	return Outcome{Kind: OutcomeLaunchFailure, Detail: detail, ExitCode: -1}
}

// RuntimeFailure records a program that started and exited non-zero.
func RuntimeFailure(detail string, exitCode int) Outcome {
	return Outcome{Kind: OutcomeRuntimeFailure, Detail: detail, ExitCode: exitCode}
}

// Timeout records a program killed at its deadline.
func Timeout(detail string) Outcome {
	return Outcome{Kind: OutcomeTimeout, Detail: detail, ExitCode: -1}
}

// Canceled records a job abandoned because the service stopped.
func Canceled(detail string) Outcome {
	return Outcome{Kind: OutcomeCanceled, Detail: detail, ExitCode: -1}
}

// IsSuccess reports whether the program ran and exited zero.
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// Text renders the outcome as the single result string exposed by the API.
func (o Outcome) Text() string {
	switch o.Kind {
	case OutcomeSuccess:
		return o.Output
	case OutcomeWriteFailure:
		return "write failed: " + o.Detail
	case OutcomeCompileFailure:
		return "compile failed: " + o.Detail
	case OutcomeLaunchFailure, OutcomeRuntimeFailure:
		return "run failed: " + o.Detail
	case OutcomeTimeout:
		return "run failed: time limit exceeded: " + o.Detail
	case OutcomeCanceled:
		return "canceled: " + o.Detail
	default:
		return fmt.Sprintf("unknown outcome %q: %s", o.Kind, o.Detail)
	}
}
