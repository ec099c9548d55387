package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges:
// 10000-10999: System & common errors
// 12000-12999: Question bank errors
// 13000-13999: Job & toolchain errors
const (
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Storage errors (10100-10199)
	StorageError  ErrorCode = 10100
	CacheError    ErrorCode = 10200
	PublishFailed ErrorCode = 10250
	ArchiveFailed ErrorCode = 10260
	ConfigInvalid ErrorCode = 10270

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Question bank (12000-12099)
	QuestionNotFound   ErrorCode = 12000
	QuestionSaveFailed ErrorCode = 12001
	QuestionCorrupted  ErrorCode = 12002

	// Jobs (13000-13099)
	JobNotFound          ErrorCode = 13000
	JobCreateFailed      ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	JobAlreadyDone       ErrorCode = 13004

	// Judge pipeline (13100-13199)
	JudgeQueueFull    ErrorCode = 13100
	JudgeSystemError  ErrorCode = 13101
	CompilationError  ErrorCode = 13102
	RuntimeError      ErrorCode = 13103
	TimeLimitExceeded ErrorCode = 13104
	LaunchFailed      ErrorCode = 13107
	WriteFailed       ErrorCode = 13108
)

var errorMessages = map[ErrorCode]string{
	Success: "Success",

	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	StorageError:  "Storage operation failed",
	CacheError:    "Cache operation failed",
	PublishFailed: "Event publish failed",
	ArchiveFailed: "Artifact archive failed",
	ConfigInvalid: "Invalid configuration",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	QuestionNotFound:   "Question not found",
	QuestionSaveFailed: "Failed to save question",
	QuestionCorrupted:  "Question record is corrupted",

	JobNotFound:          "Job not found",
	JobCreateFailed:      "Failed to create job",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	JobAlreadyDone:       "Job already finished",

	JudgeQueueFull:    "Judge queue is full, please try again later",
	JudgeSystemError:  "Judge system error",
	CompilationError:  "Compilation error",
	RuntimeError:      "Runtime error",
	TimeLimitExceeded: "Time limit exceeded",
	LaunchFailed:      "Executable could not be started",
	WriteFailed:       "Source could not be written",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound, c == QuestionNotFound, c == JobNotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c == CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case c == LanguageNotSupported:
		return http.StatusBadRequest
	case c >= 10300 && c < 10400:
		return http.StatusBadRequest
	case c == InvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
