package tools

import (
	"encoding/json"
	"fmt"
)

type Status int

const (
	// StatusOK is a normal observation.
	StatusOK Status = iota
	// StatusSoftError is fed back to the model and the loop continues.
	StatusSoftError
	// StatusHardError aborts the request.
	StatusHardError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSoftError:
		return "soft_error"
	case StatusHardError:
		return "hard_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one tool invocation. Content is the observation
// shown to the model; Err is set only for hard errors.
type Outcome struct {
	Status  Status
	Content string
	Err     error
}

func OK(content string) Outcome {
	return Outcome{Status: StatusOK, Content: content}
}

func OKJSON(v any) Outcome {
	data, err := json.Marshal(v)
	if err != nil {
		return Hard(fmt.Errorf("error encoding observation: %w", err))
	}
	return OK(string(data))
}

func Soft(format string, args ...any) Outcome {
	return Outcome{Status: StatusSoftError, Content: fmt.Sprintf(format, args...)}
}

func SoftJSON(v any) Outcome {
	data, err := json.Marshal(v)
	if err != nil {
		return Hard(fmt.Errorf("error encoding observation: %w", err))
	}
	return Outcome{Status: StatusSoftError, Content: string(data)}
}

func Hard(err error) Outcome {
	return Outcome{Status: StatusHardError, Content: "Tool failed", Err: err}
}

// ToolError is the error surfaced when a tool ends in a hard error.
type ToolError struct {
	Tool Name
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
