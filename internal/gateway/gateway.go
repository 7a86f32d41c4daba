package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// ErrGateway marks failures of the model provider.
var ErrGateway = errors.New("model gateway failure")

type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Assistant messages may carry tool
// requests; tool messages answer the request named by ToolCallID.
type Message struct {
	Role         Role
	Content      string
	ToolRequests []ToolRequest
	ToolCallID   string
}

// ToolRequest asks for one tool invocation. Arguments are passed through
// unvalidated.
type ToolRequest struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// Decision is either a final reply or a non-empty list of tool requests.
type Decision struct {
	Reply        string
	ToolRequests []ToolRequest
}

func (d Decision) Final() bool {
	return len(d.ToolRequests) == 0
}

type Gateway interface {
	Decide(ctx context.Context, transcript []Message, tools []ToolDeclaration) (*Decision, error)
}
