package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/helpdesk-agent/internal/gateway"
	"github.com/xaenox/helpdesk-agent/internal/tools"
	"go.uber.org/zap"
)

const (
	DefaultMaxRoundTrips = 8

	FallbackReply = "Thanks for reaching out! I wasn't able to finish looking into this right now, " +
		"but a member of our support team will follow up with you shortly."

	defaultSystemPrompt = `You are a customer support agent working on a helpdesk ticket.
Use the tools to look up the ticket, its history, the available statuses and priorities, relevant staff and knowledge base articles.
Make the updates the ticket needs (title, description, status, priority, assignment) and record important findings as internal comments.
Your final message goes directly to the customer: acknowledge the issue, mention relevant knowledge base articles, do not list internal changes, and end with next steps.`
)

// Executor runs tool requests on behalf of the loop.
type Executor interface {
	Declarations() []gateway.ToolDeclaration
	ExecuteAll(ctx context.Context, reqs []gateway.ToolRequest) ([]tools.Outcome, error)
}

type Config struct {
	MaxRoundTrips  int
	RequestTimeout time.Duration
	SystemPrompt   string
}

type Result struct {
	Reply      string
	RoundTrips int
	ToolCalls  int
	// Degraded is set when the loop gave up and Reply is the fallback.
	Degraded bool
}

type state int

const (
	deliberating state = iota
	acting
)

type Resolver struct {
	gateway gateway.Gateway
	tools   Executor
	config  Config
	logger  *zap.Logger
}

func NewResolver(gw gateway.Gateway, executor Executor, config Config, logger *zap.Logger) *Resolver {
	if config.MaxRoundTrips <= 0 {
		config.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	return &Resolver{
		gateway: gw,
		tools:   executor,
		config:  config,
		logger:  logger,
	}
}

// Resolve drives the model and the tools until the model answers with a
// reply for the customer. The model is consulted at most MaxRoundTrips
// times; when the last allowed decision still asks for tools they are not
// run, the fallback reply is returned and an alert is logged.
// Mutations already applied stay applied whatever happens later.
func (r *Resolver) Resolve(ctx context.Context, ticketID, customerMessage string) (*Result, error) {
	if r.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RequestTimeout)
		defer cancel()
	}

	logger := r.logger.With(zap.String("ticket_id", ticketID))
	declarations := r.tools.Declarations()
	transcript := []gateway.Message{
		{Role: gateway.RoleSystem, Content: r.config.SystemPrompt},
		{Role: gateway.RoleHuman, Content: fmt.Sprintf("For ticket %s, here is the customer message: %s", ticketID, customerMessage)},
	}

	var (
		current   = deliberating
		decision  *gateway.Decision
		rounds    int
		toolCalls int
	)
	for {
		switch current {
		case deliberating:
			rounds++

			var err error
			decision, err = r.gateway.Decide(ctx, transcript, declarations)
			if err != nil {
				return nil, fmt.Errorf("error deciding next step: %w", err)
			}

			if decision.Final() {
				if decision.Reply == "" {
					logger.Warn("Model returned an empty reply", zap.Int("round_trips", rounds))
					return &Result{Reply: FallbackReply, RoundTrips: rounds, ToolCalls: toolCalls, Degraded: true}, nil
				}
				logger.Info("Ticket resolved",
					zap.Int("round_trips", rounds),
					zap.Int("tool_calls", toolCalls))
				return &Result{Reply: decision.Reply, RoundTrips: rounds, ToolCalls: toolCalls}, nil
			}

			// Tools requested by the last allowed decision never run.
			if rounds == r.config.MaxRoundTrips {
				logger.Error("Agent loop exhausted without a reply",
					zap.Bool("alert", true),
					zap.Int("round_trips", rounds),
					zap.Int("tool_calls", toolCalls),
					zap.Int("dropped_tool_calls", len(decision.ToolRequests)))
				return &Result{Reply: FallbackReply, RoundTrips: rounds, ToolCalls: toolCalls, Degraded: true}, nil
			}
			current = acting

		case acting:
			outcomes, err := r.tools.ExecuteAll(ctx, decision.ToolRequests)
			if err != nil {
				return nil, fmt.Errorf("error executing tools: %w", err)
			}
			toolCalls += len(decision.ToolRequests)

			transcript = append(transcript, gateway.Message{
				Role:         gateway.RoleAssistant,
				Content:      decision.Reply,
				ToolRequests: decision.ToolRequests,
			})
			for i, o := range outcomes {
				transcript = append(transcript, gateway.Message{
					Role:       gateway.RoleTool,
					ToolCallID: decision.ToolRequests[i].ID,
					Content:    o.Content,
				})
			}
			current = deliberating
		}
	}
}
