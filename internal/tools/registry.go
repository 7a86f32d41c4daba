package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/xaenox/helpdesk-agent/internal/audit"
	"github.com/xaenox/helpdesk-agent/internal/balancer"
	"github.com/xaenox/helpdesk-agent/internal/gateway"
	"github.com/xaenox/helpdesk-agent/internal/locks"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
	"github.com/xaenox/helpdesk-agent/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Name identifies a tool. The set of names is closed.
type Name string

const (
	FindEmployee            Name = "findEmployee"
	FindLeastLoadedEmployee Name = "findLeastLoadedEmployee"
	GetTicketDetails        Name = "getTicketDetails"
	GetStatusOptions        Name = "getStatusOptions"
	GetPriorityOptions      Name = "getPriorityOptions"
	SearchKnowledgeBase     Name = "searchKnowledgeBase"
	GetTicketHistory        Name = "getTicketHistory"

	UpdateTicketTitle       Name = "updateTicketTitle"
	UpdateTicketDescription Name = "updateTicketDescription"
	AssignEmployee          Name = "assignEmployee"
	UpdateTicketStatus      Name = "updateTicketStatus"
	AddInternalComment      Name = "addInternalComment"
)

type Kind int

const (
	KindQuery Kind = iota
	KindMutation
)

type Tool struct {
	Name        Name
	Description string
	Kind        Kind
	Parameters  jsonschema.Definition

	invoke func(ctx context.Context, raw json.RawMessage, v *validator.Validate) Outcome
}

// define binds a handler to its argument type A. Arguments are decoded and
// validated before the handler runs; failures become soft errors.
func define[A any](name Name, kind Kind, description string, params jsonschema.Definition, handle func(context.Context, *A) Outcome) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Kind:        kind,
		Parameters:  params,
		invoke: func(ctx context.Context, raw json.RawMessage, v *validator.Validate) Outcome {
			args := new(A)
			if err := decodeArgs(raw, args); err != nil {
				return Soft("Invalid arguments for %s: %v", name, err)
			}
			if err := v.Struct(args); err != nil {
				return Soft("Invalid arguments for %s: %s", name, validationMessage(err))
			}
			return handle(ctx, args)
		},
	}
}

// KnowledgeSearcher answers knowledge base queries.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) (*retrieval.SearchResult, error)
}

type Dependencies struct {
	Store     storage.Storage
	Balancer  *balancer.Balancer
	Knowledge KnowledgeSearcher
	Audit     *audit.Recorder
	Locker    locks.Locker
	Logger    *zap.Logger
}

type Registry struct {
	tools    map[Name]*Tool
	order    []Name
	validate *validator.Validate

	store     storage.Storage
	balancer  *balancer.Balancer
	knowledge KnowledgeSearcher
	audit     *audit.Recorder
	locker    locks.Locker
	logger    *zap.Logger
}

func NewRegistry(deps Dependencies) *Registry {
	if deps.Locker == nil {
		deps.Locker = locks.NewKeyedMutex()
	}
	r := &Registry{
		tools:     make(map[Name]*Tool),
		validate:  newValidator(),
		store:     deps.Store,
		balancer:  deps.Balancer,
		knowledge: deps.Knowledge,
		audit:     deps.Audit,
		locker:    deps.Locker,
		logger:    deps.Logger,
	}
	for _, t := range r.catalog() {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

func (r *Registry) catalog() []*Tool {
	return append(r.queryTools(), r.mutationTools()...)
}

func (r *Registry) Lookup(name Name) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Declarations lists every tool in catalog order for the model.
func (r *Registry) Declarations() []gateway.ToolDeclaration {
	decls := make([]gateway.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		decls = append(decls, gateway.ToolDeclaration{
			Name:        string(t.Name),
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

// Execute runs one tool request. Unknown names are soft errors.
func (r *Registry) Execute(ctx context.Context, req gateway.ToolRequest) Outcome {
	start := time.Now()

	t, ok := r.tools[Name(req.Name)]
	if !ok {
		r.logger.Warn("Model requested unknown tool", zap.String("tool", req.Name))
		return Soft("Tool not found: %s", req.Name)
	}

	outcome := t.invoke(ctx, req.Arguments, r.validate)

	fields := []zap.Field{
		zap.String("tool", req.Name),
		zap.String("call_id", req.ID),
		zap.Stringer("status", outcome.Status),
		zap.Duration("duration", time.Since(start)),
	}
	if outcome.Err != nil {
		r.logger.Error("Tool failed", append(fields, zap.Error(outcome.Err))...)
	} else {
		r.logger.Info("Tool executed", fields...)
	}
	return outcome
}

// ExecuteAll runs one batch of tool requests and returns outcomes in request
// order. Queries run concurrently; mutations run one after another in
// request order. The first hard error cancels the rest and is returned as a
// *ToolError.
func (r *Registry) ExecuteAll(ctx context.Context, reqs []gateway.ToolRequest) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)

	var mutations []int
	for i, req := range reqs {
		if t, ok := r.tools[Name(req.Name)]; ok && t.Kind == KindMutation {
			mutations = append(mutations, i)
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.Execute(gctx, req)
			return outcomeError(reqs[i], outcomes[i])
		})
	}

	if len(mutations) > 0 {
		g.Go(func() error {
			for _, i := range mutations {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes[i] = r.Execute(gctx, reqs[i])
				if err := outcomeError(reqs[i], outcomes[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func outcomeError(req gateway.ToolRequest, o Outcome) error {
	if o.Status != StatusHardError {
		return nil
	}
	return &ToolError{Tool: Name(req.Name), Err: o.Err}
}

// lookupFailed turns a store lookup error into an outcome: missing rows are
// soft errors, anything else is hard.
func lookupFailed(err error, format string, args ...any) Outcome {
	if errors.Is(err, models.ErrNotFound) {
		return Soft(format, args...)
	}
	return Hard(err)
}

// withTicketLock runs fn inside the ticket's exclusive section.
func (r *Registry) withTicketLock(ctx context.Context, ticketID string, fn func() Outcome) Outcome {
	unlock, err := r.locker.Lock(ctx, "ticket:"+ticketID)
	if err != nil {
		return Hard(fmt.Errorf("error locking ticket %s: %w", ticketID, err))
	}
	defer unlock()
	return fn()
}
