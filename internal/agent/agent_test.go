package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/helpdesk-agent/internal/audit"
	"github.com/xaenox/helpdesk-agent/internal/balancer"
	"github.com/xaenox/helpdesk-agent/internal/gateway"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
	"github.com/xaenox/helpdesk-agent/internal/storage"
	"github.com/xaenox/helpdesk-agent/internal/tools"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedGateway replays decisions in order and repeats the last one.
type scriptedGateway struct {
	decisions   []*gateway.Decision
	err         error
	transcripts [][]gateway.Message
}

func (g *scriptedGateway) Decide(ctx context.Context, transcript []gateway.Message, decls []gateway.ToolDeclaration) (*gateway.Decision, error) {
	g.transcripts = append(g.transcripts, append([]gateway.Message(nil), transcript...))
	if g.err != nil {
		return nil, g.err
	}
	i := min(len(g.transcripts)-1, len(g.decisions)-1)
	return g.decisions[i], nil
}

func (g *scriptedGateway) calls() int {
	return len(g.transcripts)
}

func toolCall(id string, name tools.Name, args string) gateway.ToolRequest {
	return gateway.ToolRequest{ID: id, Name: string(name), Arguments: json.RawMessage(args)}
}

type emptyKnowledge struct{}

func (emptyKnowledge) Search(ctx context.Context, query string) (*retrieval.SearchResult, error) {
	return &retrieval.SearchResult{}, nil
}

type failingStatuses struct {
	storage.Storage
}

func (failingStatuses) ListStatuses(ctx context.Context, activeOnly bool) ([]models.CatalogEntry, error) {
	return nil, errors.New("connection refused")
}

func newStore() *storage.MemoryStorage {
	mem := storage.NewMemoryStorage()
	mem.PutStatus(models.CatalogEntry{ID: "open", Name: "Open", IsActive: true, IsCountedOpen: true})
	mem.PutStatus(models.CatalogEntry{ID: "closed", Name: "Closed", IsActive: true})
	mem.PutPriority(models.CatalogEntry{ID: "low", Name: "Low", IsActive: true})
	mem.PutProfile(models.Profile{UserID: "c1", FirstName: "Carl", IsActive: true, IsCustomer: true})
	mem.PutTicket(models.Ticket{ID: "T1", Title: "Printer jam", StatusID: "open", PriorityID: "low", CreatorID: "c1"})
	return mem
}

func newRegistry(store storage.Storage, logger *zap.Logger) *tools.Registry {
	return tools.NewRegistry(tools.Dependencies{
		Store:     store,
		Balancer:  balancer.New(store, logger),
		Knowledge: emptyKnowledge{},
		Audit:     audit.NewRecorder(store, logger),
		Logger:    logger,
	})
}

func TestResolve_ClosesTicket(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	gw := &scriptedGateway{decisions: []*gateway.Decision{
		{ToolRequests: []gateway.ToolRequest{toolCall("call_1", tools.UpdateTicketStatus, `{"ticketId":"T1","statusId":"closed"}`)}},
		{Reply: "All sorted, your ticket is now closed!"},
	}}
	r := NewResolver(gw, newRegistry(store, zap.NewNop()), Config{}, zap.NewNop())

	result, err := r.Resolve(ctx, "T1", "Thanks, it works now. Please close my ticket.")
	require.NoError(t, err)
	assert.Equal(t, "All sorted, your ticket is now closed!", result.Reply)
	assert.Equal(t, 2, result.RoundTrips)
	assert.Equal(t, 1, result.ToolCalls)
	assert.False(t, result.Degraded)

	first := gw.transcripts[0]
	require.Len(t, first, 2)
	assert.Equal(t, gateway.RoleSystem, first[0].Role)
	assert.Equal(t, gateway.RoleHuman, first[1].Role)
	assert.Contains(t, first[1].Content, "T1")
	assert.Contains(t, first[1].Content, "Please close my ticket.")

	second := gw.transcripts[1]
	require.Len(t, second, 4)
	assert.Equal(t, gateway.RoleAssistant, second[2].Role)
	assert.Equal(t, gateway.RoleTool, second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Contains(t, second[3].Content, "status")

	h, err := store.ListHistory(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, models.Changes{"status_id": models.FieldDiff{From: "open", To: "closed"}}, h[0].Changes)
}

func TestResolve_ExhaustsRoundTrips(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	gw := &scriptedGateway{decisions: []*gateway.Decision{
		{ToolRequests: []gateway.ToolRequest{toolCall("call_n", tools.GetStatusOptions, `{}`)}},
	}}
	r := NewResolver(gw, newRegistry(newStore(), zap.NewNop()), Config{}, logger)

	result, err := r.Resolve(context.Background(), "T1", "hello?")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, FallbackReply, result.Reply)
	assert.Equal(t, DefaultMaxRoundTrips, gw.calls())
	assert.Equal(t, DefaultMaxRoundTrips, result.RoundTrips)

	alerts := logs.FilterField(zap.Bool("alert", true)).All()
	require.Len(t, alerts, 1)
	assert.Equal(t, "T1", alerts[0].ContextMap()["ticket_id"])
}

func TestResolve_CustomMaxRoundTrips(t *testing.T) {
	for _, limit := range []int{1, 3} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			gw := &scriptedGateway{decisions: []*gateway.Decision{
				{ToolRequests: []gateway.ToolRequest{toolCall("c", tools.GetPriorityOptions, `{}`)}},
			}}
			r := NewResolver(gw, newRegistry(newStore(), zap.NewNop()), Config{MaxRoundTrips: limit}, zap.NewNop())

			result, err := r.Resolve(context.Background(), "T1", "hi")
			require.NoError(t, err)
			assert.True(t, result.Degraded)
			assert.Equal(t, limit, gw.calls())
			assert.Equal(t, limit-1, result.ToolCalls)
		})
	}
}

func TestResolve_ExhaustionSkipsLastMutation(t *testing.T) {
	for _, limit := range []int{1, 2} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			gw := &scriptedGateway{decisions: []*gateway.Decision{
				{ToolRequests: []gateway.ToolRequest{toolCall("t", tools.UpdateTicketTitle, `{"ticketId":"T1","title":"Printer jammed on floor 3"}`)}},
			}}
			r := NewResolver(gw, newRegistry(store, zap.NewNop()), Config{MaxRoundTrips: limit}, zap.NewNop())

			result, err := r.Resolve(ctx, "T1", "printer still broken")
			require.NoError(t, err)
			assert.True(t, result.Degraded)
			assert.Equal(t, limit, gw.calls())
			assert.Equal(t, limit-1, result.ToolCalls)

			// Only the decisions that had a round trip left were acted on.
			h, err := store.ListHistory(ctx, "T1")
			require.NoError(t, err)
			assert.Len(t, h, min(limit-1, 1))

			if limit == 1 {
				ticket, err := store.GetTicket(ctx, "T1")
				require.NoError(t, err)
				assert.Equal(t, "Printer jam", ticket.Title)
			}
		})
	}
}

func TestResolve_SoftErrorsContinue(t *testing.T) {
	gw := &scriptedGateway{decisions: []*gateway.Decision{
		{ToolRequests: []gateway.ToolRequest{
			toolCall("a", "launchRockets", `{}`),
			toolCall("b", tools.GetTicketDetails, `{"ticketId":`),
		}},
		{Reply: "Done"},
	}}
	r := NewResolver(gw, newRegistry(newStore(), zap.NewNop()), Config{}, zap.NewNop())

	result, err := r.Resolve(context.Background(), "T1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Done", result.Reply)

	observations := gw.transcripts[1][3:]
	require.Len(t, observations, 2)
	assert.Contains(t, observations[0].Content, "Tool not found")
	assert.Contains(t, observations[1].Content, "Invalid arguments")
}

func TestResolve_HardErrors(t *testing.T) {
	t.Run("gateway failure", func(t *testing.T) {
		gw := &scriptedGateway{err: fmt.Errorf("%w: 503", gateway.ErrGateway)}
		r := NewResolver(gw, newRegistry(newStore(), zap.NewNop()), Config{}, zap.NewNop())

		_, err := r.Resolve(context.Background(), "T1", "hi")
		assert.ErrorIs(t, err, gateway.ErrGateway)
	})

	t.Run("store failure aborts", func(t *testing.T) {
		gw := &scriptedGateway{decisions: []*gateway.Decision{
			{ToolRequests: []gateway.ToolRequest{toolCall("a", tools.GetStatusOptions, `{}`)}},
			{Reply: "never reached"},
		}}
		store := failingStatuses{Storage: newStore()}
		r := NewResolver(gw, newRegistry(store, zap.NewNop()), Config{}, zap.NewNop())

		_, err := r.Resolve(context.Background(), "T1", "hi")
		var toolErr *tools.ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, tools.GetStatusOptions, toolErr.Tool)
		assert.Equal(t, 1, gw.calls())
	})
}

func TestResolve_EmptyReplyFallsBack(t *testing.T) {
	gw := &scriptedGateway{decisions: []*gateway.Decision{{Reply: ""}}}
	r := NewResolver(gw, newRegistry(newStore(), zap.NewNop()), Config{}, zap.NewNop())

	result, err := r.Resolve(context.Background(), "T1", "hi")
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, FallbackReply, result.Reply)
}
