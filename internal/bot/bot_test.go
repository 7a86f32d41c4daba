package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/helpdesk-agent/internal/agent"
	"github.com/xaenox/helpdesk-agent/internal/audit"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"github.com/xaenox/helpdesk-agent/internal/storage"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) last() tgbotapi.MessageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type fakeResolver struct {
	reply string
	err   error
	got   []string
}

func (r *fakeResolver) Resolve(ctx context.Context, ticketID, customerMessage string) (*agent.Result, error) {
	r.got = append(r.got, ticketID+": "+customerMessage)
	if r.err != nil {
		return nil, r.err
	}
	return &agent.Result{Reply: r.reply}, nil
}

func setupTestBot(resolver Resolver) (*Bot, *fakeSender, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	store.PutProfile(models.Profile{UserID: "c1", FirstName: "Carl", IsActive: true, IsCustomer: true})
	store.PutProfile(models.Profile{UserID: "c2", FirstName: "Cleo", IsActive: true, IsCustomer: true})
	store.PutTicket(models.Ticket{ID: "T1", Title: "Printer jam", StatusID: "open", PriorityID: "low", CreatorID: "c1"})

	s := &fakeSender{}
	profiles := map[int64]string{carlUser: "c1", cleoUser: "c2"}
	b := newBot(s, store, resolver, audit.NewRecorder(store, zap.NewNop()), profiles, zap.NewNop())
	return b, s, store
}

// Telegram users linked to customer profiles; strangerUser is not linked.
const (
	carlUser     int64 = 1001
	cleoUser     int64 = 1002
	strangerUser int64 = 1003
)

// textMessage is sent by the Telegram user whose id equals chatID+1000, so
// chat 1 belongs to carlUser.
func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 42,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: chatID + 1000},
		Text:      text,
	}
}

func commandMessage(chatID int64, text string) *tgbotapi.Message {
	msg := textMessage(chatID, text)
	cmd := strings.SplitN(text, " ", 2)[0]
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return msg
}

func TestMessageWithoutTicket(t *testing.T) {
	resolver := &fakeResolver{reply: "hi"}
	b, s, _ := setupTestBot(resolver)

	b.handleMessage(context.Background(), textMessage(1, "my printer is broken"))
	assert.Contains(t, s.last().Text, "/ticket")
	assert.Empty(t, resolver.got)
}

func TestBindTicket(t *testing.T) {
	b, s, _ := setupTestBot(&fakeResolver{})
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage(1, "/ticket nope"))
	assert.Equal(t, "Ticket nope was not found.", s.last().Text)

	b.handleMessage(ctx, commandMessage(1, "/ticket"))
	assert.Equal(t, "Usage: /ticket <id>", s.last().Text)

	b.handleMessage(ctx, commandMessage(1, "/ticket T1"))
	assert.Contains(t, s.last().Text, "Printer jam")

	id, ok := b.boundTicket(1)
	require.True(t, ok)
	assert.Equal(t, "T1", id)
	_, ok = b.boundTicket(2)
	assert.False(t, ok)
}

func TestResolveMessage(t *testing.T) {
	resolver := &fakeResolver{reply: "We are on it!"}
	b, s, store := setupTestBot(resolver)
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage(1, "/ticket T1"))
	b.handleMessage(ctx, textMessage(1, "It still jams"))

	assert.Equal(t, []string{"T1: It still jams"}, resolver.got)
	reply := s.last()
	assert.Equal(t, "We are on it!", reply.Text)
	assert.Equal(t, 42, reply.ReplyToMessageID)

	msgs, err := store.ListConversationMessages(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "It still jams", msgs[0].Text)
	require.NotNil(t, msgs[0].ProfileID)
	assert.Equal(t, "c1", *msgs[0].ProfileID)
	assert.False(t, msgs[0].FromAI)
	assert.Equal(t, "We are on it!", msgs[1].Text)
	assert.True(t, msgs[1].FromAI)
}

func TestResolveMessageFromUnlinkedUser(t *testing.T) {
	b, _, store := setupTestBot(&fakeResolver{reply: "ok"})
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage(3, "/ticket T1"))
	b.handleMessage(ctx, textMessage(3, "I am totally Carl"))

	anonymous := textMessage(3, "no sender at all")
	anonymous.From = nil
	b.handleMessage(ctx, anonymous)

	msgs, err := store.ListConversationMessages(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Nil(t, msgs[0].ProfileID)
	assert.Nil(t, msgs[2].ProfileID)
}

func TestResolveFailure(t *testing.T) {
	b, s, store := setupTestBot(&fakeResolver{err: errors.New("model down")})
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage(1, "/ticket T1"))
	b.handleMessage(ctx, textMessage(1, "hello"))

	assert.True(t, strings.HasPrefix(s.last().Text, "⚠️"))
	msgs, err := store.ListConversationMessages(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHistory(t *testing.T) {
	b, s, store := setupTestBot(&fakeResolver{reply: "Sure."})
	ctx := context.Background()

	b.handleMessage(ctx, commandMessage(1, "/history"))
	assert.Contains(t, s.last().Text, "/ticket")

	b.handleMessage(ctx, commandMessage(1, "/ticket T1"))
	b.handleMessage(ctx, commandMessage(1, "/history"))
	assert.Equal(t, "There are no messages on this ticket yet.", s.last().Text)

	require.NoError(t, store.AddComment(ctx, &models.Comment{ID: "cm1", TicketID: "T1", Content: "internal note", IsInternal: true}))
	b.handleMessage(ctx, textMessage(1, "Any news?"))
	b.handleMessage(ctx, commandMessage(1, "/history"))

	history := s.last()
	assert.Equal(t, "MarkdownV2", history.ParseMode)
	assert.Contains(t, history.Text, "Any news?")
	assert.Contains(t, history.Text, "Sure\\.")
	assert.Contains(t, history.Text, audit.ActorAI)
	assert.NotContains(t, history.Text, "internal note")
}

func TestHistoryRefusedToOthers(t *testing.T) {
	b, s, store := setupTestBot(&fakeResolver{})
	ctx := context.Background()
	require.NoError(t, store.AddConversationMessage(ctx, &models.ConversationMessage{
		TicketID: "T1", ProfileID: strPtr("c1"), Text: "my home address is 1 Main St",
	}))

	tests := []struct {
		name   string
		chatID int64
		want   string
	}{
		{name: "unlinked user", chatID: strangerUser - 1000, want: "only available to registered customers"},
		{name: "another customer", chatID: cleoUser - 1000, want: "only view the history of your own tickets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.handleMessage(ctx, commandMessage(tt.chatID, "/ticket T1"))
			b.handleMessage(ctx, commandMessage(tt.chatID, "/history"))

			assert.Contains(t, s.last().Text, tt.want)
			assert.NotContains(t, s.last().Text, "Main St")
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	b, s, _ := setupTestBot(&fakeResolver{})
	b.handleMessage(context.Background(), commandMessage(1, "/tags"))
	assert.Contains(t, s.last().Text, "Unknown command")
}

func strPtr(s string) *string { return &s }

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\.d\!`, escapeMarkdown("a_b*c.d!"))
	assert.Equal(t, `back\\slash`, escapeMarkdown(`back\slash`))
}
