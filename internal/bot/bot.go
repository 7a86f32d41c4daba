package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/xaenox/helpdesk-agent/internal/agent"
	"github.com/xaenox/helpdesk-agent/internal/audit"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

const historyLimit = 5

type Resolver interface {
	Resolve(ctx context.Context, ticketID, customerMessage string) (*agent.Result, error)
}

type Timeline interface {
	Timeline(ctx context.Context, ticketID string) ([]audit.TimelineEntry, error)
}

type Store interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is a Telegram front door to the ticket agent. A chat is bound to one
// ticket at a time with /ticket; plain messages are then resolved against it.
// Messages are attributed to a customer profile only when the sender's
// Telegram user is listed in profiles.
type Bot struct {
	api      *tgbotapi.BotAPI
	sender   sender
	store    Store
	resolver Resolver
	timeline Timeline
	profiles map[int64]string
	logger   *zap.Logger

	mu      sync.Mutex
	tickets map[int64]string
}

func New(token string, store Store, resolver Resolver, timeline Timeline, profiles map[int64]string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, store, resolver, timeline, profiles, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, store Store, resolver Resolver, timeline Timeline, profiles map[int64]string, logger *zap.Logger) *Bot {
	return &Bot{
		sender:   s,
		store:    store,
		resolver: resolver,
		timeline: timeline,
		profiles: profiles,
		logger:   logger,
		tickets:  make(map[int64]string),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	ticketID, ok := b.boundTicket(message.Chat.ID)
	if !ok {
		b.sendMessage(message.Chat.ID, "Please choose a ticket first with /ticket <id>.")
		return
	}

	if _, err := b.store.GetTicket(ctx, ticketID); err != nil {
		b.logger.Error("Failed to load ticket",
			zap.Error(err),
			zap.String("ticket_id", ticketID),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't find your ticket. Please try again.")
		return
	}

	var author *string
	if profileID, ok := b.profileOf(message); ok {
		author = &profileID
	}
	if err := b.store.AddConversationMessage(ctx, &models.ConversationMessage{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		ProfileID: author,
		Text:      content,
		CreatedAt: time.Now(),
	}); err != nil {
		b.logger.Error("Failed to save customer message",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}

	result, err := b.resolver.Resolve(ctx, ticketID, content)
	if err != nil {
		b.logger.Error("Failed to resolve ticket",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong while looking into your ticket. Please try again later.")
		return
	}

	if err := b.store.AddConversationMessage(ctx, &models.ConversationMessage{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		Text:      result.Reply,
		FromAI:    true,
		CreatedAt: time.Now(),
	}); err != nil {
		b.logger.Error("Failed to save agent reply",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
	}

	b.sendReply(message.Chat.ID, message.MessageID, result.Reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "ticket":
		b.handleTicket(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to the helpdesk! 🎫
Tell me which ticket you are writing about with /ticket <id>, then just describe your issue.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/ticket <id> - Choose the ticket you are writing about
/history - Show the latest messages on your ticket`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleTicket(ctx context.Context, message *tgbotapi.Message) {
	ticketID := strings.TrimSpace(message.CommandArguments())
	if ticketID == "" {
		b.sendMessage(message.Chat.ID, "Usage: /ticket <id>")
		return
	}

	ticket, err := b.store.GetTicket(ctx, ticketID)
	if errors.Is(err, models.ErrNotFound) {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Ticket %s was not found.", ticketID))
		return
	}
	if err != nil {
		b.logger.Error("Failed to load ticket",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't look up that ticket. Please try again later.")
		return
	}

	b.mu.Lock()
	b.tickets[message.Chat.ID] = ticket.ID
	b.mu.Unlock()

	b.sendMessage(message.Chat.ID, fmt.Sprintf("You are now writing about ticket %s: %s", ticket.ID, ticket.Title))
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	ticketID, ok := b.boundTicket(message.Chat.ID)
	if !ok {
		b.sendMessage(message.Chat.ID, "Please choose a ticket first with /ticket <id>.")
		return
	}

	// Only the ticket's own customer may read its timeline.
	profileID, mapped := b.profileOf(message)
	if !mapped {
		b.sendMessage(message.Chat.ID, "Ticket history is only available to registered customers. Please contact support to link your account.")
		return
	}
	ticket, err := b.store.GetTicket(ctx, ticketID)
	if err != nil {
		b.logger.Error("Failed to load ticket",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve the ticket history.")
		return
	}
	if ticket.CreatorID != profileID {
		b.logger.Warn("Refused ticket history to another customer",
			zap.String("ticket_id", ticketID),
			zap.String("profile_id", profileID))
		b.sendMessage(message.Chat.ID, "You can only view the history of your own tickets.")
		return
	}

	entries, err := b.timeline.Timeline(ctx, ticketID)
	if err != nil {
		b.logger.Error("Failed to get ticket timeline",
			zap.Error(err),
			zap.String("ticket_id", ticketID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve the ticket history.")
		return
	}

	// internal comments and field changes stay with staff
	var conversation []audit.TimelineEntry
	for _, e := range entries {
		if e.Type == audit.EntryConversation {
			conversation = append(conversation, e)
		}
	}
	if len(conversation) == 0 {
		b.sendMessage(message.Chat.ID, "There are no messages on this ticket yet.")
		return
	}
	if len(conversation) > historyLimit {
		conversation = conversation[len(conversation)-historyLimit:]
	}

	response := fmt.Sprintf("*Latest messages on ticket %s:*\n\n", escapeMarkdown(ticketID))
	for _, e := range conversation {
		response += fmt.Sprintf("*%s*\n", escapeMarkdown(e.Actor))
		response += fmt.Sprintf("_%s_\n\n", escapeMarkdown(e.Content))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// profileOf returns the customer profile linked to the message's sender.
func (b *Bot) profileOf(message *tgbotapi.Message) (string, bool) {
	if message.From == nil {
		return "", false
	}
	id, ok := b.profiles[message.From.ID]
	return id, ok
}

func (b *Bot) boundTicket(chatID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.tickets[chatID]
	return id, ok
}

// escapeMarkdown escapes the characters reserved by MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendReply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
