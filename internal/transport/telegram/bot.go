// Package telegram adapts the Telegram bot API to the conversation
// controller: it owns the long-polling loop, command dispatch, and all
// user-facing reply copy. Internal error detail never reaches the chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zhouzirui/intake-bot/internal/service/conversation"
)

// Reply texts. The greeting precedes the first prompt on /start.
const (
	greeting        = "Hello! Let's pick the right compressor for you."
	replyActive     = "You already have a request in progress. Answer the current question or send /cancel to start over."
	replyNoSession  = "There is no request in progress. Send /start to begin."
	replyCancelled  = "Request cancelled. Send /start to begin a new one."
	replyCompleted  = "Thank you! Your request has been sent."
	replyFailed     = "Sorry, we could not send your request. Please try again with /start."
	replyUnknownCmd = "Unknown command. Send /start to begin or /cancel to abort."
)

// Conversation is the controller surface the transport drives.
type Conversation interface {
	Start(ctx context.Context, userID int64) (string, error)
	Submit(ctx context.Context, userID int64, text string) (conversation.Result, error)
	Cancel(ctx context.Context, userID int64) error
}

// sender is the outbound half of the bot API, split out so tests can capture
// replies without a live connection.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// mailbox queues one user's pending messages. A single drain goroutine per
// mailbox applies them in arrival order; the goroutine exits and the mailbox
// is dropped once the queue is empty, so the map does not grow unbounded.
type mailbox struct {
	pending []*tgbotapi.Message
}

// Bot runs the long-polling update loop and forwards each message to the
// conversation controller. Messages for one user go through that user's
// mailbox, preserving arrival order; distinct users drain concurrently.
type Bot struct {
	api         *tgbotapi.BotAPI
	out         sender
	conv        Conversation
	pollTimeout int

	mu     sync.Mutex
	queues map[int64]*mailbox
}

// New authenticates against the bot API with the given token.
func New(token string, pollTimeout int, conv Conversation) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Printf("[telegram] authorized as @%s", api.Self.UserName)
	return &Bot{
		api:         api,
		out:         api,
		conv:        conv,
		pollTimeout: pollTimeout,
		queues:      make(map[int64]*mailbox),
	}, nil
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Println("[telegram] update loop stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || msg.From == nil {
				continue
			}
			b.dispatch(ctx, msg)
		}
	}
}

// dispatch appends the message to its user's mailbox, starting a drain
// goroutine if none is running. Never blocks the update loop.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	b.mu.Lock()
	if b.queues == nil {
		b.queues = make(map[int64]*mailbox)
	}
	q, ok := b.queues[userID]
	if ok {
		q.pending = append(q.pending, msg)
		b.mu.Unlock()
		return
	}
	q = &mailbox{pending: []*tgbotapi.Message{msg}}
	b.queues[userID] = q
	b.mu.Unlock()

	go b.drain(ctx, userID, q)
}

// drain handles one user's messages strictly in queue order, then removes
// the mailbox.
func (b *Bot) drain(ctx context.Context, userID int64, q *mailbox) {
	for {
		b.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			delete(b.queues, userID)
			b.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.handle(ctx, msg)
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	reply := b.replyTo(ctx, msg.From.ID, msg)
	if reply == "" {
		return
	}
	if _, err := b.out.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		log.Printf("[telegram] send to chat %d failed: %v", msg.Chat.ID, err)
	}
}

// replyTo maps one inbound message to the text sent back to the user.
func (b *Bot) replyTo(ctx context.Context, userID int64, msg *tgbotapi.Message) string {
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			prompt, err := b.conv.Start(ctx, userID)
			if errors.Is(err, conversation.ErrSessionActive) {
				return replyActive
			}
			return greeting + "\n" + prompt
		case "cancel":
			if err := b.conv.Cancel(ctx, userID); errors.Is(err, conversation.ErrNoSession) {
				return replyNoSession
			}
			return replyCancelled
		default:
			return replyUnknownCmd
		}
	}

	result, err := b.conv.Submit(ctx, userID, msg.Text)
	if errors.Is(err, conversation.ErrNoSession) {
		return replyNoSession
	}
	switch result.Outcome {
	case conversation.OutcomeCompleted:
		return replyCompleted
	case conversation.OutcomeFailed:
		return replyFailed
	default:
		return result.Prompt
	}
}
