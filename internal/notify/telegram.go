package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"safetunes/internal/models"
)

// Resolver lets a parent answer a request straight from the chat.
type Resolver interface {
	Approve(ctx context.Context, ownerID, requestID string, tracks []models.AlbumTrack) (*models.ApproveResult, error)
	Deny(ctx context.Context, ownerID, requestID, reason string) (*models.Request, error)
}

// TelegramConfig links one parent account to one Telegram chat.
type TelegramConfig struct {
	Token   string
	ChatID  int64
	OwnerID string
	Timeout time.Duration
}

// TelegramProvider sends parent alerts to Telegram with inline approve and deny buttons.
type TelegramProvider struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	ownerID string
	logger  *zap.Logger

	mu       sync.RWMutex
	resolver Resolver
}

// NewTelegramProvider authorizes the bot against the Telegram API.
func NewTelegramProvider(cfg TelegramConfig, logger *zap.Logger) (*TelegramProvider, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return NewTelegramProviderWithClient(cfg, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout}, logger)
}

func NewTelegramProviderWithClient(cfg TelegramConfig, endpoint string, client tgbotapi.HTTPClient, logger *zap.Logger) (*TelegramProvider, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &TelegramProvider{
		api:     botAPI,
		chatID:  cfg.ChatID,
		ownerID: cfg.OwnerID,
		logger:  logger,
	}, nil
}

// SetResolver enables the inline buttons. Without one, alerts are sent as plain text.
func (t *TelegramProvider) SetResolver(r Resolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolver = r
}

func (t *TelegramProvider) getResolver() Resolver {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolver
}

func (t *TelegramProvider) Name() string { return "telegram" }

func (t *TelegramProvider) Supports(ch Channel) bool {
	return ch == ChannelPush || ch == ChannelDigest
}

func (t *TelegramProvider) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := messageText(n)
	if n.Title != "" {
		text = n.Title + "\n\n" + text
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	if n.RequestID != "" && t.getResolver() != nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "approve:"+n.RequestID),
				tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "deny:"+n.RequestID),
			),
		)
	}

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Start listens for button presses until ctx is done.
func (t *TelegramProvider) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.api.GetUpdatesChan(u)
	t.logger.Info("Telegram bot started, waiting for updates")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Telegram bot shutting down")
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				t.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		}
	}
}

func (t *TelegramProvider) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Error("Failed to send callback response", zap.Error(err))
	}

	if query.Message == nil || query.Message.Chat == nil || query.Message.Chat.ID != t.chatID {
		t.logger.Warn("Ignoring callback from unknown chat", zap.Int64("user_id", query.From.ID))
		return
	}

	reply := t.resolveCallback(ctx, query.Data)

	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, query.Message.Text+"\n\n"+reply)
	if _, err := t.api.Send(edit); err != nil {
		t.logger.Error("Failed to edit message", zap.Error(err))
	}
}

// resolveCallback applies "approve:<id>" or "deny:<id>" and returns the text to show.
func (t *TelegramProvider) resolveCallback(ctx context.Context, data string) string {
	resolver := t.getResolver()
	if resolver == nil {
		return "❌ Actions are disabled"
	}

	action, requestID, ok := strings.Cut(data, ":")
	if !ok || requestID == "" {
		t.logger.Error("Failed to parse callback data: invalid format", zap.String("data", data))
		return "❌ Could not process the request"
	}

	var err error
	switch action {
	case "approve":
		_, err = resolver.Approve(ctx, t.ownerID, requestID, nil)
	case "deny":
		_, err = resolver.Deny(ctx, t.ownerID, requestID, "")
	default:
		t.logger.Error("Unknown action", zap.String("action", action))
		return "❌ Unknown action"
	}

	if err != nil {
		t.logger.Warn("Failed to resolve request from chat",
			zap.String("request_id", requestID),
			zap.String("action", action),
			zap.Error(err))
		if errors.Is(err, models.ErrConflict) {
			return "ℹ️ This request was already handled"
		}
		return "❌ " + models.UserMessage(err, "Could not update the request")
	}

	t.logger.Info("Request resolved from chat",
		zap.String("request_id", requestID),
		zap.String("action", action))

	if action == "approve" {
		return "✅ Approved"
	}
	return "❌ Denied"
}
