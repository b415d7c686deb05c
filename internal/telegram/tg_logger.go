package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/domain"
)

const MaxMessageLen = 4096

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramLogger posts operator log lines into topics of a telegram chat.
// A nil *TelegramLogger is valid and drops everything.
type TelegramLogger struct {
	bot messageSender
	cfg *config.Config
}

// NewTelegramLogger returns nil when telegram logging is not configured.
func NewTelegramLogger(cfg *config.Config) (*TelegramLogger, error) {
	if !cfg.TelegramEnabled() {
		return nil, nil
	}
	b, err := bot.New(cfg.TelegramBotToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramLogger{bot: b, cfg: cfg}, nil
}

type LogType string

const (
	LogTypeError    LogType = "error"
	LogTypeBillPaid LogType = "billPaid"
	LogTypeRebate   LogType = "rebate"
)

func (l *TelegramLogger) Log(logType LogType, message string) {
	if l == nil || l.cfg.LogTelegramChatID == 0 {
		return
	}

	topicID := l.getTopicID(logType)
	if topicID == 0 {
		return
	}

	if utf8.RuneCountInString(message) > MaxMessageLen {
		message = string([]rune(message)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TelegramSendTimeout)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, context string) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		escapeMarkdown(context), strings.ReplaceAll(err.Error(), "`", "'"), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogBillPaid(bill *domain.Bill) {
	msg := fmt.Sprintf("💳 *Bill Paid*\n\n*User:* `%s`\n*Bill:* `%s`\n*Amount:* %s\n*Method:* %s",
		bill.UserID, bill.ID, bill.AmountPaid.StringFixed(2), escapeMarkdown(bill.PaymentMethod))
	l.Log(LogTypeBillPaid, msg)
}

func (l *TelegramLogger) LogRebateAward(award domain.RebateAward) {
	msg := fmt.Sprintf("🎁 *Rebate Awarded*\n\n*User:* `%s`\n*Bill:* `%s`\n*Points:* %d\n*Total:* %d (%s)",
		award.UserID, award.BillID, award.Points, award.NewTotal, award.NewTier)
	if award.BonusApplied {
		msg += "\n*Early payment bonus*"
	}
	l.Log(LogTypeRebate, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeBillPaid:
		return l.cfg.LogTopicBillPaid
	case LogTypeRebate:
		return l.cfg.LogTopicRebate
	default:
		return 0
	}
}

var markdownReplacer = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes legacy Markdown control characters outside code spans.
func escapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}
