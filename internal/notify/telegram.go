package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skalibog/bstb/internal/config"
	"github.com/skalibog/bstb/pkg/logger"
	"github.com/skalibog/bstb/pkg/models"
	"go.uber.org/zap"
)

// Severity уровень важности уведомления
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier отправляет уведомления оператору
type Notifier interface {
	Send(ctx context.Context, message string, severity Severity) error
	NotifyTrade(ctx context.Context, trade *models.TradeRecord) error
}

// TelegramNotifier отправляет уведомления через Telegram Bot API
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier создает Telegram-уведомитель
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send отправляет текстовое уведомление
func (n *TelegramNotifier) Send(ctx context.Context, message string, severity Severity) error {
	prefix := map[Severity]string{
		SeverityInfo:    "ℹ️",
		SeverityWarning: "⚠️",
		SeverityError:   "🚨",
	}[severity]
	return n.sendMessage(ctx, fmt.Sprintf("%s %s", prefix, message))
}

// NotifyTrade отправляет сводку по закрытой сделке
func (n *TelegramNotifier) NotifyTrade(ctx context.Context, trade *models.TradeRecord) error {
	emoji := "✅"
	if trade.ProfitPct < 0 {
		emoji = "❌"
	}
	msg := fmt.Sprintf("%s <b>%s</b> %s\n", emoji, trade.Symbol, strings.ToUpper(trade.CloseReason))
	msg += fmt.Sprintf("Вход: <code>%.4f</code> Выход: <code>%.4f</code>\n", trade.EntryPrice, trade.ExitPrice)
	msg += fmt.Sprintf("Результат: <b>%+.2f%%</b> (%.2f %s)", trade.ProfitPct, trade.ProfitQuote, trade.QuoteAsset)
	return n.sendMessage(ctx, msg)
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, message string) error {
	if !n.enabled {
		return nil
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	data := url.Values{}
	data.Set("chat_id", n.chatID)
	data.Set("text", message)
	data.Set("parse_mode", "HTML")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса к Telegram: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		// Сбой уведомления не должен ронять торговый цикл
		logger.Warn("Не удалось отправить уведомление в Telegram", zap.Error(err))
		return fmt.Errorf("ошибка отправки уведомления: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API вернул статус %d", resp.StatusCode)
	}
	return nil
}
