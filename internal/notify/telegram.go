// Package notify доставляет администраторам оповещения об отброшенном спросе.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// MessageSender часть API бота, нужная для оповещений
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier отправляет оповещения в чат администраторов.
// ReportDrop не блокирует аллокатор: сообщения уходят из фоновой горутины.
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
	queue  chan capacity.DroppedDemand
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewTelegramBot создаёт клиента Bot API по токену
func NewTelegramBot(token string) (*bot.Bot, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

func NewTelegramNotifier(sender MessageSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		queue:  make(chan capacity.DroppedDemand, defaultQueueSize),
		logger: logger,
	}
}

// Start запускает отправку оповещений до отмены ctx или Stop
func (n *TelegramNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case d, ok := <-n.queue:
				if !ok {
					return
				}
				n.send(ctx, d)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop закрывает очередь и ждёт отправки уже поставленных сообщений
func (n *TelegramNotifier) Stop() {
	close(n.queue)
	n.wg.Wait()
}

// ReportDrop реализует capacity.DropReporter
func (n *TelegramNotifier) ReportDrop(_ context.Context, d capacity.DroppedDemand) {
	select {
	case n.queue <- d:
	default:
		n.logger.Warn("Alert queue is full, drop alert discarded",
			zap.String("channel_id", d.Line.ChannelID),
			zap.Float64("dropped", d.Quantity))
	}
}

func (n *TelegramNotifier) send(ctx context.Context, d capacity.DroppedDemand) {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   FormatDrop(d),
	})
	if err != nil {
		n.logger.Error("Failed to send drop alert",
			zap.Int64("chat_id", n.chatID),
			zap.Error(err))
	}
}

// FormatDrop текст оповещения об отброшенном спросе
func FormatDrop(d capacity.DroppedDemand) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Спрос не размещён\n\n")
	fmt.Fprintf(&sb, "📡 Канал: %s\n", d.Line.ChannelID)
	fmt.Fprintf(&sb, "📅 Дата: %s\n", d.Line.Date)
	fmt.Fprintf(&sb, "🕐 Слот: %s\n", d.Line.Slot)
	fmt.Fprintf(&sb, "📦 Количество: %g\n", d.Quantity)
	fmt.Fprintf(&sb, "❓ Причина: %s", dropReasonText(d.Reason))
	if d.Line.OwnerIdentity != "" {
		fmt.Fprintf(&sb, "\n🔗 Источник: %s", d.Line.OwnerIdentity)
	}
	return sb.String()
}

func dropReasonText(reason string) string {
	switch reason {
	case capacity.DropReasonNoNextSlot:
		return "нет следующего слота"
	case capacity.DropReasonNoSlotWithRoom:
		return "ни в одном слоте нет места"
	case capacity.DropReasonInvalidDate:
		return "некорректная дата"
	case capacity.DropReasonIncompleteLine:
		return "неполная строка"
	case capacity.DropReasonInvalidSlot:
		return "некорректный слот"
	case capacity.DropReasonBelowScale:
		return "количество меньше 0.01"
	default:
		return reason
	}
}
