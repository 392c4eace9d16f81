// Package messenger implements the outbound Telegram adapter used to
// deliver purchased product content and settlement notifications to users.
package messenger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
	"github.com/cedros-basket/checkout/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// mediaGroupLimit is Telegram's maximum item count per sendMediaGroup call.
const mediaGroupLimit = 10

// TelegramSender delivers purchase fulfillment content and account
// notifications over the Telegram Bot API. The chat ID is the user's store
// ID itself, since this module identifies users by their Telegram chat.
type TelegramSender struct {
	bot     *tgbotapi.BotAPI
	store   store.Store
	metrics *metrics.Metrics
}

// New constructs a TelegramSender around an already-authenticated bot.
func New(bot *tgbotapi.BotAPI, st store.Store, m *metrics.Metrics) *TelegramSender {
	return &TelegramSender{bot: bot, store: st, metrics: m}
}

func chatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("messenger: user id %q is not a telegram chat id: %w", userID, err)
	}
	return id, nil
}

// SendPurchaseDelivery sends each sold product's pickup text and media to
// the buyer. Must be called before the caller hard-deletes the product
// rows, since MediaRefs/PickupText live on the product, not the snapshot.
func (s *TelegramSender) SendPurchaseDelivery(ctx context.Context, userID string, snapshot store.BasketSnapshot) error {
	start := time.Now()
	chat, err := chatID(userID)
	if err != nil {
		return err
	}

	for _, entry := range snapshot.Entries {
		product, err := s.store.GetProduct(ctx, entry.ProductID)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("product_id", entry.ProductID).Msg("messenger.delivery_product_missing")
			s.metrics.ObserveMessage("delivery", "failed", time.Since(start), 1)
			return fmt.Errorf("messenger: load product %s for delivery: %w", entry.ProductID, err)
		}

		if err := s.sendPickupText(chat, product); err != nil {
			s.metrics.ObserveMessage("delivery", "failed", time.Since(start), 1)
			return err
		}
		if err := s.sendMedia(chat, product); err != nil {
			s.metrics.ObserveMessage("delivery", "failed", time.Since(start), 1)
			return err
		}
	}

	s.metrics.ObserveMessage("delivery", "sent", time.Since(start), 1)
	return nil
}

func (s *TelegramSender) sendPickupText(chat int64, product store.Product) error {
	if product.PickupText == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(chat, product.PickupText)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("messenger: send pickup text for %s: %w", product.ID, err)
	}
	return nil
}

func (s *TelegramSender) sendMedia(chat int64, product store.Product) error {
	if len(product.MediaRefs) == 0 {
		return nil
	}
	if len(product.MediaRefs) == 1 {
		photo := tgbotapi.NewPhoto(chat, tgbotapi.FileID(product.MediaRefs[0]))
		if _, err := s.bot.Send(photo); err != nil {
			return fmt.Errorf("messenger: send media for %s: %w", product.ID, err)
		}
		return nil
	}

	for _, batch := range chunkMediaRefs(product.MediaRefs, mediaGroupLimit) {
		group := make([]interface{}, 0, len(batch))
		for _, ref := range batch {
			group = append(group, tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(ref)))
		}
		if _, err := s.bot.Request(tgbotapi.NewMediaGroup(chat, group)); err != nil {
			return fmt.Errorf("messenger: send media group for %s: %w", product.ID, err)
		}
	}
	return nil
}

func chunkMediaRefs(refs []string, size int) [][]string {
	chunks := make([][]string, 0, (len(refs)+size-1)/size)
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		chunks = append(chunks, refs[start:end])
	}
	return chunks
}

// NotifyRefillCredited confirms a balance top-up.
func (s *TelegramSender) NotifyRefillCredited(ctx context.Context, userID string, amountCents int64) error {
	return s.sendText(ctx, userID, fmt.Sprintf("Your balance was credited %.2f EUR.", float64(amountCents)/100))
}

// NotifyExpired tells a user their payment window closed unpaid.
func (s *TelegramSender) NotifyExpired(ctx context.Context, userID string) error {
	return s.sendText(ctx, userID, "Your payment window expired and the reservation was released.")
}

// NotifyPaymentFailed tells a user their payment could not be completed as
// requested (underpayment, etc).
func (s *TelegramSender) NotifyPaymentFailed(ctx context.Context, userID, reason string) error {
	return s.sendText(ctx, userID, fmt.Sprintf("Your payment could not be completed: %s.", reason))
}

func (s *TelegramSender) sendText(_ context.Context, userID, text string) error {
	chat, err := chatID(userID)
	if err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(chat, text)); err != nil {
		return fmt.Errorf("messenger: send text to %s: %w", userID, err)
	}
	return nil
}
