package service

import (
	"context"
	"errors"
	"fmt"

	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const telegramQueueSize = 100

// TelegramNotifier posts booking events to configured chats.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	queue   chan *events.Event
	logger  *zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		queue:   make(chan *events.Event, telegramQueueSize),
		logger:  logger,
	}
}

// Handle queues the event without blocking the publisher.
func (n *TelegramNotifier) Handle(event *events.Event) error {
	select {
	case n.queue <- event:
		return nil
	default:
		return fmt.Errorf("telegram queue full, dropping %s", event.Type)
	}
}

// Run sends queued events until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			if err := n.Notify(event); err != nil {
				n.logger.Error().Err(err).Str("event_type", event.Type).Msg("telegram notify failed")
			}
		}
	}
}

// Notify sends one event to every chat.
func (n *TelegramNotifier) Notify(event *events.Event) error {
	payload, err := event.DecodeBooking()
	if err != nil {
		return fmt.Errorf("failed to decode booking event: %w", err)
	}

	text := FormatBookingEvent(event.Type, payload)
	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

var eventTitles = map[string]string{
	models.EventBookingCreated:  "New booking request",
	models.EventBookingApproved: "Booking approved",
	models.EventBookingRejected: "Booking rejected",
	models.EventBookingCanceled: "Booking canceled",
}

func FormatBookingEvent(eventType string, p events.BookingEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}
	item := p.ItemName
	if item == "" {
		item = fmt.Sprintf("item %d", p.ItemID)
	}
	return fmt.Sprintf("*%s* #%d\n%s\nbooker: %d, owner: %d\n%s - %s\nstatus: %s",
		title, p.BookingID, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, item),
		p.BookerID, p.OwnerID,
		p.Start.Format("2006-01-02 15:04"), p.End.Format("2006-01-02 15:04"),
		p.Status)
}
