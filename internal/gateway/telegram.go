package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	Handle   Handler
	confirms *confirmations
}

func NewTelegramGateway(token string, handle Handler, confirmTimeout time.Duration) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:      bot,
		Handle:   handle,
		confirms: newConfirmations(confirmTimeout),
	}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		chatID := fmt.Sprintf("%d", update.Message.Chat.ID)
		text := update.Message.Text
		log.Printf("[%s] %s", update.Message.From.UserName, text)

		// A pending safety prompt swallows yes/no replies.
		if tg.confirms.resolve(chatID, text) {
			continue
		}

		go func(chatID, text string) {
			response := tg.Handle(context.Background(), chatID, text)
			if response == "" {
				response = "I'm having trouble thinking right now..."
			}
			if err := tg.Send(chatID, response); err != nil {
				log.Printf("Error sending reply to %s: %v", chatID, err)
			}
		}(chatID, text)
	}
	return nil
}

// RequestConfirmation pushes a safety prompt to the chat and blocks for the
// user's yes/no answer. Timeout or any unparseable state denies.
func (tg *TelegramGateway) RequestConfirmation(chatID, command, reason, message string) bool {
	ch := tg.confirms.begin(chatID)

	prompt := fmt.Sprintf("⚠️ *Confirmation needed*\n\n%s\n\n`%s`\n\nFlagged: %s\n\nReply *yes* to allow or *no* to deny.", message, command, reason)
	if err := tg.Send(chatID, prompt); err != nil {
		log.Printf("Error sending confirmation prompt to %s: %v", chatID, err)
		return false
	}

	return tg.confirms.await(chatID, ch)
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id := 0
	fmt.Sscanf(chatID, "%d", &id)
	if id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(int64(id), text)
	msg.ParseMode = "Markdown" // Enable markdown for better alerts
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
