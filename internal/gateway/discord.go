package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

type DiscordGateway struct {
	Session  *discordgo.Session
	Handle   Handler
	confirms *confirmations
}

func NewDiscordGateway(token string, handle Handler, confirmTimeout time.Duration) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &DiscordGateway{
		Session:  session,
		Handle:   handle,
		confirms: newConfirmations(confirmTimeout),
	}, nil
}

func (dg *DiscordGateway) Start() error {
	dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}

		chatID := m.ChannelID
		text := m.Content
		log.Printf("[%s] %s", m.Author.Username, text)

		if dg.confirms.resolve(chatID, text) {
			return
		}

		go func(chatID, text string) {
			response := dg.Handle(context.Background(), chatID, text)
			if response == "" {
				response = "I'm having trouble thinking right now..."
			}
			if err := dg.Send(chatID, response); err != nil {
				log.Printf("Error sending reply to %s: %v", chatID, err)
			}
		}(chatID, text)
	})

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Printf("Discord gateway connected as %s", dg.Session.State.User.Username)
	return nil
}

// RequestConfirmation mirrors the Telegram flow: prompt, then block for a
// yes/no reply in the same channel, denying on timeout.
func (dg *DiscordGateway) RequestConfirmation(chatID, command, reason, message string) bool {
	ch := dg.confirms.begin(chatID)

	prompt := fmt.Sprintf("⚠️ **Confirmation needed**\n\n%s\n\n`%s`\n\nFlagged: %s\n\nReply **yes** to allow or **no** to deny.", message, command, reason)
	if err := dg.Send(chatID, prompt); err != nil {
		log.Printf("Error sending confirmation prompt to %s: %v", chatID, err)
		return false
	}

	return dg.confirms.await(chatID, ch)
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	_, err := dg.Session.ChannelMessageSend(chatID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}
