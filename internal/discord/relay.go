package discord

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"

	"github.com/bwmarrin/discordgo"
)

const relayQueueSize = 128

// Relay mirrors public chat activity to a Discord webhook. Private channels
// are never forwarded. Posting happens on the Run goroutine; when the queue
// is full new activity is dropped.
type Relay struct {
	session *discordgo.Session
	id      string
	token   string
	queue   chan *discordgo.WebhookParams

	// execute is swapped in tests.
	execute func(params *discordgo.WebhookParams) error
}

// NewRelay returns nil when no webhook is configured.
func NewRelay(webhookID, webhookToken string) (*Relay, error) {
	if webhookID == "" || webhookToken == "" {
		log.Println("[discord-relay] No webhook configured, relay disabled")
		return nil, nil
	}

	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Client.Timeout = 10 * time.Second

	r := &Relay{
		session: s,
		id:      webhookID,
		token:   webhookToken,
		queue:   make(chan *discordgo.WebhookParams, relayQueueSize),
	}
	r.execute = func(params *discordgo.WebhookParams) error {
		_, err := r.session.WebhookExecute(r.id, r.token, false, params)
		return err
	}
	return r, nil
}

// Run posts queued activity until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case params := <-r.queue:
			if err := r.execute(params); err != nil {
				log.Printf("[discord-relay] send error: %v", err)
			}
		}
	}
}

func (r *Relay) MessagePosted(channel string, msg model.Message) {
	if model.KindOf(channel) != model.ChannelPublic {
		return
	}

	content := msg.Content
	if fileID, filename, ok := msg.FileRef(); ok {
		content = fmt.Sprintf("📎 %s (`%s`)", filename, fileID)
	}
	r.enqueue(&discordgo.WebhookParams{
		Username: msg.Author,
		Embeds: []*discordgo.MessageEmbed{{
			Description: content,
			Color:       0x3498DB, // Blue
			Footer:      &discordgo.MessageEmbedFooter{Text: "#" + channel},
			Timestamp:   time.UnixMilli(msg.Timestamp).UTC().Format(time.RFC3339),
		}},
	})
}

func (r *Relay) ChannelCreated(ch model.Channel) {
	if ch.Kind != model.ChannelPublic {
		return
	}
	r.enqueue(&discordgo.WebhookParams{
		Username: model.SystemAuthor,
		Embeds: []*discordgo.MessageEmbed{{
			Title:     fmt.Sprintf("New channel #%s", ch.Name),
			Color:     0x2ECC71, // Green
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

func (r *Relay) enqueue(params *discordgo.WebhookParams) {
	select {
	case r.queue <- params:
	default:
		log.Println("[discord-relay] queue full, dropping event")
	}
}
