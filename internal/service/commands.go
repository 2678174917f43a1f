package service

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/yukihoshiii/zfh-project/internal/model"
)

const commandPrefix = "/"

const (
	replyAdminOnly      = "Only administrators can use this command"
	replyNotImplemented = "This command is not implemented yet"
	replyUnknown        = "Unknown command. Type /help for available commands."
)

var userCommands = []string{
	"/roll - Roll dice (1-100)",
	"/tableflip - Flip table",
	"/unflip - Unflip table",
	"/shrug - Shrug",
	"/help - Show this message",
}

var adminCommands = []string{
	"/kick <user> - Kick user",
	"/ban <user> - Ban user",
	"/mute <user> - Mute user",
	"/unmute <user> - Unmute user",
}

func rollPercentile() int {
	return rand.IntN(100) + 1
}

func helpText(identity model.Identity) string {
	lines := append([]string{}, userCommands...)
	if identity.IsAdmin() {
		lines = append(lines, adminCommands...)
	}
	return "Available commands:\n" + strings.Join(lines, "\n")
}

// runCommand executes a slash command. Output is never stored: it is either
// broadcast to the channel or sent back to the caller alone.
func (r *Router) runCommand(c *WSClient, identity model.Identity, channel, text string) error {
	fields := strings.Fields(strings.TrimPrefix(text, commandPrefix))
	name := ""
	if len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}

	switch name {
	case "help":
		return r.systemReply(c, channel, helpText(identity))
	case "roll":
		r.systemBroadcast(channel, fmt.Sprintf("🎲 %s rolls %d (1-100)", identity.Username, r.rollDie()))
	case "tableflip":
		r.systemBroadcast(channel, identity.Username+": (╯°□°）╯︵ ┻━┻")
	case "unflip":
		r.systemBroadcast(channel, identity.Username+": ┬─┬ ノ( ゜-゜ノ)")
	case "shrug":
		r.systemBroadcast(channel, identity.Username+`: ¯\_(ツ)_/¯`)
	case "kick", "ban", "mute", "unmute":
		if !identity.IsAdmin() {
			return r.systemReply(c, channel, replyAdminOnly)
		}
		return r.systemReply(c, channel, replyNotImplemented)
	default:
		return r.systemReply(c, channel, replyUnknown)
	}
	return nil
}

func (r *Router) systemReply(c *WSClient, channel, text string) error {
	return r.hub.SendTo(c, model.MessageEvent{
		Type:    model.EventMessage,
		Author:  model.SystemAuthor,
		Content: text,
		Channel: channel,
	})
}

func (r *Router) systemBroadcast(channel, text string) {
	r.hub.Broadcast(model.MessageEvent{
		Type:    model.EventMessage,
		Author:  model.SystemAuthor,
		Content: text,
		Channel: channel,
	}, channel)
}
