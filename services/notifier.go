package services

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
)

// EscalationNotifier forwards escalated conversations to a specialist
// channel over Discord. Delivery is best-effort and never affects the
// HTTP response to the user.
type EscalationNotifier struct {
	session   *discordgo.Session
	channelID string
	enabled   bool
	startTime time.Time
}

// NewEscalationNotifier creates a notifier from DISCORD_BOT_TOKEN and
// DISCORD_ESCALATION_CHANNEL. Missing configuration disables it.
func NewEscalationNotifier() *EscalationNotifier {
	token := os.Getenv("DISCORD_BOT_TOKEN")
	channelID := os.Getenv("DISCORD_ESCALATION_CHANNEL")

	notifier := &EscalationNotifier{
		channelID: channelID,
		startTime: time.Now(),
	}

	if token == "" || channelID == "" {
		log.Printf("Escalation notifier disabled: DISCORD_BOT_TOKEN or DISCORD_ESCALATION_CHANNEL not set")
		return notifier
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		log.Printf("Error creating Discord session for escalation notifier: %v", err)
		return notifier
	}

	notifier.session = session
	notifier.enabled = true
	log.Printf("Escalation notifier initialized for channel %s", channelID)

	return notifier
}

// Start opens the Discord connection.
func (n *EscalationNotifier) Start() error {
	if !n.enabled {
		return fmt.Errorf("escalation notifier not enabled (missing token or channel)")
	}

	if err := n.session.Open(); err != nil {
		return fmt.Errorf("error opening Discord connection: %w", err)
	}

	log.Printf("Escalation notifier started")
	return nil
}

// Stop closes the Discord connection.
func (n *EscalationNotifier) Stop() error {
	if n.session != nil {
		return n.session.Close()
	}
	return nil
}

// IsEnabled reports whether the notifier is configured.
func (n *EscalationNotifier) IsEnabled() bool {
	return n.enabled
}

// Notify posts one escalated conversation to the specialist channel.
func (n *EscalationNotifier) Notify(sessionID, userMessage, reply string) {
	if !n.enabled || n.session == nil {
		return
	}

	content := fmt.Sprintf("Escalation for session %s\nUser: %s\nReply sent: %s", sessionID, userMessage, reply)

	// Discord caps messages at 2000 characters.
	if len(content) > 2000 {
		content = content[:1997] + "..."
	}

	if _, err := n.session.ChannelMessageSend(n.channelID, content); err != nil {
		log.Printf("Error sending escalation notification: %v", err)
	}
}

// GetStatus returns the current status of the notifier.
func (n *EscalationNotifier) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"enabled": n.enabled,
		"uptime":  time.Since(n.startTime).String(),
	}

	if n.enabled {
		status["status"] = "configured"
		status["channel_id"] = n.channelID
	} else {
		status["status"] = "disabled"
		status["note"] = "Set DISCORD_BOT_TOKEN and DISCORD_ESCALATION_CHANNEL to enable"
	}

	return status
}
