package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/mkessler/dossier/internal/models"
)

// Embed colors.
const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

// discordSession abstracts the discordgo methods we use, enabling test
// mocks. Sending into a channel works over plain REST; no gateway
// connection is opened.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts run outcomes as embeds in a channel.
type Discord struct {
	session   discordSession
	channelID string
}

// NewDiscord creates a Discord notifier using a bot token.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("notify: discord channel ID is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{session: s, channelID: channelID}, nil
}

// RunFinished implements Notifier.
func (d *Discord) RunFinished(run *models.Run) error {
	color := colorGreen
	if run.Status == models.RunFailed {
		color = colorRed
	}
	embed := &discordgo.MessageEmbed{
		Title:       headline(run),
		Color:       color,
		Description: fmt.Sprintf("Run `%s` (%s)", run.ID, run.Ref),
	}
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
