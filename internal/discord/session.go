// Package discord wraps the discordgo gateway and REST clients behind small
// interfaces so the worker, gears and panel can be tested without Discord.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Intents requested by every automaton gateway session.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions

// Session is the gateway surface used by workers and gears. Application
// command calls are scoped to the bot's own application.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	// UserID returns the bot user ID, known once Open has returned.
	UserID() string
	ApplicationCommands(guildID string) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error)
	ApplicationCommandEdit(guildID, cmdID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(guildID, cmdID string) error
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error)
	UpdateGameStatus(idle int, name string) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
}

// Connector creates a gateway session for a bot token. The session is not
// opened.
type Connector func(token string) (Session, error)

// Dial is the production Connector.
func Dial(token string) (Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = Intents
	return &realSession{s: dg}, nil
}

// realSession wraps *discordgo.Session to implement Session.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) UserID() string {
	if r.s.State == nil || r.s.State.User == nil {
		return ""
	}
	return r.s.State.User.ID
}
func (r *realSession) ApplicationCommands(guildID string) ([]*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommands(r.UserID(), guildID)
}
func (r *realSession) ApplicationCommandCreate(guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandCreate(r.UserID(), guildID, cmd)
}
func (r *realSession) ApplicationCommandEdit(guildID, cmdID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandEdit(r.UserID(), guildID, cmdID, cmd)
}
func (r *realSession) ApplicationCommandDelete(guildID, cmdID string) error {
	return r.s.ApplicationCommandDelete(r.UserID(), guildID, cmdID)
}
func (r *realSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return r.s.InteractionRespond(i, resp)
}
func (r *realSession) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	return r.s.GuildMembers(guildID, after, limit)
}
func (r *realSession) UpdateGameStatus(idle int, name string) error {
	return r.s.UpdateGameStatus(idle, name)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data)
}

// EnsureCommand creates cmd in guildID (or globally when guildID is empty),
// or edits the existing command of the same name. It returns the stored
// command.
func EnsureCommand(s Session, guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	existing, err := s.ApplicationCommands(guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: list commands: %w", err)
	}
	for _, c := range existing {
		if c.Name != cmd.Name {
			continue
		}
		updated, err := s.ApplicationCommandEdit(guildID, c.ID, cmd)
		if err != nil {
			return nil, fmt.Errorf("discord: edit command %s: %w", cmd.Name, err)
		}
		return updated, nil
	}
	created, err := s.ApplicationCommandCreate(guildID, cmd)
	if err != nil {
		return nil, fmt.Errorf("discord: create command %s: %w", cmd.Name, err)
	}
	return created, nil
}

// CommandName returns the slash command name of an application command
// interaction, or "" for any other interaction.
func CommandName(i *discordgo.InteractionCreate) string {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return ""
	}
	return i.ApplicationCommandData().Name
}

// Reply answers an interaction with a plain channel message.
func Reply(s Session, i *discordgo.Interaction, content string) error {
	return s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}
