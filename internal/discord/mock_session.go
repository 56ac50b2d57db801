package discord

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MockSession implements Session for testing. It records commands,
// interaction responses, status updates and sent messages, and lets tests
// dispatch gateway events to registered handlers with Emit.
type MockSession struct {
	mu sync.Mutex
	// dial is held for the whole of Open; Close waits on it like the real
	// gateway client does.
	dial sync.Mutex

	// Errors returned by the matching calls when set.
	OpenErr     error
	CloseErr    error
	CommandsErr error
	CreateErr   error
	MembersErr  error
	StatusErr   error

	// OpenGate, when set, makes Open block until it is closed.
	OpenGate chan struct{}

	// Members served by GuildMembers, paged by the after cursor.
	Members []*discordgo.Member
	// BotID is returned by UserID once the session is open.
	BotID string

	open      bool
	opens     int
	closes    int
	nextID    int
	handlers  map[int]interface{}
	commands  map[string][]*discordgo.ApplicationCommand // key: guild ID ("" = global)
	responses []*discordgo.InteractionResponse
	statuses  []string
	sent      []*discordgo.MessageSend
}

// NewMockSession creates an empty MockSession.
func NewMockSession() *MockSession {
	return &MockSession{
		BotID:    "bot-user",
		handlers: make(map[int]interface{}),
		commands: make(map[string][]*discordgo.ApplicationCommand),
	}
}

// Open marks the session open and dispatches a Ready event.
func (m *MockSession) Open() error {
	m.dial.Lock()
	defer m.dial.Unlock()
	if m.OpenGate != nil {
		<-m.OpenGate
	}

	m.mu.Lock()
	m.opens++
	if m.OpenErr != nil {
		err := m.OpenErr
		m.mu.Unlock()
		return err
	}
	m.open = true
	botID := m.BotID
	m.mu.Unlock()

	m.Emit(&discordgo.Ready{User: &discordgo.User{ID: botID}})
	return nil
}

// Close marks the session closed.
func (m *MockSession) Close() error {
	m.dial.Lock()
	defer m.dial.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.open = false
	return m.CloseErr
}

// AddHandler registers a discordgo-style handler and returns its remover.
func (m *MockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// UserID returns BotID while open.
func (m *MockSession) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ""
	}
	return m.BotID
}

// ApplicationCommands returns the commands registered for guildID.
func (m *MockSession) ApplicationCommands(guildID string) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommandsErr != nil {
		return nil, m.CommandsErr
	}
	return append([]*discordgo.ApplicationCommand(nil), m.commands[guildID]...), nil
}

// ApplicationCommandCreate records cmd under guildID.
func (m *MockSession) ApplicationCommandCreate(guildID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	c := *cmd
	c.ID = fmt.Sprintf("cmd-%d", len(m.commands[guildID])+1)
	c.GuildID = guildID
	m.commands[guildID] = append(m.commands[guildID], &c)
	return &c, nil
}

// ApplicationCommandEdit replaces the command with cmdID.
func (m *MockSession) ApplicationCommandEdit(guildID, cmdID string, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.commands[guildID] {
		if c.ID == cmdID {
			updated := *cmd
			updated.ID = cmdID
			updated.GuildID = guildID
			m.commands[guildID][i] = &updated
			return &updated, nil
		}
	}
	return nil, fmt.Errorf("mock session: unknown command %s", cmdID)
}

// ApplicationCommandDelete removes the command with cmdID.
func (m *MockSession) ApplicationCommandDelete(guildID, cmdID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmds := m.commands[guildID]
	for i, c := range cmds {
		if c.ID == cmdID {
			m.commands[guildID] = append(cmds[:i], cmds[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("mock session: unknown command %s", cmdID)
}

// InteractionRespond records resp.
func (m *MockSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

// GuildMembers pages through Members using the after cursor.
func (m *MockSession) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MembersErr != nil {
		return nil, m.MembersErr
	}
	start := 0
	if after != "" {
		for i, mem := range m.Members {
			if mem.User != nil && mem.User.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(m.Members) {
		end = len(m.Members)
	}
	return append([]*discordgo.Member(nil), m.Members[start:end]...), nil
}

// UpdateGameStatus records name.
func (m *MockSession) UpdateGameStatus(idle int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return m.StatusErr
	}
	m.statuses = append(m.statuses, name)
	return nil
}

// ChannelMessageSendComplex records data.
func (m *MockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", len(m.sent)), ChannelID: channelID}, nil
}

// Emit calls every registered handler whose event parameter matches the
// type of event. Handlers receive a nil *discordgo.Session.
func (m *MockSession) Emit(event interface{}) {
	m.mu.Lock()
	var matched []reflect.Value
	evType := reflect.TypeOf(event)
	for _, h := range m.handlers {
		hv := reflect.ValueOf(h)
		ht := hv.Type()
		if ht.Kind() == reflect.Func && ht.NumIn() == 2 && ht.In(1) == evType {
			matched = append(matched, hv)
		}
	}
	m.mu.Unlock()

	for _, hv := range matched {
		hv.Call([]reflect.Value{reflect.Zero(hv.Type().In(0)), reflect.ValueOf(event)})
	}
}

// Commands returns the commands registered for guildID.
func (m *MockSession) Commands(guildID string) []*discordgo.ApplicationCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.ApplicationCommand(nil), m.commands[guildID]...)
}

// Responses returns the recorded interaction responses.
func (m *MockSession) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// Statuses returns the recorded game status names.
func (m *MockSession) Statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

// Sent returns the recorded channel messages.
func (m *MockSession) Sent() []*discordgo.MessageSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.MessageSend(nil), m.sent...)
}

// HandlerCount returns the number of registered handlers.
func (m *MockSession) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (m *MockSession) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// CloseCount returns how many times Close was called.
func (m *MockSession) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Connector returns a Connector that always hands out m.
func (m *MockSession) Connector() Connector {
	return func(token string) (Session, error) { return m, nil }
}
