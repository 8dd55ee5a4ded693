// Package discord connects the telegraph bridge to Discord through the
// Gateway. A mention of the bot opens a thread for the research
// conversation; replies in that thread continue it.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/opal/internal/telegraph"
)

const (
	platform = "discord"
	// maxMessageLen is Discord's per-message content limit.
	maxMessageLen = 2000
	// maxThreadName is Discord's thread name limit.
	maxThreadName = 100
	// threadArchiveMinutes hides an idle conversation thread after a day.
	threadArchiveMinutes = 1440
	defaultThreadName    = "OPAL research plan"
)

var sendPolicy = telegraph.Backoff{Base: 2 * time.Second, Max: 2 * time.Minute, Retries: 3}

var mentionRe = regexp.MustCompile(`<@!?[0-9]+>`)

// gateway is the subset of *discordgo.Session the adapter uses.
type gateway interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error)
	AddHandler(handler interface{}) func()
}

// liveGateway resolves channels from the session's state cache.
type liveGateway struct{ *discordgo.Session }

func (g liveGateway) Channel(channelID string) (*discordgo.Channel, error) {
	return g.State.Channel(channelID)
}

func (g liveGateway) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	return g.Session.MessageThreadStartComplex(channelID, messageID, data)
}

// Adapter implements telegraph.Adapter for Discord.
type Adapter struct {
	botToken       string
	defaultChannel string
	gw             gateway
	send           telegraph.Backoff

	mu     sync.Mutex
	self   string
	open   bool
	closed bool
	detach []func()
	stop   context.CancelFunc

	// sendMu orders deliveries before the inbound channel is closed.
	sendMu  sync.Mutex
	drained bool
	inbound chan telegraph.InboundMessage
}

// AdapterOpts configures a Discord Adapter. Session replaces the real
// Gateway connection in tests.
type AdapterOpts struct {
	BotToken  string
	ChannelID string // where notices go when a message names no channel
	Session   gateway
}

// New validates the token and returns an unconnected Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		botToken:       opts.BotToken,
		defaultChannel: opts.ChannelID,
		gw:             opts.Session,
		send:           sendPolicy,
		inbound:        make(chan telegraph.InboundMessage, 100),
	}, nil
}

// Connect opens the Gateway. The bot's user id is learned from the Ready
// event, which discordgo replays on every reconnect.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("discord: adapter already closed")
	case a.open:
		return nil
	}

	if a.gw == nil {
		s, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.gw = liveGateway{s}
	}

	a.detach = append(a.detach, a.gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.self = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: ready as %s (%s)", r.User.Username, r.User.ID)
	}))
	if err := a.gw.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.open = true
	return nil
}

// Listen subscribes to new messages and returns the inbound channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil, fmt.Errorf("discord: not connected")
	}
	ctx, a.stop = context.WithCancel(ctx)
	a.detach = append(a.detach, a.gw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if msg, ok := a.toInbound(ctx, m); ok {
			a.deliver(ctx, msg)
		}
	}))
	return a.inbound, nil
}

// Send posts msg to its thread (threads are channels in Discord), falling
// back to its channel and then the default channel.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.connected() {
		return fmt.Errorf("discord: not connected")
	}
	target := firstNonEmpty(msg.ThreadID, msg.ChannelID, a.defaultChannel)
	if target == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	for _, data := range buildMessages(msg) {
		err := a.send.Retry(ctx, func() error {
			_, err := a.gw.ChannelMessageSendComplex(target, data)
			return err
		}, tooManyRequests)
		if err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// Close detaches the handlers, closes the inbound channel and the Gateway.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed, a.open = true, false
	stop, detach := a.stop, a.detach
	a.detach = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, remove := range detach {
		remove()
	}
	a.sendMu.Lock()
	a.drained = true
	close(a.inbound)
	a.sendMu.Unlock()
	if a.gw != nil {
		return a.gw.Close()
	}
	return nil
}

// BotUserID returns the bot's own user id once Ready has arrived.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *Adapter) connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

func (a *Adapter) deliver(ctx context.Context, msg telegraph.InboundMessage) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.drained {
		return
	}
	select {
	case a.inbound <- msg:
	case <-ctx.Done():
	}
}

// toInbound converts a Discord message. Bots, including this one, are
// ignored. A mention outside a thread opens one rooted at the message so
// the conversation has its own place; if that fails the reply goes to the
// channel.
func (a *Adapter) toInbound(ctx context.Context, m *discordgo.MessageCreate) (telegraph.InboundMessage, bool) {
	if m.Author == nil || m.Author.Bot {
		return telegraph.InboundMessage{}, false
	}
	self := a.BotUserID()
	if m.Author.ID == self {
		return telegraph.InboundMessage{}, false
	}

	msg := telegraph.InboundMessage{
		Platform:  platform,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Mentioned: mentions(m.Mentions, self),
	}
	msg.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)

	if ch, err := a.gw.Channel(m.ChannelID); err == nil && ch.IsThread() {
		msg.ChannelID, msg.ThreadID = ch.ParentID, m.ChannelID
	}
	if msg.Mentioned && msg.ThreadID == "" {
		id, err := a.openThread(ctx, msg.ChannelID, m.ID, threadName(m.Content))
		if err != nil {
			log.Printf("discord: %v", err)
		} else {
			msg.ThreadID = id
		}
	}
	return msg, true
}

func mentions(users []*discordgo.User, id string) bool {
	if id == "" {
		return false
	}
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

// openThread starts a public thread on messageID and returns its id.
func (a *Adapter) openThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	var thread *discordgo.Channel
	err := a.send.Retry(ctx, func() error {
		var err error
		thread, err = a.gw.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPublicThread,
		})
		return err
	}, tooManyRequests)
	if err != nil {
		return "", fmt.Errorf("open thread: %w", err)
	}
	return thread.ID, nil
}

// threadName titles a thread after the research goal that opened it.
func threadName(content string) string {
	name := strings.Join(strings.Fields(mentionRe.ReplaceAllString(content, "")), " ")
	if name == "" {
		return defaultThreadName
	}
	if r := []rune(name); len(r) > maxThreadName {
		name = string(r[:maxThreadName-3]) + "..."
	}
	return name
}

// buildMessages splits msg.Text to fit Discord's limit; cards become embeds
// on the last message.
func buildMessages(msg telegraph.OutboundMessage) []*discordgo.MessageSend {
	chunks := telegraph.SplitText(msg.Text, maxMessageLen)
	out := make([]*discordgo.MessageSend, len(chunks))
	for i, text := range chunks {
		out[i] = &discordgo.MessageSend{Content: text}
	}
	last := out[len(out)-1]
	for _, c := range msg.Cards {
		last.Embeds = append(last.Embeds, embed(c))
	}
	return out
}

// embed renders a plan, sources or error card.
func embed(c telegraph.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: c.Title, Description: c.Body, Color: embedColor(c.Color)}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
	}
	return e
}

// embedColor parses "#rrggbb". Anything else is 0, Discord's default.
func embedColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

// tooManyRequests reports a 429 from the Discord REST API.
func tooManyRequests(err error) (time.Duration, bool) {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
