// Package slack connects the telegraph bridge to a Slack workspace over
// Socket Mode. Research goals arrive as app mentions; follow-ups arrive as
// plain messages in the mention's thread.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/opal/internal/telegraph"
)

const (
	platform = "slack"
	// maxMessageLen keeps text under Slack's per-message limit.
	maxMessageLen = 3000
	nameCacheSize = 512
	nameCacheTTL  = 30 * time.Minute
)

var (
	reconnectPolicy = telegraph.Backoff{Base: 2 * time.Second, Max: 2 * time.Minute, Retries: 10}
	postPolicy      = telegraph.Backoff{Base: time.Second, Max: 30 * time.Second, Retries: 3}
)

// webAPI is the subset of the Slack Web API the adapter calls.
type webAPI interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// eventStream is the Socket Mode connection.
type eventStream interface {
	Run() error
	Events() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type socketStream struct{ *socketmode.Client }

func (s socketStream) Events() chan socketmode.Event { return s.Client.Events }

// Adapter implements telegraph.Adapter for Slack.
type Adapter struct {
	appToken       string
	botToken       string
	defaultChannel string

	web    webAPI
	stream eventStream
	names  *lru.LRU[string, string]

	reconnect telegraph.Backoff
	post      telegraph.Backoff

	mu     sync.Mutex
	self   string
	open   bool
	closed bool
	stop   context.CancelFunc

	// sendMu orders deliveries before the inbound channel is closed.
	sendMu  sync.Mutex
	drained bool
	inbound chan telegraph.InboundMessage
}

// AdapterOpts configures a Slack Adapter. Client and Socket replace the
// real Slack connections in tests.
type AdapterOpts struct {
	AppToken  string // xapp-..., required for Socket Mode
	BotToken  string // xoxb-...
	ChannelID string // where notices go when a message names no channel

	Client webAPI
	Socket eventStream
}

// New validates the tokens and returns an unconnected Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Adapter{
		appToken:       opts.AppToken,
		botToken:       opts.BotToken,
		defaultChannel: opts.ChannelID,
		web:            opts.Client,
		stream:         opts.Socket,
		names:          lru.NewLRU[string, string](nameCacheSize, nil, nameCacheTTL),
		reconnect:      reconnectPolicy,
		post:           postPolicy,
		inbound:        make(chan telegraph.InboundMessage, 100),
	}, nil
}

// Connect authenticates the bot and learns its user id.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("slack: adapter already closed")
	case a.open:
		return nil
	}

	if a.web == nil {
		client := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.web = client
		a.stream = socketStream{socketmode.New(client)}
	}
	auth, err := a.web.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.self = auth.UserID
	a.open = true
	return nil
}

// Listen starts the Socket Mode connection and returns the inbound channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil, fmt.Errorf("slack: not connected")
	}
	ctx, a.stop = context.WithCancel(ctx)
	go a.keepAlive(ctx)
	go a.pump(ctx)
	return a.inbound, nil
}

// Send posts msg, split to fit Slack's limit. Replies stay in msg's thread.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	open := a.open
	a.mu.Unlock()
	if !open {
		return fmt.Errorf("slack: not connected")
	}

	channel := msg.ChannelID
	if channel == "" {
		channel = a.defaultChannel
	}
	if channel == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	for _, options := range buildMessages(msg) {
		err := a.post.Retry(ctx, func() error {
			_, _, err := a.web.PostMessage(channel, options...)
			return err
		}, rateLimited)
		if err != nil {
			return fmt.Errorf("slack: post message: %w", err)
		}
	}
	return nil
}

// Close stops listening and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed, a.open = true, false
	stop := a.stop
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	a.sendMu.Lock()
	a.drained = true
	close(a.inbound)
	a.sendMu.Unlock()
	return nil
}

// BotUserID returns the bot's own user id once connected.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

// keepAlive runs the Socket Mode connection, restarting it on the
// reconnect schedule when it drops.
func (a *Adapter) keepAlive(ctx context.Context) {
	err := a.reconnect.Retry(ctx, a.stream.Run, func(err error) (time.Duration, bool) {
		if ctx.Err() != nil {
			return 0, false
		}
		log.Printf("slack: socket mode dropped: %v", err)
		return 0, true
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("slack: socket mode gave up after %d reconnects: %v", a.reconnect.Retries, err)
	}
}

// pump acknowledges Socket Mode envelopes and forwards chat messages.
func (a *Adapter) pump(ctx context.Context) {
	events := a.stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Request != nil && evt.Type == socketmode.EventTypeEventsAPI {
				a.stream.Ack(*evt.Request)
			}
			if note, ok := connectionNotes[evt.Type]; ok {
				log.Printf("slack: %s", note)
				continue
			}
			if msg, ok := a.translate(evt); ok {
				a.deliver(ctx, msg)
			}
		}
	}
}

var connectionNotes = map[socketmode.EventType]string{
	socketmode.EventTypeConnecting:      "connecting to Socket Mode",
	socketmode.EventTypeConnected:       "connected to Socket Mode",
	socketmode.EventTypeConnectionError: "Socket Mode connection error",
	socketmode.EventTypeDisconnect:      "Socket Mode disconnect requested",
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

// translate turns an Events API callback into an inbound message. Messages
// that mention the bot are dropped here because Slack also sends them as
// app_mention events.
func (a *Adapter) translate(evt socketmode.Event) (telegraph.InboundMessage, bool) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return telegraph.InboundMessage{}, false
	}
	callback, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || callback.Type != slackevents.CallbackEvent {
		return telegraph.InboundMessage{}, false
	}
	self := a.BotUserID()

	switch ev := callback.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == self {
			return telegraph.InboundMessage{}, false
		}
		return a.inboundFrom(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text, true), true

	case *slackevents.MessageEvent:
		switch {
		case ev.User == self, ev.BotID != "", ev.SubType != "":
			return telegraph.InboundMessage{}, false
		case self != "" && strings.Contains(ev.Text, "<@"+self+">"):
			return telegraph.InboundMessage{}, false
		}
		return a.inboundFrom(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text, false), true
	}
	return telegraph.InboundMessage{}, false
}

// inboundFrom builds a message. A top-level message roots its own thread so
// the conversation's replies stay grouped under it.
func (a *Adapter) inboundFrom(channel, threadTS, ts, user, text string, mentioned bool) telegraph.InboundMessage {
	thread := threadTS
	if thread == "" {
		thread = ts
	}
	return telegraph.InboundMessage{
		Platform:  platform,
		ChannelID: channel,
		ThreadID:  thread,
		UserID:    user,
		UserName:  a.displayName(user),
		Text:      text,
		Mentioned: mentioned,
		Timestamp: messageTime(ts),
	}
}

// displayName resolves a user's display name, falling back to the id.
func (a *Adapter) displayName(userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := a.names.Get(userID); ok {
		return name
	}
	user, err := a.web.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.names.Add(userID, name)
	return name
}

// buildMessages turns msg into one MsgOption set per post. Cards ride on
// the last post; a card-only reply uses the first card title as its text.
func buildMessages(msg telegraph.OutboundMessage) [][]slackapi.MsgOption {
	chunks := telegraph.SplitText(msg.Text, maxMessageLen)
	posts := make([][]slackapi.MsgOption, len(chunks))
	last := len(chunks) - 1
	for i, text := range chunks {
		if msg.ThreadID != "" {
			posts[i] = append(posts[i], slackapi.MsgOptionTS(msg.ThreadID))
		}
		if i == last && len(msg.Cards) > 0 {
			attachments := make([]slackapi.Attachment, len(msg.Cards))
			for j, c := range msg.Cards {
				attachments[j] = attachment(c)
			}
			posts[i] = append(posts[i], slackapi.MsgOptionAttachments(attachments...))
			if text == "" {
				text = msg.Cards[0].Title
			}
		}
		posts[i] = append(posts[i], slackapi.MsgOptionText(text, false))
	}
	return posts
}

// attachment renders a plan, sources or error card.
func attachment(c telegraph.Card) slackapi.Attachment {
	att := slackapi.Attachment{Title: c.Title, Text: c.Body, Color: c.Color, Fallback: c.Title}
	for _, f := range c.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	return att
}

// rateLimited reports whether Slack throttled a post and how long it asked
// us to wait.
func rateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// messageTime parses a Slack "seconds.micros" timestamp.
func messageTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	micros, _ := strconv.ParseInt(frac, 10, 64)
	return time.Unix(sec, micros*int64(time.Microsecond))
}
