package discord

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/opal/internal/telegraph"
)

// --- Mock Discord session ---

type mockSession struct {
	mu             sync.Mutex
	opened         bool
	closeCalled    bool
	openErr        error
	sentMessages   []sentMessage
	sendErr        error
	throttle       int // answer 429 this many times first
	sendCalls      int
	threads        []createdThread
	threadErr      error
	threadResponse *discordgo.Channel
	handlers       []interface{}
	removeCount    int
	channels       map[string]*discordgo.Channel // for Channel() lookups
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

type createdThread struct {
	channelID string
	messageID string
	data      *discordgo.ThreadStart
}

func newMockSession() *mockSession {
	return &mockSession{
		threadResponse: &discordgo.Channel{ID: "thread-123"},
		channels:       make(map[string]*discordgo.Channel),
	}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel not found: %s", channelID)
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if m.sendCalls <= m.throttle {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threadErr != nil {
		return nil, m.threadErr
	}
	m.threads = append(m.threads, createdThread{channelID: channelID, messageID: messageID, data: data})
	return m.threadResponse, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

func (m *mockSession) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sentMessages...)
}

// messageHandler returns the registered MessageCreate handler, if any.
func (m *mockSession) messageHandler() func(*discordgo.Session, *discordgo.MessageCreate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.MessageCreate)); ok {
			return fn
		}
	}
	return nil
}

// --- Helpers ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()

	a, err := New(AdapterOpts{
		Session:   sess,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.self = "BOT_USER_ID"
	return a, sess
}

func userMessage(id, channelID, content string, mentions ...*discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "U_ALICE", Username: "alice"},
		Mentions:  mentions,
	}}
}

// handle runs m through the adapter the way the MessageCreate handler does.
func handle(a *Adapter, m *discordgo.MessageCreate) {
	if msg, ok := a.toInbound(context.Background(), m); ok {
		a.deliver(context.Background(), msg)
	}
}

func receive(t *testing.T, ch <-chan telegraph.InboundMessage) telegraph.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return telegraph.InboundMessage{}
}

// --- New / Connect ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil || !strings.Contains(err.Error(), "bot token") {
		t.Fatalf("error = %v, want bot token error", err)
	}
	if _, err := New(AdapterOpts{BotToken: "test-token"}); err != nil {
		t.Errorf("New with token: %v", err)
	}
}

func TestConnect(t *testing.T) {
	a, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("session should be opened")
	}
	if len(sess.handlers) != 1 {
		t.Errorf("handlers = %d, want only the ready handler", len(sess.handlers))
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Errorf("second connect should be a no-op: %v", err)
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("gateway unavailable")
	a, _ := New(AdapterOpts{Session: sess})
	if err := a.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("error = %v, want open gateway error", err)
	}
}

func TestConnect_ReadyHandlerSetsBotID(t *testing.T) {
	a, sess := newTestAdapter(t)
	for _, h := range sess.handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.Ready)); ok {
			fn(nil, &discordgo.Ready{User: &discordgo.User{ID: "B42", Username: "opal"}})
		}
	}
	if a.BotUserID() != "B42" {
		t.Errorf("bot user ID = %q, want B42", a.BotUserID())
	}
}

// --- Listen / toInbound ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_DeliversThreadReply(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["T1"] = &discordgo.Channel{ID: "T1", ParentID: "C1", Type: discordgo.ChannelTypeGuildPublicThread}

	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	handler := sess.messageHandler()
	if handler == nil {
		t.Fatal("no MessageCreate handler registered")
	}
	handler(nil, userMessage("1", "T1", "what about soil moisture?"))

	msg := receive(t, ch)
	if msg.Platform != "discord" || msg.ChannelID != "C1" || msg.ThreadID != "T1" {
		t.Errorf("msg = %+v, want channel C1 thread T1", msg)
	}
	if msg.Mentioned {
		t.Error("reply without mention should not be marked as mentioned")
	}
	if len(sess.threads) != 0 {
		t.Errorf("threads created = %d, want 0", len(sess.threads))
	}
}

func TestToInbound_MentionOpensThread(t *testing.T) {
	a, sess := newTestAdapter(t)

	handle(a, userMessage("2", "C1", "<@BOT_USER_ID> plan drought tolerance trials",
		&discordgo.User{ID: "BOT_USER_ID"}))

	msg := receive(t, a.inbound)
	if !msg.Mentioned {
		t.Error("expected Mentioned")
	}
	if msg.ChannelID != "C1" || msg.ThreadID != "thread-123" {
		t.Errorf("msg = %+v, want thread-123 in C1", msg)
	}
	if len(sess.threads) != 1 {
		t.Fatalf("threads created = %d, want 1", len(sess.threads))
	}
	if got := sess.threads[0].data.Name; got != "plan drought tolerance trials" {
		t.Errorf("thread name = %q", got)
	}
	if sess.threads[0].messageID != "2" {
		t.Errorf("thread started from %q, want message 2", sess.threads[0].messageID)
	}
}

func TestToInbound_ThreadCreateFailureFallsBack(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.threadErr = fmt.Errorf("missing permissions")

	handle(a, userMessage("3", "C1", "<@BOT_USER_ID> hi", &discordgo.User{ID: "BOT_USER_ID"}))

	msg := receive(t, a.inbound)
	if msg.ThreadID != "" || !msg.Mentioned {
		t.Errorf("msg = %+v, want mention with no thread", msg)
	}
}

func TestToInbound_Filters(t *testing.T) {
	a, _ := newTestAdapter(t)

	handle(a, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", ChannelID: "C1", Content: "no author"}})
	handle(a, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "2", ChannelID: "C1", Content: "self",
		Author: &discordgo.User{ID: "BOT_USER_ID"}}})
	handle(a, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "3", ChannelID: "C1", Content: "other bot",
		Author: &discordgo.User{ID: "B2", Bot: true}}})
	handle(a, userMessage("4", "C1", "real"))

	msg := receive(t, a.inbound)
	if msg.Text != "real" {
		t.Errorf("first delivered message = %q, want real", msg.Text)
	}
	select {
	case extra := <-a.inbound:
		t.Errorf("unexpected extra message %+v", extra)
	default:
	}
}

func TestThreadName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<@123> drought   tolerant\nwheat", "drought tolerant wheat"},
		{"<@!123>", "OPAL research plan"},
		{strings.Repeat("a", 150), strings.Repeat("a", maxThreadName-3) + "..."},
	}
	for _, tt := range tests {
		if got := threadName(tt.in); got != tt.want {
			t.Errorf("threadName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- Send ---

func TestSend_Routing(t *testing.T) {
	tests := []struct {
		name     string
		msg      telegraph.OutboundMessage
		wantChan string
	}{
		{"thread wins", telegraph.OutboundMessage{ChannelID: "C1", ThreadID: "T1", Text: "x"}, "T1"},
		{"explicit channel", telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}, "C1"},
		{"default channel", telegraph.OutboundMessage{Text: "x"}, "C_DEFAULT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sess := newTestAdapter(t)
			if err := a.Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("Send: %v", err)
			}
			sent := sess.sent()
			if len(sent) != 1 || sent[0].channelID != tt.wantChan {
				t.Errorf("sent = %+v, want one message to %s", sent, tt.wantChan)
			}
		})
	}
}

func TestSend_SplitsLongTextWithCardsLast(t *testing.T) {
	a, sess := newTestAdapter(t)
	err := a.Send(context.Background(), telegraph.OutboundMessage{
		ChannelID: "C1",
		Text:      strings.Repeat("plan step detail\n", 200),
		Cards:     []telegraph.Card{{Title: "Plan", Color: telegraph.ColorSuccess}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := sess.sent()
	if len(sent) < 2 {
		t.Fatalf("sent %d messages, want a split", len(sent))
	}
	for i, s := range sent {
		if len(s.data.Content) > maxMessageLen {
			t.Errorf("message %d is %d bytes", i, len(s.data.Content))
		}
		wantEmbeds := 0
		if i == len(sent)-1 {
			wantEmbeds = 1
		}
		if len(s.data.Embeds) != wantEmbeds {
			t.Errorf("message %d has %d embeds, want %d", i, len(s.data.Embeds), wantEmbeds)
		}
	}
}

func TestSend_Errors(t *testing.T) {
	notConnected, _ := New(AdapterOpts{Session: newMockSession()})
	if err := notConnected.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err == nil {
		t.Error("expected error when not connected")
	}

	noChannel, _ := New(AdapterOpts{Session: newMockSession()})
	noChannel.Connect(context.Background())
	if err := noChannel.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
		t.Error("expected error with no channel")
	}

	a, sess := newTestAdapter(t)
	sess.sendErr = fmt.Errorf("missing access")
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err == nil {
		t.Error("expected send error")
	}
}

// --- Close ---

func TestClose(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second close should not error: %v", err)
	}
	if !sess.closeCalled {
		t.Error("session should be closed")
	}
	if _, ok := <-a.inbound; ok {
		t.Error("inbound channel should be closed")
	}
	if err := a.Connect(context.Background()); err == nil {
		t.Error("expected error connecting a closed adapter")
	}
}

// --- CreateThread ---

func TestOpenThread(t *testing.T) {
	a, sess := newTestAdapter(t)

	id, err := a.openThread(context.Background(), "C1", "msg-1", "Drought plan")
	if err != nil {
		t.Fatalf("openThread: %v", err)
	}
	if id != "thread-123" {
		t.Errorf("thread ID = %q", id)
	}
	if got := sess.threads[0]; got.channelID != "C1" || got.data.Name != "Drought plan" {
		t.Errorf("created = %+v", got)
	}

	sess.threadErr = fmt.Errorf("forbidden")
	if _, err := a.openThread(context.Background(), "C1", "msg-2", "x"); err == nil {
		t.Error("expected error")
	}
}

// --- Embeds ---

func TestEmbed(t *testing.T) {
	e := embed(telegraph.Card{
		Title: "Sources (3 from 2 documents)",
		Body:  "• Drought review (2)",
		Color: "#2196f3",
		Fields: []telegraph.Field{
			{Name: "Steps", Value: "4", Short: true},
		},
	})
	if e.Title != "Sources (3 from 2 documents)" || e.Description != "• Drought review (2)" {
		t.Errorf("embed = %+v", e)
	}
	if e.Color != 0x2196f3 {
		t.Errorf("color = %x", e.Color)
	}
	if len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Errorf("fields = %+v", e.Fields)
	}

	if embed(telegraph.Card{Title: "x"}).Color != 0 {
		t.Error("empty color should stay 0")
	}
}

func TestEmbedColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"E53935", 0xe53935},
		{"#zzz", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := embedColor(tt.in); got != tt.want {
			t.Errorf("embedColor(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

// --- Rate limiting ---

func TestTooManyRequests(t *testing.T) {
	throttled := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	if _, ok := tooManyRequests(fmt.Errorf("send: %w", throttled)); !ok {
		t.Error("429 should be retried")
	}
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if _, ok := tooManyRequests(forbidden); ok {
		t.Error("403 should not be retried")
	}
	if _, ok := tooManyRequests(&discordgo.RESTError{}); ok {
		t.Error("missing response should not be retried")
	}
}

func TestSend_RetriesWhenThrottled(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.send = telegraph.Backoff{Base: time.Millisecond, Retries: 3}
	sess.throttle = 2

	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent()) != 1 || sess.sendCalls != 3 {
		t.Errorf("sent = %d after %d calls, want 1 after 3", len(sess.sent()), sess.sendCalls)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "C1", "C2"); got != "C1" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty of blanks = %q", got)
	}
}

var _ telegraph.Adapter = (*Adapter)(nil)
