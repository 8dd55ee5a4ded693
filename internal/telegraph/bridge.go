package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/models"
)

// commandPrefix is the prefix that triggers command handling.
const commandPrefix = "!opal"

const (
	defaultThreadIdleTTL = 24 * time.Hour
	defaultMaxThreads    = 1000
)

// ControllerFactory creates the conversation controller for a new thread.
type ControllerFactory func() *conversation.Controller

// Bridge maps chat threads to OPAL conversations. Each channel thread gets
// its own Controller; replies are posted back into the same thread.
type Bridge struct {
	adapter       Adapter
	newController ControllerFactory
	botUserID     string
	out           io.Writer

	// threads is keyed by "channelID:threadID". Entries are refreshed on
	// every use, so only idle threads expire.
	mu      sync.Mutex
	threads *lru.LRU[string, *conversation.Controller]

	ackMu   sync.Mutex
	ackDeck []string

	pending sync.WaitGroup
}

// BridgeOpts holds parameters for creating a Bridge.
type BridgeOpts struct {
	Adapter       Adapter
	NewController ControllerFactory
	BotUserID     string    // bot's user ID for self-message filtering
	Out           io.Writer // defaults to os.Stdout

	// ThreadIdleTTL forgets a thread's conversation after this long without
	// a message; MaxThreads caps how many are kept, least recent first out.
	ThreadIdleTTL time.Duration // defaults to 24h
	MaxThreads    int           // defaults to 1000
}

// NewBridge creates a Bridge.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: bridge: adapter is required")
	}
	if opts.NewController == nil {
		return nil, fmt.Errorf("telegraph: bridge: controller factory is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	ttl := opts.ThreadIdleTTL
	if ttl <= 0 {
		ttl = defaultThreadIdleTTL
	}
	size := opts.MaxThreads
	if size <= 0 {
		size = defaultMaxThreads
	}
	return &Bridge{
		adapter:       opts.Adapter,
		newController: opts.NewController,
		botUserID:     opts.BotUserID,
		out:           out,
		threads:       lru.NewLRU[string, *conversation.Controller](size, forgetThread, ttl),
	}, nil
}

// Wait blocks until every in-flight turn has posted its reply.
func (b *Bridge) Wait() { b.pending.Wait() }

// Handle classifies and routes a single inbound message:
//  1. Bot self-message → ignore
//  2. "!opal ..." (optionally after a mention) → command
//  3. Thread with a conversation → next turn
//  4. Mention → new conversation, first turn
//  5. Everything else → ignore
func (b *Bridge) Handle(ctx context.Context, msg InboundMessage) {
	if b.botUserID != "" && msg.UserID == b.botUserID {
		return
	}

	text := stripMentions(msg.Text)
	fmt.Fprintf(b.out, "telegraph: recv [ch=%s thread=%s user=%s] %q\n",
		msg.ChannelID, msg.ThreadID, msg.UserName, truncate(text, 80))

	if isCommand(text) {
		b.handleCommand(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, commandPrefix)))
		return
	}
	if text == "" {
		return
	}

	ctrl := b.lookup(msg)
	if ctrl == nil {
		if !msg.Mentioned {
			return
		}
		ctrl = b.controllerFor(msg)
	}
	b.startTurn(ctx, msg, ctrl, text)
}

func (b *Bridge) startTurn(ctx context.Context, msg InboundMessage, ctrl *conversation.Controller, text string) {
	turn, err := ctrl.StartTurn(ctx, text)
	if err != nil {
		reply := "Sorry, I couldn't start that request: " + err.Error()
		if errors.Is(err, conversation.ErrTurnInFlight) {
			reply = "Still working on your previous request. Use `!opal cancel` to stop it."
		}
		b.reply(ctx, msg, OutboundMessage{Text: reply})
		return
	}
	b.reply(ctx, msg, OutboundMessage{Text: b.nextAck()})

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		select {
		case <-turn.Done():
		case <-ctx.Done():
			return
		}
		resp, err := turn.Result()
		if errors.Is(err, conversation.ErrDiscarded) {
			return
		}
		b.reply(ctx, msg, turnReply(ctrl.State(), resp))
	}()
}

// turnReply posts the newest assistant message, plus plan and source cards
// when the turn produced them.
func turnReply(s conversation.State, resp *models.ChatResponse) OutboundMessage {
	out := OutboundMessage{}
	if n := len(s.Messages); n > 0 {
		out.Text = s.Messages[n-1].Content
	}
	if resp == nil {
		return out
	}
	if resp.Plan != nil {
		out.Cards = append(out.Cards, PlanCard(s.Plan, s.PlanWarnings))
	}
	if len(resp.Sources) > 0 {
		out.Cards = append(out.Cards, SourcesCard(s.Sources))
	}
	return out
}

// handleCommand runs one "!opal" command against the thread's conversation.
func (b *Bridge) handleCommand(ctx context.Context, msg InboundMessage, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		fields = []string{"help"}
	}

	switch fields[0] {
	case "new":
		b.controllerFor(msg).NewConversation()
		b.reply(ctx, msg, OutboundMessage{Text: "Started a new conversation."})
	case "plan":
		s := b.controllerFor(msg).State()
		b.reply(ctx, msg, OutboundMessage{Cards: []Card{PlanCard(s.Plan, s.PlanWarnings)}})
	case "sources":
		s := b.controllerFor(msg).State()
		b.reply(ctx, msg, OutboundMessage{Cards: []Card{SourcesCard(s.Sources)}})
	case "cancel":
		if b.controllerFor(msg).Cancel() {
			b.reply(ctx, msg, OutboundMessage{Text: "Cancelled."})
		} else {
			b.reply(ctx, msg, OutboundMessage{Text: "Nothing to cancel."})
		}
	case "load":
		if len(fields) < 2 {
			b.reply(ctx, msg, OutboundMessage{Text: "Usage: `!opal load <conversation-id>`"})
			return
		}
		ctrl := b.controllerFor(msg)
		if err := ctrl.LoadConversation(ctx, fields[1]); err != nil {
			b.reply(ctx, msg, OutboundMessage{Cards: []Card{ErrorCard("Could not load conversation", err)}})
			return
		}
		s := ctrl.State()
		b.reply(ctx, msg, OutboundMessage{
			Text:  fmt.Sprintf("Loaded conversation %s (%d messages).", s.ConversationID, len(s.Messages)),
			Cards: []Card{PlanCard(s.Plan, s.PlanWarnings)},
		})
	case "help":
		b.reply(ctx, msg, OutboundMessage{Text: helpText})
	default:
		b.reply(ctx, msg, OutboundMessage{Text: fmt.Sprintf("Unknown command %q.\n%s", fields[0], helpText)})
	}
}

const helpText = "Mention me with a research goal to start a conversation, then reply in the thread.\n" +
	"`!opal new` start over\n" +
	"`!opal plan` show the current plan\n" +
	"`!opal sources` list cited sources\n" +
	"`!opal load <id>` load a saved conversation\n" +
	"`!opal cancel` stop the running request\n" +
	"`!opal help` show this message"

func (b *Bridge) reply(ctx context.Context, msg InboundMessage, out OutboundMessage) {
	out.ChannelID = msg.ChannelID
	out.ThreadID = msg.ThreadID
	if err := b.adapter.Send(ctx, out); err != nil {
		log.Printf("telegraph: send reply: %v", err)
	}
}

func threadKey(msg InboundMessage) string {
	return msg.ChannelID + ":" + msg.ThreadID
}

func (b *Bridge) lookup(msg InboundMessage) *conversation.Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := threadKey(msg)
	c, ok := b.threads.Get(key)
	if !ok {
		return nil
	}
	// Add restarts the idle clock; Get alone does not.
	b.threads.Add(key, c)
	return c
}

// controllerFor returns the thread's controller, creating it if needed.
func (b *Bridge) controllerFor(msg InboundMessage) *conversation.Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := threadKey(msg)
	c, ok := b.threads.Get(key)
	if !ok {
		c = b.newController()
	}
	b.threads.Add(key, c)
	return c
}

// forgetThread abandons the turn of a thread that expired or was pushed out.
func forgetThread(key string, c *conversation.Controller) {
	if c != nil && c.Cancel() {
		log.Printf("telegraph: dropped idle thread %s with a turn in flight", key)
	}
}

// Threads returns the number of threads with a live conversation.
func (b *Bridge) Threads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threads.Len()
}

// ackPhrases are sent when a turn is accepted.
var ackPhrases = []string{
	"On it. Searching lab capabilities...",
	"Looking into it...",
	"Drafting a plan, give me a minute.",
	"Checking the literature and facilities...",
	"Working on it now.",
	"Let me see what the labs can do.",
}

// nextAck returns the next ack phrase from the shuffled deck. When the deck
// is exhausted it reshuffles, so every phrase is used before any repeats.
func (b *Bridge) nextAck() string {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()

	if len(b.ackDeck) == 0 {
		b.ackDeck = append([]string(nil), ackPhrases...)
		rand.Shuffle(len(b.ackDeck), func(i, j int) {
			b.ackDeck[i], b.ackDeck[j] = b.ackDeck[j], b.ackDeck[i]
		})
	}
	phrase := b.ackDeck[len(b.ackDeck)-1]
	b.ackDeck = b.ackDeck[:len(b.ackDeck)-1]
	return phrase
}

// isCommand returns true if the text starts with the command prefix.
func isCommand(text string) bool {
	return strings.HasPrefix(text, commandPrefix+" ") || text == commandPrefix
}

// mentionRe matches Slack <@U123> and Discord <@123> / <@!123> mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// stripMentions removes user mentions and surrounding whitespace.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}
