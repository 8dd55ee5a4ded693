package telegraph

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/job"
	"github.com/zulandar/opal/internal/models"
)

// scriptedExecutor answers every turn with resp or err. When gate is set,
// Execute waits for it (or ctx) before answering.
type scriptedExecutor struct {
	mu    sync.Mutex
	resp  *models.ChatResponse
	err   error
	gate  chan struct{}
	calls []models.ChatRequest
}

func (s *scriptedExecutor) Execute(ctx context.Context, _ *job.Run, req models.ChatRequest, _ job.WaitOpts) (*models.ChatResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.resp, s.err
}

func (s *scriptedExecutor) requests() []models.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatRequest(nil), s.calls...)
}

type fakeConversations struct {
	detail *models.ConversationDetail
	err    error
}

func (f fakeConversations) GetConversation(context.Context, string) (*models.ConversationDetail, error) {
	return f.detail, f.err
}

func droughtResponse() *models.ChatResponse {
	return &models.ChatResponse{
		Message:        "Here is a plan for drought tolerance screening.",
		ConversationID: "conv-7",
		Plan: &models.OPALPlan{
			GoalSummary: "Screen wheat for drought tolerance",
			Steps: []models.PlanStep{
				{StepID: "s1", Objective: "Phenotype cultivars", RecommendedFacility: "Field lab"},
				{StepID: "s2", Objective: "Sequence tolerant lines", Dependencies: []string{"s1"}},
			},
		},
		Sources: []models.SearchResult{
			{ChunkID: "c1", SourceDocumentID: "d1", SourceTitle: "Drought review", Text: "x", Score: 0.9},
		},
	}
}

func newTestBridge(t *testing.T, exec conversation.Executor, convs conversation.API) (*Bridge, *MockAdapter) {
	t.Helper()
	return newBoundedBridge(t, exec, convs, 0, 0)
}

func newBoundedBridge(t *testing.T, exec conversation.Executor, convs conversation.API, ttl time.Duration, maxThreads int) (*Bridge, *MockAdapter) {
	t.Helper()
	adapter := NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	b, err := NewBridge(BridgeOpts{
		Adapter: adapter,
		NewController: func() *conversation.Controller {
			return conversation.NewController(conversation.ControllerOpts{API: convs, Jobs: exec})
		},
		BotUserID:     "U_BOT",
		Out:           &bytes.Buffer{},
		ThreadIdleTTL: ttl,
		MaxThreads:    maxThreads,
	})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return b, adapter
}

func mention(text string) InboundMessage {
	return InboundMessage{Platform: "slack", ChannelID: "C1", ThreadID: "100.1", UserID: "U_ALICE", UserName: "alice",
		Text: "<@U_BOT> " + text, Mentioned: true}
}

func threadReply(text string) InboundMessage {
	return InboundMessage{Platform: "slack", ChannelID: "C1", ThreadID: "100.1", UserID: "U_ALICE", UserName: "alice", Text: text}
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOpts{NewController: func() *conversation.Controller { return nil }}); err == nil {
		t.Error("expected error without adapter")
	}
	if _, err := NewBridge(BridgeOpts{Adapter: NewMockAdapter()}); err == nil {
		t.Error("expected error without controller factory")
	}
}

func TestBridge_MentionRunsTurnAndReplies(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse()}
	b, adapter := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), mention("plan drought tolerance trials for wheat"))
	b.Wait()

	sent := adapter.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want ack + reply: %+v", len(sent), sent)
	}
	for _, s := range sent {
		if s.ChannelID != "C1" || s.ThreadID != "100.1" {
			t.Errorf("reply routed to %s/%s", s.ChannelID, s.ThreadID)
		}
	}
	if !containsString(ackPhrases, sent[0].Text) {
		t.Errorf("first message %q is not an ack", sent[0].Text)
	}
	reply := sent[1]
	if reply.Text != "Here is a plan for drought tolerance screening." {
		t.Errorf("reply text = %q", reply.Text)
	}
	if len(reply.Cards) != 2 {
		t.Fatalf("cards = %d, want plan + sources", len(reply.Cards))
	}
	if !strings.Contains(reply.Cards[0].Title, "Screen wheat") {
		t.Errorf("plan card title = %q", reply.Cards[0].Title)
	}

	reqs := exec.requests()
	if len(reqs) != 1 || reqs[0].Message != "plan drought tolerance trials for wheat" {
		t.Errorf("requests = %+v, want mention stripped", reqs)
	}
	if b.Threads() != 1 {
		t.Errorf("threads = %d, want 1", b.Threads())
	}
}

func TestBridge_ThreadFollowUpUsesConversation(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse()}
	b, _ := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), mention("first question"))
	b.Wait()
	b.Handle(context.Background(), threadReply("and the soil sensors?"))
	b.Wait()

	reqs := exec.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[1].ConversationID != "conv-7" {
		t.Errorf("follow-up conversation id = %q, want conv-7", reqs[1].ConversationID)
	}
}

func inThread(msg InboundMessage, thread string) InboundMessage {
	msg.ThreadID = thread
	return msg
}

func TestBridge_EvictsLeastRecentThreadAtCapacity(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse()}
	b, _ := newBoundedBridge(t, exec, nil, 0, 2)
	ctx := context.Background()

	b.Handle(ctx, inThread(mention("first"), "100.1"))
	b.Handle(ctx, inThread(mention("second"), "200.1"))
	b.Wait()
	// Touching 100.1 makes 200.1 the least recent.
	b.Handle(ctx, inThread(threadReply("more on the first"), "100.1"))
	b.Wait()
	b.Handle(ctx, inThread(mention("third"), "300.1"))
	b.Wait()

	if got := b.Threads(); got != 2 {
		t.Errorf("threads = %d, want 2", got)
	}
	b.Handle(ctx, inThread(threadReply("still there?"), "200.1"))
	b.Handle(ctx, inThread(threadReply("and this one?"), "100.1"))
	b.Wait()

	var texts []string
	for _, r := range exec.requests() {
		texts = append(texts, r.Message)
	}
	want := []string{"first", "second", "more on the first", "third", "and this one?"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("turns = %q, want %q", texts, want)
	}
}

func TestBridge_ForgetsIdleThreads(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse()}
	b, _ := newBoundedBridge(t, exec, nil, 30*time.Millisecond, 0)

	b.Handle(context.Background(), mention("first question"))
	b.Wait()
	time.Sleep(80 * time.Millisecond)
	b.Handle(context.Background(), threadReply("are you still there?"))
	b.Wait()

	if got := len(exec.requests()); got != 1 {
		t.Errorf("requests = %d, want the idle thread's reply ignored", got)
	}
}

func TestBridge_IgnoresUnaddressedMessages(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse()}
	b, adapter := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), threadReply("just chatting"))
	b.Handle(context.Background(), InboundMessage{ChannelID: "C1", UserID: "U_BOT", Text: "<@U_BOT> echo", Mentioned: true})
	b.Handle(context.Background(), mention(""))
	b.Wait()

	if adapter.SentCount() != 0 {
		t.Errorf("sent = %+v, want nothing", adapter.AllSent())
	}
	if len(exec.requests()) != 0 {
		t.Error("no turn should have run")
	}
}

func TestBridge_FailedTurnRepliesWithError(t *testing.T) {
	exec := &scriptedExecutor{err: fmt.Errorf("Job failed: planner unavailable")}
	b, adapter := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), mention("anything"))
	b.Wait()

	last, _ := adapter.LastSent()
	if last.Text != "Job failed: planner unavailable" {
		t.Errorf("reply = %q", last.Text)
	}
	if len(last.Cards) != 0 {
		t.Errorf("failed turn should carry no cards, got %d", len(last.Cards))
	}
}

func TestBridge_TurnInFlight(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse(), gate: make(chan struct{})}
	b, adapter := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), mention("first"))
	b.Handle(context.Background(), threadReply("second"))

	last, _ := adapter.LastSent()
	if !strings.Contains(last.Text, "Still working") {
		t.Errorf("reply = %q, want in-flight notice", last.Text)
	}
	close(exec.gate)
	b.Wait()
	if got := len(exec.requests()); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestBridge_NewCommandDiscardsInFlightTurn(t *testing.T) {
	exec := &scriptedExecutor{resp: droughtResponse(), gate: make(chan struct{})}
	b, adapter := newTestBridge(t, exec, nil)

	b.Handle(context.Background(), mention("first"))
	b.Handle(context.Background(), threadReply("!opal new"))
	close(exec.gate)
	b.Wait()

	for _, s := range adapter.AllSent() {
		if strings.Contains(s.Text, "Here is a plan") {
			t.Errorf("stale turn result was posted: %q", s.Text)
		}
	}
	last, _ := adapter.LastSent()
	if last.Text != "Started a new conversation." {
		t.Errorf("last = %q", last.Text)
	}
}

func TestBridge_Commands(t *testing.T) {
	detail := &models.ConversationDetail{
		ID:       "conv-9",
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		Plan:     &models.OPALPlan{GoalSummary: "Saved plan"},
	}

	tests := []struct {
		name     string
		text     string
		convs    conversation.API
		wantText string
		wantCard string
	}{
		{"help", "!opal help", nil, "!opal new", ""},
		{"bare prefix shows help", "!opal", nil, "!opal cancel", ""},
		{"mention then command", "<@U_BOT> !opal help", nil, "!opal plan", ""},
		{"plan without plan", "!opal plan", nil, "", "No plan yet"},
		{"sources without sources", "!opal sources", nil, "", "No sources yet"},
		{"cancel idle", "!opal cancel", nil, "Nothing to cancel.", ""},
		{"load usage", "!opal load", nil, "Usage", ""},
		{"load", "!opal load conv-9", fakeConversations{detail: detail}, "Loaded conversation conv-9 (2 messages).", "Plan: Saved plan"},
		{"load failure", "!opal load nope", fakeConversations{err: fmt.Errorf("404 not found")}, "", "Could not load conversation"},
		{"unknown", "!opal frobnicate", nil, "Unknown command \"frobnicate\"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, adapter := newTestBridge(t, &scriptedExecutor{}, tt.convs)
			b.Handle(context.Background(), threadReply(tt.text))

			last, ok := adapter.LastSent()
			if !ok {
				t.Fatal("no reply sent")
			}
			if tt.wantText != "" && !strings.Contains(last.Text, tt.wantText) {
				t.Errorf("text = %q, want %q", last.Text, tt.wantText)
			}
			if tt.wantCard != "" {
				if len(last.Cards) == 0 || !strings.Contains(last.Cards[0].Title, tt.wantCard) {
					t.Errorf("cards = %+v, want title containing %q", last.Cards, tt.wantCard)
				}
			}
		})
	}
}

// stuckAPI accepts every chat job and never finishes it.
type stuckAPI struct{}

func (stuckAPI) SubmitChat(context.Context, models.ChatRequest) (*models.JobSubmission, error) {
	return &models.JobSubmission{JobID: "job-1", Status: "pending"}, nil
}

func (stuckAPI) GetJob(ctx context.Context, _ string) (*models.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBridge_CancelRunningTurn(t *testing.T) {
	b, adapter := newTestBridge(t, job.NewClient(stuckAPI{}, nil), nil)

	b.Handle(context.Background(), mention("long running"))
	b.Handle(context.Background(), threadReply("!opal cancel"))
	b.Wait()

	var texts []string
	for _, s := range adapter.AllSent() {
		texts = append(texts, s.Text)
	}
	if !containsString(texts, "Cancelled.") {
		t.Errorf("sent = %q, want a Cancelled. reply", texts)
	}
	found := false
	for _, text := range texts {
		if strings.Contains(strings.ToLower(text), "job cancelled") {
			found = true
		}
	}
	if !found {
		t.Errorf("sent = %q, want the turn's cancellation message", texts)
	}
}

func TestBridge_SendFailureIsLogged(t *testing.T) {
	b, adapter := newTestBridge(t, &scriptedExecutor{}, nil)
	adapter.SetSendError(fmt.Errorf("rate limited"))
	b.Handle(context.Background(), threadReply("!opal help"))
	if adapter.SentCount() != 0 {
		t.Error("nothing should be recorded when Send fails")
	}
}

func TestNextAck_UsesEveryPhraseBeforeRepeating(t *testing.T) {
	b, _ := newTestBridge(t, &scriptedExecutor{}, nil)
	seen := make(map[string]bool)
	for range ackPhrases {
		seen[b.nextAck()] = true
	}
	if len(seen) != len(ackPhrases) {
		t.Errorf("saw %d distinct phrases, want %d", len(seen), len(ackPhrases))
	}
}

func TestStripMentionsAndIsCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		command bool
	}{
		{"<@U123> !opal plan", "!opal plan", true},
		{"<@!4567>   hello", "hello", false},
		{"!opal", "!opal", true},
		{"!opalplan", "!opalplan", false},
		{"plain text", "plain text", false},
	}
	for _, tt := range tests {
		got := stripMentions(tt.in)
		if got != tt.want {
			t.Errorf("stripMentions(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if isCommand(got) != tt.command {
			t.Errorf("isCommand(%q) = %v, want %v", got, !tt.command, tt.command)
		}
	}
}

func TestDaemon_Run(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetBotUserID("U_BOT")
	exec := &scriptedExecutor{resp: droughtResponse()}
	var out bytes.Buffer

	d, err := NewDaemon(DaemonOpts{
		Adapter: adapter,
		NewController: func() *conversation.Controller {
			return conversation.NewController(conversation.ControllerOpts{Jobs: exec})
		},
		ChannelID: "C_STATUS",
		Out:       &out,
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if !adapter.WaitForSent(1, time.Second) {
		t.Fatal("online notice not sent")
	}
	adapter.SimulateInbound(mention("drought"))
	if !adapter.WaitForSent(3, time.Second) {
		t.Fatalf("sent = %+v, want notice + ack + reply", adapter.AllSent())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sent := adapter.AllSent()
	if sent[0].ChannelID != "C_STATUS" || !strings.Contains(sent[0].Text, "online") {
		t.Errorf("first message = %+v, want online notice", sent[0])
	}
	if !strings.Contains(out.String(), "Telegraph stopped") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDaemon_InboundClosed(t *testing.T) {
	adapter := NewMockAdapter()
	d, _ := NewDaemon(DaemonOpts{
		Adapter:       adapter,
		NewController: func() *conversation.Controller { return conversation.NewController(conversation.ControllerOpts{}) },
		Out:           &bytes.Buffer{},
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	adapter.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after inbound closed")
	}
}

func TestNewDaemon_Validation(t *testing.T) {
	if _, err := NewDaemon(DaemonOpts{}); err == nil {
		t.Error("expected error without adapter")
	}
	if _, err := NewDaemon(DaemonOpts{Adapter: NewMockAdapter()}); err == nil {
		t.Error("expected error without controller factory")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
