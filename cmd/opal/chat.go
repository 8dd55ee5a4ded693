package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
	"golang.org/x/term"
)

const replHelp = `Commands:
  /new                      start a new conversation
  /load <id>                load a saved conversation
  /plan                     show the current plan
  /sources                  show the sources cited so far
  /history                  show the transcript
  /export [md|json] <path>  write the conversation to a file
  /quit                     leave
Anything else is sent to the assistant. Ctrl-C cancels a running request.
`

func newChatCmd() *cobra.Command {
	var (
		configPath string
		convID     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the OPAL research assistant",
		Long:  "With a message, runs a single turn and prints the reply and plan. Without one, starts an interactive session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, convID, strings.Join(args, " "), verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVar(&convID, "conversation", "", "continue a saved conversation")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log API requests to stderr")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, convID, message string, verbose bool) error {
	ctx := context.Background()
	a, err := openApp(ctx, configPath, appOpts{store: true, verbose: verbose})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctrl := a.newController()
	progress := newProgressPrinter(out)
	defer ctrl.Subscribe(progress.handle)()

	if convID != "" {
		if err := ctrl.LoadConversation(ctx, convID); err != nil {
			return err
		}
	}

	r := &repl{ctrl: ctrl, out: out, progress: progress, now: time.Now}
	if strings.TrimSpace(message) != "" {
		return r.oneShot(ctx, message)
	}
	return r.run(ctx, cmd.InOrStdin())
}

// repl drives a controller from line-oriented input.
type repl struct {
	ctrl     *conversation.Controller
	out      io.Writer
	progress *progressPrinter
	now      func() time.Time
}

// oneShot runs a single turn. A failed turn is printed and returned.
func (r *repl) oneShot(ctx context.Context, message string) error {
	resp, err := r.turn(ctx, message)
	if err != nil {
		return err
	}
	if resp == nil {
		return errors.New("chat: request did not complete")
	}
	if id := r.ctrl.ConversationID(); id != "" {
		fmt.Fprintf(r.out, "\nConversation %s (continue with --conversation %s)\n", id, id)
	}
	return nil
}

// run reads commands and messages until EOF or /quit.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprint(r.out, render.Transcript(r.ctrl.State().Messages))
	fmt.Fprintln(r.out, "Type /help for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		quit, err := r.handle(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle executes one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := r.turn(ctx, line)
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		fmt.Fprint(r.out, replHelp)
	case "/new":
		r.ctrl.NewConversation()
		fmt.Fprint(r.out, render.Transcript(r.ctrl.State().Messages))
	case "/load":
		if len(fields) != 2 {
			return false, errors.New("usage: /load <conversation-id>")
		}
		if err := r.ctrl.LoadConversation(ctx, fields[1]); err != nil {
			return false, err
		}
		fmt.Fprint(r.out, render.Transcript(r.ctrl.State().Messages))
	case "/plan":
		s := r.ctrl.State()
		fmt.Fprint(r.out, render.PlanMarkdown(s.Plan, s.PlanWarnings))
	case "/sources":
		fmt.Fprint(r.out, render.Sources(r.ctrl.State().Sources))
	case "/history":
		fmt.Fprint(r.out, render.Transcript(r.ctrl.State().Messages))
	case "/export":
		path, format, err := exportArgs(fields[1:])
		if err != nil {
			return false, err
		}
		if err := exportDocument(path, format, r.ctrl.State().Document(r.now())); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Exported to %s\n", path)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

// turn sends one message and prints the reply. Ctrl-C while waiting cancels
// the request. The response is nil when the turn failed; the failure has
// already been printed. Only a rejected turn returns an error.
func (r *repl) turn(ctx context.Context, text string) (*models.ChatResponse, error) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := r.ctrl.StartTurn(ctx, text)
	if err != nil {
		return nil, err
	}
	select {
	case <-t.Done():
	case <-sigCtx.Done():
		r.ctrl.Cancel()
		<-t.Done()
	}
	r.progress.clear()

	resp, _ := t.Result()
	s := r.ctrl.State()
	if n := len(s.Messages); n > 0 {
		fmt.Fprintf(r.out, "OPAL: %s\n", s.Messages[n-1].Content)
	}
	if resp == nil {
		return nil, nil
	}
	if resp.Plan != nil {
		fmt.Fprintln(r.out)
		fmt.Fprint(r.out, render.PlanMarkdown(s.Plan, s.PlanWarnings))
	}
	if len(s.Sources) > 0 {
		fmt.Fprintf(r.out, "(%d sources cited; /sources to list)\n", len(s.Sources))
	}
	return resp, nil
}

// exportArgs parses "[format] <path>". Without a format the file extension
// decides.
func exportArgs(args []string) (path, format string, err error) {
	switch len(args) {
	case 1:
		path = args[0]
		format, err = render.ParseFormat(filepath.Ext(path))
	case 2:
		path = args[1]
		format, err = render.ParseFormat(args[0])
	default:
		return "", "", errors.New("usage: /export [md|json] <path>")
	}
	if err != nil {
		return "", "", err
	}
	return path, format, nil
}

// exportDocument writes doc to path.
func exportDocument(path, format string, doc render.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := render.Export(f, doc, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// progressPrinter shows job progress: rewritten in place on a terminal,
// one line per change otherwise.
type progressPrinter struct {
	out   io.Writer
	tty   bool
	width int

	mu   sync.Mutex
	last string
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = w
		}
	}
	return p
}

func (p *progressPrinter) handle(ev conversation.Event) {
	if ev.Kind != conversation.EventProgress || ev.Progress == nil {
		return
	}
	line := render.ProgressLine(*ev.Progress)

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	if !p.tty {
		fmt.Fprintf(p.out, "... %s\n", line)
		return
	}
	if p.width > 1 {
		line = truncate(line, p.width-1)
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
}

// clear erases the in-place progress line.
func (p *progressPrinter) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.last != "" {
		fmt.Fprint(p.out, "\r\033[K")
	}
	p.last = ""
}
