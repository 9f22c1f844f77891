package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
	"github.com/controlled-anonymity/client-go/internal/session"
)

type chatSession interface {
	Snapshot() model.Session
	JoinQueue(ctx context.Context, filter model.Filter) error
	LeaveQueue(ctx context.Context) error
	Send(ctx context.Context, content string) error
	LeaveChat(ctx context.Context) error
	NextMatch(ctx context.Context, filter model.Filter) error
	Disconnect(ctx context.Context) error
}

type profileSource interface {
	Me(ctx context.Context) (*model.User, error)
}

const helpText = `commands:
  /join [any|male|female]  enter the queue
  /leave                   leave the queue or the chat
  /next [any|male|female]  leave the chat and queue again
  /me                      show your profile
  /quit                    disconnect and exit
anything else is sent to your partner`

// repl drives a session from text commands and prints its notifications.
type repl struct {
	session chatSession
	profile profileSource

	mu  sync.Mutex
	out io.Writer
}

func newREPL(s chatSession, p profileSource, out io.Writer) *repl {
	return &repl{session: s, profile: p, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Run reads commands until in ends, ctx is done or /quit.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return r.session.Disconnect(context.Background())
		case line, ok := <-lines:
			if !ok {
				return r.session.Disconnect(ctx)
			}
			if quit := r.execute(ctx, line); quit {
				return r.session.Disconnect(ctx)
			}
		}
	}
}

func (r *repl) execute(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.session.Send(ctx, line))
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/join":
		filter, ok := parseFilterArg(args, model.FilterAny)
		if !ok {
			r.printf("! unknown filter %q", args[0])
			return false
		}
		r.report(r.session.JoinQueue(ctx, filter))

	case "/next":
		filter, ok := parseFilterArg(args, "")
		if !ok {
			r.printf("! unknown filter %q", args[0])
			return false
		}
		r.report(r.session.NextMatch(ctx, filter))

	case "/leave":
		if r.session.Snapshot().Phase == model.PhaseQueued {
			r.report(r.session.LeaveQueue(ctx))
		} else {
			r.report(r.session.LeaveChat(ctx))
		}

	case "/me":
		user, err := r.profile.Me(ctx)
		if err != nil {
			r.report(err)
			return false
		}
		r.printf("* %s", formatUser(user))

	case "/quit":
		return true

	case "/help":
		r.printf("%s", helpText)

	default:
		r.printf("! unknown command %s, try /help", cmd)
	}
	return false
}

func (r *repl) report(err error) {
	if err != nil {
		r.printf("! %s", apperrors.UserMessage(err))
	}
}

// parseFilterArg reads an optional filter argument, returning def when absent.
func parseFilterArg(args []string, def model.Filter) (model.Filter, bool) {
	if len(args) == 0 {
		return def, true
	}
	return model.ParseFilter(args[0])
}

// OnNotification implements session.Observer.
func (r *repl) OnNotification(n session.Notification) {
	switch n.Kind {
	case session.KindWelcome:
		if n.Welcome != nil {
			r.printf("* connected as %s (karma %d)", n.Welcome.Nickname, n.Welcome.Karma)
		}
	case session.KindQueued:
		r.printf("* looking for %s...", n.Session.Filter)
	case session.KindRequeued:
		r.printf("* chat left, looking for %s...", n.Session.Filter)
	case session.KindLeftQueue:
		r.printf("* left the queue")
	case session.KindJoinRejected:
		r.printf("! could not join: %s", n.Error)
	case session.KindMatched:
		if n.Partner != nil {
			r.printf("* matched with %s", describePartner(n.Partner))
		}
	case session.KindMessageReceived:
		if n.Message != nil {
			r.printf("< %s", n.Message.Content)
		}
	case session.KindMessageSent:
		if n.Message != nil {
			r.printf("> %s", n.Message.Content)
		}
	case session.KindPartnerLeft:
		r.printf("* your partner left")
	case session.KindChatLeft:
		r.printf("* you left the chat")
	case session.KindReconnecting:
		r.printf("* connection lost, reconnecting...")
	case session.KindReconnected:
		r.printf("* reconnected")
	case session.KindDisconnected:
		if n.Error != "" {
			r.printf("! disconnected: %s", n.Error)
		} else {
			r.printf("* disconnected")
		}
	case session.KindServerError:
		r.printf("! server: %s", n.Error)
	}
}

func (r *repl) queueTick(elapsed time.Duration) {
	r.printf("* still waiting (%s)", elapsed.Truncate(time.Second))
}

func formatUser(u *model.User) string {
	return fmt.Sprintf("%s (%s) karma %d, %d matches left today", u.Nickname, u.Gender, u.KarmaScore, u.DailyMatchesRemaining)
}

func describePartner(p *model.Partner) string {
	if p.Bio == "" {
		return p.Nickname
	}
	return fmt.Sprintf("%s: %q", p.Nickname, p.Bio)
}
