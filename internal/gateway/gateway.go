package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"mediashuffler/internal/dispatch"
	"mediashuffler/internal/transport"
	logx "mediashuffler/pkg/logx"
)

// AdminCheck reports whether a sender may issue commands. It is consulted on
// every request so the surrounding config can swap the allow-list at runtime.
type AdminCheck func(senderID int64) bool

// Gateway routes inbound chat commands to the dispatcher. Every recognized
// command is synchronous with its reply: the response text reflects the
// outcome of the operation it triggered, including "busy" and "exhausted".
type Gateway struct {
	d       *dispatch.Dispatcher
	adapter transport.Adapter
	isAdmin AdminCheck
	log     logx.Logger

	// timeout bounds one command handling end to end.
	timeout time.Duration
}

func New(d *dispatch.Dispatcher, adapter transport.Adapter, isAdmin AdminCheck, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		d:       d,
		adapter: adapter,
		isAdmin: isAdmin,
		log:     log,
		timeout: 5 * time.Minute,
	}
}

// Run consumes updates until ctx is cancelled or in closes. Each update is
// handled on its own goroutine so a long send does not starve /status; the
// dispatch lock is the only serialization point.
func (g *Gateway) Run(ctx context.Context, in <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			go g.handle(ctx, up)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("panic in command handler",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	cmd := parseCommand(up.Text)
	if cmd == "" {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	log := g.log.With(
		logx.String("cmd", cmd),
		logx.Int64("from", up.FromID),
		logx.String("user", up.FromUsername),
	)

	if !g.isAdmin(up.FromID) {
		log.Warn("command from non-admin rejected")
		g.reply(cctx, up, "⛔ not authorized")
		return
	}

	start := time.Now()
	resp := g.execute(cctx, cmd)
	if resp == "" {
		return
	}
	log.Info("command handled", logx.Duration("took", time.Since(start)))
	g.reply(cctx, up, resp)
}

func (g *Gateway) execute(ctx context.Context, cmd string) string {
	switch cmd {
	case "start":
		return "✅ bot is running"

	case "status":
		st, err := g.d.Status(ctx)
		if err != nil {
			return "status unavailable: " + err.Error()
		}
		state := "idle"
		if st.Busy {
			state = "dispatching"
		}
		out := fmt.Sprintf("state: %s\nunsent: %d\nsent: %d", state, st.Unsent, st.Sent)
		if st.LastOutcome != "" {
			out += fmt.Sprintf("\nlast: %s (%s)", st.LastOutcome, st.LastAt.Format("2006-01-02 15:04:05"))
		}
		return out

	case "send":
		rec, err := g.d.DispatchOne(ctx, dispatch.TriggerManual)
		switch {
		case errors.Is(err, dispatch.ErrLockBusy):
			return "a dispatch is already in flight, try again shortly"
		case errors.Is(err, dispatch.ErrExhausted):
			return "inventory exhausted: nothing unsent left, add files and /rescan"
		case errors.Is(err, dispatch.ErrSendFailed):
			return "send failed, the item stays queued: " + err.Error()
		case err != nil:
			return "dispatch error: " + err.Error()
		default:
			return "✅ sent " + rec.Key
		}

	case "rescan":
		rep, err := g.d.Scan(ctx)
		switch {
		case errors.Is(err, dispatch.ErrLockBusy):
			return "busy with a dispatch or scan, try again shortly"
		case err != nil:
			return "scan failed: " + err.Error()
		default:
			return fmt.Sprintf("✅ scan done: %d added, %d known, %d unsupported, %d vanished",
				rep.Added, rep.AlreadyKnown, rep.SkippedUnsupported, rep.Vanished)
		}

	default:
		// Not ours; stay quiet.
		return ""
	}
}

func (g *Gateway) reply(ctx context.Context, up transport.Update, text string) {
	if err := g.adapter.Reply(ctx, up, text); err != nil {
		g.log.Warn("reply failed", logx.Err(err))
	}
}

// parseCommand extracts the bare command name from "/cmd" or "/cmd@botname"
// with optional trailing arguments. Returns "" for non-command text.
func parseCommand(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "/") {
		return ""
	}
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
