package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/engine"
	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/reconnect"
)

func newJoinCmd(a *app) *cobra.Command {
	var (
		kindFlag    string
		docID       string
		showCursors bool
	)
	cmd := &cobra.Command{
		Use:   "join <session>",
		Short: "Join a live session; each stdin line replaces the shared content",
		Long: `Join a live session. Every line read from stdin is sent as the full
content. A line may start with @X,Y to move the pointer. Commands:
  :save   persist the current content
  :who    list connected users
  :quit   leave the session`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			return a.join(cmd, args[0], kind, docID, showCursors)
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", string(model.KindDocument), "document or drawing")
	cmd.Flags().StringVar(&docID, "doc", "", "persisted document id (default: the session id)")
	cmd.Flags().BoolVar(&showCursors, "cursors", false, "print remote cursor updates")
	return cmd
}

func (a *app) join(cmd *cobra.Command, sessionID string, kind model.Kind, docID string, showCursors bool) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel() // releases the stdin reader
	out := &syncWriter{w: cmd.OutOrStdout()}

	opts := engine.Options{
		RelayURL:  a.cfg.RelayURL,
		Kind:      kind,
		DocID:     docID,
		CursorTTL: a.cfg.CursorTTL,
		Logger:    a.log,
	}
	svc, closeStore, err := a.openStore(ctx)
	switch {
	case err == nil:
		opts.Store = svc
	case errors.Is(err, errNoStore):
	default:
		// live editing still works without persistence
		a.log.Warn("store unavailable", zap.Error(err))
		out.Printf("! persistence unavailable: %v\n", err)
	}
	defer closeStore()

	eng := engine.New(opts)
	sup := reconnect.New(eng, reconnect.Policy{Retries: a.cfg.ReconnectRetries, Delay: a.cfg.ReconnectDelay}, a.log)

	cb := engine.Callbacks{
		ApplyRemoteContent: func(c string) { out.Printf("<< %s\n", c) },
		PresenceChanged: func(users []model.UserIdentity) {
			out.Printf("users: %s\n", formatUsers(users))
		},
		ConnectionStateChanged: func(st model.ConnState) { out.Printf("* %s\n", st) },
		Loaded: func(snap model.DocumentSnapshot) {
			out.Printf("== loaded %s %s\n", snap.Kind, snap.DocID)
			if snap.Content != "" {
				out.Printf("<< %s\n", snap.Content)
			}
		},
		Status: func(msg string) { out.Printf("! %s\n", msg) },
	}
	if showCursors {
		cb.CursorsChanged = func(cur []model.CursorEntry) { out.Printf("cursors: %s\n", formatCursors(cur)) }
	}

	desc := model.SessionDescriptor{SessionID: sessionID, AuthToken: a.cfg.Token}
	if err := sup.Start(ctx, desc, cb); err != nil {
		return err
	}
	defer sup.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleLine(ctx, eng, out, line); quit {
				return nil
			}
		}
	}
}

// handleLine reports true when the user asked to leave.
func (a *app) handleLine(ctx context.Context, eng *engine.Engine, out *syncWriter, line string) bool {
	switch strings.TrimSpace(line) {
	case ":quit", ":q":
		return true
	case ":who":
		me := eng.Identity()
		out.Printf("me: %s\nusers: %s\n", displayName(me), formatUsers(eng.Presence()))
		return false
	case ":save":
		// the engine reports the outcome through Status
		if _, err := eng.Save(ctx); err != nil {
			a.log.Debug("save failed", zap.Error(err))
		}
		return false
	}
	pos, content := parsePointer(line)
	eng.OnLocalEdit(content, pos)
	return false
}

// parsePointer splits an optional "@X,Y " prefix from line.
func parsePointer(line string) (model.Position, string) {
	if !strings.HasPrefix(line, "@") {
		return model.Position{}, line
	}
	head, rest, _ := strings.Cut(line[1:], " ")
	xs, ys, ok := strings.Cut(head, ",")
	if !ok {
		return model.Position{}, line
	}
	x, errX := strconv.ParseFloat(xs, 64)
	y, errY := strconv.ParseFloat(ys, 64)
	if errX != nil || errY != nil {
		return model.Position{}, line
	}
	return model.Position{X: x, Y: y}, rest
}

func displayName(u model.UserIdentity) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.UserID != "" {
		return u.UserID
	}
	return "(unassigned)"
}

func formatUsers(users []model.UserIdentity) string {
	if len(users) == 0 {
		return "(alone)"
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, displayName(u))
	}
	return strings.Join(names, ", ")
}

func formatCursors(cur []model.CursorEntry) string {
	if len(cur) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(cur))
	for _, c := range cur {
		parts = append(parts, fmt.Sprintf("%s@%g,%g", displayName(c.Owner), c.Position.X, c.Position.Y))
	}
	return strings.Join(parts, " ")
}
