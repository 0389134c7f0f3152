package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/client"
	"github.com/burntcarrot/otpad/commons"
	"github.com/burntcarrot/otpad/config"
	"github.com/burntcarrot/otpad/document"
	"github.com/burntcarrot/otpad/logging"
	"github.com/burntcarrot/otpad/tui"
)

func main() {
	if err := run(); err != nil {
		color.Red("otpad: %s", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		return err
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	dir := cfg.LogDir
	if dir == "" {
		dir = logging.DefaultDir()
	}
	logger, err := logging.New(logging.Options{Level: level, Format: "json", Dir: dir, Name: "otpad"})
	if err != nil {
		return err
	}
	defer logger.Close()

	var (
		p      *tea.Program
		active atomic.Pointer[client.Collaboration]
	)

	join := func(name string) (tui.Session, error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		conn, err := client.Dial(ctx, client.DialOptions{Server: cfg.Server, Secure: cfg.Secure, Logger: logger})
		if err != nil {
			return nil, err
		}

		// User ids must be unique per connection: the client recognises its own
		// acknowledgements by them.
		userID := fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
		collab := client.NewCollaboration(conn, client.CollaborationOptions{
			Document: cfg.Document,
			UserID:   userID,
			Seed: &document.Snapshot{
				Blocks: []document.BlockData{{Name: "paragraph", Data: map[string]any{tui.TextKey: ""}}},
			},
			OnChange: func() { p.Send(tui.ChangedMsg{}) },
			OnCaret:  func(c commons.Caret) { p.Send(tui.CaretMsg(c)) },
			Logger:   logger,
		})
		if err := collab.Connect(); err != nil {
			conn.Close()
			return nil, err
		}
		active.Store(collab)

		select {
		case <-collab.Joined():
		case <-collab.Client().Done():
			return nil, errors.WithMessage(client.ErrClosed, fmt.Sprint(collab.Client().Err()))
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "join")
		}
		return collab, nil
	}

	p = tea.NewProgram(tui.New(tui.Options{
		Document: cfg.Document,
		User:     cfg.User,
		Join:     join,
		Logger:   logger,
	}), tea.WithAltScreen())

	err = p.Start()
	if collab := active.Load(); collab != nil {
		collab.Close()
	}
	return err
}
