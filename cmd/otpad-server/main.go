package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/otpad/config"
	"github.com/burntcarrot/otpad/journal"
	"github.com/burntcarrot/otpad/logging"
	"github.com/burntcarrot/otpad/server"
)

func main() {
	if err := run(); err != nil {
		color.Red("otpad-server: %s", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
		Name:   "otpad-server",
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := journal.Open(ctx, cfg.JournalOptions())
	if err != nil {
		return err
	}
	defer j.Close()

	srv := server.New(server.Options{Journal: j, Logger: logger})

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe(cfg.Addr)
	}()

	t := time.Now().Format(time.ANSIC)
	color.Green("%s >> otpad-server listening on %s", t, cfg.Addr)
	color.Yellow("journal: %s", cfg.Journal)
	logger.WithFields(logrus.Fields{"addr": cfg.Addr, "journal": cfg.Journal}).Info("server started")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	color.Yellow("\nshutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errs
}
