package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("can't run app, sorry", "error", err.Error())
		os.Exit(1)
	}
}

// Load configuration, build the app and run it until ctx is done
func run(
	ctx context.Context,
	getenv func(string) string,
	getwd func() (string, error),
	args []string,
) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env file. Err: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return fmt.Errorf("error while loading environment. Err: %w", err)
	}
	if err := c.ParseFlags(args); err != nil {
		return fmt.Errorf("error while parsing flags. Err: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	srv, err := NewServerApp(ctx, c)
	if err != nil {
		return fmt.Errorf("error while initializing app. Err: %w", err)
	}

	if err := srv.Run(ctx); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error. Err: %w", err)
	}
	return nil
}
