package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taxonmatch/internal/services"
)

// Exit codes let wrapper scripts tell a bad invocation from a run that
// should simply be repeated later.
const (
	exitFailure = 1
	exitUsage   = 2
	exitRetry   = 3
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return exitUsage
	case services.Retryable(err):
		return exitRetry
	default:
		return exitFailure
	}
}
