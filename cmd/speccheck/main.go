package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

var version = "dev"

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(viper.New(), os.Stdout)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speccheck: %v\n", err)
	}
	cancel()
	os.Exit(exitCode(err))
}

// exitCode maps errors to process exit codes. Bad input and refused
// arguments exit with 2, every other failure with 1.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var tooMany *domain.TooManyProposalsError
	if errors.Is(err, domain.ErrInvalidInput) || errors.As(err, &tooMany) {
		return exitUsage
	}
	return exitFailure
}
