package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/bibcards/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			reportError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// reportError prints the support-coded message for known pipeline errors
// and the raw error otherwise. The technical cause goes to the debug log.
func reportError(w io.Writer, err error) {
	if !core.IsUserFacing(err) {
		fmt.Fprintln(w, err)
		return
	}
	ue := core.NewUserError(err)
	slog.Debug("command failed", "error", ue.Technical, "code", ue.User.Code)
	fmt.Fprintln(w, core.FormatUserError(err))
}
