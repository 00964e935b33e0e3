package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/JonMunkholm/bibcards/internal/core"
)

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// trackProgress draws the session's progress on w until the returned stop
// function is called. Nothing is drawn when w is not a terminal.
func trackProgress(sess *core.Session, w io.Writer) (stop func()) {
	if !isTerminal(w) {
		return func() {}
	}

	updates, detach := sess.Subscribe()
	bar := progressbar.NewOptions(1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(0),
	)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case p := <-updates:
				if p.Stage == core.StageComplete || p.Total <= 0 {
					continue
				}
				if int64(p.Total) != bar.GetMax64() {
					bar.ChangeMax(p.Total)
				}
				bar.Describe(string(p.Stage))
				_ = bar.Set(p.Current)
			case <-quit:
				return
			}
		}
	}()

	return func() {
		close(quit)
		<-done
		detach()
		_ = bar.Finish()
	}
}
