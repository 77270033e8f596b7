package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/stephen37/voice-assistant/internal/app"
)

// rawSafeWriter turns LF into CRLF while the terminal is in raw mode, where
// output post-processing is off and bare newlines would not return the
// cursor.
type rawSafeWriter struct {
	w   io.Writer
	mu  sync.Mutex
	raw atomic.Bool
}

func (rw *rawSafeWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.raw.Load() {
		return rw.w.Write(p)
	}
	if _, err := rw.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// startKeyboard reads toggle commands from stdin until the user quits, then
// calls quit. A terminal is switched to raw mode so a single key press acts
// without Enter; pipes are read one command per line. The returned func
// restores the terminal and must be called before exit.
func startKeyboard(ctx context.Context, a *app.App, out *rawSafeWriter, quit func()) (restore func()) {
	restore = func() {}
	read := a.ReadCommands
	help := app.LineHelp

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			slog.Warn("raw terminal unavailable, commands need Enter", "err", err)
		} else {
			out.raw.Store(true)
			read, help = a.ReadKeys, app.KeyboardHelp
			var once sync.Once
			restore = func() {
				once.Do(func() {
					out.raw.Store(false)
					if err := term.Restore(fd, state); err != nil {
						slog.Warn("failed to restore terminal", "err", err)
					}
				})
			}
		}
	}

	fmt.Fprintln(out, help)
	go func() {
		err := read(ctx, os.Stdin)
		switch {
		case errors.Is(err, app.ErrQuit):
			slog.Info("quit requested")
			quit()
		case err != nil:
			slog.Warn("keyboard input stopped", "err", err)
		}
	}()
	return restore
}
