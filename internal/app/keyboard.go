package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrQuit is returned by ReadCommands when the user asks to quit.
var ErrQuit = errors.New("app: quit requested")

const (
	// KeyboardHelp is printed when the assistant reads single key presses
	// from a terminal.
	KeyboardHelp = "press SPACE or t to toggle listening, q to quit"

	// LineHelp is printed when stdin is not a terminal and commands arrive
	// one per line.
	LineHelp = "send SPACE or t then Enter to toggle listening, q then Enter to quit"
)

// Control bytes a raw-mode terminal delivers instead of signals.
const (
	keyInterrupt = 0x03 // Ctrl+C
	keyEOF       = 0x04 // Ctrl+D
)

// ReadKeys reads single key presses from r, typically a terminal in raw
// mode, until EOF, ctx is done or the user quits. SPACE and t toggle
// listening. q, Ctrl+C and Ctrl+D return [ErrQuit]. Other keys are ignored.
func (a *App) ReadKeys(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("app: read keys: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		switch b {
		case 'q', 'Q', keyInterrupt, keyEOF:
			return ErrQuit
		case ' ', 't', 'T':
			a.toggleFromKeyboard(ctx)
		}
	}
}

// ReadCommands reads line commands from r until EOF, ctx is done or the user
// quits. A line of spaces or "t" toggles listening and "q" returns [ErrQuit].
// Other lines are ignored.
func (a *App) ReadCommands(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimRight(sc.Text(), "\r")
		cmd := strings.ToLower(strings.TrimSpace(line))
		switch {
		case cmd == "q":
			return ErrQuit
		case cmd == "t", cmd == "" && line != "":
			a.toggleFromKeyboard(ctx)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("app: read commands: %w", err)
	}
	return nil
}

func (a *App) toggleFromKeyboard(ctx context.Context) {
	on, err := a.Toggle(ctx)
	if err != nil {
		slog.Error("toggle failed", "err", err)
		return
	}
	slog.Info("toggled from keyboard", "listening", on)
}
