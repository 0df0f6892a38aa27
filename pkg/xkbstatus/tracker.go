// Package xkbstatus reports layout changes of a keyboard layout backend as
// text lines and records them.
package xkbstatus

import (
	"codeberg.org/miketth/xkbstatus/pkg/keyboardlayout"
	"context"
	"fmt"
	"go.uber.org/zap"
	"io"
	"time"
)

type Tracker struct {
	backend keyboardlayout.Backend
	history LayoutHistory
	out     io.Writer
	display string
	log     *zap.SugaredLogger

	// OnChange is called after every emitted change.
	OnChange func(Change)

	now func() time.Time
}

func NewTracker(
	backend keyboardlayout.Backend,
	history LayoutHistory,
	out io.Writer,
	display string,
	log *zap.SugaredLogger,
) *Tracker {
	return &Tracker{
		backend: backend,
		history: history,
		out:     out,
		display: display,
		log:     log,
		now:     time.Now,
	}
}

// Run writes the current layout, then one line per change until ctx is done
// or the backend fails.
func (t *Tracker) Run(ctx context.Context) error {
	last, found, err := t.history.Last(ctx, t.display)
	if err != nil {
		return fmt.Errorf("get last layout: %w", err)
	}
	if found {
		t.log.Infow("last recorded layout", "layout", last.Info.String(), "at", last.Time)
	}

	if err := t.emit(ctx); err != nil {
		return err
	}

	for {
		if err := t.backend.WaitForChange(ctx); err != nil {
			return fmt.Errorf("wait for change: %w", err)
		}
		if err := t.emit(ctx); err != nil {
			return err
		}
	}
}

func (t *Tracker) emit(ctx context.Context) error {
	info, err := t.backend.Info()
	if err != nil {
		return fmt.Errorf("get info: %w", err)
	}

	change := Change{
		Display: t.display,
		Info:    info,
		Time:    t.now(),
	}
	if gr, ok := t.backend.(GroupReporter); ok {
		change.Group, change.Name = gr.Group()
	}

	if _, err := fmt.Fprintln(t.out, info.String()); err != nil {
		return fmt.Errorf("write layout: %w", err)
	}

	if err := t.history.Record(ctx, change); err != nil {
		return fmt.Errorf("record layout: %w", err)
	}

	t.log.Debugw("layout changed", "group", change.Group, "name", change.Name, "layout", info.String())

	if t.OnChange != nil {
		t.OnChange(change)
	}

	return nil
}
