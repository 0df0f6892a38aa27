package main

import (
	"codeberg.org/miketth/xkbstatus/pkg/config"
	"codeberg.org/miketth/xkbstatus/pkg/keyboardlayout"
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/json"
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/memory"
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/sqlite"
	"codeberg.org/miketth/xkbstatus/pkg/logging"
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"codeberg.org/miketth/xkbstatus/pkg/xsocket"
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	display, err := xsocket.ParseDisplay(cfg.Display)
	if err != nil {
		return fmt.Errorf("parse display: %w", err)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("open layout store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorw("close layout store", "error", err)
		}
	}()

	if cfg.History > 0 {
		return printHistory(ctx, store, display.Name, cfg.History, os.Stdout)
	}

	backend, err := keyboardlayout.NewXcbXkb(ctx, keyboardlayout.Config{
		Display: display.Name,
		Parser:  loadParser(cfg.EvdevXMLPath, log),
	}, log)
	if err != nil {
		return fmt.Errorf("connect keyboard layout backend: %w", err)
	}
	defer backend.Close()

	tracker := xkbstatus.NewTracker(backend, store, os.Stdout, display.Name, log)

	status := make(chan string, 1)
	tracker.OnChange = func(change xkbstatus.Change) {
		// only the latest layout matters to systemd
		select {
		case <-status:
		default:
		}
		status <- change.Info.String()
	}

	log.Infow("started xkbstatus", "display", display.Name)

	errChan := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := tracker.Run(ctx)
		if err != nil {
			errChan <- fmt.Errorf("track layout: %w", err)
		}
	}()

	go func() {
		defer wg.Done()
		err := systemdNotifyLoop(ctx, status)
		if err != nil {
			errChan <- fmt.Errorf("systemd notify: %w", err)
		}
	}()

	if saver, ok := store.(saveLooper); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := saver.SaveLooper(ctx)
			if err != nil {
				errChan <- fmt.Errorf("save layouts: %w", err)
			}
		}()
	}

	err = <-errChan
	stop()
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("shutting down")
		wg.Wait()
		return nil
	case err != nil:
		wg.Wait()
		return err
	}

	return nil
}

type layoutStore interface {
	xkbstatus.LayoutHistory
	io.Closer
}

type saveLooper interface {
	SaveLooper(ctx context.Context) error
}

type nopCloser struct {
	*memory.LayoutStore
}

func (nopCloser) Close() error {
	return nil
}

func openStore(cfg config.Config, log *zap.SugaredLogger) (layoutStore, error) {
	path, err := cfg.ResolveStorePath()
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case config.StoreSQLite:
		log.Debugw("using sqlite layout store", "path", path)
		return sqlite.NewLayoutStore(path, log)
	case config.StoreJSON:
		log.Debugw("using json layout store", "path", path)
		return json.NewLayoutStore(path)
	default:
		return nopCloser{memory.NewLayoutStore()}, nil
	}
}

// loadParser enriches layouts with codes from evdev.xml when it is readable.
func loadParser(path string, log *zap.SugaredLogger) xkblayouts.Parser {
	registry, err := xkblayouts.ParseLayouts(path)
	if err != nil {
		log.Warnw("could not load layout registry, reporting names only", "path", path, "error", err)
		return xkblayouts.ParseLayoutVariant
	}

	log.Debugw("loaded layout registry", "path", path, "layouts", registry.Len())
	return registry.Parser()
}

func printHistory(ctx context.Context, store xkbstatus.LayoutHistory, display string, n int, w io.Writer) error {
	changes, err := store.History(ctx, display, n)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}

	for _, c := range changes {
		code := c.Info.Code
		if c.Info.VariantCode != "" {
			code += "(" + c.Info.VariantCode + ")"
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.Time.Format(time.RFC3339), c.Group, c.Info.String(), code); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}

	return nil
}

func systemdNotifyLoop(ctx context.Context, status <-chan string) error {
	// the backend is connected by now, so we are ready
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notify systemd: %w", err)
	}
	if !supported {
		return nil
	}

	t, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("check watchdog: %w", err)
	}

	var watchdog <-chan time.Time
	if t > 0 {
		ticker := time.NewTicker(t / 2)
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return ctx.Err()

		case layout := <-status:
			_, err := daemon.SdNotify(false, "STATUS=Keyboard layout: "+layout)
			if err != nil {
				return fmt.Errorf("notify status: %w", err)
			}

		case <-watchdog:
			_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			if err != nil {
				return fmt.Errorf("notify watchdog: %w", err)
			}
		}
	}
}
