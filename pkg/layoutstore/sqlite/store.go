package sqlite

import (
	"codeberg.org/miketth/xkbstatus/pkg/layoutstore/sqlite/migrations"
	"codeberg.org/miketth/xkbstatus/pkg/xkblayouts"
	"codeberg.org/miketth/xkbstatus/pkg/xkbstatus"
	"context"
	"database/sql"
	"fmt"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"time"
)

// DefaultMaxChanges is how many changes per display are kept.
const DefaultMaxChanges = 500

type LayoutStore struct {
	db         *sql.DB
	querier    *Queries
	maxChanges int64
}

var _ xkbstatus.LayoutHistory = (*LayoutStore)(nil)

func NewLayoutStore(filename string, log *zap.SugaredLogger) (*LayoutStore, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	version, err := migrations.Migrate(db, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debugw("opened layout history", "path", filename, "schema_version", version)

	return &LayoutStore{
		db:         db,
		querier:    New(db),
		maxChanges: DefaultMaxChanges,
	}, nil
}

func (s *LayoutStore) Close() error {
	return s.db.Close()
}

func (s *LayoutStore) Record(ctx context.Context, change xkbstatus.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	q := s.querier.WithTx(tx)
	if err := q.InsertChange(ctx, InsertChangeParams{
		Display:     change.Display,
		GroupIndex:  int64(change.Group),
		GroupName:   change.Name,
		Layout:      change.Info.Layout,
		Variant:     change.Info.Variant,
		LayoutCode:  change.Info.Code,
		VariantCode: change.Info.VariantCode,
		ChangedAt:   change.Time.UnixMilli(),
	}); err != nil {
		return fmt.Errorf("sqlite insert: %w", err)
	}

	if err := q.PruneChanges(ctx, PruneChangesParams{
		Display: change.Display,
		Keep:    s.maxChanges,
	}); err != nil {
		return fmt.Errorf("sqlite prune: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (s *LayoutStore) Last(ctx context.Context, display string) (xkbstatus.Change, bool, error) {
	changes, err := s.History(ctx, display, 1)
	if err != nil {
		return xkbstatus.Change{}, false, err
	}
	if len(changes) == 0 {
		return xkbstatus.Change{}, false, nil
	}
	return changes[0], true, nil
}

func (s *LayoutStore) History(ctx context.Context, display string, limit int) ([]xkbstatus.Change, error) {
	if limit < 0 {
		limit = int(s.maxChanges)
	}

	rows, err := s.querier.ListChanges(ctx, ListChangesParams{
		Display: display,
		Limit:   int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite select: %w", err)
	}

	ret := make([]xkbstatus.Change, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, xkbstatus.Change{
			Display: row.Display,
			Group:   int(row.GroupIndex),
			Name:    row.GroupName,
			Info: xkblayouts.Info{
				Layout:      row.Layout,
				Variant:     row.Variant,
				Code:        row.LayoutCode,
				VariantCode: row.VariantCode,
			},
			Time: time.UnixMilli(row.ChangedAt),
		})
	}

	return ret, nil
}
