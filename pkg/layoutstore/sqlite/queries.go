package sqlite

import (
	"context"
)

type LayoutHistory struct {
	ID          int64
	Display     string
	GroupIndex  int64
	GroupName   string
	Layout      string
	Variant     string
	LayoutCode  string
	VariantCode string
	ChangedAt   int64
}

const insertChange = `-- name: InsertChange :exec
insert into layout_history (display, group_index, group_name, layout, variant, layout_code, variant_code, changed_at)
values (?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertChangeParams struct {
	Display     string
	GroupIndex  int64
	GroupName   string
	Layout      string
	Variant     string
	LayoutCode  string
	VariantCode string
	ChangedAt   int64
}

func (q *Queries) InsertChange(ctx context.Context, arg InsertChangeParams) error {
	_, err := q.db.ExecContext(ctx, insertChange,
		arg.Display,
		arg.GroupIndex,
		arg.GroupName,
		arg.Layout,
		arg.Variant,
		arg.LayoutCode,
		arg.VariantCode,
		arg.ChangedAt,
	)
	return err
}

const listChanges = `-- name: ListChanges :many
select id, display, group_index, group_name, layout, variant, layout_code, variant_code, changed_at
from layout_history
where display = ?
order by changed_at desc, id desc
limit ?
`

type ListChangesParams struct {
	Display string
	Limit   int64
}

func (q *Queries) ListChanges(ctx context.Context, arg ListChangesParams) ([]LayoutHistory, error) {
	rows, err := q.db.QueryContext(ctx, listChanges, arg.Display, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LayoutHistory
	for rows.Next() {
		var i LayoutHistory
		if err := rows.Scan(
			&i.ID,
			&i.Display,
			&i.GroupIndex,
			&i.GroupName,
			&i.Layout,
			&i.Variant,
			&i.LayoutCode,
			&i.VariantCode,
			&i.ChangedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const pruneChanges = `-- name: PruneChanges :exec
delete from layout_history
where display = ?
  and id not in (select id from layout_history where display = ? order by changed_at desc, id desc limit ?)
`

type PruneChangesParams struct {
	Display string
	Keep    int64
}

func (q *Queries) PruneChanges(ctx context.Context, arg PruneChangesParams) error {
	_, err := q.db.ExecContext(ctx, pruneChanges, arg.Display, arg.Display, arg.Keep)
	return err
}

const dumpTables = `-- name: DumpTables :many
select sql from sqlite_master
where type = 'table' and sql is not null
order by name
`

func (q *Queries) DumpTables(ctx context.Context) ([]*string, error) {
	return q.dump(ctx, dumpTables)
}

const dumpRest = `-- name: DumpRest :many
select sql from sqlite_master
where type != 'table' and sql is not null
order by name
`

func (q *Queries) DumpRest(ctx context.Context) ([]*string, error) {
	return q.dump(ctx, dumpRest)
}

func (q *Queries) dump(ctx context.Context, query string) ([]*string, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*string
	for rows.Next() {
		var sql *string
		if err := rows.Scan(&sql); err != nil {
			return nil, err
		}
		items = append(items, sql)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
