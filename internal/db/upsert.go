package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec describes a bulk INSERT ... ON CONFLICT DO UPDATE.
type UpsertSpec struct {
	Table    string
	Columns  []string
	Conflict []string
	// Update lists the columns overwritten on conflict. Nil means every
	// non-conflict column.
	Update []string
}

// Upsert stages rows in a transaction-scoped temp table via COPY, then
// merges them into the target in one statement. It returns rows affected.
func Upsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns")
	}
	if len(spec.Conflict) == 0 {
		return 0, eris.New("db: upsert: no conflict keys")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	staging := "_stage_" + strings.ReplaceAll(spec.Table, ".", "_")
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), Identifier(spec.Table).Sanitize(),
	)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", spec.Table)
	}

	if _, err := CopyFrom(ctx, tx, staging, spec.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy %s", spec.Table)
	}

	tag, err := tx.Exec(ctx, upsertSQL(spec, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge %s", spec.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit")
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(spec UpsertSpec, staging string) string {
	update := spec.Update
	if update == nil {
		for _, c := range spec.Columns {
			if !slices.Contains(spec.Conflict, c) {
				update = append(update, c)
			}
		}
	}

	set := make([]string, len(update))
	for i, c := range update {
		col := pgx.Identifier{c}.Sanitize()
		set[i] = col + " = EXCLUDED." + col
	}

	cols := joinIdents(spec.Columns)
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		Identifier(spec.Table).Sanitize(), cols, cols,
		pgx.Identifier{staging}.Sanitize(), joinIdents(spec.Conflict), action)
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
