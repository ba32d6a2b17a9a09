package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_Validation(t *testing.T) {
	ctx := context.Background()

	n, err := Upsert(ctx, nil, UpsertSpec{Table: "t"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = Upsert(ctx, nil, UpsertSpec{Table: "t", Conflict: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns")

	_, err = Upsert(ctx, nil, UpsertSpec{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys")
}

func TestUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	spec := UpsertSpec{
		Table:    "subscriptions",
		Columns:  []string{"subscriber_id", "article_id", "query", "frequency"},
		Conflict: []string{"subscriber_id", "article_id", "query"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_subscriptions"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_subscriptions"}, spec.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "subscriptions" .* ON CONFLICT .* DO UPDATE SET "frequency" = EXCLUDED."frequency"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := Upsert(context.Background(), mock, spec, [][]any{
		{int64(1), int64(10), "q", 2},
		{int64(1), int64(11), "q", 4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL(UpsertSpec{
		Table:    "tracker.subs",
		Columns:  []string{"id", "name"},
		Conflict: []string{"id"},
	}, "_stage_tracker_subs")
	assert.Equal(t,
		`INSERT INTO "tracker"."subs" ("id", "name") SELECT "id", "name" FROM "_stage_tracker_subs" ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`,
		sql)

	sql = upsertSQL(UpsertSpec{Table: "t", Columns: []string{"id"}, Conflict: []string{"id"}}, "_stage_t")
	assert.Contains(t, sql, "DO NOTHING")
}
