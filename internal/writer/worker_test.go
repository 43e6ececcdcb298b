package writer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) (*Worker, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	w := New(db, nil)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Stop(ctx)
		db.Close()
	})
	return w, db
}

func TestExecuteInsertsRow(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()

	n, err := w.Execute(ctx, `INSERT INTO widgets (name) VALUES (?)`, "gear")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestExecuteManyRollsBackOnFailure(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()

	_, err := w.ExecuteMany(ctx, []batchOp{
		BatchOp(`INSERT INTO widgets (name) VALUES (?)`, "a"),
		BatchOp(`INSERT INTO nonexistent_table (name) VALUES (?)`, "b"),
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 0, count, "failed batch must leave no partial writes")
}

func TestExecuteManySucceedsAtomically(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()

	n, err := w.ExecuteMany(ctx, []batchOp{
		BatchOp(`INSERT INTO widgets (name) VALUES (?)`, "a"),
		BatchOp(`INSERT INTO widgets (name) VALUES (?)`, "b"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()

	err := w.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(`INSERT INTO widgets (name) VALUES (?)`, "a"); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO widgets (name) VALUES (?)`, "b")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()

	err := w.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(`INSERT INTO widgets (name) VALUES (?)`, "a"); err != nil {
			return err
		}
		return sql.ErrConnDone
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestTransactionDoRunsQueryAndWrite(t *testing.T) {
	w, db := newTestWorker(t)
	ctx := context.Background()
	_, err := db.Exec(`INSERT INTO widgets (name) VALUES ('seed')`)
	require.NoError(t, err)

	var seenCount int
	err = w.Transaction(ctx, func(tx *Tx) error {
		return tx.Do(func(sqlTx *sql.Tx) error {
			if err := sqlTx.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&seenCount); err != nil {
				return err
			}
			_, err := sqlTx.Exec(`INSERT INTO widgets (name) VALUES (?)`, "from-do")
			return err
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, seenCount)

	var total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&total))
	require.Equal(t, 2, total)
}

func TestWorkerSurvivesFailedWrite(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	_, err := w.Execute(ctx, `INSERT INTO nonexistent_table (name) VALUES (?)`, "x")
	require.Error(t, err)

	// the loop must still be alive and accept the next message
	n, err := w.Execute(ctx, `INSERT INTO widgets (name) VALUES (?)`, "recovered")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStopDrainsQueuedWrites(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	w := New(db, nil)
	w.Start()
	ctx := context.Background()

	_, err = w.Execute(ctx, `INSERT INTO widgets (name) VALUES (?)`, "before-stop")
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 1, count)
}
