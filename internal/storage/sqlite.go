package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ingestq/internal/task"
	"ingestq/internal/timeline"

	_ "modernc.org/sqlite"
)

// SQLStore is the SQLite-backed TaskStore. Writes are committed before the
// call returns, which is what crash recovery leans on.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the ledger database and runs migrations.
func OpenSQL(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite supports a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		datasource TEXT NOT NULL,
		group_id TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		version TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_locks_task ON task_locks(task_id);

	CREATE TABLE IF NOT EXISTS task_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_actions_task ON task_actions(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLStore) Insert(ctx context.Context, def task.Definition, st task.Status) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, payload, status, error, duration_ns, created_at) VALUES(?,?,?,?,?,?)`,
		def.ID, string(payload), string(st.Code), st.ErrorDetail, int64(st.Duration), time.Now().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTaskExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLStore) SetStatus(ctx context.Context, st task.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, st.TaskID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if cur := task.StatusCode(current); cur == task.StatusSuccess || cur == task.StatusFailed {
		if cur == st.Code {
			return nil // idempotent under retry
		}
		return ErrStatusConflict
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, duration_ns = ? WHERE id = ?`,
		string(st.Code), st.ErrorDetail, int64(st.Duration), st.TaskID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) GetStatus(ctx context.Context, taskID string) (task.Status, error) {
	var (
		code     string
		detail   string
		duration int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, error, duration_ns FROM tasks WHERE id = ?`, taskID).
		Scan(&code, &detail, &duration)
	if err == sql.ErrNoRows {
		return task.Status{}, ErrTaskNotFound
	}
	if err != nil {
		return task.Status{}, fmt.Errorf("read status: %w", err)
	}
	return task.Status{
		TaskID:      taskID,
		Code:        task.StatusCode(code),
		Duration:    time.Duration(duration),
		ErrorDetail: detail,
	}, nil
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (task.Definition, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM tasks WHERE id = ?`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return task.Definition{}, ErrTaskNotFound
	}
	if err != nil {
		return task.Definition{}, fmt.Errorf("read task: %w", err)
	}
	var def task.Definition
	if err := json.Unmarshal([]byte(payload), &def); err != nil {
		return task.Definition{}, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return def, nil
}

func (s *SQLStore) GetActiveTasks(ctx context.Context) ([]task.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(task.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query active tasks: %w", err)
	}
	defer rows.Close()

	var active []task.Definition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var def task.Definition
		if err := json.Unmarshal([]byte(payload), &def); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		active = append(active, def)
	}
	return active, rows.Err()
}

func (s *SQLStore) AddLock(ctx context.Context, taskID string, l task.Lock) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_locks(task_id, datasource, group_id, start_ns, end_ns, version) VALUES(?,?,?,?,?,?)`,
		taskID, l.DataSource, l.GroupID, l.Interval.Start.UnixNano(), l.Interval.End.UnixNano(), l.Version)
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

func (s *SQLStore) RemoveLock(ctx context.Context, taskID string, l task.Lock) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_locks WHERE task_id = ? AND datasource = ? AND group_id = ? AND start_ns = ? AND end_ns = ? AND version = ?`,
		taskID, l.DataSource, l.GroupID, l.Interval.Start.UnixNano(), l.Interval.End.UnixNano(), l.Version)
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (s *SQLStore) GetActiveLocks(ctx context.Context) ([]HeldLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, datasource, group_id, start_ns, end_ns, version FROM task_locks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var locks []HeldLock
	for rows.Next() {
		var (
			taskID, ds, group, version string
			startNS, endNS             int64
		)
		if err := rows.Scan(&taskID, &ds, &group, &startNS, &endNS, &version); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, HeldLock{
			TaskID: taskID,
			Lock: task.Lock{
				GroupID:    group,
				DataSource: ds,
				Interval: timeline.Interval{
					Start: time.Unix(0, startNS).UTC(),
					End:   time.Unix(0, endNS).UTC(),
				},
				Version: version,
			},
		})
	}
	return locks, rows.Err()
}

func (s *SQLStore) LogAction(ctx context.Context, taskID, kind string, payload []byte, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_actions(task_id, kind, payload, summary, created_at) VALUES(?,?,?,?,?)`,
		taskID, kind, string(payload), summary, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *SQLStore) GetActionLog(ctx context.Context, taskID string) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, payload, summary, created_at FROM task_actions WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var (
			kind, payload, summary string
			createdNS              int64
		)
		if err := rows.Scan(&kind, &payload, &summary, &createdNS); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		records = append(records, ActionRecord{
			TaskID:    taskID,
			Kind:      kind,
			Payload:   []byte(payload),
			Summary:   summary,
			CreatedAt: time.Unix(0, createdNS).UTC(),
		})
	}
	return records, rows.Err()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the message; there
	// is no portable error code through database/sql.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
