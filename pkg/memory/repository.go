package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/refinelabs/refinery/pkg/errors"
	"github.com/refinelabs/refinery/pkg/logging"
	"github.com/refinelabs/refinery/pkg/storage"
)

// ErrSearchUnavailable signals that durable full-text search cannot be
// used; callers fall back to an in-process substring match.
var ErrSearchUnavailable = errors.New(errors.ExternalService, "full-text search unavailable")

// Repository persists memory records.
type Repository interface {
	Insert(ctx context.Context, m *Memory) error
	Get(ctx context.Context, id string) (*Memory, error)
	List(ctx context.Context, filter Filter) ([]*Memory, error)
	Search(ctx context.Context, projectID, term string, memType *Type, limit int) ([]*Memory, error)
	// BumpAccess atomically increments access_count and refreshes
	// last_accessed for the given ids.
	BumpAccess(ctx context.Context, ids []string, accessedAt time.Time) error
	Update(ctx context.Context, m *Memory) error
	Delete(ctx context.Context, id string) error
	// DeleteStale removes records matching all retention conditions:
	// importance below maxImportance, access_count at or below
	// maxAccess, last_accessed before the cutoff.
	DeleteStale(ctx context.Context, projectID string, maxImportance, maxAccess int, before time.Time) (int64, error)
}

const memorySchema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL,
	memory_type      TEXT NOT NULL,
	content          TEXT NOT NULL,
	importance_score INTEGER NOT NULL,
	created_at       DATETIME NOT NULL,
	last_accessed    DATETIME NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id, importance_score DESC);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(project_id, memory_type);
`

// ftsSchema is applied best-effort: the driver may be built without
// FTS5, in which case search degrades to the substring fallback.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`

// SQLiteRepository persists memories in the shared SQLite database.
type SQLiteRepository struct {
	db           *sql.DB
	ftsAvailable bool
}

// NewSQLiteRepository ensures the memories schema exists. FTS5 setup is
// best-effort; when it fails, Search reports ErrSearchUnavailable.
func NewSQLiteRepository(db *storage.DB, logger *logging.Logger) (*SQLiteRepository, error) {
	conn := db.Conn()
	if _, err := conn.Exec(memorySchema); err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "create memories schema")
	}

	r := &SQLiteRepository{db: conn}
	if _, err := conn.Exec(ftsSchema); err != nil {
		logger.WithComponent("memory").Warn("full-text search disabled: %v", err)
	} else {
		r.ftsAvailable = true
	}
	return r, nil
}

// Insert persists a new memory row.
func (r *SQLiteRepository) Insert(ctx context.Context, m *Memory) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "encode memory content")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories
			(id, project_id, memory_type, content, importance_score,
			 created_at, last_accessed, access_count)
		VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, string(m.MemoryType), string(content), m.ImportanceScore,
		m.CreatedAt, m.LastAccessed, m.AccessCount,
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ExternalService, "insert memory"),
			errors.Fields{"memory_id": m.ID})
	}
	return nil
}

// Get retrieves a memory by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Memory, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "memory not found"),
			errors.Fields{"memory_id": id})
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "get memory")
	}
	return m, nil
}

// List returns memories matching the filter, highest importance first
// with newer records winning ties.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]*Memory, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + memoryColumns + ` FROM memories WHERE project_id=?`)
	args := []any{filter.ProjectID}

	if filter.MemoryType != nil {
		q.WriteString(" AND memory_type=?")
		args = append(args, string(*filter.MemoryType))
	}
	if filter.MinImportance > 0 {
		q.WriteString(" AND importance_score>=?")
		args = append(args, filter.MinImportance)
	}
	q.WriteString(" ORDER BY importance_score DESC, created_at DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "list memories")
	}
	defer rows.Close()
	return collectMemories(rows)
}

// Search runs an FTS5 match over memory content, most relevant first.
func (r *SQLiteRepository) Search(ctx context.Context, projectID, term string, memType *Type, limit int) ([]*Memory, error) {
	if !r.ftsAvailable {
		return nil, ErrSearchUnavailable
	}
	ftsQuery := sanitizeFTS(term)
	if ftsQuery == "" {
		return nil, nil
	}

	var q strings.Builder
	q.WriteString(`
		SELECT ` + prefixedMemoryColumns + `
		FROM memories_fts fts
		JOIN memories m ON m.rowid = fts.rowid
		WHERE memories_fts MATCH ? AND m.project_id = ?`)
	args := []any{ftsQuery, projectID}

	if memType != nil {
		q.WriteString(" AND m.memory_type = ?")
		args = append(args, string(*memType))
	}
	q.WriteString(" ORDER BY fts.rank")
	if limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "search memories")
	}
	defer rows.Close()
	return collectMemories(rows)
}

// BumpAccess increments access_count in the store itself so concurrent
// readers never lose an increment to a read-modify-write race.
func (r *SQLiteRepository) BumpAccess(ctx context.Context, ids []string, accessedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, accessedAt.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "bump memory access")
	}
	return nil
}

// Update rewrites a memory's mutable columns.
func (r *SQLiteRepository) Update(ctx context.Context, m *Memory) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "encode memory content")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET memory_type=?, content=?, importance_score=?
		WHERE id=?`,
		string(m.MemoryType), string(content), m.ImportanceScore, m.ID)
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "update memory")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "update memory")
	}
	if affected == 0 {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "memory not found"),
			errors.Fields{"memory_id": m.ID})
	}
	return nil
}

// Delete removes a memory by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE id=?`, id)
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "delete memory")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ExternalService, "delete memory")
	}
	if affected == 0 {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "memory not found"),
			errors.Fields{"memory_id": id})
	}
	return nil
}

// DeleteStale removes only records that satisfy every retention
// condition at once. High-importance or frequently accessed memories
// are never touched regardless of age.
func (r *SQLiteRepository) DeleteStale(ctx context.Context, projectID string, maxImportance, maxAccess int, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM memories
		WHERE project_id = ?
		  AND importance_score < ?
		  AND access_count <= ?
		  AND last_accessed < ?`,
		projectID, maxImportance, maxAccess, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, errors.ExternalService, "cleanup memories")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ExternalService, "cleanup memories")
	}
	return affected, nil
}

const memoryColumns = `id, project_id, memory_type, content, importance_score,
	created_at, last_accessed, access_count`

const prefixedMemoryColumns = `m.id, m.project_id, m.memory_type, m.content, m.importance_score,
	m.created_at, m.last_accessed, m.access_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (*Memory, error) {
	var m Memory
	var memType, contentJSON string

	err := sc.Scan(&m.ID, &m.ProjectID, &memType, &contentJSON, &m.ImportanceScore,
		&m.CreatedAt, &m.LastAccessed, &m.AccessCount)
	if err != nil {
		return nil, err
	}
	m.MemoryType = Type(memType)
	_ = json.Unmarshal([]byte(contentJSON), &m.Content)
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ExternalService, "scan memory row")
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ExternalService, "iterate memory rows")
	}
	return memories, nil
}

// sanitizeFTS quotes each term so user text cannot inject FTS5 syntax.
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}
