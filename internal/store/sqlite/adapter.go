package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// SqliteStore implements store.Store on a single SQLite file. SQLite has
// no server-side now() defaults worth relying on, so timestamps are set
// in Go (UTC) on every write.
type SqliteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the embedded
// schema so a fresh file is immediately usable.
func New(path string) (*SqliteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{db: db}
	if err := s.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wires an existing connection (used by the factory and tests).
func NewWithDB(db *sql.DB) (*SqliteStore, error) {
	s := &SqliteStore{db: db}
	if err := s.applySchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) applySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying *sql.DB (local-only use case).
func (s *SqliteStore) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *SqliteStore) Close() error { return s.db.Close() }

// HealthPing implements health.HealthPinger.
func (s *SqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SqliteStore) Users() store.Users             { return &users{db: s.db} }
func (s *SqliteStore) Agents() store.Agents           { return &agents{db: s.db} }
func (s *SqliteStore) Projects() store.Projects       { return &projects{db: s.db} }
func (s *SqliteStore) Memberships() store.Memberships { return &memberships{db: s.db} }
func (s *SqliteStore) Outbox() store.Outbox           { return &outbox{db: s.db} }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	now := time.Now().UTC()
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO users (user_id, email, name, password_hash, role, description, memory_block_id, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?,?)
    `, m.ID, m.Email, m.Name, m.PasswordHash, m.Role, m.Description, m.MemoryBlockID, now, now)
	if err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

const userColumns = `user_id, email, name, password_hash, role, description, memory_block_id, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var out model.User
	if err := row.Scan(&out.ID, &out.Email, &out.Name, &out.PasswordHash, &out.Role,
		&out.Description, &out.MemoryBlockID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
}

func (u *users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (u *users) List(ctx context.Context) ([]*model.User, error) {
	rows, err := u.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.User
	for rows.Next() {
		m, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (u *users) UpdateDescription(ctx context.Context, userID, description string) error {
	res, err := u.db.ExecContext(ctx,
		`UPDATE users SET description = ?, updated_at = ? WHERE user_id = ?`,
		description, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (u *users) SetMemoryBlockID(ctx context.Context, userID, blockID string) error {
	res, err := u.db.ExecContext(ctx,
		`UPDATE users SET memory_block_id = ?, updated_at = ? WHERE user_id = ?`,
		blockID, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (u *users) Count(ctx context.Context) (int, error) {
	var n int
	err := u.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

// --- Agents ---

type agents struct{ db *sql.DB }

const agentColumns = `agent_id, user_id, name, personality, letta_agent_id, is_active, created_at, updated_at`

func scanAgent(row interface{ Scan(...interface{}) error }) (*model.Agent, error) {
	var out model.Agent
	var active int
	if err := row.Scan(&out.ID, &out.UserID, &out.Name, &out.Personality,
		&out.LettaAgentID, &active, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	out.IsActive = active != 0
	return &out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (a *agents) Create(ctx context.Context, m *model.Agent) (*model.Agent, error) {
	now := time.Now().UTC()
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO agents (agent_id, user_id, name, personality, letta_agent_id, is_active, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?,?)
    `, m.ID, m.UserID, m.Name, m.Personality, m.LettaAgentID, boolToInt(m.IsActive), now, now)
	if err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (a *agents) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	return scanAgent(a.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID))
}

func (a *agents) GetActiveByUser(ctx context.Context, userID string) ([]*model.Agent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE user_id = ? AND is_active = 1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Agent
	for rows.Next() {
		m, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a *agents) ListActive(ctx context.Context) ([]*model.Agent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Agent
	for rows.Next() {
		m, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a *agents) Update(ctx context.Context, agentID string, upd model.AgentUpdate) (*model.Agent, error) {
	set := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if upd.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Personality != nil {
		set = append(set, "personality = ?")
		args = append(args, *upd.Personality)
	}
	if upd.IsActive != nil {
		set = append(set, "is_active = ?")
		args = append(args, boolToInt(*upd.IsActive))
	}
	args = append(args, agentID)
	res, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE agents SET %s WHERE agent_id = ?`, strings.Join(set, ", ")), args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return a.Get(ctx, agentID)
}

func (a *agents) SetLettaAgentID(ctx context.Context, agentID, lettaAgentID string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE agents SET letta_agent_id = ?, updated_at = ? WHERE agent_id = ?`,
		lettaAgentID, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (a *agents) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT count(*) FROM agents WHERE is_active = 1`).Scan(&n)
	return n, err
}

// --- Projects ---

type projects struct{ db *sql.DB }

const projectColumns = `project_id, name, description, status, memory_block_id, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (*model.Project, error) {
	var out model.Project
	if err := row.Scan(&out.ID, &out.Name, &out.Description, &out.Status,
		&out.MemoryBlockID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (p *projects) Create(ctx context.Context, m *model.Project) (*model.Project, error) {
	now := time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO projects (project_id, name, description, status, memory_block_id, created_at, updated_at)
        VALUES (?,?,?,?,?,?,?)
    `, m.ID, m.Name, m.Description, m.Status, m.MemoryBlockID, now, now)
	if err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (p *projects) Get(ctx context.Context, projectID string) (*model.Project, error) {
	return scanProject(p.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID))
}

func (p *projects) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Project
	for rows.Next() {
		m, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *projects) ListByUser(ctx context.Context, userID string) ([]*model.Project, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT p.project_id, p.name, p.description, p.status, p.memory_block_id, p.created_at, p.updated_at
        FROM projects p
        JOIN project_memberships m ON m.project_id = p.project_id
        WHERE m.user_id = ?
        ORDER BY p.created_at DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Project
	for rows.Next() {
		m, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *projects) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&n)
	return n, err
}

func (p *projects) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE status = 'active'`).Scan(&n)
	return n, err
}

// --- Memberships ---

type memberships struct{ db *sql.DB }

func (m *memberships) Add(ctx context.Context, userID, projectID string) error {
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO project_memberships (user_id, project_id, assigned_at)
        VALUES (?,?,?)
        ON CONFLICT (user_id, project_id) DO NOTHING
    `, userID, projectID, time.Now().UTC())
	return err
}

func (m *memberships) Remove(ctx context.Context, userID, projectID string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM project_memberships WHERE user_id = ? AND project_id = ?`, userID, projectID)
	return err
}

func (m *memberships) ListProjectIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return m.listIDs(ctx,
		`SELECT project_id FROM project_memberships WHERE user_id = ? ORDER BY assigned_at`, userID)
}

func (m *memberships) ListUserIDsByProject(ctx context.Context, projectID string) ([]string, error) {
	return m.listIDs(ctx,
		`SELECT user_id FROM project_memberships WHERE project_id = ? ORDER BY assigned_at`, projectID)
}

func (m *memberships) listIDs(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Outbox ---

type outbox struct{ db *sql.DB }

func (o *outbox) Enqueue(ctx context.Context, in *model.OutboxIntent) error {
	now := time.Now().UTC()
	_, err := o.db.ExecContext(ctx, `
        INSERT INTO outbox (intent_id, op, letta_agent_id, block_id, user_id, status, attempt_count, next_attempt_at, created_at, updated_at)
        VALUES (?,?,?,?,?,'pending',0,?,?,?)
    `, in.ID, in.Op, in.LettaAgentID, in.BlockID, in.UserID, now, now, now)
	return err
}

// LeaseBatch has no row locking here: SQLite deployments run a single
// process, so the in-process sweep is the only consumer.
func (o *outbox) LeaseBatch(ctx context.Context, limit int) ([]*model.OutboxIntent, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT intent_id, op, letta_agent_id, block_id, user_id, attempt_count, next_attempt_at, created_at
        FROM outbox
        WHERE status = 'pending' AND next_attempt_at <= ?
        ORDER BY intent_id ASC
        LIMIT ?
    `, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.OutboxIntent
	for rows.Next() {
		var in model.OutboxIntent
		if err := rows.Scan(&in.ID, &in.Op, &in.LettaAgentID, &in.BlockID, &in.UserID,
			&in.AttemptCount, &in.NextAttemptAt, &in.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

func (o *outbox) MarkDone(ctx context.Context, intentID string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'done', updated_at = ? WHERE intent_id = ?`,
		time.Now().UTC(), intentID)
	return err
}

func (o *outbox) CancelPending(ctx context.Context, lettaAgentID, blockID string) error {
	q := `UPDATE outbox SET status = 'canceled', updated_at = ? WHERE status = 'pending' AND letta_agent_id = ?`
	args := []interface{}{time.Now().UTC(), lettaAgentID}
	if blockID != "" {
		q += ` AND block_id = ?`
		args = append(args, blockID)
	}
	_, err := o.db.ExecContext(ctx, q, args...)
	return err
}

func (o *outbox) MarkFailed(ctx context.Context, intentID string, nextAttemptAt time.Time) error {
	_, err := o.db.ExecContext(ctx, `
        UPDATE outbox
        SET attempt_count = attempt_count + 1, next_attempt_at = ?, updated_at = ?
        WHERE intent_id = ?
    `, nextAttemptAt.UTC(), time.Now().UTC(), intentID)
	return err
}
