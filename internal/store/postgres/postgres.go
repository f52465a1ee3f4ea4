package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users             { return &users{db: s.db} }
func (s *pgStore) Agents() store.Agents           { return &agents{db: s.db} }
func (s *pgStore) Projects() store.Projects       { return &projects{db: s.db} }
func (s *pgStore) Memberships() store.Memberships { return &memberships{db: s.db} }
func (s *pgStore) Outbox() store.Outbox           { return &outbox{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bootstrap applies the embedded schema. All statements use IF NOT EXISTS
// so repeated calls are safe.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	var created, updated time.Time
	row := u.db.QueryRowContext(ctx, `
        INSERT INTO users (user_id, email, name, password_hash, role, description, memory_block_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at
    `, m.ID, m.Email, m.Name, m.PasswordHash, m.Role, m.Description, m.MemoryBlockID)
	if err := row.Scan(&created, &updated); err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = created
	out.UpdatedAt = updated
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
	return scanUser(u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID))
}

func (u *users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(u.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
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
		`UPDATE users SET description=$1, updated_at=now() WHERE user_id=$2`, description, userID)
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
		`UPDATE users SET memory_block_id=$1, updated_at=now() WHERE user_id=$2`, blockID, userID)
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
	if err := row.Scan(&out.ID, &out.UserID, &out.Name, &out.Personality,
		&out.LettaAgentID, &out.IsActive, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

func (a *agents) Create(ctx context.Context, m *model.Agent) (*model.Agent, error) {
	var created, updated time.Time
	row := a.db.QueryRowContext(ctx, `
        INSERT INTO agents (agent_id, user_id, name, personality, letta_agent_id, is_active)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at, updated_at
    `, m.ID, m.UserID, m.Name, m.Personality, m.LettaAgentID, m.IsActive)
	if err := row.Scan(&created, &updated); err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = created
	out.UpdatedAt = updated
	return &out, nil
}

func (a *agents) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	return scanAgent(a.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id=$1`, agentID))
}

func (a *agents) GetActiveByUser(ctx context.Context, userID string) ([]*model.Agent, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE user_id=$1 AND is_active ORDER BY created_at`, userID)
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
		`SELECT `+agentColumns+` FROM agents WHERE is_active ORDER BY created_at`)
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
	set := []string{"updated_at=now()"}
	args := []interface{}{}
	n := 1
	if upd.Name != nil {
		set = append(set, fmt.Sprintf("name=$%d", n))
		args = append(args, *upd.Name)
		n++
	}
	if upd.Personality != nil {
		set = append(set, fmt.Sprintf("personality=$%d", n))
		args = append(args, *upd.Personality)
		n++
	}
	if upd.IsActive != nil {
		set = append(set, fmt.Sprintf("is_active=$%d", n))
		args = append(args, *upd.IsActive)
		n++
	}
	args = append(args, agentID)
	res, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE agents SET %s WHERE agent_id=$%d`, strings.Join(set, ", "), n), args...)
	if err != nil {
		return nil, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, model.ErrNotFound
	}
	return a.Get(ctx, agentID)
}

func (a *agents) SetLettaAgentID(ctx context.Context, agentID, lettaAgentID string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE agents SET letta_agent_id=$1, updated_at=now() WHERE agent_id=$2`, lettaAgentID, agentID)
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
	err := a.db.QueryRowContext(ctx, `SELECT count(*) FROM agents WHERE is_active`).Scan(&n)
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
	var created, updated time.Time
	row := p.db.QueryRowContext(ctx, `
        INSERT INTO projects (project_id, name, description, status, memory_block_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at, updated_at
    `, m.ID, m.Name, m.Description, m.Status, m.MemoryBlockID)
	if err := row.Scan(&created, &updated); err != nil {
		return nil, err
	}
	out := *m
	out.CreatedAt = created
	out.UpdatedAt = updated
	return &out, nil
}

func (p *projects) Get(ctx context.Context, projectID string) (*model.Project, error) {
	return scanProject(p.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id=$1`, projectID))
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
        WHERE m.user_id=$1
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
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE status='active'`).Scan(&n)
	return n, err
}

// --- Memberships ---

type memberships struct{ db *sql.DB }

func (m *memberships) Add(ctx context.Context, userID, projectID string) error {
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO project_memberships (user_id, project_id)
        VALUES ($1,$2)
        ON CONFLICT (user_id, project_id) DO NOTHING
    `, userID, projectID)
	return err
}

func (m *memberships) Remove(ctx context.Context, userID, projectID string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM project_memberships WHERE user_id=$1 AND project_id=$2`, userID, projectID)
	return err
}

func (m *memberships) ListProjectIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT project_id FROM project_memberships WHERE user_id=$1 ORDER BY assigned_at`, userID)
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

func (m *memberships) ListUserIDsByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT user_id FROM project_memberships WHERE project_id=$1 ORDER BY assigned_at`, projectID)
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
	_, err := o.db.ExecContext(ctx, `
        INSERT INTO outbox (intent_id, op, letta_agent_id, block_id, user_id)
        VALUES ($1,$2,$3,$4,$5)
    `, in.ID, in.Op, in.LettaAgentID, in.BlockID, in.UserID)
	return err
}

// LeaseBatch atomically claims due rows so concurrent sweepers never
// replay the same intent. A claim expires if the worker dies before
// marking the row, which puts the intent back in rotation.
func (o *outbox) LeaseBatch(ctx context.Context, limit int) ([]*model.OutboxIntent, error) {
	rows, err := o.db.QueryContext(ctx, `
        UPDATE outbox
        SET status = 'leased', lease_expires_at = now() + interval '5 minutes', updated_at = now()
        WHERE intent_id IN (
            SELECT intent_id FROM outbox
            WHERE (status = 'pending' AND next_attempt_at <= now())
               OR (status = 'leased' AND lease_expires_at <= now())
            ORDER BY intent_id ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $1
        )
        RETURNING intent_id, op, letta_agent_id, block_id, user_id, attempt_count, next_attempt_at, created_at
    `, limit)
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
		`UPDATE outbox SET status='done', updated_at=now() WHERE intent_id=$1`, intentID)
	return err
}

func (o *outbox) MarkFailed(ctx context.Context, intentID string, nextAttemptAt time.Time) error {
	_, err := o.db.ExecContext(ctx, `
        UPDATE outbox
        SET status = 'pending', attempt_count = attempt_count + 1, next_attempt_at = $1, updated_at = now()
        WHERE intent_id = $2
    `, nextAttemptAt, intentID)
	return err
}

func (o *outbox) CancelPending(ctx context.Context, lettaAgentID, blockID string) error {
	q := `UPDATE outbox SET status = 'canceled', updated_at = now()
          WHERE status IN ('pending','leased') AND letta_agent_id = $1`
	args := []interface{}{lettaAgentID}
	if blockID != "" {
		q += ` AND block_id = $2`
		args = append(args, blockID)
	}
	_, err := o.db.ExecContext(ctx, q, args...)
	return err
}
