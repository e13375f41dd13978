package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/loopsymphony/symphony/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres is the production store, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, runs pending migrations, and returns the store.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// runMigrations applies the embedded migrations through database/sql; the
// pgx pool is opened only after the schema is current.
func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (p *Postgres) CreateApp(ctx context.Context, name, apiKey string) (models.App, error) {
	app := models.App{ID: uuid.NewString(), Name: name, APIKey: apiKey, IsActive: true}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO apps (id, name, api_key) VALUES ($1, $2, $3) RETURNING created_at`,
		app.ID, app.Name, app.APIKey)
	if err := row.Scan(&app.CreatedAt); err != nil {
		return models.App{}, fmt.Errorf("create app: %w", err)
	}
	return app, nil
}

func (p *Postgres) AppByAPIKey(ctx context.Context, apiKey string) (models.App, error) {
	var app models.App
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, api_key, is_active, created_at FROM apps WHERE api_key = $1`, apiKey)
	err := row.Scan(&app.ID, &app.Name, &app.APIKey, &app.IsActive, &app.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.App{}, ErrNotFound
	}
	if err != nil {
		return models.App{}, fmt.Errorf("app by api key: %w", err)
	}
	return app, nil
}

func (p *Postgres) GetOrCreateUser(ctx context.Context, appID, externalID string) (models.UserProfile, error) {
	var user models.UserProfile
	row := p.pool.QueryRow(ctx, `
		INSERT INTO user_profiles (id, app_id, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_id, external_id)
		DO UPDATE SET last_seen_at = now()
		RETURNING id, app_id, external_id, last_seen_at, created_at`,
		uuid.NewString(), appID, externalID)
	err := row.Scan(&user.ID, &user.AppID, &user.ExternalID, &user.LastSeenAt, &user.CreatedAt)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("get or create user: %w", err)
	}
	return user, nil
}

func (p *Postgres) SaveTask(ctx context.Context, rec models.TaskRecord) error {
	var response []byte
	if rec.Response != nil {
		var err error
		response, err = json.Marshal(rec.Response)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tasks (id, app_id, user_id, query, status, response, error, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			response = EXCLUDED.response,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
		rec.ID, rec.AppID, rec.UserID, rec.Query, string(rec.Status),
		response, rec.Error, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (p *Postgres) Task(ctx context.Context, id string) (models.TaskRecord, error) {
	var (
		rec      models.TaskRecord
		status   string
		response []byte
	)
	row := p.pool.QueryRow(ctx, `
		SELECT id, app_id, user_id, query, status, response, error, created_at, updated_at, completed_at
		FROM tasks WHERE id = $1`, id)
	err := row.Scan(&rec.ID, &rec.AppID, &rec.UserID, &rec.Query, &status,
		&response, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("get task: %w", err)
	}
	rec.Status = models.TaskStatus(status)
	if len(response) > 0 {
		rec.Response = &models.TaskResponse{}
		if err := json.Unmarshal(response, rec.Response); err != nil {
			return models.TaskRecord{}, fmt.Errorf("decode response: %w", err)
		}
	}
	return rec, nil
}

func (p *Postgres) TasksByApp(ctx context.Context, appID string, limit int) ([]models.TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, app_id, user_id, query, status, error, created_at, updated_at, completed_at
		FROM tasks WHERE app_id = $1
		ORDER BY created_at DESC LIMIT $2`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.TaskRecord
	for rows.Next() {
		var (
			rec    models.TaskRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.AppID, &rec.UserID, &rec.Query, &status,
			&rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		rec.Status = models.TaskStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) AddIteration(ctx context.Context, it models.TaskIteration) error {
	var output []byte
	if it.Output != nil {
		var err error
		output, err = json.Marshal(it.Output)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO task_iterations (task_id, iteration_num, phase, output, duration_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		it.TaskID, it.IterationNum, it.Phase, output, it.DurationMs)
	if err != nil {
		return fmt.Errorf("add iteration: %w", err)
	}
	return nil
}

func (p *Postgres) Iterations(ctx context.Context, taskID string) ([]models.TaskIteration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT task_id, iteration_num, phase, output, duration_ms, created_at
		FROM task_iterations WHERE task_id = $1 ORDER BY iteration_num, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []models.TaskIteration
	for rows.Next() {
		var (
			it     models.TaskIteration
			output []byte
		)
		if err := rows.Scan(&it.TaskID, &it.IterationNum, &it.Phase, &output,
			&it.DurationMs, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &it.Output); err != nil {
				return nil, fmt.Errorf("decode output: %w", err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	var contextTemplate []byte
	if hb.ContextTemplate != nil {
		var err error
		contextTemplate, err = json.Marshal(hb.ContextTemplate)
		if err != nil {
			return fmt.Errorf("encode context template: %w", err)
		}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO heartbeats (id, app_id, user_id, name, query_template, cron_expression,
			timezone, is_active, context_template, webhook_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			query_template = EXCLUDED.query_template,
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			context_template = EXCLUDED.context_template,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at`,
		hb.ID, hb.AppID, hb.UserID, hb.Name, hb.QueryTemplate, hb.CronExpression,
		hb.Timezone, hb.IsActive, contextTemplate, hb.WebhookURL, hb.CreatedAt, hb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save heartbeat: %w", err)
	}
	return nil
}

func (p *Postgres) Heartbeat(ctx context.Context, id string) (models.Heartbeat, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, app_id, user_id, name, query_template, cron_expression,
			timezone, is_active, context_template, webhook_url, created_at, updated_at
		FROM heartbeats WHERE id = $1`, id)
	hb, err := scanHeartbeat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Heartbeat{}, ErrNotFound
	}
	if err != nil {
		return models.Heartbeat{}, fmt.Errorf("get heartbeat: %w", err)
	}
	return hb, nil
}

func (p *Postgres) Heartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, app_id, user_id, name, query_template, cron_expression,
			timezone, is_active, context_template, webhook_url, created_at, updated_at
		FROM heartbeats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []models.Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func scanHeartbeat(row pgx.Row) (models.Heartbeat, error) {
	var (
		hb              models.Heartbeat
		contextTemplate []byte
	)
	err := row.Scan(&hb.ID, &hb.AppID, &hb.UserID, &hb.Name, &hb.QueryTemplate,
		&hb.CronExpression, &hb.Timezone, &hb.IsActive, &contextTemplate,
		&hb.WebhookURL, &hb.CreatedAt, &hb.UpdatedAt)
	if err != nil {
		return models.Heartbeat{}, err
	}
	if len(contextTemplate) > 0 {
		if err := json.Unmarshal(contextTemplate, &hb.ContextTemplate); err != nil {
			return models.Heartbeat{}, fmt.Errorf("decode context template: %w", err)
		}
	}
	return hb, nil
}

func (p *Postgres) DeleteHeartbeat(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM heartbeats WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	return nil
}

func (p *Postgres) SaveHeartbeatRun(ctx context.Context, run models.HeartbeatRun) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO heartbeat_runs (id, heartbeat_id, task_id, status, started_at, completed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			error_message = EXCLUDED.error_message`,
		run.ID, run.HeartbeatID, run.TaskID, string(run.Status),
		run.StartedAt, run.CompletedAt, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save heartbeat run: %w", err)
	}
	return nil
}

func (p *Postgres) HeartbeatRuns(ctx context.Context, heartbeatID string, limit int) ([]models.HeartbeatRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, heartbeat_id, task_id, status, started_at, completed_at, error_message, created_at
		FROM heartbeat_runs WHERE heartbeat_id = $1
		ORDER BY created_at DESC LIMIT $2`, heartbeatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list heartbeat runs: %w", err)
	}
	defer rows.Close()

	var out []models.HeartbeatRun
	for rows.Next() {
		var (
			run    models.HeartbeatRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.HeartbeatID, &run.TaskID, &status,
			&run.StartedAt, &run.CompletedAt, &run.ErrorMessage, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan heartbeat run: %w", err)
		}
		run.Status = models.HeartbeatRunStatus(status)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
}
