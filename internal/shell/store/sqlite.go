package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/heron/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const timeFormat = time.RFC3339Nano

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// JSON Helpers
// =============================================================================

// toJSON serializes v, returning nil for nil-ish values so optional columns
// stay NULL.
func toJSON(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	s := string(raw)
	return &s, nil
}

func fromJSON(raw *string, dest any) error {
	if raw == nil || *raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(*raw), dest)
}

func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// =============================================================================
// Environment Operations
// =============================================================================

// environmentRow represents an environment row in the database.
type environmentRow struct {
	Name      string  `db:"name"`
	Project   string  `db:"project"`
	Network   *string `db:"network"`
	Channel   *string `db:"channel"`
	Vars      *string `db:"vars"`
	CreatedAt string  `db:"created_at"`
	UpdatedAt string  `db:"updated_at"`
}

func environmentToRow(env *domain.Environment, now string) (*environmentRow, error) {
	project, err := toJSON(env.Project)
	if err != nil {
		return nil, err
	}
	network, err := toJSON(env.Network)
	if err != nil {
		return nil, err
	}
	channel, err := toJSON(env.Channel)
	if err != nil {
		return nil, err
	}
	vars, err := toJSON(env.Vars)
	if err != nil {
		return nil, err
	}
	return &environmentRow{
		Name:      env.Name,
		Project:   *project,
		Network:   network,
		Channel:   channel,
		Vars:      vars,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *environmentRow) toDomain() (*domain.Environment, error) {
	env := &domain.Environment{Name: r.Name}
	if err := fromJSON(&r.Project, &env.Project); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Network, &env.Network); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Channel, &env.Channel); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Vars, &env.Vars); err != nil {
		return nil, err
	}
	return env, nil
}

func createEnvironment(ctx context.Context, exec executor, env *domain.Environment) error {
	row, err := environmentToRow(env, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.Name, "failed to serialize", ErrInvalidData)
	}
	query := `
		INSERT INTO environments (name, project, network, channel, vars, created_at, updated_at)
		VALUES (:name, :project, :network, :channel, :vars, :created_at, :updated_at)`
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isDuplicate(err) {
			return NewStoreError("CreateEnvironment", "environment", env.Name, "already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateEnvironment", "environment", env.Name, err.Error(), err)
	}
	return nil
}

func getEnvironment(ctx context.Context, exec executor, name string) (*domain.Environment, error) {
	var row environmentRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM environments WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetEnvironment", "environment", name, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetEnvironment", "environment", name, err.Error(), err)
	}
	env, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("GetEnvironment", "environment", name, "failed to deserialize", ErrInvalidData)
	}
	return env, nil
}

func updateEnvironment(ctx context.Context, exec executor, env *domain.Environment) error {
	row, err := environmentToRow(env, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("UpdateEnvironment", "environment", env.Name, "failed to serialize", ErrInvalidData)
	}
	query := `
		UPDATE environments SET project = :project, network = :network,
			channel = :channel, vars = :vars, updated_at = :updated_at
		WHERE name = :name`
	res, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateEnvironment", "environment", env.Name, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateEnvironment", "environment", env.Name, "not found", ErrNotFound)
	}
	return nil
}

func deleteEnvironment(ctx context.Context, exec executor, name string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM environments WHERE name = ?`, name)
	if err != nil {
		return NewStoreError("DeleteEnvironment", "environment", name, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteEnvironment", "environment", name, "not found", ErrNotFound)
	}
	return nil
}

func listEnvironments(ctx context.Context, exec executor, opts ListOptions) ([]domain.Environment, error) {
	opts.Normalize()
	var rows []environmentRow
	query := `SELECT * FROM environments ORDER BY name LIMIT ? OFFSET ?`
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListEnvironments", "environment", "", err.Error(), err)
	}
	out := make([]domain.Environment, 0, len(rows))
	for i := range rows {
		env, err := rows[i].toDomain()
		if err != nil {
			return nil, NewStoreError("ListEnvironments", "environment", rows[i].Name, "failed to deserialize", ErrInvalidData)
		}
		out = append(out, *env)
	}
	return out, nil
}

// =============================================================================
// Build Pack Operations
// =============================================================================

// buildPackRow represents a build pack row in the database.
type buildPackRow struct {
	Name              string  `db:"name"`
	RuntimeVersion    string  `db:"runtime_version"`
	Target            string  `db:"target"`
	BuildArgs         *string `db:"build_args"`
	PostBuildCommands *string `db:"post_build_commands"`
	Vars              *string `db:"vars"`
	DockerfileURL     string  `db:"dockerfile_url"`
	CreatedAt         string  `db:"created_at"`
	UpdatedAt         string  `db:"updated_at"`
}

func buildPackToRow(pack *domain.BuildPack, now string) (*buildPackRow, error) {
	args, err := toJSON(pack.BuildArgs)
	if err != nil {
		return nil, err
	}
	commands, err := toJSON(pack.PostBuildCommands)
	if err != nil {
		return nil, err
	}
	vars, err := toJSON(pack.Vars)
	if err != nil {
		return nil, err
	}
	return &buildPackRow{
		Name:              pack.Name,
		RuntimeVersion:    pack.RuntimeVersion,
		Target:            string(pack.Target),
		BuildArgs:         args,
		PostBuildCommands: commands,
		Vars:              vars,
		DockerfileURL:     pack.DockerfileURL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (r *buildPackRow) toDomain() (*domain.BuildPack, error) {
	pack := &domain.BuildPack{
		Name:           r.Name,
		RuntimeVersion: r.RuntimeVersion,
		Target:         domain.Target(r.Target),
		DockerfileURL:  r.DockerfileURL,
	}
	if err := fromJSON(r.BuildArgs, &pack.BuildArgs); err != nil {
		return nil, err
	}
	if err := fromJSON(r.PostBuildCommands, &pack.PostBuildCommands); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Vars, &pack.Vars); err != nil {
		return nil, err
	}
	return pack, nil
}

func createBuildPack(ctx context.Context, exec executor, pack *domain.BuildPack) error {
	row, err := buildPackToRow(pack, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("CreateBuildPack", "build_pack", pack.Name, "failed to serialize", ErrInvalidData)
	}
	query := `
		INSERT INTO build_packs (name, runtime_version, target, build_args,
			post_build_commands, vars, dockerfile_url, created_at, updated_at)
		VALUES (:name, :runtime_version, :target, :build_args,
			:post_build_commands, :vars, :dockerfile_url, :created_at, :updated_at)`
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isDuplicate(err) {
			return NewStoreError("CreateBuildPack", "build_pack", pack.Name, "already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateBuildPack", "build_pack", pack.Name, err.Error(), err)
	}
	return nil
}

func getBuildPack(ctx context.Context, exec executor, name string) (*domain.BuildPack, error) {
	var row buildPackRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM build_packs WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetBuildPack", "build_pack", name, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetBuildPack", "build_pack", name, err.Error(), err)
	}
	pack, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("GetBuildPack", "build_pack", name, "failed to deserialize", ErrInvalidData)
	}
	return pack, nil
}

func updateBuildPack(ctx context.Context, exec executor, pack *domain.BuildPack) error {
	row, err := buildPackToRow(pack, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("UpdateBuildPack", "build_pack", pack.Name, "failed to serialize", ErrInvalidData)
	}
	query := `
		UPDATE build_packs SET runtime_version = :runtime_version, target = :target,
			build_args = :build_args, post_build_commands = :post_build_commands,
			vars = :vars, dockerfile_url = :dockerfile_url, updated_at = :updated_at
		WHERE name = :name`
	res, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateBuildPack", "build_pack", pack.Name, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateBuildPack", "build_pack", pack.Name, "not found", ErrNotFound)
	}
	return nil
}

func deleteBuildPack(ctx context.Context, exec executor, name string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM build_packs WHERE name = ?`, name)
	if err != nil {
		return NewStoreError("DeleteBuildPack", "build_pack", name, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteBuildPack", "build_pack", name, "not found", ErrNotFound)
	}
	return nil
}

func listBuildPacks(ctx context.Context, exec executor, opts ListOptions) ([]domain.BuildPack, error) {
	opts.Normalize()
	var rows []buildPackRow
	query := `SELECT * FROM build_packs ORDER BY name LIMIT ? OFFSET ?`
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListBuildPacks", "build_pack", "", err.Error(), err)
	}
	out := make([]domain.BuildPack, 0, len(rows))
	for i := range rows {
		pack, err := rows[i].toDomain()
		if err != nil {
			return nil, NewStoreError("ListBuildPacks", "build_pack", rows[i].Name, "failed to deserialize", ErrInvalidData)
		}
		out = append(out, *pack)
	}
	return out, nil
}

// =============================================================================
// Application Operations
// =============================================================================

// applicationRow represents an application row in the database.
type applicationRow struct {
	ID                   string  `db:"id"`
	Name                 string  `db:"name"`
	EnvironmentName      string  `db:"environment_name"`
	Identifier           string  `db:"identifier"`
	Region               string  `db:"region"`
	TriggerID            string  `db:"trigger_id"`
	Endpoint             string  `db:"endpoint"`
	BuildSetup           string  `db:"build_setup"`
	Repository           *string `db:"repository"`
	Domains              *string `db:"domains"`
	Vars                 *string `db:"vars"`
	DatabaseSpec         *string `db:"database_spec"`
	Bucket               *string `db:"bucket"`
	ServiceAccount       *string `db:"service_account"`
	Gateway              *string `db:"gateway"`
	ScheduledInvocations *string `db:"scheduled_invocations"`
	IntegratesWith       *string `db:"integrates_with"`
	CreatedAt            string  `db:"created_at"`
	UpdatedAt            string  `db:"updated_at"`
}

func applicationToRow(app *domain.Application, now string) (*applicationRow, error) {
	setup, err := toJSON(app.BuildSetup)
	if err != nil {
		return nil, err
	}
	repo, err := toJSON(app.Repository)
	if err != nil {
		return nil, err
	}
	domains, err := toJSON(app.Domains)
	if err != nil {
		return nil, err
	}
	vars, err := toJSON(app.Vars)
	if err != nil {
		return nil, err
	}
	database, err := toJSON(app.Database)
	if err != nil {
		return nil, err
	}
	bucket, err := toJSON(app.Bucket)
	if err != nil {
		return nil, err
	}
	account, err := toJSON(app.ServiceAccount)
	if err != nil {
		return nil, err
	}
	gateway, err := toJSON(app.Gateway)
	if err != nil {
		return nil, err
	}
	schedules, err := toJSON(app.ScheduledInvocations)
	if err != nil {
		return nil, err
	}
	integrates, err := toJSON(app.IntegratesWith)
	if err != nil {
		return nil, err
	}

	created := now
	if !app.CreatedAt.IsZero() {
		created = app.CreatedAt.UTC().Format(timeFormat)
	}

	return &applicationRow{
		ID:                   app.ID,
		Name:                 app.Name,
		EnvironmentName:      app.EnvironmentName,
		Identifier:           app.Identifier,
		Region:               app.Region,
		TriggerID:            app.BuildSetup.TriggerID,
		Endpoint:             app.Endpoint,
		BuildSetup:           *setup,
		Repository:           repo,
		Domains:              domains,
		Vars:                 vars,
		DatabaseSpec:         database,
		Bucket:               bucket,
		ServiceAccount:       account,
		Gateway:              gateway,
		ScheduledInvocations: schedules,
		IntegratesWith:       integrates,
		CreatedAt:            created,
		UpdatedAt:            now,
	}, nil
}

func (r *applicationRow) toDomain() (*domain.Application, error) {
	app := &domain.Application{
		ID:              r.ID,
		Name:            r.Name,
		EnvironmentName: r.EnvironmentName,
		Identifier:      r.Identifier,
		Region:          r.Region,
		Endpoint:        r.Endpoint,
	}
	if err := fromJSON(&r.BuildSetup, &app.BuildSetup); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Repository, &app.Repository); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Domains, &app.Domains); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Vars, &app.Vars); err != nil {
		return nil, err
	}
	if err := fromJSON(r.DatabaseSpec, &app.Database); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Bucket, &app.Bucket); err != nil {
		return nil, err
	}
	if err := fromJSON(r.ServiceAccount, &app.ServiceAccount); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Gateway, &app.Gateway); err != nil {
		return nil, err
	}
	if err := fromJSON(r.ScheduledInvocations, &app.ScheduledInvocations); err != nil {
		return nil, err
	}
	if err := fromJSON(r.IntegratesWith, &app.IntegratesWith); err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeFormat, r.CreatedAt); err == nil {
		app.CreatedAt = t
	}
	if t, err := time.Parse(timeFormat, r.UpdatedAt); err == nil {
		app.UpdatedAt = t
	}
	return app, nil
}

const applicationColumns = `
		id, name, environment_name, identifier, region, trigger_id, endpoint,
		build_setup, repository, domains, vars, database_spec, bucket,
		service_account, gateway, scheduled_invocations, integrates_with,
		created_at, updated_at`

func createApplication(ctx context.Context, exec executor, app *domain.Application) error {
	row, err := applicationToRow(app, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("CreateApplication", "application", app.ID, "failed to serialize", ErrInvalidData)
	}
	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES (:id, :name, :environment_name, :identifier, :region, :trigger_id,
			:endpoint, :build_setup, :repository, :domains, :vars, :database_spec,
			:bucket, :service_account, :gateway, :scheduled_invocations,
			:integrates_with, :created_at, :updated_at)`
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isDuplicate(err) {
			return NewStoreError("CreateApplication", "application", app.ID, "already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateApplication", "application", app.ID, err.Error(), err)
	}
	return nil
}

func getApplication(ctx context.Context, exec executor, id string) (*domain.Application, error) {
	var row applicationRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM applications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetApplication", "application", id, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetApplication", "application", id, err.Error(), err)
	}
	app, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("GetApplication", "application", id, "failed to deserialize", ErrInvalidData)
	}
	return app, nil
}

func getApplicationByTriggerID(ctx context.Context, exec executor, triggerID string) (*domain.Application, error) {
	var row applicationRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM applications WHERE trigger_id = ? AND trigger_id != ''`, triggerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetApplicationByTriggerID", "application", triggerID, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetApplicationByTriggerID", "application", triggerID, err.Error(), err)
	}
	app, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("GetApplicationByTriggerID", "application", triggerID, "failed to deserialize", ErrInvalidData)
	}
	return app, nil
}

func updateApplication(ctx context.Context, exec executor, app *domain.Application) error {
	row, err := applicationToRow(app, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("UpdateApplication", "application", app.ID, "failed to serialize", ErrInvalidData)
	}
	query := `
		UPDATE applications SET name = :name, environment_name = :environment_name,
			identifier = :identifier, region = :region, trigger_id = :trigger_id,
			endpoint = :endpoint, build_setup = :build_setup, repository = :repository,
			domains = :domains, vars = :vars, database_spec = :database_spec,
			bucket = :bucket, service_account = :service_account, gateway = :gateway,
			scheduled_invocations = :scheduled_invocations,
			integrates_with = :integrates_with, updated_at = :updated_at
		WHERE id = :id`
	res, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateApplication", "application", app.ID, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateApplication", "application", app.ID, "not found", ErrNotFound)
	}
	return nil
}

func deleteApplication(ctx context.Context, exec executor, id string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteApplication", "application", id, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteApplication", "application", id, "not found", ErrNotFound)
	}
	return nil
}

func listApplications(ctx context.Context, exec executor, opts ListOptions) ([]domain.Application, error) {
	opts.Normalize()
	var rows []applicationRow
	query := `SELECT * FROM applications ORDER BY id LIMIT ? OFFSET ?`
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListApplications", "application", "", err.Error(), err)
	}
	return applicationsFromRows(rows, "ListApplications")
}

func listApplicationsByEnvironment(ctx context.Context, exec executor, envName string, opts ListOptions) ([]domain.Application, error) {
	opts.Normalize()
	var rows []applicationRow
	query := `SELECT * FROM applications WHERE environment_name = ? ORDER BY id LIMIT ? OFFSET ?`
	if err := exec.SelectContext(ctx, &rows, query, envName, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListApplicationsByEnvironment", "application", "", err.Error(), err)
	}
	return applicationsFromRows(rows, "ListApplicationsByEnvironment")
}

func applicationsFromRows(rows []applicationRow, op string) ([]domain.Application, error) {
	out := make([]domain.Application, 0, len(rows))
	for i := range rows {
		app, err := rows[i].toDomain()
		if err != nil {
			return nil, NewStoreError(op, "application", rows[i].ID, "failed to deserialize", ErrInvalidData)
		}
		out = append(out, *app)
	}
	return out, nil
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID        string  `db:"id"`
	AppID     string  `db:"app_id"`
	BuildID   string  `db:"build_id"`
	Events    *string `db:"events"`
	CreatedAt string  `db:"created_at"`
	UpdatedAt string  `db:"updated_at"`
}

func deploymentToRow(d *domain.Deployment, now string) (*deploymentRow, error) {
	events, err := toJSON(d.Events)
	if err != nil {
		return nil, err
	}
	created := now
	if !d.CreatedAt.IsZero() {
		created = d.CreatedAt.UTC().Format(timeFormat)
	}
	return &deploymentRow{
		ID:        d.ID,
		AppID:     d.AppID,
		BuildID:   d.BuildID,
		Events:    events,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

func (r *deploymentRow) toDomain() (*domain.Deployment, error) {
	d := &domain.Deployment{
		ID:      r.ID,
		AppID:   r.AppID,
		BuildID: r.BuildID,
	}
	if err := fromJSON(r.Events, &d.Events); err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeFormat, r.CreatedAt); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(timeFormat, r.UpdatedAt); err == nil {
		d.UpdatedAt = t
	}
	return d, nil
}

func createDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	row, err := deploymentToRow(d, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("CreateDeployment", "deployment", d.ID, "failed to serialize", ErrInvalidData)
	}
	query := `
		INSERT INTO deployments (id, app_id, build_id, events, created_at, updated_at)
		VALUES (:id, :app_id, :build_id, :events, :created_at, :updated_at)`
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if isDuplicate(err) {
			return NewStoreError("CreateDeployment", "deployment", d.ID, "already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", d.ID, err.Error(), err)
	}
	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.Deployment, error) {
	var row deploymentRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetDeployment", "deployment", id, "not found", ErrNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}
	d, err := row.toDomain()
	if err != nil {
		return nil, NewStoreError("GetDeployment", "deployment", id, "failed to deserialize", ErrInvalidData)
	}
	return d, nil
}

func updateDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	row, err := deploymentToRow(d, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "failed to serialize", ErrInvalidData)
	}
	query := `
		UPDATE deployments SET app_id = :app_id, build_id = :build_id,
			events = :events, updated_at = :updated_at
		WHERE id = :id`
	res, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "not found", ErrNotFound)
	}
	return nil
}

func deleteDeployment(ctx context.Context, exec executor, id string) error {
	res, err := exec.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteDeployment", "deployment", id, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteDeployment", "deployment", id, "not found", ErrNotFound)
	}
	return nil
}

func listDeploymentsByBuild(ctx context.Context, exec executor, appID, buildID string) ([]domain.Deployment, error) {
	var rows []deploymentRow
	query := `SELECT * FROM deployments WHERE app_id = ? AND build_id = ? ORDER BY created_at`
	if err := exec.SelectContext(ctx, &rows, query, appID, buildID); err != nil {
		return nil, NewStoreError("ListDeploymentsByBuild", "deployment", buildID, err.Error(), err)
	}
	return deploymentsFromRows(rows, "ListDeploymentsByBuild")
}

func listDeploymentsByApplication(ctx context.Context, exec executor, appID string, opts ListOptions) ([]domain.Deployment, error) {
	opts.Normalize()
	var rows []deploymentRow
	query := `SELECT * FROM deployments WHERE app_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if err := exec.SelectContext(ctx, &rows, query, appID, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListDeploymentsByApplication", "deployment", appID, err.Error(), err)
	}
	return deploymentsFromRows(rows, "ListDeploymentsByApplication")
}

func deploymentsFromRows(rows []deploymentRow, op string) ([]domain.Deployment, error) {
	out := make([]domain.Deployment, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDomain()
		if err != nil {
			return nil, NewStoreError(op, "deployment", rows[i].ID, "failed to deserialize", ErrInvalidData)
		}
		out = append(out, *d)
	}
	return out, nil
}

// =============================================================================
// Store Interface Implementation
// =============================================================================

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, name string) (*domain.Environment, error) {
	return getEnvironment(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return updateEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, name string) error {
	return deleteEnvironment(ctx, s.db, name)
}

func (s *SQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.db, opts)
}

func (s *SQLiteStore) CreateBuildPack(ctx context.Context, pack *domain.BuildPack) error {
	return createBuildPack(ctx, s.db, pack)
}

func (s *SQLiteStore) GetBuildPack(ctx context.Context, name string) (*domain.BuildPack, error) {
	return getBuildPack(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateBuildPack(ctx context.Context, pack *domain.BuildPack) error {
	return updateBuildPack(ctx, s.db, pack)
}

func (s *SQLiteStore) DeleteBuildPack(ctx context.Context, name string) error {
	return deleteBuildPack(ctx, s.db, name)
}

func (s *SQLiteStore) ListBuildPacks(ctx context.Context, opts ListOptions) ([]domain.BuildPack, error) {
	return listBuildPacks(ctx, s.db, opts)
}

func (s *SQLiteStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	return createApplication(ctx, s.db, app)
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	return getApplication(ctx, s.db, id)
}

func (s *SQLiteStore) GetApplicationByTriggerID(ctx context.Context, triggerID string) (*domain.Application, error) {
	return getApplicationByTriggerID(ctx, s.db, triggerID)
}

func (s *SQLiteStore) UpdateApplication(ctx context.Context, app *domain.Application) error {
	return updateApplication(ctx, s.db, app)
}

func (s *SQLiteStore) DeleteApplication(ctx context.Context, id string) error {
	return deleteApplication(ctx, s.db, id)
}

func (s *SQLiteStore) ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error) {
	return listApplications(ctx, s.db, opts)
}

func (s *SQLiteStore) ListApplicationsByEnvironment(ctx context.Context, envName string, opts ListOptions) ([]domain.Application, error) {
	return listApplicationsByEnvironment(ctx, s.db, envName, opts)
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	return createDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	return updateDeployment(ctx, s.db, d)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeploymentsByBuild(ctx context.Context, appID, buildID string) ([]domain.Deployment, error) {
	return listDeploymentsByBuild(ctx, s.db, appID, buildID)
}

func (s *SQLiteStore) ListDeploymentsByApplication(ctx context.Context, appID string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByApplication(ctx, s.db, appID, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	return createEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) GetEnvironment(ctx context.Context, name string) (*domain.Environment, error) {
	return getEnvironment(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return updateEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) DeleteEnvironment(ctx context.Context, name string) error {
	return deleteEnvironment(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error) {
	return listEnvironments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateBuildPack(ctx context.Context, pack *domain.BuildPack) error {
	return createBuildPack(ctx, s.tx, pack)
}

func (s *txSQLiteStore) GetBuildPack(ctx context.Context, name string) (*domain.BuildPack, error) {
	return getBuildPack(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateBuildPack(ctx context.Context, pack *domain.BuildPack) error {
	return updateBuildPack(ctx, s.tx, pack)
}

func (s *txSQLiteStore) DeleteBuildPack(ctx context.Context, name string) error {
	return deleteBuildPack(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListBuildPacks(ctx context.Context, opts ListOptions) ([]domain.BuildPack, error) {
	return listBuildPacks(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateApplication(ctx context.Context, app *domain.Application) error {
	return createApplication(ctx, s.tx, app)
}

func (s *txSQLiteStore) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	return getApplication(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetApplicationByTriggerID(ctx context.Context, triggerID string) (*domain.Application, error) {
	return getApplicationByTriggerID(ctx, s.tx, triggerID)
}

func (s *txSQLiteStore) UpdateApplication(ctx context.Context, app *domain.Application) error {
	return updateApplication(ctx, s.tx, app)
}

func (s *txSQLiteStore) DeleteApplication(ctx context.Context, id string) error {
	return deleteApplication(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListApplications(ctx context.Context, opts ListOptions) ([]domain.Application, error) {
	return listApplications(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListApplicationsByEnvironment(ctx context.Context, envName string, opts ListOptions) ([]domain.Application, error) {
	return listApplicationsByEnvironment(ctx, s.tx, envName, opts)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	return createDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, d *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, d)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeploymentsByBuild(ctx context.Context, appID, buildID string) ([]domain.Deployment, error) {
	return listDeploymentsByBuild(ctx, s.tx, appID, buildID)
}

func (s *txSQLiteStore) ListDeploymentsByApplication(ctx context.Context, appID string, opts ListOptions) ([]domain.Deployment, error) {
	return listDeploymentsByApplication(ctx, s.tx, appID, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}
