// Package store persists governance state in a relational database.
//
// The same SQL runs against PostgreSQL (production, lib/pq) and SQLite
// (local runs and tests, go-sqlite3); placeholders are written as `?` and
// rebound per driver by sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/jordanhubbard/axis/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint rejects a write
	ErrConflict = errors.New("conflict")
)

// TaskStore persists tasks, their attempt log and the dead letter queue.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error)
	ListTasksByRole(ctx context.Context, roleID string) ([]*models.Task, error)
	ListDependentTasks(ctx context.Context, taskID string) ([]*models.Task, error)
	ListStaleRunningTasks(ctx context.Context, updatedBefore time.Time) ([]*models.Task, error)
	BeginAttempt(ctx context.Context, taskID string, expectedAttempt int) (bool, error)
	TransitionTask(ctx context.Context, taskID string, to models.TaskStatus, from ...models.TaskStatus) (bool, error)
	CompleteTask(ctx context.Context, taskID, summary string, requiresVerification bool, from ...models.TaskStatus) (bool, error)
	ResetTask(ctx context.Context, taskID string, from ...models.TaskStatus) (bool, error)
	ResumeTask(ctx context.Context, taskID string, from ...models.TaskStatus) (bool, error)
	SetDependencyStatus(ctx context.Context, taskID string, status models.DependencyStatus) error

	InsertAttempt(ctx context.Context, attempt *models.TaskAttempt) error
	ListAttempts(ctx context.Context, taskID string) ([]*models.TaskAttempt, error)

	InsertDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, companyID string, unresolvedOnly bool) ([]*models.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, id string, resolution models.DeadLetterResolution, by, notes string) (bool, error)
}

// WorkflowStore persists workflow requests.
type WorkflowStore interface {
	CreateRequest(ctx context.Context, req *models.WorkflowRequest) error
	GetRequest(ctx context.Context, id string) (*models.WorkflowRequest, error)
	ListRequests(ctx context.Context, companyID string, status models.RequestStatus) ([]*models.WorkflowRequest, error)
	CountPendingRequests(ctx context.Context, roleID string) (int, error)
	ClaimRequest(ctx context.Context, id string, status models.RequestStatus, reviewedBy, notes string) (bool, error)
}

// RoleStore persists roles, their objectives, memos and activity stream.
type RoleStore interface {
	CreateRole(ctx context.Context, role *models.Role) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	ListRoles(ctx context.Context, companyID string) ([]*models.Role, error)
	ListActivatedRoles(ctx context.Context) ([]*models.Role, error)
	SetRoleActivated(ctx context.Context, id string, activated bool) error
	SetAwaitingApproval(ctx context.Context, id string, awaiting bool) error

	CreateObjective(ctx context.Context, obj *models.RoleObjective) error
	GetObjective(ctx context.Context, id string) (*models.RoleObjective, error)
	ListActiveObjectives(ctx context.Context, roleID string) ([]*models.RoleObjective, error)
	CompleteObjective(ctx context.Context, id, roleID string) (bool, error)

	CreateMemo(ctx context.Context, memo *models.Memo) error
	ListMemos(ctx context.Context, toRoleID string) ([]*models.Memo, error)
	AppendMessage(ctx context.Context, msg *models.RoleMessage) error
	ListRecentMessages(ctx context.Context, roleID string, limit int) ([]*models.RoleMessage, error)
}

// CompanyStore persists company-wide context.
type CompanyStore interface {
	GetGrounding(ctx context.Context, companyID string) (*models.CompanyGrounding, error)
	UpsertGrounding(ctx context.Context, g *models.CompanyGrounding) error
	AddMemory(ctx context.Context, entry *models.MemoryEntry) error
	ListRecentMemory(ctx context.Context, companyID string, limit int) ([]*models.MemoryEntry, error)
	CreateWebhook(ctx context.Context, hook *models.Webhook) error
	ListActiveWebhooks(ctx context.Context, companyID string) ([]*models.Webhook, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, companyID string) ([]*models.Notification, error)
}

// ActionStore persists output actions.
type ActionStore interface {
	CreateOutputAction(ctx context.Context, action *models.OutputAction) error
	GetOutputAction(ctx context.Context, id string) (*models.OutputAction, error)
	ListOutputActions(ctx context.Context, taskID string) ([]*models.OutputAction, error)
	ResolveOutputAction(ctx context.Context, id string, status models.OutputActionStatus, by, notes string) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	TaskStore
	WorkflowStore
	RoleStore
	CompanyStore
	ActionStore

	// InTx runs fn inside one transaction. fn must only use the Store it is given.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// SQLStore implements Store on top of sqlx
type SQLStore struct {
	db *sqlx.DB
	q  queryer
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database named by driver ("postgres" or "sqlite3").
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == "sqlite3" {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

// DB exposes the underlying pool (migrations, health checks).
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a transaction, committing on success.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if _, nested := s.q.(*sqlx.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&SQLStore{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.q.Rebind(query), args...)
}

// execAffected runs a conditional update and reports whether a row matched.
func (s *SQLStore) execAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := s.q.GetContext(ctx, dest, s.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.q.SelectContext(ctx, dest, s.q.Rebind(query), args...)
}

// inClause expands a status list into "(?, ?, ...)" with matching args.
func inClause[T ~string](values []T) (string, []interface{}) {
	marks := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = string(v)
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint &&
			(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

func now() time.Time {
	return time.Now().UTC()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
