package todoapi

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTodoNotFound = errors.New("todo not found")

// Todo is the single persisted entity managed by this service.
type Todo struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository mediates every read and write of the todos relation through the
// shared connection pool.
type Repository interface {
	List(ctx context.Context) ([]Todo, error)
	Create(ctx context.Context, id uuid.UUID, title string) (Todo, error)
	GetByID(ctx context.Context, id uuid.UUID) (Todo, error)
	Update(ctx context.Context, todo Todo) (Todo, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTodosTableSQL = `
CREATE TABLE IF NOT EXISTS todos (
  id uuid PRIMARY KEY,
  title text NOT NULL,
  completed boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const listTodosSQL = `
SELECT id, title, completed, created_at
FROM todos
ORDER BY created_at DESC`

const insertTodoSQL = `
INSERT INTO todos (id, title)
VALUES ($1, $2)
RETURNING id, title, completed, created_at`

const getTodoSQL = `
SELECT id, title, completed, created_at
FROM todos
WHERE id = $1`

const updateTodoSQL = `
UPDATE todos
SET title = $2, completed = $3
WHERE id = $1
RETURNING id, title, completed, created_at`

const deleteTodoSQL = `
DELETE FROM todos
WHERE id = $1`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createTodosTableSQL)
	return err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Todo, error) {
	rows, err := r.Pool.Query(ctx, listTodosSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Non-nil even when empty so the handler serializes [] rather than null.
	todos := make([]Todo, 0)
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt); err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return todos, nil
}

func (r *PostgresRepository) Create(ctx context.Context, id uuid.UUID, title string) (Todo, error) {
	var t Todo
	err := r.Pool.QueryRow(ctx, insertTodoSQL, id, title).
		Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt)
	if err != nil {
		return Todo{}, err
	}
	return t, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (Todo, error) {
	var t Todo
	err := r.Pool.QueryRow(ctx, getTodoSQL, id).
		Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Todo{}, ErrTodoNotFound
		}
		return Todo{}, err
	}
	return t, nil
}

// Update writes the full merged row. Errors, including pgx.ErrNoRows when the
// row vanished between the caller's read and this write, propagate raw; the
// service classifies them as the write-side failure.
func (r *PostgresRepository) Update(ctx context.Context, todo Todo) (Todo, error) {
	var t Todo
	err := r.Pool.QueryRow(ctx, updateTodoSQL, todo.ID, todo.Title, todo.Completed).
		Scan(&t.ID, &t.Title, &t.Completed, &t.CreatedAt)
	if err != nil {
		return Todo{}, err
	}
	return t, nil
}

// Delete removes the row if present. Deleting an id that does not exist is
// not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.Pool.Exec(ctx, deleteTodoSQL, id)
	return err
}
