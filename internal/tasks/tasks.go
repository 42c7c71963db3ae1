package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"tasklite/internal/storage"
)

// ErrEmptyTitle rejects a blank submission before it reaches the store.
var ErrEmptyTitle = errors.New("title cannot be empty")

type Task struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Store is the slice of storage.Store the repository needs.
type Store interface {
	Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error)
	Query(ctx context.Context, scan func(storage.Scanner) error, stmt string, args ...any) error
}

// Repository is the only path through which tasks are read or mutated. It
// emits no change notifications; callers reload with ListAll after a
// successful mutation.
type Repository struct {
	store  Store
	logger log.FieldLogger
}

func NewRepository(store Store, logger log.FieldLogger) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{store: store, logger: logger}
}

func (r *Repository) ListAll(ctx context.Context) ([]Task, error) {
	if r.store == nil {
		return nil, storage.ErrStoreUnavailable
	}
	var out []Task
	err := r.store.Query(ctx, func(sc storage.Scanner) error {
		var t Task
		var completed int
		if err := sc.Scan(&t.ID, &t.Title, &completed); err != nil {
			return err
		}
		t.Completed = completed != 0
		out = append(out, t)
		return nil
	}, `SELECT id, title, completed FROM todos ORDER BY id;`)
	if err != nil {
		r.logger.WithError(err).WithField("op", "list").Error("task list failed")
		return nil, err
	}
	return out, nil
}

// Add inserts a pending task with the trimmed title and returns it with the
// id the store assigned.
func (r *Repository) Add(ctx context.Context, title string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, ErrEmptyTitle
	}
	if r.store == nil {
		return Task{}, storage.ErrStoreUnavailable
	}
	res, err := r.store.Exec(ctx, `INSERT INTO todos (title, completed) VALUES (?, 0);`, title)
	if err != nil {
		r.logger.WithError(err).WithField("op", "add").Error("task insert failed")
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("%w: insert id unavailable: %v", storage.ErrWriteFailed, err)
		r.logger.WithError(err).WithField("op", "add").Error("task insert failed")
		return Task{}, err
	}
	return Task{ID: id, Title: title}, nil
}

// Remove deletes the task. Removing an id that does not exist is a no-op.
func (r *Repository) Remove(ctx context.Context, id int64) error {
	return r.write(ctx, "remove", id, `DELETE FROM todos WHERE id = ?;`, id)
}

// SetCompleted stores the completion flag. Unknown ids are a no-op.
func (r *Repository) SetCompleted(ctx context.Context, id int64, completed bool) error {
	val := 0
	if completed {
		val = 1
	}
	return r.write(ctx, "set_completed", id, `UPDATE todos SET completed = ? WHERE id = ?;`, val, id)
}

// Toggle flips the completion flag in a single statement.
func (r *Repository) Toggle(ctx context.Context, id int64) error {
	return r.write(ctx, "toggle", id, `UPDATE todos SET completed = CASE completed WHEN 0 THEN 1 ELSE 0 END WHERE id = ?;`, id)
}

func (r *Repository) write(ctx context.Context, op string, id int64, stmt string, args ...any) error {
	if r.store == nil {
		return storage.ErrStoreUnavailable
	}
	if _, err := r.store.Exec(ctx, stmt, args...); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"op": op, "id": id}).Error("task write failed")
		return err
	}
	return nil
}

// Partition splits a snapshot into pending and completed tasks, keeping the
// snapshot order within each side.
func Partition(all []Task) (pending, completed []Task) {
	pending = make([]Task, 0, len(all))
	completed = make([]Task, 0, len(all))
	for _, t := range all {
		if t.Completed {
			completed = append(completed, t)
		} else {
			pending = append(pending, t)
		}
	}
	return pending, completed
}
