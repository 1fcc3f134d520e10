package todoapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tariqx/todo-api/internal/events"
	"github.com/tariqx/todo-api/internal/platform/metrics"
)

var ErrTitleRequired = errors.New("title is required")

// Update failures keep the read phase and the write phase distinct because
// they surface differently to clients.
var (
	ErrUpdateLoad  = errors.New("update read failed")
	ErrUpdateWrite = errors.New("update write failed")
)

// TodoPatch carries the optional fields of an update request. A nil field
// leaves the stored value untouched.
type TodoPatch struct {
	Title     *string
	Completed *bool
}

// Service owns validation, the read-merge-write update flow, the list cache
// and the change feed. Cache and Events are optional; a nil value disables
// that side effect.
type Service struct {
	Repo   Repository
	Cache  ListCache
	Events *events.Publisher

	NewID func() uuid.UUID

	flights singleflight.Group
}

func NewService(repo Repository) *Service {
	return &Service{
		Repo:  repo,
		NewID: uuid.New,
	}
}

func (s *Service) List(ctx context.Context) ([]Todo, error) {
	if s.Cache == nil {
		return s.listFromStore(ctx)
	}
	v, err, _ := s.flights.Do(listCacheKey, func() (interface{}, error) {
		if list, err := s.Cache.Get(ctx); err == nil && list != nil {
			metrics.ListCacheHitsTotal.Inc()
			return list, nil
		}
		metrics.ListCacheMissesTotal.Inc()
		list, err := s.listFromStore(ctx)
		if err != nil {
			return nil, err
		}
		_ = s.Cache.Set(ctx, list)
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Todo), nil
}

func (s *Service) listFromStore(ctx context.Context) ([]Todo, error) {
	list, err := s.Repo.List(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
		return nil, err
	}
	return list, nil
}

func (s *Service) Create(ctx context.Context, title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Todo{}, ErrTitleRequired
	}
	created, err := s.Repo.Create(ctx, s.NewID(), title)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("create").Inc()
		return Todo{}, err
	}
	s.invalidateListCache(ctx)
	s.emit(events.TypeTodoCreated, func() error {
		return s.Events.TodoCreated(created.ID.String(), created.Title, created.Completed)
	})
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (Todo, error) {
	t, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrTodoNotFound) {
			metrics.StoreErrorsTotal.WithLabelValues("get").Inc()
		}
		return Todo{}, err
	}
	return t, nil
}

// Update reads the current row, overlays the patch and writes the merged row
// back. The read and the write are separate round trips; a concurrent update
// that lands between them is overwritten wholesale.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch TodoPatch) (Todo, error) {
	current, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTodoNotFound) {
			return Todo{}, err
		}
		metrics.StoreErrorsTotal.WithLabelValues("update").Inc()
		return Todo{}, fmt.Errorf("%w: %v", ErrUpdateLoad, err)
	}

	merged := current
	if patch.Title != nil {
		merged.Title = *patch.Title
	}
	if patch.Completed != nil {
		merged.Completed = *patch.Completed
	}

	updated, err := s.Repo.Update(ctx, merged)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("update").Inc()
		return Todo{}, fmt.Errorf("%w: %v", ErrUpdateWrite, err)
	}
	s.invalidateListCache(ctx)
	s.emit(events.TypeTodoUpdated, func() error {
		return s.Events.TodoUpdated(updated.ID.String(), updated.Title, updated.Completed)
	})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
		return err
	}
	s.invalidateListCache(ctx)
	s.emit(events.TypeTodoDeleted, func() error {
		return s.Events.TodoDeleted(id.String())
	})
	return nil
}

func (s *Service) invalidateListCache(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	_ = s.Cache.Invalidate(ctx)
}

func (s *Service) emit(eventType string, publish func() error) {
	if s.Events == nil {
		return
	}
	if err := publish(); err != nil {
		metrics.EventsFailedTotal.WithLabelValues(eventType).Inc()
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}
