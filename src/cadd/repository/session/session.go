// Package session keeps the registry of connected sessions and the documents each one watches.
package session

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"github.com/uber/cad-server/src/cadd/mapper"
	"github.com/uber/cad-server/src/cadd/model"
)

//go:generate mockgen -source=session.go -destination=repositorymock/session_mock.go -package=repositorymock

// Repository stores connected sessions.
type Repository interface {
	Get(context.Context, uuid.UUID) (*entity.Session, error)
	GetFromContext(ctx context.Context) (*entity.Session, error)
	// Set stores the session, replacing its previous state and document subscriptions.
	Set(context.Context, *entity.Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	SessionCount(ctx context.Context) (int, error)
	// WatcherCount returns how many connected sessions are subscribed to doc.
	WatcherCount(ctx context.Context, doc entity.DocumentID) (int, error)
}

type repository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.Session
	// watchers counts connected sessions per subscribed document.
	watchers      map[entity.DocumentID]int
	subscriptions int
	stats         tally.Scope
}

// New returns an in-memory session registry.
func New(stats tally.Scope) Repository {
	return &repository{
		sessions: make(map[uuid.UUID]*model.Session),
		watchers: make(map[entity.DocumentID]int),
		stats:    stats,
	}
}

// Get returns a copy of the Session associated with the given id.
func (r *repository) Get(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, &errors.UUIDNotFoundError{UUID: id}
	}
	return mapper.ModelToSession(s)
}

// GetFromContext returns the Session whose id is carried by ctx.
func (r *repository) GetFromContext(ctx context.Context) (*entity.Session, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *repository) Set(ctx context.Context, s *entity.Session) error {
	if s == nil {
		return errors.New("can't save nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[s.UUID]; ok {
		r.unwatchLocked(prev)
	}
	m := mapper.SessionToModel(s)
	r.sessions[s.UUID] = m
	for _, doc := range m.Documents {
		r.watchers[entity.DocumentID(doc)]++
	}
	r.subscriptions += len(m.Documents)
	r.updateGaugesLocked()
	return nil
}

// Delete removes the session and its subscriptions. Deleting an unknown id is not an error.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	r.unwatchLocked(s)
	delete(r.sessions, id)
	r.updateGaugesLocked()
	return nil
}

func (r *repository) SessionCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions), nil
}

func (r *repository) WatcherCount(ctx context.Context, doc entity.DocumentID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.watchers[doc], nil
}

func (r *repository) unwatchLocked(s *model.Session) {
	for _, doc := range s.Documents {
		id := entity.DocumentID(doc)
		if r.watchers[id] <= 1 {
			delete(r.watchers, id)
		} else {
			r.watchers[id]--
		}
	}
	r.subscriptions -= len(s.Documents)
}

func (r *repository) updateGaugesLocked() {
	r.stats.Gauge("active_sessions").Update(float64(len(r.sessions)))
	r.stats.Gauge("subscriptions").Update(float64(r.subscriptions))
	r.stats.Gauge("watched_documents").Update(float64(len(r.watchers)))
}
