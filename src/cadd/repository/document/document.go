// Package document implements the in-memory model store for open documents.
package document

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"github.com/uber/cad-server/src/cadd/internal/errors"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_historyDepthKey     = "modelStore.historyDepth"
	_defaultHistoryDepth = 16
)

// Module provides the model store to an Fx application.
var Module = fx.Provide(New)

// Listener receives change notifications after a mutation has been applied.
// Notifications for a single document are delivered one at a time in version order.
// A listener may read the document but must not mutate it.
type Listener func(ctx context.Context, ev entity.ChangeEvent)

// Repository is the model store. Mutations to one document are serialized;
// mutations to different documents proceed independently.
type Repository interface {
	// Open creates the document if it does not exist yet.
	Open(ctx context.Context, doc entity.DocumentID) error
	CreateObject(ctx context.Context, doc entity.DocumentID, def entity.Definition) (entity.ObjectID, entity.ContentVersion, error)
	// ApplyEdit validates and applies a new definition, returning the object's next content version.
	ApplyEdit(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID, def entity.Definition) (entity.ContentVersion, error)
	DeleteObject(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID) error

	CurrentVersion(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID) (entity.ContentVersion, error)
	// Snapshot returns a copy of the object's definition at key.Version.
	Snapshot(ctx context.Context, key entity.MeshKey) (entity.Snapshot, error)
	Objects(ctx context.Context, doc entity.DocumentID) ([]entity.ObjectVersion, error)

	Subscribe(ctx context.Context, doc entity.DocumentID, session uuid.UUID) error
	Unsubscribe(ctx context.Context, doc entity.DocumentID, session uuid.UUID) error
	Subscribers(ctx context.Context, doc entity.DocumentID) ([]uuid.UUID, error)

	AddListener(l Listener)
}

// Params are inbound parameters to initialize the model store.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	Stats  tally.Scope
}

type revision struct {
	version    entity.ContentVersion
	definition entity.Definition
}

type object struct {
	id      entity.ObjectID
	current entity.ContentVersion
	// history holds the most recent revisions, oldest first.
	history []revision
}

func (o *object) revision(v entity.ContentVersion) (entity.Definition, bool) {
	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].version == v {
			return o.history[i].definition, true
		}
	}
	return entity.Definition{}, false
}

type document struct {
	id entity.DocumentID

	// mu guards every field below.
	mu          sync.Mutex
	objects     map[entity.ObjectID]*object
	nextID      entity.ObjectID
	subscribers map[uuid.UUID]struct{}

	// emitMu serializes mutations together with their listener calls. It is always taken before mu.
	emitMu sync.Mutex
}

type repository struct {
	mu           sync.RWMutex
	documents    map[entity.DocumentID]*document
	listeners    []Listener
	historyDepth int
	logger       *zap.SugaredLogger
	stats        tally.Scope
}

// New creates an empty model store.
func New(p Params) (Repository, error) {
	historyDepth := _defaultHistoryDepth
	if v := p.Config.Get(_historyDepthKey); v.HasValue() {
		if err := v.Populate(&historyDepth); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _historyDepthKey, err)
		}
	}
	if historyDepth < 1 {
		return nil, fmt.Errorf("config field %q must be at least 1, got %d", _historyDepthKey, historyDepth)
	}

	return &repository{
		documents:    make(map[entity.DocumentID]*document),
		historyDepth: historyDepth,
		logger:       p.Logger.With("component", "model-store"),
		stats:        p.Stats.SubScope("model_store"),
	}, nil
}

func (r *repository) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *repository) Open(ctx context.Context, doc entity.DocumentID) error {
	r.open(doc)
	return nil
}

func (r *repository) open(id entity.DocumentID) *document {
	r.mu.RLock()
	d, ok := r.documents[id]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.documents[id]; ok {
		return d
	}
	d = &document{
		id:          id,
		objects:     make(map[entity.ObjectID]*object),
		nextID:      1,
		subscribers: make(map[uuid.UUID]struct{}),
	}
	r.documents[id] = d
	r.stats.Gauge("documents").Update(float64(len(r.documents)))
	r.logger.Infow("document opened", "document", id)
	return d
}

func (r *repository) get(id entity.DocumentID) (*document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.documents[id]
	if !ok {
		return nil, &errors.DocumentNotFoundError{DocumentID: id}
	}
	return d, nil
}

func (r *repository) CreateObject(ctx context.Context, doc entity.DocumentID, def entity.Definition) (entity.ObjectID, entity.ContentVersion, error) {
	if err := def.Validate(); err != nil {
		return 0, 0, &errors.InvalidEditError{DocumentID: doc, Reason: err.Error()}
	}

	d := r.open(doc)
	var id entity.ObjectID
	r.mutate(ctx, d, func() (entity.ChangeEvent, bool) {
		o := &object{
			id:      d.nextID,
			current: 1,
			history: []revision{{version: 1, definition: def.Clone()}},
		}
		d.objects[o.id] = o
		d.nextID++
		id = o.id
		return entity.ChangeEvent{DocumentID: doc, ObjectID: o.id, Version: o.current, Kind: entity.ChangeCreated}, true
	})
	r.stats.Counter("objects_created").Inc(1)
	return id, 1, nil
}

func (r *repository) ApplyEdit(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID, def entity.Definition) (entity.ContentVersion, error) {
	d, err := r.get(doc)
	if err != nil {
		return 0, &errors.InvalidEditError{DocumentID: doc, ObjectID: obj, Reason: err.Error()}
	}
	if err := def.Validate(); err != nil {
		r.stats.Counter("invalid_edits").Inc(1)
		return 0, &errors.InvalidEditError{DocumentID: doc, ObjectID: obj, Reason: err.Error()}
	}

	var version entity.ContentVersion
	applied := r.mutate(ctx, d, func() (entity.ChangeEvent, bool) {
		o, ok := d.objects[obj]
		if !ok {
			return entity.ChangeEvent{}, false
		}
		o.current++
		o.history = append(o.history, revision{version: o.current, definition: def.Clone()})
		if len(o.history) > r.historyDepth {
			o.history = append(o.history[:0:0], o.history[len(o.history)-r.historyDepth:]...)
		}
		version = o.current
		return entity.ChangeEvent{DocumentID: doc, ObjectID: obj, Version: version, Kind: entity.ChangeEdited}, true
	})
	if !applied {
		r.stats.Counter("invalid_edits").Inc(1)
		return 0, &errors.InvalidEditError{DocumentID: doc, ObjectID: obj, Reason: "object does not exist"}
	}
	r.stats.Counter("edits").Inc(1)
	return version, nil
}

func (r *repository) DeleteObject(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID) error {
	d, err := r.get(doc)
	if err != nil {
		return &errors.InvalidEditError{DocumentID: doc, ObjectID: obj, Reason: err.Error()}
	}

	deleted := r.mutate(ctx, d, func() (entity.ChangeEvent, bool) {
		o, ok := d.objects[obj]
		if !ok {
			return entity.ChangeEvent{}, false
		}
		delete(d.objects, obj)
		return entity.ChangeEvent{DocumentID: doc, ObjectID: obj, Version: o.current, Kind: entity.ChangeDeleted}, true
	})
	if !deleted {
		return &errors.InvalidEditError{DocumentID: doc, ObjectID: obj, Reason: "object does not exist"}
	}
	r.stats.Counter("objects_deleted").Inc(1)
	return nil
}

// mutate runs fn under the document lock and passes the resulting event to listeners after the lock
// is released. emitMu is held until every listener has returned.
func (r *repository) mutate(ctx context.Context, d *document, fn func() (entity.ChangeEvent, bool)) bool {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	ev, changed := fn()
	d.mu.Unlock()
	if !changed {
		return false
	}

	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, ev)
	}
	return true
}

func (r *repository) CurrentVersion(ctx context.Context, doc entity.DocumentID, obj entity.ObjectID) (entity.ContentVersion, error) {
	d, err := r.get(doc)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.objects[obj]
	if !ok {
		return 0, &errors.ObjectNotFoundError{DocumentID: doc, ObjectID: obj}
	}
	return o.current, nil
}

func (r *repository) Snapshot(ctx context.Context, key entity.MeshKey) (entity.Snapshot, error) {
	d, err := r.get(key.DocumentID)
	if err != nil {
		return entity.Snapshot{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.objects[key.ObjectID]
	if !ok {
		return entity.Snapshot{}, &errors.ObjectNotFoundError{DocumentID: key.DocumentID, ObjectID: key.ObjectID}
	}
	def, ok := o.revision(key.Version)
	if !ok {
		return entity.Snapshot{}, &errors.VersionUnavailableError{Key: key, Current: o.current}
	}
	return entity.Snapshot{Key: key, Definition: def.Clone()}, nil
}

func (r *repository) Objects(ctx context.Context, doc entity.DocumentID) ([]entity.ObjectVersion, error) {
	d, err := r.get(doc)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]entity.ObjectVersion, 0, len(d.objects))
	for _, o := range d.objects {
		def, _ := o.revision(o.current)
		out = append(out, entity.ObjectVersion{ObjectID: o.id, Version: o.current, Definition: def.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out, nil
}

func (r *repository) Subscribe(ctx context.Context, doc entity.DocumentID, session uuid.UUID) error {
	d := r.open(doc)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[session] = struct{}{}
	return nil
}

func (r *repository) Unsubscribe(ctx context.Context, doc entity.DocumentID, session uuid.UUID) error {
	d, err := r.get(doc)
	if err != nil {
		// Nothing to withdraw.
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, session)
	return nil
}

func (r *repository) Subscribers(ctx context.Context, doc entity.DocumentID) ([]uuid.UUID, error) {
	d, err := r.get(doc)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]uuid.UUID, 0, len(d.subscribers))
	for id := range d.subscribers {
		out = append(out, id)
	}
	return out, nil
}
