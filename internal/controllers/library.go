package controllers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/amaumene/shelfsync/internal/metrics"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/amaumene/shelfsync/internal/services/remote"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/amaumene/shelfsync/internal/controllers")

// Mutation names used in logs, spans and metrics
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

// LocalCache persists the last known-good snapshot on this device
type LocalCache interface {
	SaveSnapshot(ctx context.Context, items []models.LibraryItem) error
	LoadSnapshot(ctx context.Context) ([]models.LibraryItem, error)
}

// savedAtReporter is implemented by caches that record when the snapshot was
// written. That time stands in for the last sync until the remote answers.
type savedAtReporter interface {
	LastSaved() time.Time
}

// LibraryController keeps the in-memory library in sync with the remote store
// and fans every fresh snapshot out to subscribers.
type LibraryController struct {
	store   remote.Store
	cache   LocalCache
	metrics *metrics.Metrics
	logger  *logrus.Logger

	lock        *mutationLock
	subscribers *registry

	// publishMu orders snapshot replacement with its broadcast
	publishMu sync.Mutex
	mu        sync.RWMutex
	snapshot  []models.LibraryItem
	lastSync  time.Time

	now func() time.Time
}

// NewLibraryController creates a new library controller
func NewLibraryController(store remote.Store, cache LocalCache, m *metrics.Metrics, lockTimeout time.Duration, logger *logrus.Logger) *LibraryController {
	return &LibraryController{
		store:       store,
		cache:       cache,
		metrics:     m,
		logger:      logger,
		lock:        newMutationLock(lockTimeout),
		subscribers: newRegistry(logger),
		now:         time.Now,
	}
}

// LoadLibrary fetches the full library from the remote store. On success the
// snapshot is cached locally and broadcast. When the remote is unreachable the
// locally cached snapshot is returned instead and nothing is broadcast.
func (c *LibraryController) LoadLibrary(ctx context.Context) []models.LibraryItem {
	ctx, span := tracer.Start(ctx, "library.load")
	defer span.End()

	rows, err := c.store.FetchAll(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to load library from remote, using local cache")
		span.RecordError(err)
		span.SetAttributes(attribute.String("library.source", metrics.SourceCache))
		return c.loadFromCache(ctx)
	}

	items := make([]models.LibraryItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].Item()
		if err != nil {
			c.logger.WithError(err).WithField("item_id", rows[i].ID).Warn("Degraded fields while decoding library item")
		}
		items = append(items, item)
	}

	if err := c.cache.SaveSnapshot(ctx, items); err != nil {
		c.logger.WithError(err).Warn("Failed to save library snapshot to local cache")
	}

	c.publish(items)
	c.metrics.ObserveLoad(metrics.SourceRemote, len(items))
	span.SetAttributes(
		attribute.String("library.source", metrics.SourceRemote),
		attribute.Int("library.items", len(items)),
	)
	c.logger.WithField("items", len(items)).Debug("Library loaded from remote")

	return slices.Clone(items)
}

func (c *LibraryController) loadFromCache(ctx context.Context) []models.LibraryItem {
	items, err := c.cache.LoadSnapshot(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Failed to read local library snapshot")
		items = []models.LibraryItem{}
	}
	if items == nil {
		items = []models.LibraryItem{}
	}

	// Seed the in-memory view on a cold start so Snapshot has something to
	// show, but keep a fresher one if it exists.
	c.mu.Lock()
	if c.snapshot == nil {
		c.snapshot = items
		if r, ok := c.cache.(savedAtReporter); ok && c.lastSync.IsZero() {
			c.lastSync = r.LastSaved()
		}
	}
	c.mu.Unlock()

	c.metrics.ObserveLoad(metrics.SourceCache, len(items))
	return slices.Clone(items)
}

func (c *LibraryController) publish(items []models.LibraryItem) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	c.snapshot = items
	c.lastSync = c.now()
	c.mu.Unlock()

	c.subscribers.broadcast(items)
}

// AddItem stores item under status. Adding an id that already exists replaces
// it but keeps its original added_at and any status date the new item did not
// supply.
func (c *LibraryController) AddItem(ctx context.Context, item models.LibraryItem, status models.Status) bool {
	now := c.now().UTC()
	item.Status = status
	item.AddedAt = now
	filled := item.ApplyStatusDates(now)

	if err := item.Validate(); err != nil {
		c.rejected(OpAdd, item.ID, err)
		return false
	}

	row := models.NewRow(item)
	row.KeepExisting(filled...)
	return c.mutate(ctx, OpAdd, item.ID, func(ctx context.Context) error {
		return c.store.Upsert(ctx, row)
	})
}

// UpdateItem writes the supplied fields of update to the item with id.
// Fields left nil in update are not touched.
func (c *LibraryController) UpdateItem(ctx context.Context, id string, update models.ItemUpdate) bool {
	if id == "" {
		c.rejected(OpUpdate, id, models.ErrInvalidUpdate)
		return false
	}
	if err := update.Validate(); err != nil {
		c.rejected(OpUpdate, id, err)
		return false
	}
	update.ApplyStatusDates(c.now().UTC())

	cols := update.Columns()
	return c.mutate(ctx, OpUpdate, id, func(ctx context.Context) error {
		return c.store.Patch(ctx, id, cols)
	})
}

// DeleteItem removes the item with id
func (c *LibraryController) DeleteItem(ctx context.Context, id string) bool {
	if id == "" {
		c.rejected(OpDelete, id, models.ErrInvalidItem)
		return false
	}
	return c.mutate(ctx, OpDelete, id, func(ctx context.Context) error {
		return c.store.Remove(ctx, id)
	})
}

// mutate runs write under the mutation lock and refetches the library when it
// succeeds, so the broadcast reflects what the remote actually holds.
func (c *LibraryController) mutate(ctx context.Context, op, id string, write func(context.Context) error) bool {
	ctx, span := tracer.Start(ctx, "library."+op, trace.WithAttributes(attribute.String("item.id", id)))
	defer span.End()

	log := c.logger.WithFields(logrus.Fields{"op": op, "item_id": id})

	if err := c.lock.acquire(ctx); err != nil {
		log.WithError(err).Error("Mutation could not start")
		c.failed(span, op, err)
		return false
	}
	defer c.lock.release()

	if err := write(ctx); err != nil {
		log.WithError(err).Error("Failed to write library change to remote")
		c.failed(span, op, err)
		return false
	}

	c.LoadLibrary(ctx)
	c.metrics.ObserveMutation(op, true)
	log.Info("Library change saved")
	return true
}

func (c *LibraryController) rejected(op, id string, err error) {
	c.logger.WithError(err).WithFields(logrus.Fields{"op": op, "item_id": id}).Warn("Rejected invalid library change")
	c.metrics.ObserveMutation(op, false)
}

func (c *LibraryController) failed(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.metrics.ObserveMutation(op, false)
}

// Subscribe registers fn for every snapshot published from now on. The
// returned function unregisters it and is safe to call more than once.
func (c *LibraryController) Subscribe(fn Subscriber) (unsubscribe func()) {
	id := c.subscribers.add(fn)
	c.metrics.SetSubscribers(c.subscribers.len())
	c.logger.WithField("subscriber", id).Debug("Subscriber registered")

	return func() {
		if c.subscribers.remove(id) {
			c.metrics.SetSubscribers(c.subscribers.len())
			c.logger.WithField("subscriber", id).Debug("Subscriber removed")
		}
	}
}

// Snapshot returns a copy of the current in-memory library
func (c *LibraryController) Snapshot() []models.LibraryItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return []models.LibraryItem{}
	}
	return slices.Clone(c.snapshot)
}

// LastSyncTime is the time of the last successful remote load, zero if none
func (c *LibraryController) LastSyncTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// SubscriberCount returns the number of registered subscribers
func (c *LibraryController) SubscriberCount() int {
	return c.subscribers.len()
}

// MutationInFlight reports whether a mutation currently holds the lock
func (c *LibraryController) MutationInFlight() bool {
	return c.lock.held()
}
