package controllers

import (
	"fmt"
	"sync"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/sirupsen/logrus"
)

// Subscriber receives every published snapshot. The slice is shared with
// other subscribers and must not be modified.
type Subscriber func(snapshot []models.LibraryItem)

type subscription struct {
	id uint64
	fn Subscriber
}

// registry keeps subscribers in registration order
type registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
	logger *logrus.Logger
}

func newRegistry(logger *logrus.Logger) *registry {
	return &registry{logger: logger}
}

func (r *registry) add(fn Subscriber) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.subs = append(r.subs, subscription{id: r.nextID, fn: fn})
	return r.nextID
}

// remove reports whether id was still registered
func (r *registry) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// broadcast calls every subscriber once. Subscribers registered or removed
// during the broadcast take effect on the next one.
func (r *registry) broadcast(snapshot []models.LibraryItem) {
	r.mu.Lock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		r.notify(s, snapshot)
	}
}

func (r *registry) notify(s subscription, snapshot []models.LibraryItem) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"subscriber": s.id,
				"panic":      fmt.Sprint(rec),
			}).Error("Subscriber panicked during broadcast")
		}
	}()
	s.fn(snapshot)
}
