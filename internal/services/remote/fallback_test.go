package remote

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFallbackStoreServesCachedResponse(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore("user-1")
	store := NewFallbackStore(inner, time.Hour, quietLogger())

	row := models.NewRow(models.LibraryItem{ID: "movie-603", Category: models.CategoryMovies, Status: models.StatusWantToPlay, AddedAt: time.Now()})
	inner.Upsert(ctx, row)

	if _, err := store.FetchAll(ctx); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	inner.SetFailing(true)
	rows, err := store.FetchAll(ctx)
	if err != nil {
		t.Fatalf("Expected cached response on failure, got %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "movie-603" {
		t.Errorf("Unexpected cached rows: %+v", rows)
	}
}

func TestFallbackStoreWithoutCachedResponse(t *testing.T) {
	inner := NewMemoryStore("user-1")
	inner.SetFailing(true)
	store := NewFallbackStore(inner, time.Hour, quietLogger())

	if _, err := store.FetchAll(context.Background()); err == nil {
		t.Fatal("Expected the network error when nothing is cached")
	}
}

func TestFallbackStoreExpires(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore("user-1")
	store := NewFallbackStore(inner, 50*time.Millisecond, quietLogger())

	store.FetchAll(ctx)
	time.Sleep(100 * time.Millisecond)

	inner.SetFailing(true)
	if _, err := store.FetchAll(ctx); err == nil {
		t.Fatal("Expired response must not be served")
	}
}

func TestFallbackStoreWriteInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore("user-1")
	store := NewFallbackStore(inner, time.Hour, quietLogger())

	store.FetchAll(ctx)
	row := models.NewRow(models.LibraryItem{ID: "book-1", Category: models.CategoryBooks, Status: models.StatusPaused, AddedAt: time.Now()})
	if err := store.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	inner.SetFailing(true)
	if _, err := store.FetchAll(ctx); err == nil {
		t.Fatal("A write must drop the cached pre-write response")
	}
}

// pausedFetchStore holds its next FetchAll after the inner read completed,
// until release is closed
type pausedFetchStore struct {
	*MemoryStore
	read    chan struct{}
	release chan struct{}
	pause   atomic.Bool
}

func (s *pausedFetchStore) FetchAll(ctx context.Context) ([]models.Row, error) {
	rows, err := s.MemoryStore.FetchAll(ctx)
	if s.pause.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return rows, err
}

func TestFallbackStoreSkipsReadOverlappingWrite(t *testing.T) {
	ctx := context.Background()
	inner := &pausedFetchStore{
		MemoryStore: NewMemoryStore("user-1"),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	inner.Upsert(ctx, models.NewRow(models.LibraryItem{ID: "book-1", Category: models.CategoryBooks, Status: models.StatusPaused, AddedAt: time.Now()}))
	store := NewFallbackStore(inner, time.Hour, quietLogger())

	inner.pause.Store(true)
	done := make(chan []models.Row)
	go func() {
		rows, _ := store.FetchAll(ctx)
		done <- rows
	}()

	// The read has seen book-1; remove it before the read returns
	<-inner.read
	if err := store.Remove(ctx, "book-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	close(inner.release)
	if rows := <-done; len(rows) != 1 {
		t.Fatalf("The overlapping read should still return what it saw, got %d rows", len(rows))
	}

	inner.SetFailing(true)
	if rows, err := store.FetchAll(ctx); err == nil {
		t.Fatalf("Rows read before the remove must not be served, got %+v", rows)
	}
}
