package controllers

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/shelfsync/internal/metrics"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/amaumene/shelfsync/internal/services/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestController(t *testing.T, store remote.Store, lockTimeout time.Duration) (*LibraryController, *models.Database) {
	t.Helper()
	cache, err := models.NewDatabase("")
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := NewLibraryController(store, cache, metrics.New(prometheus.NewRegistry()), lockTimeout, logger)
	c.now = func() time.Time { return testNow }
	return c, cache
}

func matrix() models.LibraryItem {
	return models.LibraryItem{
		ID:       "movie-603",
		Title:    "The Matrix",
		Category: models.CategoryMovies,
		Year:     1999,
		Genres:   []string{"Action", "Science Fiction"},
	}
}

func find(items []models.LibraryItem, id string) *models.LibraryItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

// recorder collects broadcasts
type recorder struct {
	mu        sync.Mutex
	snapshots [][]models.LibraryItem
}

func (r *recorder) receive(items []models.LibraryItem) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, items)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recorder) last() []models.LibraryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func TestAddItemBroadcastsFreshSnapshot(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	rec := &recorder{}
	ctrl.Subscribe(rec.receive)

	if !ctrl.AddItem(context.Background(), matrix(), models.StatusWantToPlay) {
		t.Fatal("AddItem returned false")
	}

	if rec.count() != 1 {
		t.Fatalf("Expected exactly one broadcast, got %d", rec.count())
	}
	got := find(rec.last(), "movie-603")
	if got == nil {
		t.Fatal("Broadcast snapshot is missing the new item")
	}
	if got.Status != models.StatusWantToPlay {
		t.Errorf("Expected status want-to-play, got %s", got.Status)
	}
	if !got.AddedAt.Equal(testNow) {
		t.Errorf("Expected addedAt %v, got %v", testNow, got.AddedAt)
	}
	if len(got.Genres) != 2 {
		t.Errorf("Genres lost in round trip: %v", got.Genres)
	}
	if find(ctrl.Snapshot(), "movie-603") == nil {
		t.Error("In-memory snapshot is missing the new item")
	}
	if !ctrl.LastSyncTime().Equal(testNow) {
		t.Errorf("LastSyncTime not updated: %v", ctrl.LastSyncTime())
	}
}

func TestAddItemTwiceKeepsSingleEntry(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	ctrl, _ := newTestController(t, store, 0)
	ctx := context.Background()

	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)
	added := testNow
	ctrl.now = func() time.Time { return testNow.Add(time.Hour) }
	if !ctrl.AddItem(ctx, matrix(), models.StatusCompleted) {
		t.Fatal("Second AddItem returned false")
	}

	items := ctrl.Snapshot()
	if len(items) != 1 {
		t.Fatalf("Expected one entry, got %d", len(items))
	}
	if items[0].Status != models.StatusCompleted {
		t.Errorf("Second add should win, got status %s", items[0].Status)
	}
	if !items[0].AddedAt.Equal(added) {
		t.Errorf("addedAt must survive re-adding, got %v", items[0].AddedAt)
	}
	if items[0].DateCompleted == nil {
		t.Error("Adding as completed should stamp dateCompleted")
	}
}

func TestUpdateItemStatusDates(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

	playing := models.StatusCurrentlyPlaying
	if !ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &playing}) {
		t.Fatal("UpdateItem returned false")
	}
	got := find(ctrl.Snapshot(), "movie-603")
	if got.DateStarted == nil || !got.DateStarted.Equal(testNow) {
		t.Errorf("Expected dateStarted %v, got %v", testNow, got.DateStarted)
	}
	if got.DateCompleted != nil {
		t.Errorf("dateCompleted should be unset, got %v", got.DateCompleted)
	}

	finishedAt := testNow.Add(-24 * time.Hour)
	completed := models.StatusCompleted
	ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &completed, DateCompleted: &finishedAt})
	got = find(ctrl.Snapshot(), "movie-603")
	if got.DateCompleted == nil || !got.DateCompleted.Equal(finishedAt) {
		t.Errorf("Supplied dateCompleted must be kept, got %v", got.DateCompleted)
	}
	if got.DateStarted == nil || !got.DateStarted.Equal(testNow) {
		t.Errorf("dateStarted must not be touched, got %v", got.DateStarted)
	}
}

func TestUpdateItemRepeatedStatusKeepsDate(t *testing.T) {
	sqlite, err := remote.OpenSQLite(filepath.Join(t.TempDir(), "remote.db"), "user-1")
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	defer sqlite.Close()

	for _, tc := range []struct {
		name  string
		store remote.Store
	}{
		{"memory", remote.NewMemoryStore("user-1")},
		{"sqlite", sqlite},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl, _ := newTestController(t, tc.store, 0)
			ctx := context.Background()
			ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

			playing := models.StatusCurrentlyPlaying
			if !ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &playing}) {
				t.Fatal("UpdateItem returned false")
			}

			ctrl.now = func() time.Time { return testNow.Add(48 * time.Hour) }
			if !ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &playing}) {
				t.Fatal("Second UpdateItem returned false")
			}
			got := find(ctrl.Snapshot(), "movie-603")
			if got.DateStarted == nil || !got.DateStarted.Equal(testNow) {
				t.Errorf("dateStarted should stay %v, got %v", testNow, got.DateStarted)
			}

			completed := models.StatusCompleted
			ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &completed})
			ctrl.now = func() time.Time { return testNow.Add(96 * time.Hour) }
			ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &completed})
			got = find(ctrl.Snapshot(), "movie-603")
			if got.DateCompleted == nil || !got.DateCompleted.Equal(testNow.Add(48*time.Hour)) {
				t.Errorf("dateCompleted should stay at the first completion, got %v", got.DateCompleted)
			}

			// Re-adding under the same status keeps the stored date too
			if !ctrl.AddItem(ctx, matrix(), models.StatusCompleted) {
				t.Fatal("AddItem returned false")
			}
			got = find(ctrl.Snapshot(), "movie-603")
			if got.DateCompleted == nil || !got.DateCompleted.Equal(testNow.Add(48*time.Hour)) {
				t.Errorf("Re-add overwrote dateCompleted: %v", got.DateCompleted)
			}

			// A date the caller supplies still wins
			restarted := testNow.Add(100 * time.Hour)
			ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Status: &playing, DateStarted: &restarted})
			got = find(ctrl.Snapshot(), "movie-603")
			if got.DateStarted == nil || !got.DateStarted.Equal(restarted) {
				t.Errorf("Supplied dateStarted must be written, got %v", got.DateStarted)
			}
		})
	}
}

func TestUpdateItemOmittedFieldsUntouched(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

	notes := "rewatch with commentary"
	ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Notes: &notes})

	progress := 40
	if !ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Progress: &progress}) {
		t.Fatal("UpdateItem returned false")
	}

	got := find(ctrl.Snapshot(), "movie-603")
	if got.Notes != notes {
		t.Errorf("Omitted notes must not be erased, got %q", got.Notes)
	}
	if got.Progress == nil || *got.Progress != 40 {
		t.Errorf("Progress not updated: %v", got.Progress)
	}
	if got.Status != models.StatusWantToPlay {
		t.Errorf("Status changed without being supplied: %s", got.Status)
	}
}

func TestUpdateUnknownItemFails(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	rec := &recorder{}
	ctrl.Subscribe(rec.receive)

	status := models.StatusPaused
	if ctrl.UpdateItem(context.Background(), "missing", models.ItemUpdate{Status: &status}) {
		t.Error("Updating an unknown id should fail")
	}
	if rec.count() != 0 {
		t.Errorf("A failed update must not broadcast, got %d", rec.count())
	}
}

func TestDeleteItem(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

	if !ctrl.DeleteItem(ctx, "movie-603") {
		t.Fatal("DeleteItem returned false")
	}
	if find(ctrl.Snapshot(), "movie-603") != nil {
		t.Error("Deleted item is still in the snapshot")
	}
	if ctrl.DeleteItem(ctx, "movie-603") {
		t.Error("Deleting twice should fail")
	}
}

func TestValidationSkipsRemote(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	ctrl, _ := newTestController(t, store, 0)
	ctx := context.Background()

	item := matrix()
	item.Category = "podcasts"
	if ctrl.AddItem(ctx, item, models.StatusWantToPlay) {
		t.Error("Unknown category should be rejected")
	}
	if ctrl.AddItem(ctx, matrix(), models.Status("finished")) {
		t.Error("Unknown status should be rejected")
	}
	if ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{}) {
		t.Error("Empty update should be rejected")
	}
	if ctrl.DeleteItem(ctx, "") {
		t.Error("Empty id should be rejected")
	}

	if n := store.Calls("upsert") + store.Calls("patch") + store.Calls("remove"); n != 0 {
		t.Errorf("Rejected changes must not reach the remote, got %d calls", n)
	}
}

func TestLoadLibraryFallsBackToCache(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	ctrl, cache := newTestController(t, store, 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)
	syncedAt := ctrl.LastSyncTime()

	cached, err := cache.LoadSnapshot(ctx)
	if err != nil || len(cached) != 1 {
		t.Fatalf("Successful load should have been cached: %v %v", cached, err)
	}

	rec := &recorder{}
	ctrl.Subscribe(rec.receive)
	store.SetFailing(true)
	ctrl.now = func() time.Time { return testNow.Add(time.Minute) }

	items := ctrl.LoadLibrary(ctx)
	if len(items) != 1 || items[0].ID != "movie-603" {
		t.Errorf("Expected cached snapshot, got %+v", items)
	}
	if rec.count() != 0 {
		t.Errorf("A degraded read must not broadcast, got %d", rec.count())
	}
	if !ctrl.LastSyncTime().Equal(syncedAt) {
		t.Errorf("LastSyncTime must not move on a degraded read: %v", ctrl.LastSyncTime())
	}
}

func TestLoadLibraryColdStartOffline(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	store.SetFailing(true)
	ctrl, _ := newTestController(t, store, 0)

	items := ctrl.LoadLibrary(context.Background())
	if items == nil || len(items) != 0 {
		t.Errorf("Expected an empty library, got %v", items)
	}
	if !ctrl.LastSyncTime().IsZero() {
		t.Errorf("LastSyncTime should be zero, got %v", ctrl.LastSyncTime())
	}
}

func TestLoadLibraryColdStartReportsCacheTime(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	store.SetFailing(true)
	ctrl, cache := newTestController(t, store, 0)

	ctx := context.Background()
	if err := cache.SaveSnapshot(ctx, []models.LibraryItem{matrix()}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	saved := cache.LastSaved()

	if items := ctrl.LoadLibrary(ctx); len(items) != 1 {
		t.Fatalf("Expected the cached item, got %v", items)
	}
	if saved.IsZero() || !ctrl.LastSyncTime().Equal(saved) {
		t.Errorf("LastSyncTime should be the cache save time %v, got %v", saved, ctrl.LastSyncTime())
	}

	// A later remote load takes over
	store.SetFailing(false)
	ctrl.LoadLibrary(ctx)
	if !ctrl.LastSyncTime().Equal(testNow) {
		t.Errorf("Expected LastSyncTime %v after a remote load, got %v", testNow, ctrl.LastSyncTime())
	}
}

func TestLoadLibraryDegradesMalformedRows(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	store.SetRaw(models.Row{
		ID:       "game-3498",
		Title:    "Grand Theft Auto V",
		Category: "games",
		Status:   "paused",
		Genres:   "{broken",
		AddedAt:  testNow,
	})
	ctrl, _ := newTestController(t, store, 0)

	items := ctrl.LoadLibrary(context.Background())
	if len(items) != 1 {
		t.Fatalf("Malformed row should still load, got %d items", len(items))
	}
	if items[0].Genres == nil || len(items[0].Genres) != 0 {
		t.Errorf("Malformed genres should be empty, got %v", items[0].Genres)
	}
}

func TestMutationFailureKeepsSnapshot(t *testing.T) {
	store := remote.NewMemoryStore("user-1")
	ctrl, _ := newTestController(t, store, 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

	rec := &recorder{}
	ctrl.Subscribe(rec.receive)
	store.SetFailing(true)

	if ctrl.DeleteItem(ctx, "movie-603") {
		t.Error("DeleteItem should fail while the remote is down")
	}
	if rec.count() != 0 {
		t.Errorf("A failed mutation must not broadcast, got %d", rec.count())
	}
	if find(ctrl.Snapshot(), "movie-603") == nil {
		t.Error("Snapshot must be unchanged after a failed mutation")
	}
}

func TestSubscriberPanicDoesNotStopBroadcast(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	before := &recorder{}
	after := &recorder{}
	ctrl.Subscribe(before.receive)
	ctrl.Subscribe(func([]models.LibraryItem) { panic("boom") })
	ctrl.Subscribe(after.receive)

	if !ctrl.AddItem(context.Background(), matrix(), models.StatusWantToPlay) {
		t.Fatal("AddItem returned false")
	}
	if before.count() != 1 || after.count() != 1 {
		t.Errorf("Every healthy subscriber should be notified once: %d, %d", before.count(), after.count())
	}
}

func TestUnsubscribe(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	rec := &recorder{}
	unsubscribe := ctrl.Subscribe(rec.receive)
	if ctrl.SubscriberCount() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", ctrl.SubscriberCount())
	}

	unsubscribe()
	unsubscribe()
	if ctrl.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", ctrl.SubscriberCount())
	}

	ctrl.LoadLibrary(context.Background())
	if rec.count() != 0 {
		t.Errorf("Removed subscriber was notified %d times", rec.count())
	}
}

// gatedStore wraps a MemoryStore and tracks how many writes overlap
type gatedStore struct {
	*remote.MemoryStore
	gate    chan struct{}
	entered chan struct{}
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *gatedStore) enter() func() {
	n := s.active.Add(1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	time.Sleep(s.delay)
	return func() { s.active.Add(-1) }
}

func (s *gatedStore) Upsert(ctx context.Context, row *models.Row) error {
	defer s.enter()()
	return s.MemoryStore.Upsert(ctx, row)
}

func (s *gatedStore) Patch(ctx context.Context, id string, fields models.Columns) error {
	defer s.enter()()
	return s.MemoryStore.Patch(ctx, id, fields)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	store := &gatedStore{MemoryStore: remote.NewMemoryStore("user-1"), delay: 5 * time.Millisecond}
	ctrl, _ := newTestController(t, store, 0)
	ctx := context.Background()
	ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(progress int) {
			defer wg.Done()
			if !ctrl.UpdateItem(ctx, "movie-603", models.ItemUpdate{Progress: &progress}) {
				failures.Add(1)
			}
		}(i * 10)
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d updates failed", failures.Load())
	}
	if store.maxActive.Load() != 1 {
		t.Errorf("Writes overlapped: %d at once", store.maxActive.Load())
	}
	if ctrl.MutationInFlight() {
		t.Error("No mutation should be in flight after all returned")
	}
}

func TestLockTimeoutFailsMutation(t *testing.T) {
	store := &gatedStore{
		MemoryStore: remote.NewMemoryStore("user-1"),
		gate:        make(chan struct{}),
		entered:     make(chan struct{}, 1),
	}
	ctrl, _ := newTestController(t, store, 50*time.Millisecond)
	ctx := context.Background()

	first := make(chan bool, 1)
	go func() { first <- ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay) }()
	<-store.entered

	if !ctrl.MutationInFlight() {
		t.Error("MutationInFlight should report the blocked add")
	}

	dune := models.LibraryItem{ID: "book-1", Title: "Dune", Category: models.CategoryBooks}
	if ctrl.AddItem(ctx, dune, models.StatusWantToPlay) {
		t.Error("Second add should time out waiting for the lock")
	}

	close(store.gate)
	if !<-first {
		t.Error("First add should succeed once unblocked")
	}
	if store.Calls("upsert") != 1 {
		t.Errorf("Timed out add must not reach the remote, got %d upserts", store.Calls("upsert"))
	}
	if find(ctrl.Snapshot(), "book-1") != nil {
		t.Error("Timed out add must not appear in the snapshot")
	}
}

func TestMutationHonorsCanceledContext(t *testing.T) {
	ctrl, _ := newTestController(t, remote.NewMemoryStore("user-1"), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ctrl.AddItem(ctx, matrix(), models.StatusWantToPlay) {
		t.Error("AddItem should fail with a canceled context")
	}
}
