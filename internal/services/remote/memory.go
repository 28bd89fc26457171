package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amaumene/shelfsync/internal/models"
)

// ErrUnavailable is returned by a MemoryStore switched to failing mode
var ErrUnavailable = errors.New("remote store unavailable")

// MemoryStore is an in-process Store. It backs the "memory" driver and the
// test suites, which can switch it to failing mode to simulate an outage.
type MemoryStore struct {
	userID string

	mu      sync.Mutex
	rows    map[string]models.Row
	failing bool
	calls   map[string]int
}

// NewMemoryStore creates an empty store for userID
func NewMemoryStore(userID string) *MemoryStore {
	return &MemoryStore{
		userID: userID,
		rows:   make(map[string]models.Row),
		calls:  make(map[string]int),
	}
}

// SetFailing makes every following call fail with ErrUnavailable
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Calls returns how many times op was invoked
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) begin(op string) error {
	s.calls[op]++
	if s.failing {
		return ErrUnavailable
	}
	return nil
}

// FetchAll implements Store.FetchAll
func (s *MemoryStore) FetchAll(ctx context.Context) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("fetch_all", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin("fetch_all"); err != nil {
		return nil, wrap("fetch_all", "", err)
	}

	rows := make([]models.Row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AddedAt.Equal(rows[j].AddedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].AddedAt.After(rows[j].AddedAt)
	})
	return rows, nil
}

// Upsert implements Store.Upsert
func (s *MemoryStore) Upsert(ctx context.Context, row *models.Row) error {
	if err := ctx.Err(); err != nil {
		return wrap("upsert", row.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin("upsert"); err != nil {
		return wrap("upsert", row.ID, err)
	}

	stored := *row
	stored.UserID = s.userID
	if existing, ok := s.rows[row.ID]; ok {
		stored.AddedAt = existing.AddedAt
		if row.KeepsExisting("date_started") && existing.DateStarted != nil {
			stored.DateStarted = existing.DateStarted
		}
		if row.KeepsExisting("date_completed") && existing.DateCompleted != nil {
			stored.DateCompleted = existing.DateCompleted
		}
	}
	s.rows[row.ID] = stored
	return nil
}

// Patch implements Store.Patch
func (s *MemoryStore) Patch(ctx context.Context, id string, fields models.Columns) error {
	if err := ctx.Err(); err != nil {
		return wrap("patch", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin("patch"); err != nil {
		return wrap("patch", id, err)
	}
	if err := checkColumns(fields); err != nil {
		return wrap("patch", id, err)
	}

	row, ok := s.rows[id]
	if !ok {
		return wrap("patch", id, ErrNotFound)
	}
	for col, v := range fields {
		if err := setColumn(&row, col, v); err != nil {
			return wrap("patch", id, err)
		}
	}
	s.rows[id] = row
	return nil
}

// Remove implements Store.Remove
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return wrap("remove", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin("remove"); err != nil {
		return wrap("remove", id, err)
	}
	if _, ok := s.rows[id]; !ok {
		return wrap("remove", id, ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

// SetRaw stores a row as-is, bypassing the mapping. Used to seed malformed data.
func (s *MemoryStore) SetRaw(row models.Row) {
	s.mu.Lock()
	row.UserID = s.userID
	s.rows[row.ID] = row
	s.mu.Unlock()
}

func setColumn(row *models.Row, col string, v any) error {
	if keep, ok := v.(models.IfNull); ok {
		if col == "date_started" && row.DateStarted != nil || col == "date_completed" && row.DateCompleted != nil {
			return nil
		}
		v = keep.Value
	}

	var ok bool
	switch col {
	case "status":
		row.Status, ok = v.(string)
	case "title":
		row.Title, ok = v.(string)
	case "image":
		row.Image, ok = v.(string)
	case "overview":
		row.Overview, ok = v.(string)
	case "notes":
		row.Notes, ok = v.(string)
	case "genres":
		row.Genres, ok = v.(string)
	case "user_rating":
		var f float64
		if f, ok = v.(float64); ok {
			row.UserRating = &f
		}
	case "progress":
		var p int
		if p, ok = v.(int); ok {
			row.Progress = &p
		}
	case "date_started":
		var t time.Time
		if t, ok = v.(time.Time); ok {
			row.DateStarted = &t
		}
	case "date_completed":
		var t time.Time
		if t, ok = v.(time.Time); ok {
			row.DateCompleted = &t
		}
	}
	if !ok {
		return fmt.Errorf("unexpected value %T for column %s", v, col)
	}
	return nil
}
