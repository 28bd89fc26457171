package remote

import (
	"context"
	"fmt"

	"github.com/amaumene/shelfsync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLStore is a Store on top of gorm, used with SQLite for single-device setups
type SQLStore struct {
	db     *gorm.DB
	userID string
}

// OpenSQLite opens the SQLite file at path and prepares the library table
func OpenSQLite(path, userID string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLStore(db, userID)
}

// NewSQLStore wraps an open gorm connection
func NewSQLStore(db *gorm.DB, userID string) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.Row{}); err != nil {
		return nil, fmt.Errorf("failed to create library table: %w", err)
	}
	return &SQLStore{db: db, userID: userID}, nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FetchAll implements Store.FetchAll
func (s *SQLStore) FetchAll(ctx context.Context) ([]models.Row, error) {
	var rows []models.Row
	err := s.db.WithContext(ctx).
		Where("user_id = ?", s.userID).
		Order("added_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("fetch_all", "", err)
	}
	return rows, nil
}

// Upsert implements Store.Upsert
func (s *SQLStore) Upsert(ctx context.Context, row *models.Row) error {
	stored := *row
	stored.UserID = s.userID

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "id"}},
			DoUpdates: upsertAssignments(row),
		}).
		Create(&stored).Error
	return wrap("upsert", row.ID, err)
}

// Patch implements Store.Patch
func (s *SQLStore) Patch(ctx context.Context, id string, fields models.Columns) error {
	if err := checkColumns(fields); err != nil {
		return wrap("patch", id, err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Row{}).
		Where("user_id = ? AND id = ?", s.userID, id).
		Updates(patchValues(fields))
	if result.Error != nil {
		return wrap("patch", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrap("patch", id, ErrNotFound)
	}
	return nil
}

// Remove implements Store.Remove
func (s *SQLStore) Remove(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", s.userID, id).
		Delete(&models.Row{})
	if result.Error != nil {
		return wrap("remove", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrap("remove", id, ErrNotFound)
	}
	return nil
}

func upsertAssignments(row *models.Row) clause.Set {
	set := clause.AssignmentColumns(models.UpsertColumns)
	for i, a := range set {
		if row.KeepsExisting(a.Column.Name) {
			c := a.Column.Name
			set[i].Value = gorm.Expr(fmt.Sprintf("COALESCE(%s, excluded.%s)", c, c))
		}
	}
	return set
}

func patchValues(fields models.Columns) map[string]any {
	values := make(map[string]any, len(fields))
	for c, v := range fields {
		if keep, ok := v.(models.IfNull); ok {
			values[c] = gorm.Expr(fmt.Sprintf("COALESCE(%s, ?)", c), keep.Value)
			continue
		}
		values[c] = v
	}
	return values
}
