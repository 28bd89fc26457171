package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Row is the persisted form of a LibraryItem in the remote library_items table.
// List fields are stored as JSON text.
type Row struct {
	UserID   string `gorm:"column:user_id;primaryKey;size:128" db:"user_id"`
	ID       string `gorm:"column:id;primaryKey;size:128" db:"id"`
	Title    string `gorm:"column:title" db:"title"`
	Category string `gorm:"column:category;size:16" db:"category"`
	Status   string `gorm:"column:status;size:32" db:"status"`
	// added_at is kept on upsert
	AddedAt time.Time `gorm:"column:added_at;index" db:"added_at"`

	Year      int     `gorm:"column:year" db:"year"`
	Rating    float64 `gorm:"column:rating" db:"rating"`
	Image     string  `gorm:"column:image" db:"image"`
	Author    string  `gorm:"column:author" db:"author"`
	Artist    string  `gorm:"column:artist" db:"artist"`
	Director  string  `gorm:"column:director" db:"director"`
	Developer string  `gorm:"column:developer" db:"developer"`

	Developers string `gorm:"column:developers;type:text" db:"developers"`
	Publishers string `gorm:"column:publishers;type:text" db:"publishers"`
	Genres     string `gorm:"column:genres;type:text" db:"genres"`

	BackgroundImage string `gorm:"column:background_image" db:"background_image"`
	Released        string `gorm:"column:released" db:"released"`
	Type            string `gorm:"column:type" db:"type"`
	IsMovie         bool   `gorm:"column:is_movie" db:"is_movie"`
	IsSeries        bool   `gorm:"column:is_series" db:"is_series"`
	TotalSeasons    *int   `gorm:"column:total_seasons" db:"total_seasons"`
	DisplayTitle    string `gorm:"column:display_title" db:"display_title"`
	Overview        string `gorm:"column:overview;type:text" db:"overview"`
	Runtime         string `gorm:"column:runtime" db:"runtime"`
	Actors          string `gorm:"column:actors" db:"actors"`
	Language        string `gorm:"column:language" db:"language"`
	Country         string `gorm:"column:country" db:"country"`
	Awards          string `gorm:"column:awards" db:"awards"`

	UserRating    *float64   `gorm:"column:user_rating" db:"user_rating"`
	Progress      *int       `gorm:"column:progress" db:"progress"`
	Notes         string     `gorm:"column:notes;type:text" db:"notes"`
	DateStarted   *time.Time `gorm:"column:date_started" db:"date_started"`
	DateCompleted *time.Time `gorm:"column:date_completed" db:"date_completed"`

	AdditionalInfo string `gorm:"column:additional_info;type:text" db:"additional_info"`

	keep []string
}

// TableName specifies the table name for GORM.
func (Row) TableName() string {
	return "library_items"
}

// RowColumns lists every column of library_items in the order used by Values.
var RowColumns = []string{
	"user_id", "id", "title", "category", "status", "added_at",
	"year", "rating", "image", "author", "artist", "director", "developer",
	"developers", "publishers", "genres",
	"background_image", "released", "type", "is_movie", "is_series", "total_seasons",
	"display_title", "overview", "runtime", "actors", "language", "country", "awards",
	"user_rating", "progress", "notes", "date_started", "date_completed",
	"additional_info",
}

// UpsertColumns are the columns replaced when an existing (user_id, id) is upserted.
var UpsertColumns = func() []string {
	cols := make([]string, 0, len(RowColumns))
	for _, c := range RowColumns {
		switch c {
		case "user_id", "id", "added_at":
			continue
		}
		cols = append(cols, c)
	}
	return cols
}()

// Values returns the row's column values ordered as RowColumns
func (r *Row) Values() []any {
	return []any{
		r.UserID, r.ID, r.Title, r.Category, r.Status, r.AddedAt,
		r.Year, r.Rating, r.Image, r.Author, r.Artist, r.Director, r.Developer,
		r.Developers, r.Publishers, r.Genres,
		r.BackgroundImage, r.Released, r.Type, r.IsMovie, r.IsSeries, r.TotalSeasons,
		r.DisplayTitle, r.Overview, r.Runtime, r.Actors, r.Language, r.Country, r.Awards,
		r.UserRating, r.Progress, r.Notes, r.DateStarted, r.DateCompleted,
		r.AdditionalInfo,
	}
}

// Columns is a partial set of column values keyed by column name
type Columns map[string]any

// IfNull wraps a column value that is only written when the stored value is NULL
type IfNull struct {
	Value any
}

// PatchableColumns are the columns an ItemUpdate may write
var PatchableColumns = map[string]bool{
	"status":         true,
	"user_rating":    true,
	"progress":       true,
	"notes":          true,
	"date_started":   true,
	"date_completed": true,
	"title":          true,
	"image":          true,
	"overview":       true,
	"genres":         true,
}

// NewRow flattens an item into its persisted form. UserID is left for the
// store to fill in.
func NewRow(item LibraryItem) *Row {
	return &Row{
		ID:              item.ID,
		Title:           item.Title,
		Category:        string(item.Category),
		Status:          string(item.Status),
		AddedAt:         item.AddedAt,
		Year:            item.Year,
		Rating:          item.Rating,
		Image:           item.Image,
		Author:          item.Author,
		Artist:          item.Artist,
		Director:        item.Director,
		Developer:       item.Developer,
		Developers:      encodeJSON(item.Developers),
		Publishers:      encodeJSON(item.Publishers),
		Genres:          encodeJSON(item.Genres),
		BackgroundImage: item.BackgroundImage,
		Released:        item.Released,
		Type:            item.Type,
		IsMovie:         item.IsMovie,
		IsSeries:        item.IsSeries,
		TotalSeasons:    item.TotalSeasons,
		DisplayTitle:    item.DisplayTitle,
		Overview:        item.Overview,
		Runtime:         item.Runtime,
		Actors:          item.Actors,
		Language:        item.Language,
		Country:         item.Country,
		Awards:          item.Awards,
		UserRating:      item.UserRating,
		Progress:        item.Progress,
		Notes:           item.Notes,
		DateStarted:     item.DateStarted,
		DateCompleted:   item.DateCompleted,
		AdditionalInfo:  encodeJSON(item.AdditionalInfo),
	}
}

// KeepExisting marks columns whose stored non-NULL value wins when the row is
// upserted over an existing one
func (r *Row) KeepExisting(cols ...string) {
	r.keep = append(r.keep, cols...)
}

// KeepsExisting reports whether col was marked with KeepExisting
func (r *Row) KeepsExisting(col string) bool {
	return slices.Contains(r.keep, col)
}

// Item rebuilds the LibraryItem of a row. The returned item is always usable:
// a list field that fails to decode is left empty and the problem is reported
// in the returned error.
func (r *Row) Item() (LibraryItem, error) {
	item := LibraryItem{
		ID:              r.ID,
		Title:           r.Title,
		Category:        Category(r.Category),
		Status:          Status(r.Status),
		AddedAt:         r.AddedAt,
		Year:            r.Year,
		Rating:          r.Rating,
		Image:           r.Image,
		Author:          r.Author,
		Artist:          r.Artist,
		Director:        r.Director,
		Developer:       r.Developer,
		BackgroundImage: r.BackgroundImage,
		Released:        r.Released,
		Type:            r.Type,
		IsMovie:         r.IsMovie,
		IsSeries:        r.IsSeries,
		TotalSeasons:    r.TotalSeasons,
		DisplayTitle:    r.DisplayTitle,
		Overview:        r.Overview,
		Runtime:         r.Runtime,
		Actors:          r.Actors,
		Language:        r.Language,
		Country:         r.Country,
		Awards:          r.Awards,
		UserRating:      r.UserRating,
		Progress:        r.Progress,
		Notes:           r.Notes,
		DateStarted:     r.DateStarted,
		DateCompleted:   r.DateCompleted,
	}

	var errs []error
	var err error
	if item.Developers, err = decodeNames(r.Developers); err != nil {
		errs = append(errs, fieldError("developers", err))
	}
	if item.Publishers, err = decodeNames(r.Publishers); err != nil {
		errs = append(errs, fieldError("publishers", err))
	}
	if item.Genres, err = decodeNames(r.Genres); err != nil {
		errs = append(errs, fieldError("genres", err))
	}
	if item.AdditionalInfo, err = decodeInfo(r.AdditionalInfo); err != nil {
		errs = append(errs, fieldError("additional_info", err))
	}

	return item, errors.Join(errs...)
}

// Columns converts the supplied fields of an update into column values
func (u *ItemUpdate) Columns() Columns {
	cols := Columns{}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
	}
	if u.UserRating != nil {
		cols["user_rating"] = *u.UserRating
	}
	if u.Progress != nil {
		cols["progress"] = *u.Progress
	}
	if u.Notes != nil {
		cols["notes"] = *u.Notes
	}
	if u.DateStarted != nil {
		cols["date_started"] = dateValue(*u.DateStarted, u.startedAuto)
	}
	if u.DateCompleted != nil {
		cols["date_completed"] = dateValue(*u.DateCompleted, u.completedAuto)
	}
	if u.Title != nil {
		cols["title"] = *u.Title
	}
	if u.Image != nil {
		cols["image"] = *u.Image
	}
	if u.Overview != nil {
		cols["overview"] = *u.Overview
	}
	if u.Genres != nil {
		cols["genres"] = encodeJSON(*u.Genres)
	}
	return cols
}

func dateValue(t time.Time, auto bool) any {
	if auto {
		return IfNull{Value: t}
	}
	return t
}

func fieldError(column string, err error) error {
	return fmt.Errorf("decode %s: %w", column, err)
}

func encodeJSON[T any](values []T) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeNames accepts ["a","b"] as well as [{"name":"a"},{"name":"b"}],
// which is how metadata providers usually hand out developers and genres.
func decodeNames(raw string) ([]string, error) {
	if raw == "" || raw == "null" {
		return []string{}, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err == nil {
		return names, nil
	}

	var objects []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &objects); err != nil {
		return []string{}, err
	}
	names = make([]string, 0, len(objects))
	for _, o := range objects {
		if o.Name != "" {
			names = append(names, o.Name)
		}
	}
	return names, nil
}

func decodeInfo(raw string) ([]InfoField, error) {
	if raw == "" || raw == "null" {
		return []InfoField{}, nil
	}
	var fields []InfoField
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return []InfoField{}, err
	}
	return fields, nil
}
