package models

import (
	"errors"
	"fmt"
	"time"
)

// LibraryItem is a single entry of a user's library
type LibraryItem struct {
	// Identity, assigned by the metadata source
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`

	Title  string  `json:"title"`
	Year   int     `json:"year,omitempty"`
	Rating float64 `json:"rating,omitempty"`
	Image  string  `json:"image,omitempty"`

	// Creator fields, only one is usually set depending on the category
	Author    string `json:"author,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Director  string `json:"director,omitempty"`
	Developer string `json:"developer,omitempty"`

	Developers []string `json:"developers,omitempty"`
	Publishers []string `json:"publishers,omitempty"`
	Genres     []string `json:"genres,omitempty"`

	// Movie/TV details
	BackgroundImage string `json:"backgroundImage,omitempty"`
	Released        string `json:"released,omitempty"`
	Type            string `json:"type,omitempty"`
	IsMovie         bool   `json:"isMovie,omitempty"`
	IsSeries        bool   `json:"isSeries,omitempty"`
	TotalSeasons    *int   `json:"totalSeasons,omitempty"`
	DisplayTitle    string `json:"displayTitle,omitempty"`
	Overview        string `json:"overview,omitempty"`
	Runtime         string `json:"runtime,omitempty"`
	Actors          string `json:"actors,omitempty"`
	Language        string `json:"language,omitempty"`
	Country         string `json:"country,omitempty"`
	Awards          string `json:"awards,omitempty"`

	AdditionalInfo []InfoField `json:"additionalInfo,omitempty"`

	// User annotations
	UserRating *float64 `json:"userRating,omitempty"`
	Progress   *int     `json:"progress,omitempty"` // 0-100
	Notes      string   `json:"notes,omitempty"`

	// Tracking
	AddedAt       time.Time  `json:"addedAt"`
	DateStarted   *time.Time `json:"dateStarted,omitempty"`
	DateCompleted *time.Time `json:"dateCompleted,omitempty"`
}

// InfoField is a free-form label/value pair shown on the item details
type InfoField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ItemUpdate is a partial update of a library item. Nil fields are left untouched.
type ItemUpdate struct {
	Status        *Status    `json:"status,omitempty"`
	UserRating    *float64   `json:"userRating,omitempty"`
	Progress      *int       `json:"progress,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	DateStarted   *time.Time `json:"dateStarted,omitempty"`
	DateCompleted *time.Time `json:"dateCompleted,omitempty"`

	Title    *string   `json:"title,omitempty"`
	Image    *string   `json:"image,omitempty"`
	Overview *string   `json:"overview,omitempty"`
	Genres   *[]string `json:"genres,omitempty"`

	// set when ApplyStatusDates filled the date in
	startedAuto, completedAuto bool
}

var (
	ErrInvalidItem   = errors.New("invalid library item")
	ErrInvalidUpdate = errors.New("invalid library update")
)

// Validate checks the fields the sync engine relies on
func (i *LibraryItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	if !i.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidItem, i.Category)
	}
	if !i.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidItem, i.Status)
	}
	if i.Progress != nil && !validProgress(*i.Progress) {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidItem, *i.Progress)
	}
	return nil
}

// IsEmpty reports whether the update carries no field at all
func (u *ItemUpdate) IsEmpty() bool {
	return u.Status == nil && u.UserRating == nil && u.Progress == nil && u.Notes == nil &&
		u.DateStarted == nil && u.DateCompleted == nil &&
		u.Title == nil && u.Image == nil && u.Overview == nil && u.Genres == nil
}

// Validate checks the supplied fields
func (u *ItemUpdate) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("%w: no fields to update", ErrInvalidUpdate)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, *u.Status)
	}
	if u.Progress != nil && !validProgress(*u.Progress) {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidUpdate, *u.Progress)
	}
	return nil
}

// ApplyStatusDates fills DateStarted/DateCompleted when the update moves the
// item into currently-playing/completed and the caller did not supply one.
// A filled-in date only reaches the store if the column is still empty, so an
// item keeps the date of the first transition.
func (u *ItemUpdate) ApplyStatusDates(now time.Time) {
	if u.Status == nil {
		return
	}
	switch *u.Status {
	case StatusCurrentlyPlaying:
		if u.DateStarted == nil {
			u.DateStarted = &now
			u.startedAuto = true
		}
	case StatusCompleted:
		if u.DateCompleted == nil {
			u.DateCompleted = &now
			u.completedAuto = true
		}
	}
}

// ApplyStatusDates is the add-time counterpart of ItemUpdate.ApplyStatusDates.
// It returns the date columns it filled in.
func (i *LibraryItem) ApplyStatusDates(now time.Time) []string {
	switch i.Status {
	case StatusCurrentlyPlaying:
		if i.DateStarted == nil {
			i.DateStarted = &now
			return []string{"date_started"}
		}
	case StatusCompleted:
		if i.DateCompleted == nil {
			i.DateCompleted = &now
			return []string{"date_completed"}
		}
	}
	return nil
}

func validProgress(p int) bool {
	return p >= 0 && p <= 100
}
