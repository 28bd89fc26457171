package models

// Category represents the kind of media an item belongs to
type Category string

const (
	CategoryGames  Category = "games"
	CategoryMovies Category = "movies"
	CategoryMusic  Category = "music"
	CategoryBooks  Category = "books"
)

// Categories lists every known category in display order
var Categories = []Category{CategoryGames, CategoryMovies, CategoryMusic, CategoryBooks}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryGames, CategoryMovies, CategoryMusic, CategoryBooks:
		return true
	}
	return false
}

// Status represents where the user is with an item
type Status string

const (
	StatusWantToPlay       Status = "want-to-play"
	StatusCurrentlyPlaying Status = "currently-playing"
	StatusCompleted        Status = "completed"
	StatusPaused           Status = "paused"
	StatusDropped          Status = "dropped"
)

// Statuses lists every known status in display order
var Statuses = []Status{StatusWantToPlay, StatusCurrentlyPlaying, StatusCompleted, StatusPaused, StatusDropped}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusWantToPlay, StatusCurrentlyPlaying, StatusCompleted, StatusPaused, StatusDropped:
		return true
	}
	return false
}
