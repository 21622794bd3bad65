package types

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	StatusWishlist  = 1
	StatusOwned     = 2
	StatusListening = 3
)

type Vinyl struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Genre       string `json:"genre"`
	ReleaseYear int    `json:"release_year"`
	Description string `json:"description"`
	CoverURL    string `json:"cover_url"`
	AddedByID   *int   `json:"added_by_id,omitempty"`
}

type VinylInput struct {
	Title       string `json:"title" validate:"required"`
	Artist      string `json:"artist" validate:"required"`
	Genre       string `json:"genre"`
	ReleaseYear int    `json:"release_year" validate:"omitempty,min=1900,max=2100"`
	Description string `json:"description"`
	CoverURL    string `json:"cover_url" validate:"omitempty,url"`
	AddedByID   *int   `json:"added_by_id,omitempty"`
}

// VinylFilter narrows a vinyl search. Zero fields are ignored.
type VinylFilter struct {
	Title       string
	Artist      string
	Genre       string
	ReleaseYear int
}

// Key renders the filter as a stable cache key suffix. Each non-empty field
// is emitted as an escaped name=value pair in name order, so two different
// filters never share a key.
func (f VinylFilter) Key() string {
	params := url.Values{}
	if f.Title != "" {
		params.Set("title", strings.ToLower(f.Title))
	}
	if f.Artist != "" {
		params.Set("artist", strings.ToLower(f.Artist))
	}
	if f.Genre != "" {
		params.Set("genre", strings.ToLower(f.Genre))
	}
	if f.ReleaseYear != 0 {
		params.Set("year", strconv.Itoa(f.ReleaseYear))
	}
	return params.Encode()
}

func (f VinylFilter) Matches(v *Vinyl) bool {
	if f.Title != "" && !containsFold(v.Title, f.Title) {
		return false
	}
	if f.Artist != "" && !containsFold(v.Artist, f.Artist) {
		return false
	}
	if f.Genre != "" && !strings.EqualFold(v.Genre, f.Genre) {
		return false
	}
	if f.ReleaseYear != 0 && v.ReleaseYear != f.ReleaseYear {
		return false
	}
	return true
}

// MatchesText reports whether a free-text query hits title, artist or genre,
// or equals the release year when the query is numeric.
func MatchesText(v *Vinyl, query string) bool {
	if year, err := strconv.Atoi(query); err == nil && v.ReleaseYear == year {
		return true
	}
	return containsFold(v.Title, query) || containsFold(v.Artist, query) || containsFold(v.Genre, query)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	RoleID       int    `json:"role_id"`
}

type UserInput struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"omitempty,min=6"`
	RoleID   int    `json:"role_id" validate:"min=0"`
}

type UserVinyl struct {
	UserID   int `json:"user_id"`
	VinylID  int `json:"vinyl_id"`
	StatusID int `json:"status_id"`
}

func ValidStatus(statusID int) bool {
	return statusID >= StatusWishlist && statusID <= StatusListening
}
