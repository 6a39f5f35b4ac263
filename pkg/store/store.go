// Package store defines the object store the gallery lists from and the
// publisher uploads to.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultBucket holds published covers.
const DefaultBucket = "public_album_covers"

// PlaceholderName is the marker object some stores create for empty folders.
const PlaceholderName = ".emptyFolderPlaceholder"

// ErrExists is returned by Upload when the name is taken and Upsert is off.
var ErrExists = errors.New("object already exists")

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// SortBy orders a listing.
type SortBy struct {
	Column string `json:"column"`
	Order  Order  `json:"order"`
}

// NewestFirst sorts by creation time, newest first.
var NewestFirst = SortBy{Column: "created_at", Order: Desc}

// ListOptions page through a listing.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy SortBy
}

// UploadOptions describe an upload.
type UploadOptions struct {
	ContentType string
	// Upsert allows overwriting an existing object.
	Upsert bool
}

// Entry is one listed object.
type Entry struct {
	Name      string    `json:"name"`
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size,omitempty"`
}

// ObjectStore is implemented by every storage backend. List treats prefix
// as a folder and returns names relative to it; PublicURL and Upload take
// full names (see Join).
type ObjectStore interface {
	List(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error)
	PublicURL(name string) string
	Upload(ctx context.Context, name string, data []byte, opts UploadOptions) error
}

// Join returns the full name of name inside folder.
func Join(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// IsPlaceholder reports whether name denotes a folder or the empty folder
// marker rather than a real object.
func IsPlaceholder(name string) bool {
	return name == "" || strings.HasSuffix(name, "/") || name == PlaceholderName
}
