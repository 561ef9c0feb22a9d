package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("history entry not found")

// Entry is one generated query kept for a connection.
type Entry struct {
	ID             string    `json:"id"`
	ConnectionName string    `json:"connection_name"`
	Prompt         string    `json:"prompt"`
	Summary        string    `json:"summary"`
	Query          string    `json:"query"`
	Favorite       bool      `json:"favorite"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, connectionName string, favoritesOnly bool) ([]Entry, error)
	SetFavorite(ctx context.Context, connectionName, id string, favorite bool) (Entry, error)
	Delete(ctx context.Context, connectionName, id string) error
}

// Prepare assigns an id and timestamp to a new entry.
func Prepare(entry Entry, now time.Time) (Entry, error) {
	entry.ConnectionName = strings.TrimSpace(entry.ConnectionName)
	if entry.ConnectionName == "" {
		return Entry{}, fmt.Errorf("connection name is required")
	}
	if strings.TrimSpace(entry.Query) == "" {
		return Entry{}, fmt.Errorf("query is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	return entry, nil
}

// sortNewestFirst orders entries by creation time, newest first, breaking ties by id.
func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
