package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dbchat/dbchat/internal/storage"
)

// ObjectStore persists each entry as one JSON object under history/<connection>/<id>.json.
type ObjectStore struct {
	store storage.ObjectStore
	now   func() time.Time
}

func NewObjectStore(store storage.ObjectStore) (*ObjectStore, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &ObjectStore{store: store, now: time.Now}, nil
}

func (o *ObjectStore) Save(ctx context.Context, entry Entry) (Entry, error) {
	entry, err := Prepare(entry, o.now())
	if err != nil {
		return Entry{}, err
	}
	if err := o.write(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (o *ObjectStore) List(ctx context.Context, connectionName string, favoritesOnly bool) ([]Entry, error) {
	prefix, err := storage.HistoryPrefix(connectionName)
	if err != nil {
		return nil, err
	}
	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list history for %q: %w", connectionName, err)
	}
	out := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		entry, err := o.readKey(ctx, obj.Key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if favoritesOnly && !entry.Favorite {
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out)
	return out, nil
}

func (o *ObjectStore) SetFavorite(ctx context.Context, connectionName, id string, favorite bool) (Entry, error) {
	key, err := storage.BuildHistoryPath(connectionName, id)
	if err != nil {
		return Entry{}, err
	}
	entry, err := o.readKey(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	entry.Favorite = favorite
	if err := o.write(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (o *ObjectStore) Delete(ctx context.Context, connectionName, id string) error {
	key, err := storage.BuildHistoryPath(connectionName, id)
	if err != nil {
		return err
	}
	if _, err := o.store.Stat(ctx, key); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("stat history entry %q: %w", key, err)
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete history entry %q: %w", key, err)
	}
	return nil
}

func (o *ObjectStore) write(ctx context.Context, entry Entry) error {
	key, err := storage.BuildHistoryPath(entry.ConnectionName, entry.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	opts := storage.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"connection": entry.ConnectionName,
			"favorite":   strconv.FormatBool(entry.Favorite),
		},
	}
	if _, err := o.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), opts); err != nil {
		return fmt.Errorf("write history entry %q: %w", key, err)
	}
	return nil
}

func (o *ObjectStore) readKey(ctx context.Context, key string) (Entry, error) {
	reader, err := o.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("read history entry %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return Entry{}, fmt.Errorf("read history entry %q: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode history entry %q: %w", key, err)
	}
	return entry, nil
}
