package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dbchat/dbchat/internal/storage"
)

func TestStores(t *testing.T) {
	objectStore, err := NewObjectStore(storage.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewObjectStore() error = %v", err)
	}
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"object": objectStore,
	} {
		t.Run(name, func(t *testing.T) {
			exerciseStore(t, store)
		})
	}
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	older, err := store.Save(ctx, Entry{ConnectionName: "sales", Prompt: "all orders", Query: "SELECT * FROM dbo.Orders", CreatedAt: base})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := uuid.Parse(older.ID); err != nil {
		t.Fatalf("ID %q is not a uuid: %v", older.ID, err)
	}
	newer, err := store.Save(ctx, Entry{ConnectionName: "sales", Prompt: "top orders", Query: "SELECT TOP 5 * FROM dbo.Orders", CreatedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Save(ctx, Entry{ConnectionName: "hr", Query: "SELECT 1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	listed, err := store.List(ctx, "sales", false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != newer.ID || listed[1].ID != older.ID {
		t.Fatalf("List() = %#v", listed)
	}

	favorite, err := store.SetFavorite(ctx, "sales", older.ID, true)
	if err != nil {
		t.Fatalf("SetFavorite() error = %v", err)
	}
	if !favorite.Favorite || favorite.Query != older.Query {
		t.Fatalf("SetFavorite() = %#v", favorite)
	}
	favorites, err := store.List(ctx, "sales", true)
	if err != nil {
		t.Fatalf("List(favorites) error = %v", err)
	}
	if len(favorites) != 1 || favorites[0].ID != older.ID {
		t.Fatalf("favorites = %#v", favorites)
	}

	if err := store.Delete(ctx, "sales", newer.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "sales", newer.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := store.SetFavorite(ctx, "sales", newer.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetFavorite() on deleted entry error = %v", err)
	}
	listed, err = store.List(ctx, "sales", false)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("List() after delete = %#v", listed)
	}

	empty, err := store.List(ctx, "unknown", false)
	if err != nil {
		t.Fatalf("List(unknown) error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("List(unknown) = %#v", empty)
	}
}

func TestSaveRequiresConnectionAndQuery(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Save(context.Background(), Entry{Query: "SELECT 1"}); err == nil {
		t.Fatal("expected missing connection error")
	}
	if _, err := store.Save(context.Background(), Entry{ConnectionName: "sales"}); err == nil {
		t.Fatal("expected missing query error")
	}
}

func TestObjectStoreWritesJSONUnderConnectionPrefix(t *testing.T) {
	objects := storage.NewMemoryStore()
	store, err := NewObjectStore(objects)
	if err != nil {
		t.Fatalf("NewObjectStore() error = %v", err)
	}
	entry, err := store.Save(context.Background(), Entry{ConnectionName: "sales", Query: "SELECT 1"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := objects.Stat(context.Background(), "history/sales/"+entry.ID+".json")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size == 0 {
		t.Fatal("history object is empty")
	}
	if info.Metadata["connection"] != "sales" || info.Metadata["favorite"] != "false" {
		t.Fatalf("Metadata = %#v", info.Metadata)
	}

	if _, err := store.SetFavorite(context.Background(), "sales", entry.ID, true); err != nil {
		t.Fatalf("SetFavorite() error = %v", err)
	}
	info, err = objects.Stat(context.Background(), "history/sales/"+entry.ID+".json")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Metadata["favorite"] != "true" {
		t.Fatalf("Metadata after favorite = %#v", info.Metadata)
	}
}
