package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/99designs/keyring"
)

type KeyringConfig struct {
	ServiceName string
	// Backend restricts the keyring backend ("file", "keychain", "wincred", "secret-service", "pass").
	// Empty lets the library pick the first available one.
	Backend      string
	FileDir      string
	FilePassword string
}

// KeyringStore keeps one secret per connection in an OS or file keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

type keyringPayload struct {
	ConnectionString string `json:"connection_string"`
	Dialect          string `json:"dialect,omitempty"`
}

func OpenKeyringStore(cfg KeyringConfig) (*KeyringStore, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		return nil, fmt.Errorf("keyring service name is required")
	}
	ringCfg := keyring.Config{
		ServiceName:      serviceName,
		FileDir:          strings.TrimSpace(cfg.FileDir),
		FilePasswordFunc: keyring.FixedStringPrompt(cfg.FilePassword),
		PassPrefix:       serviceName,
		WinCredPrefix:    serviceName,
	}
	if backend := strings.TrimSpace(cfg.Backend); backend != "" {
		ringCfg.AllowedBackends = []keyring.BackendType{keyring.BackendType(backend)}
	}
	ring, err := keyring.Open(ringCfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) List(ctx context.Context) ([]AIConnection, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("list keyring keys: %w", err)
	}
	sort.Strings(keys)
	out := make([]AIConnection, 0, len(keys))
	for _, key := range keys {
		conn, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *KeyringStore) Get(_ context.Context, name string) (AIConnection, error) {
	name = strings.TrimSpace(name)
	item, err := s.ring.Get(name)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return AIConnection{}, ErrNotFound
		}
		return AIConnection{}, fmt.Errorf("get keyring item %q: %w", name, err)
	}
	var payload keyringPayload
	if err := json.Unmarshal(item.Data, &payload); err != nil {
		// Secrets written by other tools hold the bare connection string.
		payload = keyringPayload{ConnectionString: string(item.Data)}
	}
	return AIConnection{Name: name, ConnectionString: payload.ConnectionString, Dialect: payload.Dialect}, nil
}

func (s *KeyringStore) Add(ctx context.Context, conn AIConnection) error {
	conn = normalize(conn)
	if err := Validate(conn); err != nil {
		return err
	}
	if _, err := s.Get(ctx, conn.Name); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	data, err := json.Marshal(keyringPayload{ConnectionString: conn.ConnectionString, Dialect: conn.Dialect})
	if err != nil {
		return fmt.Errorf("marshal keyring payload: %w", err)
	}
	if err := s.ring.Set(keyring.Item{
		Key:         conn.Name,
		Data:        data,
		Label:       "dbchat connection " + conn.Name,
		Description: "database connection string",
	}); err != nil {
		return fmt.Errorf("set keyring item %q: %w", conn.Name, err)
	}
	return nil
}

func (s *KeyringStore) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	// Some backends treat removing a missing key as success.
	if _, err := s.Get(ctx, name); err != nil {
		return err
	}
	if err := s.ring.Remove(name); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("remove keyring item %q: %w", name, err)
	}
	return nil
}
