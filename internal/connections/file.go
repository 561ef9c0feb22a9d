package connections

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Connections []AIConnection `yaml:"connections"`
}

// LoadFile reads a YAML seed file of the form:
//
//	connections:
//	  - name: sales
//	    dialect: sqlserver
//	    connection_string: "sqlserver://..."
func LoadFile(path string) ([]AIConnection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}
	var parsed seedFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse connections file: %w", err)
	}
	out := make([]AIConnection, 0, len(parsed.Connections))
	for i, conn := range parsed.Connections {
		conn = normalize(conn)
		if err := Validate(conn); err != nil {
			return nil, fmt.Errorf("connection #%d: %w", i+1, err)
		}
		out = append(out, conn)
	}
	return out, nil
}

// Seed adds every connection that the store does not already hold and reports how many were added.
func Seed(ctx context.Context, store Store, conns []AIConnection) (int, error) {
	added := 0
	for _, conn := range conns {
		if err := store.Add(ctx, conn); err != nil {
			if errors.Is(err, ErrExists) {
				continue
			}
			return added, fmt.Errorf("seed connection %q: %w", conn.Name, err)
		}
		added++
	}
	return added, nil
}
