package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleQueryReader may introspect, generate, run and export queries and manage history.
	RoleQueryReader = "query_reader"
	// RoleConnectionAdmin may add and delete stored connections.
	RoleConnectionAdmin = "connection_admin"
)

var knownRoles = []string{RoleConnectionAdmin, RoleQueryReader}

var ErrForbidden = errors.New("forbidden")

// Identity is the caller behind an API key. Subject names the key owner and is recorded on
// history entries.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// Authorize checks the identity on ctx for role. Requests without an identity pass: they only
// reach handlers when authentication is disabled.
func Authorize(ctx context.Context, role string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("%w: %s lacks role %q", ErrForbidden, identity.Subject, role)
}

// Subject returns the authenticated subject on ctx, or "" when authentication is disabled.
func Subject(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Subject
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator checks keys from DBCHAT_AUTH_STATIC_KEYS. Only SHA-256 digests of the
// keys are held in memory.
type StaticAPIKeyValidator struct {
	keys map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses "key:subject:role|role,key:subject:role".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[[sha256.Size]byte]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		identity, key, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := validator.keys[digest]; dup {
			return nil, fmt.Errorf("invalid static key entry for %q: duplicate key", identity.Subject)
		}
		validator.keys[digest] = identity
	}
	return validator, nil
}

// parseKeyEntry never echoes the key itself in errors.
func parseKeyEntry(entry string) (Identity, string, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 {
		return Identity{}, "", fmt.Errorf("invalid static key entry: expected key:subject:role|role")
	}
	key := strings.TrimSpace(parts[0])
	subject := strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return Identity{}, "", fmt.Errorf("invalid static key entry: empty key/subject")
	}

	roles := make([]string, 0, 2)
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return Identity{}, "", fmt.Errorf("invalid static key entry for %q: unknown role %q", subject, role)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return Identity{}, "", fmt.Errorf("invalid static key entry for %q: at least one role is required", subject)
	}
	slices.Sort(roles)
	return Identity{Subject: subject, Roles: roles}, key, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
