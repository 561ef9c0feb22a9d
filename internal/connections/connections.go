package connections

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dbchat/dbchat/internal/dialect"
)

var (
	ErrNotFound = errors.New("connections: not found")
	ErrExists   = errors.New("connections: already exists")
	ErrInvalid  = errors.New("invalid connection")
)

// AIConnection is a named, credential-bearing connection string. The string is passed to the
// driver as-is and must never be logged or echoed back to callers.
type AIConnection struct {
	Name             string `json:"name" yaml:"name" validate:"required,max=127,secretname"`
	ConnectionString string `json:"connection_string" yaml:"connection_string" validate:"required"`
	Dialect          string `json:"dialect,omitempty" yaml:"dialect" validate:"omitempty,dialect"`
}

// Summary is the shape safe to return to API clients.
type Summary struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
}

func (c AIConnection) Summary() Summary {
	name := c.Dialect
	if name == "" {
		name = dialect.Default
	}
	return Summary{Name: c.Name, Dialect: name}
}

type Store interface {
	List(ctx context.Context) ([]AIConnection, error)
	Get(ctx context.Context, name string) (AIConnection, error)
	Add(ctx context.Context, conn AIConnection) error
	Delete(ctx context.Context, name string) error
}

// Key Vault secret names: alphanumerics and dashes.
var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("secretname", func(fl validator.FieldLevel) bool {
		return secretNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("dialect", func(fl validator.FieldLevel) bool {
		return dialect.IsSupported(fl.Field().String())
	})
	return v
}

func Validate(conn AIConnection) error {
	if err := validate.Struct(conn); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			problems := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func normalize(conn AIConnection) AIConnection {
	conn.Name = strings.TrimSpace(conn.Name)
	conn.ConnectionString = strings.TrimSpace(conn.ConnectionString)
	conn.Dialect = strings.ToLower(strings.TrimSpace(conn.Dialect))
	return conn
}
