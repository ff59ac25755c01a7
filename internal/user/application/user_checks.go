package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davicafu/usersync/internal/user/domain"
)

var emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.[a-zA-Z]{2,}$`)

// UserChecks agrupa las precondiciones de los casos de uso de User.
// La unicidad del email aquí es un check-then-act: el índice único del
// store es quien tiene la última palabra.
type UserChecks struct {
	store    domain.UserStore
	validate *validator.Validate
}

func NewUserChecks(store domain.UserStore) *UserChecks {
	v := validator.New()
	_ = v.RegisterValidation("useremail", func(fl validator.FieldLevel) bool {
		return IsValidEmail(fl.Field().String())
	})
	return &UserChecks{store: store, validate: v}
}

// IsValidEmail aplica el formato de email aceptado por el sistema.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func (c *UserChecks) ValidateID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: user id must be positive", domain.ErrInvalidData)
	}
	return nil
}

func (c *UserChecks) ValidateCreate(req *CreateUserRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidData)
	}
	return c.validateStruct(req)
}

func (c *UserChecks) ValidateUpdate(req *UpdateUserRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidData)
	}
	return c.validateStruct(req)
}

// EnsureEmailUniqueForCreate falla si cualquier usuario ya usa el email.
func (c *UserChecks) EnsureEmailUniqueForCreate(ctx context.Context, email string) error {
	return c.ensureEmailUnique(ctx, email, 0)
}

// EnsureEmailUniqueForUpdate ignora al propio usuario que se actualiza.
func (c *UserChecks) EnsureEmailUniqueForUpdate(ctx context.Context, email string, id int64) error {
	return c.ensureEmailUnique(ctx, email, id)
}

func (c *UserChecks) ensureEmailUnique(ctx context.Context, email string, selfID int64) error {
	existing, err := c.store.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return fmt.Errorf("%w: email %s is already in use", domain.ErrDuplicateResource, email)
	}
	return nil
}

func (c *UserChecks) validateStruct(s interface{}) error {
	err := c.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidData, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidData, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "useremail":
		return "invalid email format"
	case "min", "max":
		if field == "age" {
			return "age must be between 1 and 150"
		}
		return field + " must be between 2 and 50 characters"
	default:
		return field + " is invalid"
	}
}
