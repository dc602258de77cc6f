// Package service contains the form flows of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Backend (Data layer)     → auth API and tables, reached through a pool lease
//
// EVERY FLOW HAS THE SAME SHAPE:
//
//  1. Validate locally. Struct tags (go-playground/validator) catch missing
//     and oversized fields; explicit checks cover the rest (email domain,
//     matching passwords). Nothing here needs the backend, so a bad form
//     never costs a lease.
//  2. Acquire a lease from the pool.
//  3. Make one or two backend calls.
//  4. Release the lease, whatever happened.
//
// Errors come back as apperror kinds. The handler turns them into an HTTP
// status and apperror.UserMessage turns them into the text shown next to
// the form.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/backend"
	"github.com/sakif/snippet-share/internal/model"
	"github.com/sakif/snippet-share/internal/pool"
)

// Pool is the lease pool every flow borrows the backend from.
type Pool interface {
	Acquire(ctx context.Context) (*pool.Lease[backend.Service], error)
	Release(l *pool.Lease[backend.Service])
}

// withLease runs fn with a leased backend and always releases the lease.
func withLease[T any](ctx context.Context, p Pool, fn func(context.Context, backend.Service) (T, error)) (T, error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer p.Release(lease)
	return fn(ctx, lease.Client())
}

// validate is shared by every form. validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so the UI can highlight the input.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = validate.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return model.IsLanguage(fl.Field().String())
	})
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
		return true
	})
}

// check validates form and converts the first failure into
// apperror.ValidationFailed.
func check(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("service: validating form: %w", err)
	}

	fe := fieldErrs[0]
	label := humanize(fe.Field())

	var msg string
	switch fe.Tag() {
	case "required":
		msg = label + " is required"
	case "email":
		msg = label + " must be a valid email address"
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			msg = fmt.Sprintf("%s can have at most %s entries", label, fe.Param())
		} else {
			msg = fmt.Sprintf("%s must be %s characters or less", label, fe.Param())
		}
	case "language":
		msg = "Unsupported language " + fmt.Sprint(fe.Value())
	case "username":
		msg = label + " may only contain letters, numbers, dashes and underscores"
	default:
		msg = label + " is invalid"
	}
	return apperror.ValidationFailed(fe.Field(), msg)
}

// humanize turns a JSON field name into a label: "confirmPassword" becomes
// "Confirm password". Array element names like "tags[2]" drop the index.
func humanize(field string) string {
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
