package server

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NormalizeRoomName returns the identity of a room name.
func NormalizeRoomName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeJoin(j Join) Join {
	return Join{
		Email:    NormalizeEmail(j.Email),
		Username: strings.TrimSpace(j.Username),
		Room:     NormalizeRoomName(j.Room),
	}
}

// ValidateJoin normalizes a join request and checks its fields. Every
// problem found is reported in one *ValidationError.
func ValidateJoin(j Join) (Join, error) {
	j = normalizeJoin(j)

	err := validate.Struct(j)
	if err == nil {
		return j, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return j, err
	}

	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "email":
			verr.add(KindInvalidEmail, fe.Field())
		default:
			verr.add(KindMissingField, fe.Field())
		}
	}

	return j, verr
}
