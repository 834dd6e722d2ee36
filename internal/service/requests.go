package service

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	apperrors "github.com/target/mmk-auth/internal/errors"
)

type emailRequest struct {
	Email string `json:"email"`
}

// Validate checks the email before any network call is made.
func (r emailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

type emailCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r emailCodeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(4, 12), is.Alphanumeric),
	)
}

type magicLinkRequest struct {
	Token string `json:"token"`
}

func (r magicLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(1, 4096)),
	)
}

// validate runs v and converts ozzo errors into a Validation AppError naming the first
// offending field.
func validate(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fields := make([]string, 0, len(fieldErrs))
		for f := range fieldErrs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		field := fields[0]
		return &apperrors.AppError{
			Code:    apperrors.ErrCodeValidation,
			Message: describe(field, fieldErrs[field]),
			Field:   field,
			Cause:   err,
		}
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, "The request is not valid.")
}

func describe(field string, err error) string {
	switch field {
	case "email":
		return "Please enter a valid email address."
	case "code":
		return "Please enter the code from your email."
	case "token":
		return "The sign-in link is not valid."
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "The request is not valid."
	}
	return field + " " + msg
}
