package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/okian/etude/internal/domain/model"
)

// Violation describes one invalid form field.
type Violation struct {
	Field     string `json:"field,omitempty"`
	Violation string `json:"violation"`
	Message   string `json:"message"`
}

// ValidationError carries the violations of one request.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrBadRequest }

// formValidator validates decoded multipart forms and renders English messages.
type formValidator struct {
	v     *validator.Validate
	trans ut.Translator
}

func newFormValidator() (*formValidator, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	trans, _ := ut.New(locale, locale).GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("register translations: %w", err)
	}

	if err := v.RegisterValidation("instrument", func(fl validator.FieldLevel) bool {
		_, err := model.ParseInstrument(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, err
	}
	err := v.RegisterTranslation("instrument", trans, func(t ut.Translator) error {
		return t.Add("instrument", "{0} must be a supported instrument", true)
	}, func(t ut.Translator, fe validator.FieldError) string {
		msg, _ := t.T("instrument", fe.Field())
		return msg
	})
	if err != nil {
		return nil, err
	}
	return &formValidator{v: v, trans: trans}, nil
}

// Struct validates s and returns a *ValidationError listing every violation.
func (f *formValidator) Struct(s any) error {
	err := f.v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	out := &ValidationError{Violations: make([]Violation, 0, len(ve))}
	for _, fe := range ve {
		out.Violations = append(out.Violations, Violation{
			Field:     fe.Field(),
			Violation: fe.Tag(),
			Message:   fe.Translate(f.trans),
		})
	}
	return out
}

// pieceForm is the multipart body of POST /pieces besides the sheet file.
type pieceForm struct {
	Title string `form:"title" validate:"max=200"`
}

// practiceForm is the multipart body of POST /pieces/{id}/sessions besides the audio file.
type practiceForm struct {
	Instrument string `form:"instrument" validate:"required,instrument"`
	User       string `form:"user" validate:"max=64"`
	Dynamics   string `form:"dynamics" validate:"omitempty,oneof=true false 1 0 on off"`
	// IdempotencyKey comes from the Idempotency-Key header.
	IdempotencyKey string `form:"Idempotency-Key" validate:"omitempty,max=128,printascii"`
}

func (p practiceForm) dynamics() *bool {
	switch strings.ToLower(p.Dynamics) {
	case "true", "1", "on":
		v := true
		return &v
	case "false", "0", "off":
		v := false
		return &v
	}
	return nil
}

func asValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
