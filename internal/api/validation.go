package api

import (
	"errors"  // Error inspection
	"reflect" // Struct field reflection for tag names
	"strings" // String manipulation
	"sync"    // One-time validator setup

	"course_feedback/internal/domain" // Field error types

	"github.com/gin-gonic/gin/binding"                                       // Gin binding engine
	"github.com/go-playground/locales/en"                                    // English locale
	ut "github.com/go-playground/universal-translator"                       // Message translator
	"github.com/go-playground/validator/v10"                                 // Struct validator
	en_translations "github.com/go-playground/validator/v10/translations/en" // Default English messages
)

var (
	translator ut.Translator // English translator shared by all handlers
	setupOnce  sync.Once     // Guards validator registration

	// custom validation tags & texts
	notBlankTag  = "notblank"
	notBlankText = "{0} must not be blank"
	requiredTag  = "required"
	requiredText = "{0} is required"
)

// setupValidator configures gin's validator once per process
func setupValidator() {
	setupOnce.Do(func() {
		validate, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_en := en.New()
		uni := ut.New(_en, _en)
		translator, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(validate, translator)

		// Use JSON tag names for errors instead of Go struct names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = validate.RegisterValidation(notBlankTag, notBlank)
		registerTranslation(validate, notBlankTag, notBlankText, false)
		registerTranslation(validate, requiredTag, requiredText, true)
	})
}

// registerTranslation registers a message for a validation tag
func registerTranslation(validate *validator.Validate, tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// notBlank rejects strings that are empty after trimming
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// bindError converts a binding failure into a ValidationError
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("body", "Request body is malformed")
	}
	out := &domain.ValidationError{}
	for _, fe := range verrs {
		msg := fe.Error()
		if translator != nil {
			msg = fe.Translate(translator)
		}
		out.Add(fe.Field(), msg)
	}
	return out
}
