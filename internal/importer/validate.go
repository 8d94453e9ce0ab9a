package importer

import (
	"errors"
	"reflect"
	"strings"

	"autodelivery-api/internal/model"

	"github.com/go-playground/validator/v10"
)

// Per-type views of model.Payload. Validation runs against these so that each
// item type only requires its own fields.
type accountPayload struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=512"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type licenseKeyPayload struct {
	Key           string `json:"key" validate:"required,max=1024"`
	ActivationURL string `json:"activation_url" validate:"omitempty,url"`
}

type downloadPayload struct {
	FileURL  string `json:"file_url" validate:"required,url"`
	FileName string `json:"file_name" validate:"max=255"`
}

// Validator checks pool item payloads against the rules of their item type.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a payload validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Normalize trims the payload, drops fields that do not belong to itemType and
// validates the result. It returns a *model.ValidationError on failure.
func (val *Validator) Normalize(itemType model.ItemType, p model.Payload) (model.Payload, error) {
	var (
		out  model.Payload
		view interface{}
	)

	switch itemType {
	case model.ItemTypeAccount:
		out = model.Payload{
			Email:    strings.TrimSpace(p.Email),
			Password: strings.TrimSpace(p.Password),
			Notes:    strings.TrimSpace(p.Notes),
		}
		view = accountPayload{Email: out.Email, Password: out.Password, Notes: out.Notes}
	case model.ItemTypeLicenseKey:
		out = model.Payload{
			Key:           strings.TrimSpace(p.Key),
			ActivationURL: strings.TrimSpace(p.ActivationURL),
		}
		view = licenseKeyPayload{Key: out.Key, ActivationURL: out.ActivationURL}
	case model.ItemTypeDownload:
		out = model.Payload{
			FileURL:  strings.TrimSpace(p.FileURL),
			FileName: strings.TrimSpace(p.FileName),
		}
		view = downloadPayload{FileURL: out.FileURL, FileName: out.FileName}
	default:
		_, err := model.ParseItemType(string(itemType))
		return model.Payload{}, err
	}

	if err := val.v.Struct(view); err != nil {
		return model.Payload{}, toValidationError(err)
	}
	return out, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewValidationError(err.Error())
	}

	fields := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, model.FieldError{
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}
	return model.NewValidationError("invalid payload", fields...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
