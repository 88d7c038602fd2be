package vendors

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// FieldErrors maps a draft field (JSON name) to its first failing rule.
// An empty mapping means the draft is valid.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match field errors.
func (e FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

// AsFieldErrors extracts field errors from err.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// registrationForm is the validator-facing view of a Draft.
type registrationForm struct {
	Name            string `json:"name" validate:"nonblank"`
	ShopName        string `json:"shopName" validate:"nonblank"`
	Phone           string `json:"phone" validate:"nonblank,in_mobile"`
	Email           string `json:"email" validate:"nonblank,email_shape"`
	AadhaarNumber   string `json:"aadhaarNumber"`
	PanNumber       string `json:"panNumber"`
	GSTNumber       string `json:"gstNumber" validate:"nonblank"`
	Address         string `json:"address" validate:"nonblank"`
	ManualLatitude  string `json:"manualLatitude" validate:"omitempty,latitude_deg"`
	ManualLongitude string `json:"manualLongitude" validate:"omitempty,longitude_deg"`
	ShopImage       bool   `json:"shopImage" validate:"required"`
}

// Validator checks drafts against the registration rules. It has no side
// effects; the same draft always yields the same FieldErrors.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the registration rules on a fresh validator.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	rules := map[string]validator.Func{
		"nonblank": func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		},
		"in_mobile": func(fl validator.FieldLevel) bool {
			return mobilePattern.MatchString(fl.Field().String())
		},
		"email_shape": func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		},
		"latitude_deg": func(fl validator.FieldLevel) bool {
			deg, ok := parseDegrees(fl.Field().String())
			return ok && latitudeInRange(deg)
		},
		"longitude_deg": func(fl validator.FieldLevel) bool {
			deg, ok := parseDegrees(fl.Field().String())
			return ok && longitudeInRange(deg)
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("vendors: register %s: %v", tag, err))
		}
	}
	v.RegisterStructValidation(validateRegistrationForm, registrationForm{})
	return &Validator{validate: v}
}

func validateRegistrationForm(sl validator.StructLevel) {
	form := sl.Current().Interface().(registrationForm)
	if strings.TrimSpace(form.AadhaarNumber) == "" && strings.TrimSpace(form.PanNumber) == "" {
		sl.ReportError(form.AadhaarNumber, "aadhaarNumber", "AadhaarNumber", "identification", "")
	}
	// Manual coordinates only make sense as a pair.
	switch {
	case form.ManualLatitude != "" && form.ManualLongitude == "":
		sl.ReportError(form.ManualLongitude, "manualLongitude", "ManualLongitude", "pair", "")
	case form.ManualLatitude == "" && form.ManualLongitude != "":
		sl.ReportError(form.ManualLatitude, "manualLatitude", "ManualLatitude", "pair", "")
	}
}

// Validate returns the field errors for d. The result is never nil.
func (v *Validator) Validate(d Draft) FieldErrors {
	form := registrationForm{
		Name:            d.Name,
		ShopName:        d.ShopName,
		Phone:           d.Phone,
		Email:           d.Email,
		AadhaarNumber:   d.AadhaarNumber,
		PanNumber:       d.PanNumber,
		GSTNumber:       d.GSTNumber,
		Address:         d.Address,
		ManualLatitude:  strings.TrimSpace(d.ManualLatitude),
		ManualLongitude: strings.TrimSpace(d.ManualLongitude),
		ShopImage:       d.ShopImage != nil && d.ShopImage.Key != "",
	}
	out := FieldErrors{}
	if d.AutoLocation != nil {
		// A captured position supersedes manual entry.
		form.ManualLatitude, form.ManualLongitude = "", ""
	}
	if err := v.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			out["general"] = err.Error()
			return out
		}
		for _, fe := range verrs {
			field := fe.Field()
			if _, seen := out[field]; seen {
				continue
			}
			out[field] = messageFor(field, fe.Tag())
		}
	}
	if d.AutoLocation != nil {
		if _, err := NewCoordinate(d.AutoLocation.Latitude, d.AutoLocation.Longitude); err != nil {
			out["location"] = "invalid location"
		}
	}
	return out
}

func messageFor(field, tag string) string {
	switch tag {
	case "in_mobile":
		return "invalid phone"
	case "email_shape":
		return "invalid email"
	case "latitude_deg":
		return "invalid latitude"
	case "longitude_deg":
		return "invalid longitude"
	case "identification":
		return "identification required"
	case "required":
		if field == "shopImage" {
			return "shop image required"
		}
	}
	return field + " is required"
}
