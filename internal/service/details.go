package service

import (
	"errors"
	"regexp"
	"strings"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	MarketPL      = "pl"
	MarketGeneric = "generic"
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

	// nine national digits, optionally prefixed with 48 / +48 / 0048
	plPhonePattern = regexp.MustCompile(`^(?:(?:\+|00)?48)?([1-9]\d{8})$`)
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

// detailsInput mirrors ClientDetails with validation rules attached.
type detailsInput struct {
	Name        string `validate:"required,min=2,max=100"`
	Email       string `validate:"required,email,max=254"`
	Phone       string `validate:"required,phone"`
	Notes       string `validate:"max=500"`
	AcceptTerms bool   `validate:"eq=true"`
}

var fieldNames = map[string]string{
	"Name":        "name",
	"Email":       "email",
	"Phone":       "phone",
	"Notes":       "notes",
	"AcceptTerms": "accept_terms",
}

// DetailsValidator checks client details for a market. It is safe for
// concurrent use.
type DetailsValidator struct {
	market   string
	validate *validator.Validate
}

func NewDetailsValidator(market string) *DetailsValidator {
	market = strings.ToLower(strings.TrimSpace(market))
	if market == "" {
		market = MarketPL
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		_, ok := NormalizePhone(market, fl.Field().String())
		return ok
	})

	return &DetailsValidator{market: market, validate: v}
}

// Validate trims and normalizes the details. Every failing field is reported
// in a single *domain.ValidationError.
func (v *DetailsValidator) Validate(details models.ClientDetails) (models.ClientDetails, error) {
	clean := models.ClientDetails{
		Name:            strings.Join(strings.Fields(details.Name), " "),
		Email:           strings.ToLower(strings.TrimSpace(details.Email)),
		Phone:           strings.TrimSpace(details.Phone),
		Notes:           strings.TrimSpace(details.Notes),
		AcceptTerms:     details.AcceptTerms,
		AcceptMarketing: details.AcceptMarketing,
	}

	err := v.validate.Struct(detailsInput{
		Name:        clean.Name,
		Email:       clean.Email,
		Phone:       clean.Phone,
		Notes:       clean.Notes,
		AcceptTerms: clean.AcceptTerms,
	})
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return details, err
		}
		verr := &domain.ValidationError{}
		for _, fe := range fieldErrs {
			verr.Add(fieldNames[fe.Field()], reason(fe))
		}
		return details, verr
	}

	clean.Phone, _ = NormalizePhone(v.market, clean.Phone)
	return clean, nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "eq":
		return "must be accepted"
	case "min":
		return "is too short"
	case "max":
		return "is too long"
	}
	return "is invalid"
}

// NormalizePhone returns the E.164 form of phone for the market.
func NormalizePhone(market, phone string) (string, bool) {
	compact := phoneSeparators.Replace(strings.TrimSpace(phone))
	if compact == "" {
		return "", false
	}

	switch market {
	case MarketGeneric:
		if e164Pattern.MatchString(compact) {
			return compact, true
		}
		return "", false
	default:
		m := plPhonePattern.FindStringSubmatch(compact)
		if m == nil {
			return "", false
		}
		return "+48" + m[1], true
	}
}
