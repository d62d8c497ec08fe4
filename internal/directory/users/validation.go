package users

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	lettersRegex = regexp.MustCompile(`^[a-zA-Z\s]+$`)
	emailRegex   = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)
	mobileRegex  = regexp.MustCompile(`^[6-9]\d{9}$`)

	// custom tags used by the form rules
	formTags = map[string]*regexp.Regexp{
		"alphaspace": lettersRegex,
		"emailaddr":  emailRegex,
		"mobile":     mobileRegex,
	}
)

// rule is one step of the form pipeline. Exactly one of tag or check is set.
type rule struct {
	field   string
	tag     string
	check   func(value string) bool
	message string
}

// Validator checks form values before they are turned into a payload
type Validator struct {
	validate *validator.Validate

	// CheckDuplicates enables the email/phone uniqueness stage
	CheckDuplicates bool
}

// NewValidator creates a validator with the duplicate stage enabled
func NewValidator() *Validator {
	v := validator.New()
	if err := registerTags(v, formTags); err != nil {
		panic(err)
	}

	return &Validator{
		validate:        v,
		CheckDuplicates: true,
	}
}

func registerTags(v *validator.Validate, tags map[string]*regexp.Regexp) error {
	for tag, re := range tags {
		if err := v.RegisterValidation(tag, matches(re)); err != nil {
			return fmt.Errorf("failed to register validation tag %q: %w", tag, err)
		}
	}
	return nil
}

func matches(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// Validate runs the ordered pipeline and stops at the first failure. existing
// is the current list; editingID excludes the edited record from the
// uniqueness checks. On success it returns the trimmed profile.
func (v *Validator) Validate(values FormValues, existing []User, editingID ID) (Profile, error) {
	profile := Profile{
		Name:  strings.TrimSpace(values.Name),
		Email: strings.TrimSpace(values.Email),
		Phone: strings.TrimSpace(values.Phone),
		Address: Address{
			Suite:  strings.TrimSpace(values.Suite),
			Street: strings.TrimSpace(values.Street),
			City:   strings.TrimSpace(values.City),
		},
	}

	emailTaken := func(email string) bool {
		for _, u := range existing {
			if u.Email == email && (editingID.IsZero() || u.ID != editingID) {
				return true
			}
		}
		return false
	}
	phoneTaken := func(phone string) bool {
		for _, u := range existing {
			if u.Phone == phone && (editingID.IsZero() || u.ID != editingID) {
				return true
			}
		}
		return false
	}

	pipeline := []struct {
		value string
		rules []rule
	}{
		{profile.Name, []rule{
			{field: "name", tag: "required", message: "Name is required."},
			{field: "name", tag: "alphaspace", message: "Name can only contain letters."},
		}},
		{profile.Email, []rule{
			{field: "email", tag: "required", message: "Email is required."},
			{field: "email", tag: "emailaddr", message: "Enter a valid email."},
			{field: "email", check: v.unique(emailTaken), message: "Email already exists."},
		}},
		{profile.Phone, []rule{
			{field: "phone", tag: "required", message: "Phone is required."},
			{field: "phone", tag: "len=10", message: "Phone number must be exactly 10 digits."},
			{field: "phone", tag: "mobile", message: "Enter a valid 10-digit mobile starting 6–9."},
			{field: "phone", check: v.unique(phoneTaken), message: "Mobile number already exists."},
		}},
		{profile.Address.Suite, []rule{
			{field: "suite", tag: "required", message: "Suite is required."},
		}},
		{profile.Address.Street, []rule{
			{field: "street", tag: "required", message: "Street is required."},
		}},
		{profile.Address.City, []rule{
			{field: "city", tag: "required", message: "City is required."},
			{field: "city", tag: "alphaspace", message: "City can only contain letters."},
		}},
	}

	for _, step := range pipeline {
		for _, r := range step.rules {
			if !v.passes(r, step.value) {
				return Profile{}, NewValidationError(r.field, step.value, r.message)
			}
		}
	}
	return profile, nil
}

func (v *Validator) passes(r rule, value string) bool {
	if r.check != nil {
		return r.check(value)
	}
	return v.validate.Var(value, r.tag) == nil
}

func (v *Validator) unique(taken func(string) bool) func(string) bool {
	return func(value string) bool {
		if !v.CheckDuplicates {
			return true
		}
		return !taken(value)
	}
}
