package flows

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validation rule names reported in ValidationError.Rule. Each one except
// RuleAgeRange is also a validator tag.
const (
	RuleRequired   = "required"
	RuleFormat     = "format"
	RuleMinLength  = "min_length"
	RuleMaxLength  = "max_length"
	RuleWhitespace = "no_whitespace"
	RuleCharset    = "charset"
	RuleLowercase  = "lowercase"
	RuleUppercase  = "uppercase"
	RuleDigit      = "digit"
	RuleSymbol     = "symbol"
	RuleAgeRange   = "age_range"
)

const (
	passwordMinLength = 6
	passwordMaxLength = 15
	passwordSymbols   = "$@!%*?&#.()-_"

	// passwordTags lists the password rules in reporting order.
	passwordTags = "required,min_length,max_length,no_whitespace,charset,lowercase,uppercase,digit,symbol"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var rules = newRules()

func newRules() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	custom := map[string]validator.Func{
		RuleFormat:     func(fl validator.FieldLevel) bool { return emailPattern.MatchString(fl.Field().String()) },
		RuleMinLength:  func(fl validator.FieldLevel) bool { return runeCount(fl) >= passwordMinLength },
		RuleMaxLength:  func(fl validator.FieldLevel) bool { return runeCount(fl) <= passwordMaxLength },
		RuleWhitespace: func(fl validator.FieldLevel) bool { return strings.IndexFunc(fl.Field().String(), unicode.IsSpace) < 0 },
		RuleCharset:    func(fl validator.FieldLevel) bool { return strings.IndexFunc(fl.Field().String(), notPasswordRune) < 0 },
		RuleLowercase:  hasRune(func(r rune) bool { return r >= 'a' && r <= 'z' }),
		RuleUppercase:  hasRune(func(r rune) bool { return r >= 'A' && r <= 'Z' }),
		RuleDigit:      hasRune(func(r rune) bool { return r >= '0' && r <= '9' }),
		RuleSymbol:     hasRune(func(r rune) bool { return strings.ContainsRune(passwordSymbols, r) }),
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

func runeCount(fl validator.FieldLevel) int {
	return len([]rune(fl.Field().String()))
}

func hasRune(match func(rune) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), match) >= 0
	}
}

func notPasswordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune(passwordSymbols, r)
}

type registerRules struct {
	Email       string `json:"email" validate:"required,format"`
	Password    string `json:"password" validate:"required,min_length,max_length,no_whitespace,charset,lowercase,uppercase,digit,symbol"`
	FullName    string `json:"fullname" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
}

type loginRules struct {
	Email    string `json:"email" validate:"required,format"`
	Password string `json:"password" validate:"required,min_length"`
}

type codeRules struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type emailRules struct {
	Email string `json:"email" validate:"required"`
}

type resetRequestRules struct {
	Email string `json:"email" validate:"required,format"`
}

type resetRules struct {
	Email    string `json:"email" validate:"required"`
	Code     string `json:"code" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenRules struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// firstViolation validates s and returns the field and rule to report. A
// missing field wins over any format violation; otherwise fields report in
// declaration order.
func firstViolation(s any) (field, rule string) {
	err := rules.Struct(s)
	if err == nil {
		return "", ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "input", RuleFormat
	}
	for _, fe := range verrs {
		if fe.Tag() == RuleRequired {
			return fe.Field(), fe.Tag()
		}
	}
	return verrs[0].Field(), verrs[0].Tag()
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email has the accepted address shape.
func ValidEmail(email string) bool {
	return rules.Var(email, RuleFormat) == nil
}

// PasswordRule returns the first password rule pw violates, or "" when pw
// is acceptable.
func PasswordRule(pw string) string {
	err := rules.Var(pw, passwordTags)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return RuleFormat
}

// ParseDateOfBirth accepts a calendar date (2006-01-02) or an RFC 3339
// timestamp.
func ParseDateOfBirth(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// AgeAt returns the age in whole years at now. A birth date in the future
// gives a negative age.
func AgeAt(dob, now time.Time) int {
	dob = dob.UTC()
	now = now.UTC()
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
