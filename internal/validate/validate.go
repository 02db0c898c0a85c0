// Package validate holds the field checks shared by the HTTP handlers:
// email, password length, phone, calendar date and age, plus tag-driven
// struct validation built on go-playground/validator.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

const dateLayout = "2006-01-02"

var (
	v     *validator.Validate
	vOnce sync.Once

	phoneDigits = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

func instance() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool { return Phone(fl.Field().String()) })
		_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool { return Date(fl.Field().String()) })
		_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool { return Password(fl.Field().String()) })
	})
	return v
}

// Email reports whether s has the local@domain.tld shape.
func Email(s string) bool {
	return instance().Var(s, "required,email") == nil
}

// Password reports whether s is long enough.
func Password(s string) bool {
	return len([]rune(s)) >= MinPasswordLen
}

// Phone accepts an optional leading + and 7 to 15 digits; spaces, dashes,
// dots and parentheses are ignored.
func Phone(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "").Replace(strings.TrimSpace(s))
	return phoneDigits.MatchString(cleaned)
}

// Date reports whether s is a real YYYY-MM-DD calendar date.
func Date(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// Age returns the age in whole years on now of someone born on birthDate.
func Age(birthDate string, now time.Time) (int, error) {
	b, err := time.Parse(dateLayout, birthDate)
	if err != nil {
		return 0, fmt.Errorf("invalid birth date %q", birthDate)
	}
	if b.After(now) {
		return 0, errors.New("birth date is in the future")
	}
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age, nil
}

// AdultAt reports whether someone born on birthDate is at least min years
// old on now.
func AdultAt(birthDate string, now time.Time, min int) bool {
	age, err := Age(birthDate, now)
	return err == nil && age >= min
}
