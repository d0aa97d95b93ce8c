package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxUsernameLength      = 32
	MaxMessageLength       = 4000
	MaxStatusMessageLength = 128
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// New returns a validator that reports fields by their json name and knows the username tag.
func New() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// the error is only about a malformed tag
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return Username(fl.Field().String()) == nil
	})

	return validate
}

// Fields maps each failed field to the tag it failed on. ok is false when err
// isn't a validation failure.
func Fields(err error) (map[string]string, bool) {
	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return nil, false
	}

	fields := make(map[string]string, len(validateErrs))
	for _, e := range validateErrs {
		fields[e.Field()] = e.Tag()
	}
	return fields, true
}

func Username(username string) error {
	length := utf8.RuneCountInString(username)
	if length < 2 {
		return fmt.Errorf("short_username")
	} else if length > MaxUsernameLength {
		return fmt.Errorf("long_username")
	}

	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("bad_format")
	}
	return nil
}

func MessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty_message")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("long_message")
	}
	return nil
}

var mentionRegex = regexp.MustCompile(`(?:^|\s)@([a-zA-Z0-9_.-]+)`)

// Mentions returns the distinct usernames mentioned with @ in content, in order of appearance.
func Mentions(content string) []string {
	var usernames []string
	seen := make(map[string]struct{})
	for _, match := range mentionRegex.FindAllStringSubmatch(content, -1) {
		name := strings.ToLower(strings.TrimRight(match[1], "."))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		usernames = append(usernames, name)
	}
	return usernames
}
