package validator_test

import (
	"chatcord-backend/internal/validator"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		name          string
		username      string
		expectedError error
	}{
		{
			name:          "Valid: Letters and numbers",
			username:      "gopher42",
			expectedError: nil,
		},
		{
			name:          "Valid: Dots, dashes and underscores",
			username:      "first.last-name_",
			expectedError: nil,
		},
		{
			name:          "Valid: Maximum length (32 chars)",
			username:      strings.Repeat("a", 32),
			expectedError: nil,
		},

		{
			name:          "Error: Too short",
			username:      "a",
			expectedError: fmt.Errorf("short_username"),
		},
		{
			name:          "Error: Too long (33 chars)",
			username:      strings.Repeat("a", 33),
			expectedError: fmt.Errorf("long_username"),
		},

		{
			name:          "Error: Contains space",
			username:      "two words",
			expectedError: fmt.Errorf("bad_format"),
		},
		{
			name:          "Error: Contains @",
			username:      "@gopher",
			expectedError: fmt.Errorf("bad_format"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Username(tc.username)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("Username(%q) failed unexpectedly: got error %v, want nil", tc.username, err)
				}
				return
			}

			if err == nil {
				t.Errorf("Username(%q) passed unexpectedly: got nil, want error %v", tc.username, tc.expectedError)
				return
			}

			if err.Error() != tc.expectedError.Error() {
				t.Errorf("Username(%q) got error %q, want error %q", tc.username, err.Error(), tc.expectedError.Error())
			}
		})
	}
}

func TestMessageContent(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedError error
	}{
		{
			name:          "Valid: Short message",
			content:       "hello",
			expectedError: nil,
		},
		{
			name:          "Valid: Maximum length",
			content:       strings.Repeat("é", validator.MaxMessageLength),
			expectedError: nil,
		},
		{
			name:          "Error: Empty",
			content:       "",
			expectedError: fmt.Errorf("empty_message"),
		},
		{
			name:          "Error: Only whitespace",
			content:       " \n\t",
			expectedError: fmt.Errorf("empty_message"),
		},
		{
			name:          "Error: Too long",
			content:       strings.Repeat("a", validator.MaxMessageLength+1),
			expectedError: fmt.Errorf("long_message"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.MessageContent(tc.content)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("MessageContent got error %v, want nil", err)
				}
				return
			}

			if err == nil || err.Error() != tc.expectedError.Error() {
				t.Errorf("MessageContent got error %v, want error %q", err, tc.expectedError.Error())
			}
		})
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{"No mentions", "hello there", nil},
		{"One mention", "hey @Alice, look", []string{"alice"}},
		{"Duplicates collapse", "@bob @BOB @carol", []string{"bob", "carol"}},
		{"Email isn't a mention", "mail me at bob@example.com", nil},
		{"Trailing dot", "thanks @dave.", []string{"dave"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := validator.Mentions(tc.content)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Mentions(%q) got %v, want %v", tc.content, got, tc.expected)
			}
		})
	}
}

func TestStructFields(t *testing.T) {
	type profile struct {
		Username      string `json:"username" validate:"required,username"`
		StatusMessage string `json:"status_message" validate:"max=128"`
	}

	validate := validator.New()

	if err := validate.Struct(profile{Username: "gopher"}); err != nil {
		t.Fatalf("valid profile failed: %v", err)
	}

	err := validate.Struct(profile{Username: "no spaces allowed", StatusMessage: strings.Repeat("a", 129)})
	fields, ok := validator.Fields(err)
	if !ok {
		t.Fatalf("expected validation errors, got %v", err)
	}

	expected := map[string]string{"username": "username", "status_message": "max"}
	if !reflect.DeepEqual(fields, expected) {
		t.Errorf("fields got %v, want %v", fields, expected)
	}

	if _, ok := validator.Fields(fmt.Errorf("something else")); ok {
		t.Error("expected a plain error not to count as a validation failure")
	}
}
