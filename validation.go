package cinderlink

import (
	"fmt"
	"unicode"

	"github.com/blockberries/cinderlink/pkg/message"
)

// MaxSchemaNameLength bounds schema names in the identity document.
const MaxSchemaNameLength = 128

// ValidateTopic checks that a topic is non-empty and free of whitespace
// and control characters.
func ValidateTopic(topic string) error {
	return message.ValidateTopic(topic)
}

// ValidateTopics validates every topic in topics.
func ValidateTopics(topics []string) error {
	for _, t := range topics {
		if err := ValidateTopic(t); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchemaName checks that name is non-empty, at most
// MaxSchemaNameLength bytes and made of letters, digits, '-', '_' and '.'.
func ValidateSchemaName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: schema name cannot be empty", ErrInvalidSchemaName)
	}
	if len(name) > MaxSchemaNameLength {
		return fmt.Errorf("%w: %d characters exceeds maximum of %d",
			ErrInvalidSchemaName, len(name), MaxSchemaNameLength)
	}
	for i, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidSchemaName, r, i)
		}
	}
	return nil
}
