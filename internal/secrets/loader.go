package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source names a secret and the places it may come from. Secrets such as the
// Gemini API key or a database DSN are usually mounted as files, so File wins
// over an inline Value when both are set.
type Source struct {
	// Name labels the secret in error messages.
	Name string
	// Value holds the secret inline, typically from configuration.
	Value string
	// File is a path to read the secret from. Takes precedence over Value.
	File string
}

// Load resolves the secret and trims surrounding whitespace. It fails when
// the file cannot be read or when the resolved value is empty.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	value := src.Value
	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		value = string(data)
	}

	secret := strings.TrimSpace(value)
	if secret == "" {
		if file != "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}
