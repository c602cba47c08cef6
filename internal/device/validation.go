package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// commandPattern allows lower-case snake_case names, 1-64 characters.
var commandPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// maxConfigBytes bounds a configuration document.
const maxConfigBytes = 64 * 1024

// NormalizeCommand lower-cases and trims a command name and checks its format.
func NormalizeCommand(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !commandPattern.MatchString(name) {
		return "", fmt.Errorf("%w: name %q", ErrInvalidCommand, name)
	}
	return name, nil
}

// ValidateConfig checks that raw is a JSON object of acceptable size and
// returns it compacted.
func ValidateConfig(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidConfig)
	}
	if len(raw) > maxConfigBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidConfig, maxConfigBytes)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: must be a JSON object", ErrInvalidConfig)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return buf.Bytes(), nil
}
