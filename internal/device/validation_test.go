package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"turn_on", "turn_on", false},
		{"  Factory_Reset ", "factory_reset", false},
		{"", "", true},
		{"1start", "", true},
		{"rm -rf", "", true},
		{"update-firmware", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeCommand(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeCommand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("NormalizeCommand(%q) error = %v, want ErrInvalidCommand", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"object compacted", "{ \"a\": 1,\n \"b\": [1, 2] }", `{"a":1,"b":[1,2]}`, false},
		{"empty object", "{}", "{}", false},
		{"array", "[1,2]", "", true},
		{"null", "null", "", true},
		{"scalar", "42", "", true},
		{"garbage", "{nope", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateConfig(json.RawMessage(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if string(got) != tt.want {
				t.Errorf("ValidateConfig() = %s, want %s", got, tt.want)
			}
		})
	}
}
