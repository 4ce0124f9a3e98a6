package index

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"simple", "connection refused", []string{"connection", "refused"}},
		{"case folded", "ERROR Timeout", []string{"error", "timeout"}},
		{"punctuation split", "dial tcp 10.0.0.1:443", []string{"dial", "tcp", "10", "0", "0", "1", "443"}},
		{"hyphenated", "foo-bar", []string{"foo", "bar"}},
		{"empty", "", nil},
		{"only separators", " .,;! ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tokenize(tt.body); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
