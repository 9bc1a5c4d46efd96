package util

import (
	"reflect"
	"testing"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "single value",
			input: "id",
			want:  []string{"id"},
		},
		{
			name:  "multiple values",
			input: "id,name,email",
			want:  []string{"id", "name", "email"},
		},
		{
			name:  "values with spaces",
			input: "id, name , email",
			want:  []string{"id", "name", "email"},
		},
		{
			name:  "trailing comma",
			input: "id,name,",
			want:  []string{"id", "name"},
		},
		{
			name:  "only commas",
			input: ",,,",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitCSV(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitCSV(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{
			name:  "shorter than limit",
			input: "SELECT 1",
			n:     20,
			want:  "SELECT 1",
		},
		{
			name:  "exactly at limit",
			input: "abcde",
			n:     5,
			want:  "abcde",
		},
		{
			name:  "truncated",
			input: "CREATE TABLE users (id bigint)",
			n:     12,
			want:  "CREATE TABLE...",
		},
		{
			name:  "collapses whitespace",
			input: "CREATE TABLE\n  users\t(id bigint)",
			n:     50,
			want:  "CREATE TABLE users (id bigint)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.n); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
			}
		})
	}
}
