package resolver

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestExpand(t *testing.T) {
	env := map[string]string{"HOME": "/home/u", "A": "1", "REF": "$A"}
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"$A", "1"},
		{"${A}", "1"},
		{"x${A}y", "x1y"},
		{"$A$A", "11"},
		{"$HOME/bin", "/home/u/bin"},
		{"$MISSING", ""},
		{"$REF", "$A"}, // single pass, no recursive expansion
		{"cost $5", "cost $5"},
		{"\\$A", "$A"},
		{"${A", "${A"},
		{"${bad-name}", "${bad-name}"},
		{"trailing $", "trailing $"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, env); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestExpandWithoutDollar_Property: text without "$" is returned unchanged.
func TestExpandWithoutDollar_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("expansion is identity without references", prop.ForAll(
		func(s string) bool {
			return Expand(s, map[string]string{"A": "x"}) == s
		},
		gen.AlphaString(),
	))

	properties.Property("known names substitute exactly", prop.ForAll(
		func(name, value string) bool {
			env := map[string]string{name: value}
			return Expand("${"+name+"}", env) == value
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		literal bool
	}{
		{`"a b"`, "a b", false},
		{`'a $b'`, "a $b", true},
		{`plain`, "plain", false},
		{`"mismatched'`, `"mismatched'`, false},
		{`"`, `"`, false},
	}
	for _, tt := range tests {
		got, literal := Unquote(tt.in)
		if got != tt.want || literal != tt.literal {
			t.Errorf("Unquote(%q) = %q, %v; want %q, %v", tt.in, got, literal, tt.want, tt.literal)
		}
	}
}

func TestResolveDir(t *testing.T) {
	env := map[string]string{"PROJ": "/srv/proj"}
	tests := []struct {
		arg, cwd, want string
	}{
		{"..", "/a/b", "/a"},
		{"sub/dir", "/a", "/a/sub/dir"},
		{"/abs", "/a", "/abs"},
		{"~", "/a", "/home/u"},
		{"~/code", "/a", "/home/u/code"},
		{`"with space"`, "/a", "/a/with space"},
		{"'$PROJ'", "/a", "/a/$PROJ"},
		{"$PROJ/src", "/a", "/srv/proj/src"},
		{"./x/../y", "/a", "/a/y"},
	}
	for _, tt := range tests {
		if got := ResolveDir(tt.arg, tt.cwd, "/home/u", env); got != tt.want {
			t.Errorf("ResolveDir(%q, %q) = %q, want %q", tt.arg, tt.cwd, got, tt.want)
		}
	}
}
