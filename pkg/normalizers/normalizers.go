// Package normalizers provides text normalization for product matching
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("remove_punctuation", RemovePunctuation)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("name_key", NameKey)
	Register("sku", SKU)
	Register("source", Source)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

// RemovePunctuation replaces punctuation and symbols with spaces so that
// "iPhone-14" splits into two words.
func RemovePunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
}

// CollapseWhitespace trims and squeezes runs of whitespace into one space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NameKey is the key used for exact name comparison: case and whitespace insensitive
func NameKey(s string) string {
	return CollapseWhitespace(strings.ToLower(s))
}

// SKU uppercases and strips whitespace from an external SKU
func SKU(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Source lowercases and trims a source system name
func Source(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
