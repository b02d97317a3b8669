// Package transform turns raw CSV rows into deduplicated intermediate records.
package transform

import "strings"

// CleanString trims surrounding whitespace. Empty after trimming means the
// value is treated as absent.
func CleanString(value string) string {
	return strings.TrimSpace(value)
}

// NormalizeName puts a region, department, or commune name in its canonical
// stored form: trimmed and uppercased.
func NormalizeName(name string) string {
	return strings.ToUpper(CleanString(name))
}

// NormalizePostalCode trims and left-pads a postal code with zeros to exactly
// five characters ("6000" becomes "06000").
func NormalizePostalCode(code string) string {
	code = CleanString(code)
	for len(code) > 0 && len(code) < 5 {
		code = "0" + code
	}
	return code
}
