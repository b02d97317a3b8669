package model

import (
	"strconv"

	"github.com/rotisserie/eris"
)

// DepartmentCodeFromPostal derives the INSEE department code from a 5-digit
// postal code.
//
// Corsica is split on postal ranges: 20000-20199 is Corse-du-Sud (2A) and
// 20200-20699 is Haute-Corse (2B); anything else starting "20" falls back to
// the historic "20". Overseas codes ("97x", "98x") keep their first three
// digits verbatim. Everything else uses the first two digits with the leading
// zero dropped ("01000" derives "1", "75001" derives "75"), matching the
// department codes stored by the seed data.
func DepartmentCodeFromPostal(postal string) (string, error) {
	if len(postal) != 5 {
		return "", eris.Errorf("model: invalid postal code %q", postal)
	}
	for _, c := range postal {
		if c < '0' || c > '9' {
			return "", eris.Errorf("model: invalid postal code %q", postal)
		}
	}

	if postal[:2] == "20" {
		n, _ := strconv.Atoi(postal)
		switch {
		case n >= 20000 && n <= 20199:
			return "2A", nil
		case n >= 20200 && n <= 20699:
			return "2B", nil
		default:
			return "20", nil
		}
	}

	if postal[:2] == "97" || postal[:2] == "98" {
		return postal[:3], nil
	}

	n, _ := strconv.Atoi(postal[:2])
	return strconv.Itoa(n), nil
}
