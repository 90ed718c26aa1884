package normalize

import "strings"

// canonicalTransponderDigits is the length of a full transponder number.
const canonicalTransponderDigits = 19

// minTransponderDigits is the shortest digit run still treated as a transponder.
const minTransponderDigits = 10

// Transponder canonicalizes a transponder number so that the same device renders
// identically regardless of the whitespace or line breaks around it.
// 19 digits become "DDDDDDD DDDD DDDD DDDD"; 10 to 18 or more than 19 digits are
// grouped by four; anything shorter yields "". The function is idempotent.
func Transponder(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == canonicalTransponderDigits {
		return digits[:7] + " " + digits[7:11] + " " + digits[11:15] + " " + digits[15:]
	}
	if len(digits) < minTransponderDigits {
		return ""
	}

	groups := make([]string, 0, len(digits)/4+1)
	for i := 0; i < len(digits); i += 4 {
		end := min(i+4, len(digits))
		groups = append(groups, digits[i:end])
	}
	return strings.Join(groups, " ")
}
