package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/tollkeeper/internal/model"
)

var (
	lineSeparators = regexp.MustCompile(`[\r\n]+`)
	fileSeparators = regexp.MustCompile(`[\n\r\\/|]+`)
	bareInteger    = regexp.MustCompile(`^\d+$`)

	prefixedCode  = regexp.MustCompile(`(?i)^(ПВП|М\d+|РВП)[-\s]`)
	embeddedCode  = regexp.MustCompile(`(?i)ПВП[-\s]\d+`)
	motorwayCode  = regexp.MustCompile(`^М\d+-\d+`)
	bareTollPoint = regexp.MustCompile(`^\d+[A-Za-z]?$`)
)

// ExtractLocation splits the portal "road" cell into the toll point code and the
// vehicle class. The first non-empty line is the code; the first bare integer on
// a later line is the class. An empty cell yields model.UnknownLocation.
func ExtractLocation(road string) (string, *int) {
	parts := splitNonEmpty(lineSeparators, road)
	if len(parts) == 0 {
		return model.UnknownLocation, nil
	}

	code := collapseSpaces(parts[0])
	for _, part := range parts[1:] {
		if !bareInteger.MatchString(part) {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			return code, &n
		}
	}
	return code, nil
}

// FileLocationCode extracts the toll point code from an exported report cell.
// Reports use several separators and sometimes carry the bare point number, which
// is prefixed with "ПВП-" to match the codes the portal renders.
func FileLocationCode(road string) string {
	parts := splitNonEmpty(fileSeparators, road)
	if len(parts) == 0 {
		return model.UnknownLocation
	}

	for _, part := range parts {
		part = collapseSpaces(part)
		if prefixedCode.MatchString(part) {
			return part
		}
		if embeddedCode.MatchString(part) || motorwayCode.MatchString(part) {
			return part
		}
		if bareTollPoint.MatchString(part) {
			return "ПВП-" + part
		}
	}
	return collapseSpaces(parts[0])
}

func splitNonEmpty(sep *regexp.Regexp, s string) []string {
	var parts []string
	for _, p := range sep.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
