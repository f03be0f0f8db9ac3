package ocr

import (
	"strings"
	"unicode"

	"github.com/sells-group/civil-registry/internal/model"
)

// ParseLabeledFields finds "Label: value" lines whose label spells a tracked
// field name ("Husband Last Name" for husband_last_name). Labels compare
// case-insensitively with punctuation folded to spaces. The first
// non-empty value for a field wins.
func ParseLabeledFields(text string, tracked []model.FieldSpec, confidence float64) map[string]model.FieldExtraction {
	byLabel := make(map[string]string, len(tracked))
	for _, f := range tracked {
		byLabel[foldLabel(f.Name)] = f.Name
	}

	out := make(map[string]model.FieldExtraction)
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, known := byLabel[foldLabel(label)]
		if !known {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, seen := out[name]; seen {
			continue
		}
		out[name] = model.FieldExtraction{Value: value, Confidence: confidence}
	}
	return out
}

func foldLabel(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
