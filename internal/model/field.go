package model

import "strings"

// FieldKind selects the normalization applied before comparison.
type FieldKind string

const (
	FieldText FieldKind = "text"
	FieldDate FieldKind = "date"
)

// FieldSpec describes one tracked certificate field.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Identity bool      `json:"identity" yaml:"identity"`
}

// NewFieldSpec derives kind and identity from the field name: any
// "date_of_*" field is a date, and names, birth/marriage/death dates are
// identity fields.
func NewFieldSpec(name string) FieldSpec {
	kind := FieldText
	if isDateField(name) {
		kind = FieldDate
	}
	return FieldSpec{Name: name, Kind: kind, Identity: IsIdentityField(name)}
}

// IsIdentityField reports whether a mismatch on name is high severity.
func IsIdentityField(name string) bool {
	return strings.HasSuffix(name, "_first_name") ||
		strings.HasSuffix(name, "_last_name") ||
		isDateField(name)
}

func isDateField(name string) bool {
	return strings.HasPrefix(name, "date_of_") || strings.Contains(name, "_date_of_")
}

// FieldRegistry is the indexed set of tracked fields per certificate type.
type FieldRegistry struct {
	byType map[CertificateType][]FieldSpec
	byKey  map[CertificateType]map[string]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups. Field order
// within a type is preserved.
func NewFieldRegistry(fields map[CertificateType][]FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		byType: make(map[CertificateType][]FieldSpec, len(fields)),
		byKey:  make(map[CertificateType]map[string]*FieldSpec, len(fields)),
	}
	for ct, specs := range fields {
		list := make([]FieldSpec, len(specs))
		copy(list, specs)
		idx := make(map[string]*FieldSpec, len(list))
		for i := range list {
			idx[list[i].Name] = &list[i]
		}
		r.byType[ct] = list
		r.byKey[ct] = idx
	}
	return r
}

// Tracked returns the tracked fields for a certificate type.
func (r *FieldRegistry) Tracked(ct CertificateType) []FieldSpec {
	if r == nil {
		return nil
	}
	return r.byType[ct]
}

// ByKey returns the spec for a field of a certificate type, or nil.
func (r *FieldRegistry) ByKey(ct CertificateType, name string) *FieldSpec {
	if r == nil {
		return nil
	}
	return r.byKey[ct][name]
}
