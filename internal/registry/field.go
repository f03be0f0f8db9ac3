// Package registry defines which certificate fields are compared against OCR
// output for each certificate type.
package registry

import "github.com/sells-group/civil-registry/internal/model"

var builtinFields = map[model.CertificateType][]string{
	model.CertificateBirth: {
		"registry_number",
		"child_first_name", "child_middle_name", "child_last_name",
		"sex", "date_of_birth", "place_of_birth",
		"mother_first_name", "mother_middle_name", "mother_last_name",
		"father_first_name", "father_middle_name", "father_last_name",
		"date_of_marriage", "place_of_marriage",
	},
	model.CertificateMarriage: {
		"registry_number",
		"husband_first_name", "husband_middle_name", "husband_last_name",
		"husband_date_of_birth",
		"wife_first_name", "wife_middle_name", "wife_last_name",
		"wife_date_of_birth",
		"date_of_marriage", "place_of_marriage",
	},
	model.CertificateDeath: {
		"registry_number",
		"deceased_first_name", "deceased_middle_name", "deceased_last_name",
		"sex", "date_of_birth", "date_of_death", "place_of_death",
		"cause_of_death",
	},
	model.CertificateMarriageLicense: {
		"registry_number",
		"groom_first_name", "groom_middle_name", "groom_last_name",
		"groom_date_of_birth",
		"bride_first_name", "bride_middle_name", "bride_last_name",
		"bride_date_of_birth",
		"date_of_application", "place_of_application",
	},
}

// Default returns the built-in tracked field registry.
func Default() *model.FieldRegistry {
	fields := make(map[model.CertificateType][]model.FieldSpec, len(builtinFields))
	for ct, names := range builtinFields {
		specs := make([]model.FieldSpec, 0, len(names))
		for _, n := range names {
			specs = append(specs, model.NewFieldSpec(n))
		}
		fields[ct] = specs
	}
	return model.NewFieldRegistry(fields)
}
