package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/civil-registry/internal/model"
)

type fileField struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Identity *bool  `yaml:"identity"`
}

// LoadFieldsFromFile reads a YAML document mapping certificate type to a list
// of tracked fields and returns an indexed FieldRegistry. Types present in the
// file replace the built-in list; absent types keep it. Kind and identity
// default to what the field name implies.
//
//	birth:
//	  - name: child_first_name
//	  - name: date_registered
//	    kind: date
//	    identity: false
func LoadFieldsFromFile(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read fields file")
	}

	var raw map[string][]fileField
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal fields file")
	}

	fields := make(map[model.CertificateType][]model.FieldSpec, len(builtinFields))
	for ct, names := range builtinFields {
		for _, n := range names {
			fields[ct] = append(fields[ct], model.NewFieldSpec(n))
		}
	}

	for typeName, list := range raw {
		ct, err := model.ParseCertificateType(typeName)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: fields file %s", path)
		}
		specs := make([]model.FieldSpec, 0, len(list))
		seen := make(map[string]bool, len(list))
		for _, f := range list {
			if f.Name == "" {
				return nil, eris.Errorf("registry: %s: field without name", ct)
			}
			if seen[f.Name] {
				return nil, eris.Errorf("registry: %s: duplicate field %q", ct, f.Name)
			}
			seen[f.Name] = true

			spec := model.NewFieldSpec(f.Name)
			switch model.FieldKind(f.Kind) {
			case "":
			case model.FieldText, model.FieldDate:
				spec.Kind = model.FieldKind(f.Kind)
			default:
				return nil, eris.Errorf("registry: %s.%s: unknown kind %q", ct, f.Name, f.Kind)
			}
			if f.Identity != nil {
				spec.Identity = *f.Identity
			}
			specs = append(specs, spec)
		}
		fields[ct] = specs
	}

	return model.NewFieldRegistry(fields), nil
}

// Load returns the registry from path, or the built-in registry when path is
// empty.
func Load(path string) (*model.FieldRegistry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFieldsFromFile(path)
}
