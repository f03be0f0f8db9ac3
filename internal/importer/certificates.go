package importer

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// FixedColumns lead every import header. The remaining columns are form
// field names.
var FixedColumns = []string{"certificate_type", "certificate_id", "registry_number", "display_name"}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open file")
	}
	return f, nil
}

// ParseCertificates converts rows, the first of which is the header, into
// certificates. Blank field cells are left out of the field map. Errors name
// the 1-based row.
func ParseCertificates(rows [][]string) ([]model.Certificate, error) {
	if len(rows) == 0 {
		return nil, eris.New("importer: missing header row")
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if len(header) < len(FixedColumns) {
		return nil, eris.Errorf("importer: header must start with %s", strings.Join(FixedColumns, ","))
	}
	for i, col := range FixedColumns {
		if header[i] != col {
			return nil, eris.Errorf("importer: column %d must be %q, got %q", i+1, col, header[i])
		}
	}

	certs := make([]model.Certificate, 0, len(rows)-1)
	for n, rec := range rows[1:] {
		line := n + 2
		if isBlank(rec) {
			continue
		}
		if len(rec) < len(header) {
			return nil, eris.Errorf("importer: row %d has %d cells, want %d", line, len(rec), len(header))
		}

		t, err := model.ParseCertificateType(rec[0])
		if err != nil {
			return nil, eris.Wrapf(err, "importer: row %d", line)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("importer: row %d: invalid certificate_id %q", line, rec[1])
		}

		cert := model.Certificate{
			Key:            model.CertificateKey{Type: t, ID: id},
			RegistryNumber: strings.TrimSpace(rec[2]),
			DisplayName:    strings.TrimSpace(rec[3]),
			Fields:         make(map[string]string),
		}
		for i := len(FixedColumns); i < len(header); i++ {
			if v := strings.TrimSpace(rec[i]); v != "" && header[i] != "" {
				cert.Fields[header[i]] = v
			}
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
