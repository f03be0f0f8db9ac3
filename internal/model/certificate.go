package model

import (
	"strings"
	"time"
)

// CertificateType identifies one of the civil registry record kinds.
type CertificateType string

const (
	CertificateBirth           CertificateType = "birth"
	CertificateMarriage        CertificateType = "marriage"
	CertificateDeath           CertificateType = "death"
	CertificateMarriageLicense CertificateType = "marriage_license"
)

// CertificateTypes lists every supported certificate type.
var CertificateTypes = []CertificateType{
	CertificateBirth,
	CertificateMarriage,
	CertificateDeath,
	CertificateMarriageLicense,
}

// Valid reports whether t is a known certificate type.
func (t CertificateType) Valid() bool {
	for _, ct := range CertificateTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// ParseCertificateType converts user input into a CertificateType.
func ParseCertificateType(s string) (CertificateType, error) {
	t := CertificateType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", newInvalidInput("unknown certificate type %q", s)
	}
	return t, nil
}

// CertificateKey is the composite identity of a certificate.
type CertificateKey struct {
	Type CertificateType `json:"certificate_type"`
	ID   int64           `json:"certificate_id"`
}

// Certificate is the read-only view of a form-entry record.
type Certificate struct {
	Key            CertificateKey    `json:"key"`
	RegistryNumber string            `json:"registry_number,omitempty"`
	DisplayName    string            `json:"display_name,omitempty"`
	Fields         map[string]string `json:"fields"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Field returns the form value for name, or "" when unset.
func (c *Certificate) Field(name string) string {
	if c == nil || c.Fields == nil {
		return ""
	}
	return c.Fields[name]
}

// FieldExtraction is a single OCR-read value with its own confidence (0-100).
type FieldExtraction struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// OCRExtraction is one OCR pass over an uploaded PDF. Rows are immutable;
// a re-scan inserts a newer extraction rather than mutating this one.
type OCRExtraction struct {
	ID                 string                     `json:"id"`
	Key                CertificateKey             `json:"key"`
	SourcePath         string                     `json:"source_path,omitempty"`
	FullText           string                     `json:"full_text"`
	DocumentConfidence float64                    `json:"document_confidence"`
	Fields             map[string]FieldExtraction `json:"fields"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// FieldValue returns the extracted value for name. A missing field reads as
// an empty value carrying the document-level confidence.
func (e *OCRExtraction) FieldValue(name string) FieldExtraction {
	if e == nil {
		return FieldExtraction{}
	}
	if f, ok := e.Fields[name]; ok {
		return f
	}
	return FieldExtraction{Confidence: e.DocumentConfidence}
}
