package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool and reads
// field values from "Label: value" lines. The tool reports no confidence, so
// every value gets the configured one.
type PdfToText struct {
	binPath    string
	confidence float64
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used; a non-positive confidence defaults to 70.
func NewPdfToText(binPath string, confidence float64) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	if confidence <= 0 {
		confidence = 70
	}
	return &PdfToText{binPath: binPath, confidence: clampConfidence(confidence)}
}

// Extract runs pdftotext -layout on the given PDF and parses its output.
func (p *PdfToText) Extract(ctx context.Context, key model.CertificateKey, pdfPath string, tracked []model.FieldSpec) (*model.OCRExtraction, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	text := stdout.String()
	ext := &model.OCRExtraction{
		Key:        key,
		SourcePath: pdfPath,
		FullText:   text,
		Fields:     ParseLabeledFields(text, tracked, p.confidence),
	}
	if len(bytes.TrimSpace(stdout.Bytes())) > 0 {
		ext.DocumentConfidence = p.confidence
	}
	return ext, nil
}
