package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/resilience"
)

// HTTPOptions configures the remote OCR service client.
type HTTPOptions struct {
	Endpoint   string
	APIKey     string
	RatePerSec float64
	Timeout    time.Duration
	Backoff    resilience.Backoff
	Breaker    *resilience.Breaker
}

// HTTPService extracts fields by posting the PDF to a remote OCR service.
type HTTPService struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	backoff  resilience.Backoff
	breaker  *resilience.Breaker
}

// NewHTTPService creates an HTTPService. Zero options default to 2
// requests/sec, a 60s timeout and a fresh breaker.
func NewHTTPService(opts HTTPOptions) *HTTPService {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker("ocr", 0, 0)
	}
	return &HTTPService{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		backoff:  opts.Backoff,
		breaker:  opts.Breaker,
	}
}

type extractRequest struct {
	CertificateType model.CertificateType `json:"certificate_type"`
	CertificateID   int64                 `json:"certificate_id"`
	Fields          []string              `json:"fields"`
	Document        string                `json:"document"`
}

type extractResponse struct {
	Text       string                           `json:"text"`
	Confidence float64                          `json:"confidence"`
	Fields     map[string]model.FieldExtraction `json:"fields"`
}

// Extract reads the PDF, posts it and converts the reply. Transient failures
// are retried; repeated ones open the breaker so later calls fail fast.
func (s *HTTPService) Extract(ctx context.Context, key model.CertificateKey, pdfPath string, tracked []model.FieldSpec) (*model.OCRExtraction, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read PDF %s", pdfPath)
	}

	names := make([]string, 0, len(tracked))
	for _, f := range tracked {
		names = append(names, f.Name)
	}
	body, err := json.Marshal(extractRequest{
		CertificateType: key.Type,
		CertificateID:   key.ID,
		Fields:          names,
		Document:        "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal request")
	}

	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*extractResponse, error) {
		return resilience.Retry(ctx, s.backoff, "ocr.extract", func(ctx context.Context) (*extractResponse, error) {
			return s.post(ctx, body)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: extract %s/%d", key.Type, key.ID)
	}

	ext := &model.OCRExtraction{
		Key:                key,
		SourcePath:         pdfPath,
		FullText:           resp.Text,
		DocumentConfidence: clampConfidence(resp.Confidence),
		Fields:             make(map[string]model.FieldExtraction, len(resp.Fields)),
	}
	for name, f := range resp.Fields {
		f.Confidence = clampConfidence(f.Confidence)
		ext.Fields[name] = f
	}

	zap.L().Debug("ocr extraction received",
		zap.String("certificate_type", string(key.Type)),
		zap.Int64("certificate_id", key.ID),
		zap.Int("fields", len(ext.Fields)),
		zap.Float64("confidence", ext.DocumentConfidence),
	)
	return ext, nil
}

func (s *HTTPService) post(ctx context.Context, body []byte) (*extractResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ocr: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: service call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{Service: "ocr", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out extractResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal response")
	}
	return &out, nil
}
