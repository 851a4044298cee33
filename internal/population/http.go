package population

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type HTTPProcessorParam struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// HTTPProcessor calls the charge processing service over HTTP.
type HTTPProcessor struct {
	baseURL  string
	http     *retryablehttp.Client
	validate *validator.Validate
	tracer   trace.Tracer
	log      *zap.Logger
}

func NewHTTPProcessor(p HTTPProcessorParam) *HTTPProcessor {
	cfg := p.Config.Processor
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPProcessor{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     rc,
		validate: validator.New(),
		tracer:   otel.Tracer("github.com/railzwaylabs/waterbilling/internal/population"),
		log:      p.Log.Named("population.processor"),
	}
}

var _ Processor = (*HTTPProcessor)(nil)

func (p *HTTPProcessor) Process(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := p.tracer.Start(ctx, "population.process",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("batch.id", req.BatchID.String()),
			attribute.String("batch.type", string(req.Type)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/batches/%s/charges", p.baseURL, req.BatchID)
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, ierr.External(err, "charge processor request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		p.log.Warn("charge processor rejected batch",
			zap.String("batch_id", req.BatchID.String()),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, ierr.External(fmt.Errorf("charge processor responded %d", resp.StatusCode), "charge processor request")
	}

	var out Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, ierr.InvalidResponse("Charge processor returned an unreadable result for batch %s", req.BatchID)
	}
	if err := p.validate.Struct(&out); err != nil {
		return nil, ierr.InvalidResponse("Charge processor returned an invalid result for batch %s: %v", req.BatchID, err)
	}
	return &out, nil
}
