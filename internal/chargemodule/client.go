package chargemodule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const billRunsPath = "/v3/wrls/bill-runs"

// HTTPError is a non-2xx reply from the Charge Module.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("charge module responded %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

type ClientParam struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Registry prometheus.Registerer `optional:"true"`
}

type Client struct {
	baseURL string
	http    *retryablehttp.Client
	token   *tokenSource
	breaker *breaker
	metrics *metrics
	tracer  trace.Tracer
	log     *zap.Logger
}

func NewClient(p ClientParam) *Client {
	cfg := p.Config.ChargeModule
	log := p.Log.Named("chargemodule.client")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Logger = leveledLogger{log: log}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		token: &tokenSource{
			url:          cfg.TokenURL,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			httpClient:   &http.Client{Timeout: cfg.Timeout},
			now:          time.Now,
		},
		breaker: newBreaker(breakerConfig{
			Name:             "charge-module",
			FailureThreshold: cfg.BreakerFailures,
			OpenFor:          cfg.BreakerOpenFor,
			HalfOpenRequests: cfg.BreakerHalfOpenN,
		}, log),
		metrics: newMetrics(p.Registry),
		tracer:  otel.Tracer("github.com/railzwaylabs/waterbilling/internal/chargemodule"),
		log:     log,
	}
}

var _ Gateway = (*Client)(nil)

type createBillRunRequest struct {
	Region  string `json:"region"`
	Ruleset string `json:"ruleset"`
}

type billRunEnvelope struct {
	BillRun json.RawMessage `json:"billRun"`
}

func (c *Client) CreateBillRun(ctx context.Context, region, ruleset string) (*BillRun, error) {
	body, err := c.do(ctx, "create_bill_run", http.MethodPost, billRunsPath, createBillRunRequest{Region: region, Ruleset: ruleset})
	if err != nil {
		return nil, err
	}
	var run BillRun
	if err := decodeBillRun(body, &run); err != nil {
		return nil, err
	}
	if err := validateID(run.ID); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) ApproveBillRun(ctx context.Context, billRunID string) error {
	return c.patch(ctx, "approve_bill_run", billRunID, "approve")
}

func (c *Client) SendBillRun(ctx context.Context, billRunID string) error {
	return c.patch(ctx, "send_bill_run", billRunID, "send")
}

func (c *Client) GenerateBillRun(ctx context.Context, billRunID string) error {
	return c.patch(ctx, "generate_bill_run", billRunID, "generate")
}

func (c *Client) GetBillRun(ctx context.Context, billRunID string) (*BillRunSummary, error) {
	if err := validateID(billRunID); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, "get_bill_run", http.MethodGet, billRunsPath+"/"+url.PathEscape(billRunID), nil)
	if err != nil {
		return nil, err
	}
	var summary BillRunSummary
	if err := decodeBillRun(body, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) DeleteBillRun(ctx context.Context, billRunID string) error {
	if err := validateID(billRunID); err != nil {
		return err
	}
	_, err := c.do(ctx, "delete_bill_run", http.MethodDelete, billRunsPath+"/"+url.PathEscape(billRunID), nil)
	return err
}

func (c *Client) DeleteInvoiceFromBillRun(ctx context.Context, billRunID, invoiceID string) error {
	if err := validateID(billRunID); err != nil {
		return err
	}
	if err := validateID(invoiceID); err != nil {
		return err
	}
	path := fmt.Sprintf("%s/%s/invoices/%s", billRunsPath, url.PathEscape(billRunID), url.PathEscape(invoiceID))
	_, err := c.do(ctx, "delete_invoice", http.MethodDelete, path, nil)
	return err
}

// CreateTransaction returns the raw reply so the ledger can interpret it.
func (c *Client) CreateTransaction(ctx context.Context, billRunID string, req TransactionRequest) (json.RawMessage, error) {
	if err := validateID(billRunID); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, "create_transaction", http.MethodPost, billRunsPath+"/"+url.PathEscape(billRunID)+"/transactions", req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) patch(ctx context.Context, op, billRunID, action string) error {
	if err := validateID(billRunID); err != nil {
		return err
	}
	_, err := c.do(ctx, op, http.MethodPatch, billRunsPath+"/"+url.PathEscape(billRunID)+"/"+action, nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (body []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "chargemodule."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	started := time.Now()
	defer func() {
		c.metrics.observe(op, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err = c.breaker.execute(func() ([]byte, error) {
		return c.send(ctx, method, path, payload)
	})
	if err != nil {
		c.log.Warn("charge module call failed", zap.String("operation", op), zap.Error(err))
		return nil, ierr.External(err, "charge module "+op)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.token.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func decodeBillRun(body []byte, out any) error {
	var env billRunEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.BillRun) == 0 {
		return ierr.InvalidResponse("Charge Module returned an unrecognised bill run response")
	}
	if err := json.Unmarshal(env.BillRun, out); err != nil {
		return ierr.InvalidResponse("Charge Module returned an unrecognised bill run response")
	}
	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ierr.Validation("invalid charge module id %q", id)
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *zap.Logger
}

func (l leveledLogger) fields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error(msg, l.fields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, l.fields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, l.fields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, l.fields(kv)...) }
