// Package gateway issues authenticated calls to the analysis backend and
// normalises their success and error shapes.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/identity"
	"github.com/sia-project/analyst/internal/logging"
)

const tracerName = "github.com/sia-project/analyst/internal/gateway"

// IdentitySource reports who is signed in right now. *auth.Session
// satisfies it.
type IdentitySource interface {
	Current() identity.Identity
}

// Gateway is stateless between calls apart from its fixed collaborators.
type Gateway struct {
	baseURL string
	session IdentitySource
	client  *http.Client
	logger  *zap.Logger
}

// New returns a gateway for the backend at baseURL. A nil client means
// http.DefaultClient; no timeout is added.
func New(baseURL string, session IdentitySource, client *http.Client, logger *zap.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	logger = logging.OrNop(logger)
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		client:  client,
		logger:  logger.Named("gateway"),
	}
}

// Result is a successful response: parsed JSON or raw text.
type Result struct {
	Status      int
	ContentType string
	body        []byte
	isJSON      bool
}

// IsJSON reports whether the backend declared a JSON body.
func (r *Result) IsJSON() bool { return r.isJSON }

// JSON returns the raw JSON value, or nil for a text response.
func (r *Result) JSON() json.RawMessage {
	if !r.isJSON {
		return nil
	}
	return json.RawMessage(r.body)
}

// Text returns the body as text, whatever its type.
func (r *Result) Text() string { return string(r.body) }

// Decode unmarshals a JSON result into v.
func (r *Result) Decode(v any) error {
	if !r.isJSON {
		return fmt.Errorf("%w: expected JSON, got %q", ErrMalformedResponse, r.ContentType)
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (g *Gateway) Get(ctx context.Context, endpoint string) (*Result, error) {
	return g.Do(ctx, JSON{Method: http.MethodGet, Endpoint: endpoint})
}

func (g *Gateway) Post(ctx context.Context, endpoint string, body any) (*Result, error) {
	return g.Do(ctx, JSON{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

func (g *Gateway) Delete(ctx context.Context, endpoint string) (*Result, error) {
	return g.Do(ctx, JSON{Method: http.MethodDelete, Endpoint: endpoint})
}

// Do issues req as the currently signed-in identity.
func (g *Gateway) Do(ctx context.Context, req Request) (*Result, error) {
	var id identity.Identity
	if g.session != nil {
		id = g.session.Current()
	}
	if id == nil {
		return nil, ErrUnauthenticated
	}

	method, endpoint := req.method(), req.endpoint()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway "+method+" "+endpoint)
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("analyst.endpoint", endpoint),
		attribute.String("analyst.request_id", requestID),
	)
	log := g.logger.With(
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	res, err := g.do(ctx, id, req, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Message(err))
		log.Debug("backend call failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
	log.Debug("backend call", zap.Int("status", res.Status), zap.Bool("json", res.isJSON))
	return res, nil
}

func (g *Gateway) do(ctx context.Context, id identity.Identity, req Request, requestID string) (*Result, error) {
	token, err := id.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	body, contentType, err := req.encode()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), g.baseURL+req.endpoint(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}
	g.logger.Debug("backend response",
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp.StatusCode, data)
	}

	ct := resp.Header.Get("Content-Type")
	res := &Result{Status: resp.StatusCode, ContentType: ct, body: data}
	if strings.Contains(ct, "application/json") {
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: invalid JSON body", ErrMalformedResponse)
		}
		res.isJSON = true
	}
	return res, nil
}
