package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func resetProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

// collector records the OTLP/HTTP export requests it receives.
type collector struct {
	mu       sync.Mutex
	paths    []string
	ctypes   []string
	received int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.ctypes = append(c.ctypes, r.Header.Get("Content-Type"))
	c.received++
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_ExportsSpansToCollector(t *testing.T) {
	resetProvider(t)
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	shutdown, err := Init(context.Background(), Options{
		Enabled:  true,
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "GET /api/documents")
	span.End()

	// Shutdown flushes the batcher.
	require.NoError(t, shutdown(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, 1, c.received)
	assert.Equal(t, "/v1/traces", c.paths[0])
	assert.Equal(t, "application/x-protobuf", c.ctypes[0])
}

func TestInit_AcceptsEndpointURL(t *testing.T) {
	resetProvider(t)
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	shutdown, err := Init(context.Background(), Options{Enabled: true, Endpoint: srv.URL + "/custom/traces"})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, 1, c.received)
	assert.Equal(t, "/custom/traces", c.paths[0])
}

func TestInit_ExtraProcessorsSeeSpans(t *testing.T) {
	resetProvider(t)
	srv := httptest.NewServer(&collector{})
	defer srv.Close()

	rec := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(), Options{Enabled: true, Endpoint: srv.URL}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
}
