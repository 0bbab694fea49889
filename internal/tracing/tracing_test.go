package tracing

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/therealutkarshpriyadarshi/mediadl/internal/config"
)

func useMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()
	previous := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(previous) })
	return tracer
}

func TestInitDisabled(t *testing.T) {
	closer, err := Init(appconfig.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestSpanHelpers(t *testing.T) {
	tracer := useMockTracer(t)

	span, ctx := StartSpan(context.Background(), "extract")
	SetTag(span, "extractor", "youtube")
	LogError(span, errors.New("boom"))
	FinishSpan(span)

	assert.NotNil(t, opentracing.SpanFromContext(ctx))

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "extract", finished[0].OperationName)
	assert.Equal(t, "youtube", finished[0].Tag("extractor"))
	assert.Equal(t, true, finished[0].Tag("error"))

	// nil spans are ignored
	FinishSpan(nil)
	LogError(nil, errors.New("ignored"))
	SetTag(nil, "k", "v")
}

func TestPropagation(t *testing.T) {
	tracer := useMockTracer(t)

	client, ctx := StartSpan(context.Background(), "client")
	req := httptest.NewRequest("POST", "/download/metadata", nil)
	Inject(ctx, req)
	client.Finish()

	server, _ := StartServerSpan(req, "POST /download/metadata")
	server.Finish()

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	assert.Equal(t, finished[0].SpanContext.TraceID, finished[1].SpanContext.TraceID)
	assert.Equal(t, finished[0].SpanContext.SpanID, finished[1].ParentID)
}
