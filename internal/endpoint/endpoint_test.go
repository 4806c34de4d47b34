package endpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aitrios-ingest/internal/flow"
	"aitrios-ingest/internal/metrics"
	"aitrios-ingest/internal/model"
	"aitrios-ingest/internal/router"
)

type captureSender struct {
	mu    sync.Mutex
	msgs  []*model.Message
	err   error
	reply func(msg *model.Message) error
}

func (s *captureSender) Send(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.reply != nil {
		return s.reply(msg)
	}
	return nil
}

func (s *captureSender) last(t *testing.T) *model.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.msgs, "expected a message")
	return s.msgs[len(s.msgs)-1]
}

type fixture struct {
	e      *echo.Echo
	reg    *router.Registry
	sender *captureSender
	logs   *bytes.Buffer
}

func newFixture() *fixture {
	reg := router.New()
	e := echo.New()
	reg.Attach(e)
	return &fixture{e: e, reg: reg, sender: &captureSender{}, logs: &bytes.Buffer{}}
}

func (f *fixture) endpoint(opts Options) *Endpoint {
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = 5 << 20
	}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(opts, f.reg, f.sender, logger)
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestEndpoint_JSONBecomesStructured(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	req := httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	msg := f.sender.last(t)
	assert.NotEmpty(t, msg.ID)
	v, ok := msg.Payload.Value()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"foo": "bar"}, v)
	assert.Equal(t, http.MethodPut, msg.Req.Method())
	assert.Equal(t, "/aitrios/put", msg.Req.Path())
}

func TestEndpoint_JPEGWithoutContentTypeIsBinary(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	req := httptest.NewRequest(http.MethodPut, "/aitrios/put", bytes.NewReader(frame))
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	msg := f.sender.last(t)
	assert.Equal(t, model.KindBinary, msg.Payload.Kind())
	b, _ := msg.Payload.Bytes()
	assert.Equal(t, frame, b)
}

func TestEndpoint_MalformedJSONEmitsNoMessage(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	req := httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader(`{"foo":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := f.do(req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Empty(t, f.sender.msgs)
	assert.Contains(t, f.logs.String(), "ingest request failed")
}

func TestEndpoint_SenderErrorIs500(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("downstream unavailable")
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	rec := f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, f.logs.String(), "downstream unavailable")
}

func TestEndpoint_DownstreamResponseIsKept(t *testing.T) {
	f := newFixture()
	f.sender.reply = func(msg *model.Message) error {
		return msg.Res.Underlying().String(http.StatusAccepted, "queued "+msg.ID)
	}
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	rec := f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader("x")))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued "+f.sender.last(t).ID, rec.Body.String())
}

func TestEndpoint_MessageIDsAreUnique(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	for range 3 {
		f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", http.NoBody))
	}

	seen := map[string]bool{}
	for _, m := range f.sender.msgs {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		assert.Equal(t, model.KindEmpty, m.Payload.Kind())
	}
	assert.Len(t, seen, 3)
}

func TestEndpoint_RequestCookiesAndHeaders(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	req := httptest.NewRequest(http.MethodPut, "/aitrios/put?device=cam-01", http.NoBody)
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("X-Device-Id", "cam-01")
	f.do(req)

	msg := f.sender.last(t)
	v, ok := msg.Req.Cookie("session")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "cam-01", msg.Req.HeaderValue("x-device-id"))
	assert.Equal(t, "cam-01", msg.Req.Query().Get("device"))
	assert.Equal(t, "192.0.2.1", msg.Req.RemoteIP())
}

func TestEndpoint_MissingPath(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{})

	err := ep.Activate()

	assert.ErrorIs(t, err, ErrMissingPath)
	assert.False(t, ep.Active())
	assert.Empty(t, f.reg.Routes())
	assert.Contains(t, f.logs.String(), "missing path")
	ep.Deactivate()
}

func TestEndpoint_RoutesDisabled(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put", RoutesDisabled: true})

	require.NoError(t, ep.Activate())

	assert.False(t, ep.Active())
	assert.Empty(t, f.reg.Routes())
	assert.Contains(t, f.logs.String(), "not created")
}

func TestEndpoint_LeadingSlashAdded(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "aitrios/put"})
	require.NoError(t, ep.Activate())

	assert.Equal(t, "/aitrios/put", ep.Path())
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", http.NoBody)).Code)
}

func TestEndpoint_ActivateTwice(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	assert.ErrorIs(t, ep.Activate(), ErrAlreadyActive)
}

func TestEndpoint_PathTakenByAnotherEndpoint(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.endpoint(Options{URL: "/aitrios/put"}).Activate())

	err := f.endpoint(Options{URL: "/aitrios/put/"}).Activate()

	assert.ErrorIs(t, err, router.ErrRouteExists)
}

func TestEndpoint_DeactivateLeavesSiblings(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	other := f.endpoint(Options{URL: "/aitrios/other"})
	require.NoError(t, ep.Activate())
	require.NoError(t, other.Activate())
	_, err := f.reg.Mount(http.MethodPost, "/aitrios/put", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	require.NoError(t, err)

	ep.Deactivate()
	ep.Deactivate()

	assert.False(t, ep.Active())
	assert.Nil(t, ep.Stages())
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", http.NoBody)).Code)
	assert.Equal(t, http.StatusCreated, f.do(httptest.NewRequest(http.MethodPost, "/aitrios/put", http.NoBody)).Code)
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodPut, "/aitrios/other", http.NoBody)).Code)

	require.NoError(t, ep.Activate(), "an endpoint can be activated again")
}

func TestEndpoint_DeactivateNeverActivated(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})

	ep.Deactivate()

	assert.False(t, ep.Active())
}

func TestEndpoint_CORSPreflight(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{
		URL:  "/aitrios/put",
		CORS: &echomw.CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{http.MethodPut}},
	})
	require.NoError(t, ep.Activate())

	req := httptest.NewRequest(http.MethodOptions, "/aitrios/put", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://console.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPut)
	rec := f.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, f.reg.Routes(), router.Route{Method: http.MethodOptions, Path: "/aitrios/put"})

	ep.Deactivate()
	assert.Equal(t, []router.Route{{Method: http.MethodOptions, Path: "/aitrios/put"}}, f.reg.Routes())
}

func TestEndpoint_TimingMetricsCarryMessageID(t *testing.T) {
	f := newFixture()
	m := metrics.New("/aitrios/put")
	ep := f.endpoint(Options{URL: "/aitrios/put", Metrics: m})
	require.NoError(t, ep.Activate())

	f.do(httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader("hello")))

	msg := f.sender.last(t)
	assert.Contains(t, f.logs.String(), "msgid="+msg.ID)
	assert.Contains(t, f.logs.String(), metrics.ResponseTimeMillis)
}

func contentLengthSamples(t *testing.T, m *metrics.Metrics) (uint64, float64) {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "aitrios_ingest_response_content_length_bytes" {
			h := f.GetMetric()[0].GetHistogram()
			return h.GetSampleCount(), h.GetSampleSum()
		}
	}
	t.Fatal("aitrios_ingest_response_content_length_bytes not gathered")
	return 0, 0
}

func TestEndpoint_ResponseContentLengthRecorded(t *testing.T) {
	tests := []struct {
		name     string
		sender   func(logger *slog.Logger) Sender
		wantCode int
		wantSize float64
	}{
		{
			name: "responder echoing text",
			sender: func(logger *slog.Logger) Sender {
				return flow.NewSender(logger, nil, &flow.Responder{EchoPayload: true})
			},
			wantCode: http.StatusOK,
			wantSize: 5,
		},
		{
			name: "responder without body",
			sender: func(logger *slog.Logger) Sender {
				return flow.NewSender(logger, nil, &flow.Responder{Status: http.StatusAccepted})
			},
			wantCode: http.StatusAccepted,
			wantSize: 0,
		},
		{
			name: "legacy send through the message",
			sender: func(*slog.Logger) Sender {
				return &captureSender{reply: func(msg *model.Message) error { return msg.Res.Send("hello!") }}
			},
			wantCode: http.StatusOK,
			wantSize: 6,
		},
		{
			name: "failing sender",
			sender: func(*slog.Logger) Sender {
				return &captureSender{err: errors.New("downstream unavailable")}
			},
			wantCode: http.StatusInternalServerError,
			wantSize: float64(len(`{"error":"internal server error"}`)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			reg := router.New()
			e := echo.New()
			reg.Attach(e)
			m := metrics.New("/aitrios/put")
			ep := New(Options{URL: "/aitrios/put", MaxBodySize: 5 << 20, Metrics: m}, reg, tt.sender(logger), logger)
			require.NoError(t, ep.Activate())

			req := httptest.NewRequest(http.MethodPut, "/aitrios/put", strings.NewReader("hello"))
			req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			count, sum := contentLengthSamples(t, m)
			assert.Equal(t, uint64(1), count)
			assert.Equal(t, tt.wantSize, sum)
		})
	}
}

func TestEndpoint_StagesListed(t *testing.T) {
	f := newFixture()
	ep := f.endpoint(Options{URL: "/aitrios/put"})
	require.NoError(t, ep.Activate())

	assert.Equal(t, []string{"cookies", "pre-processing", "cors", "timing", "json", "urlencoded", "raw-body"}, ep.Stages())
}
