package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
)

// Signature request headers.
const (
	SignatureHeader          = "X-Signature"
	SignatureTimestampHeader = "X-Signature-Timestamp"
	SignatureNonceHeader     = "X-Signature-Nonce"
)

// Admitter runs the admission gates. Satisfied by *service.Pipeline.
type Admitter interface {
	Admit(ctx context.Context, req *gate.Request) (*gate.Admission, error)
}

type settingsContextKey struct{}

func settingsFromContext(ctx context.Context) *gate.Settings {
	if s, ok := ctx.Value(settingsContextKey{}).(*gate.Settings); ok && s != nil {
		return s
	}
	return gate.DefaultSettings()
}

// requestInfo collects what the access log needs from inner layers.
type requestInfo struct {
	client    string
	rpcMethod string
	stage     gate.Stage
}

type requestInfoKey struct{}

func infoFromContext(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// Handler fronts the downstream handler with the admission pipeline.
//
// Every request, admitted or rejected, gets the security headers, a
// correlation id, one metrics observation and exactly one access log record.
// Panics in the downstream handler are recovered and answered with 500.
type Handler struct {
	pipeline Admitter
	next     http.Handler
	settings gate.SettingsSource
	throttle *gate.Throttle
	metrics  gate.MetricsSink
	logger   *slog.Logger
	now      func() time.Time

	inner http.Handler
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSettings sets the settings source read once per request.
func WithSettings(src gate.SettingsSource) HandlerOption {
	return func(h *Handler) {
		h.settings = src
	}
}

// WithThrottle sets the shared streaming connection throttle.
func WithThrottle(t *gate.Throttle) HandlerOption {
	return func(h *Handler) {
		h.throttle = t
	}
}

// WithMetricsSink sets the sink notified once per request.
func WithMetricsSink(sink gate.MetricsSink) HandlerOption {
	return func(h *Handler) {
		h.metrics = sink
	}
}

// WithHandlerLogger sets the base logger for access records.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler that forwards admitted requests to next.
func NewHandler(pipeline Admitter, next http.Handler, opts ...HandlerOption) *Handler {
	h := &Handler{
		pipeline: pipeline,
		next:     next,
		settings: gate.StaticSettings{},
		throttle: gate.NewThrottle(),
		metrics:  gate.NopSink{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	// CORS first so preflights never reach the throttle or the gates.
	h.inner = CORSMiddleware(h.throttleMiddleware(http.HandlerFunc(h.admit)))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	settings := h.settings.Current()

	id := requestID(r)
	info := &requestInfo{
		client: clientID(extractRealIP(r, settings.TrustProxyHeaders), settings.ClientIDSalt),
	}
	logger := h.logger.With("request_id", id)

	ctx := context.WithValue(r.Context(), RequestIDKey, id)
	ctx = context.WithValue(ctx, LoggerKey, logger)
	ctx = context.WithValue(ctx, settingsContextKey{}, settings)
	ctx = context.WithValue(ctx, requestInfoKey{}, info)
	r = r.WithContext(ctx)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	setSecurityHeaders(rec.Header())
	rec.Header().Set(RequestIDHeader, id)

	defer func() {
		p := recover()
		if p != nil {
			if !errAbort(p) {
				logger.Error("handler panic recovered", "panic", fmt.Sprint(p), "stage", info.stage.String())
			}
			if !rec.wroteHeader && !errAbort(p) {
				writeRejection(rec, r, gate.Internal(fmt.Errorf("panic: %v", p)))
			} else {
				// Status already sent.
				rec.status = http.StatusInternalServerError
			}
		}

		duration := h.now().Sub(start)
		h.metrics.RecordRequest(r.Method, rec.status, duration)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"client", info.client,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
			"correlation_id", id,
		}
		if info.rpcMethod != "" {
			attrs = append(attrs, "rpc_method", info.rpcMethod)
		}
		logger.Info("access", attrs...)

		if p != nil && errAbort(p) {
			panic(p)
		}
	}()

	h.inner.ServeHTTP(rec, r)
}

// throttleMiddleware caps concurrent connections on streaming routes. The
// slot is released on every exit path, including panics further down.
func (h *Handler) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		settings := settingsFromContext(r.Context())
		if !settings.IsStreaming(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		slot, err := h.throttle.Acquire(settings.MaxStreamingConnections)
		if err != nil {
			LoggerFromContext(r.Context()).Warn("streaming connection limit reached",
				"active", h.throttle.Active(),
				"max", settings.MaxStreamingConnections,
			)
			writeRejection(w, r, err)
			return
		}
		defer slot.Release()

		next.ServeHTTP(w, r)
	})
}

// admit runs the pipeline and forwards admitted requests.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := infoFromContext(ctx)

	adm, err := h.pipeline.Admit(ctx, &gate.Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		ClientID:      info.client,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Body:          r.Body,
		BearerToken:   bearerToken(r),
		Signed: auth.SignedHeaders{
			Signature: r.Header.Get(SignatureHeader),
			Timestamp: r.Header.Get(SignatureTimestampHeader),
			Nonce:     r.Header.Get(SignatureNonceHeader),
		},
		Settings: settingsFromContext(ctx),
	})
	if err != nil {
		info.stage = gate.StageRejected
		writeRejection(w, r, err)
		return
	}

	info.rpcMethod = adm.RPCMethod
	adm.Stage = gate.StageForwarded
	info.stage = adm.Stage

	fwd := r.Clone(gate.WithAdmission(ctx, adm))
	fwd.Body = io.NopCloser(bytes.NewReader(adm.RawBody))
	fwd.ContentLength = int64(len(adm.RawBody))
	fwd.Header.Set(RequestIDHeader, RequestIDFromContext(ctx))

	h.next.ServeHTTP(newUpstreamWriter(w), fwd)

	adm.Stage = gate.StageComplete
	info.stage = adm.Stage
}

// rejectionBody is the JSON shape of every rejection.
type rejectionBody struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Path              string `json:"path,omitempty"`
	Limit             *int64 `json:"limit,omitempty"`
	Actual            *int64 `json:"actual,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

// writeRejection maps err to its JSON rejection. Errors that are not a
// *gate.Rejection become internal_error without exposing their text.
func writeRejection(w http.ResponseWriter, r *http.Request, err error) {
	rej, ok := gate.AsRejection(err)
	if !ok {
		LoggerFromContext(r.Context()).Error("unexpected admission error", "error", err)
		rej = gate.Internal(err)
	}

	body := rejectionBody{
		Error:     string(rej.Kind),
		Code:      rej.Code,
		Message:   rej.Message,
		RequestID: RequestIDFromContext(r.Context()),
	}

	switch rej.Kind {
	case gate.KindRateLimited:
		secs := rej.RetryAfterSeconds()
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		body.RetryAfterSeconds = secs
	case gate.KindUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="rpcgate"`)
	case gate.KindPayloadTooLarge:
		limit := rej.Limit
		body.Limit = &limit
	case gate.KindValidationError:
		if v := rej.Violation; v != nil {
			body.Path = v.Path
			if v.Limit > 0 || v.Actual > 0 {
				limit, actual := int64(v.Limit), int64(v.Actual)
				body.Limit, body.Actual = &limit, &actual
			}
		}
	}

	writeJSON(w, rej.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
// This is required for streaming responses to work through the handler.
func (r *statusRecorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// upstreamWriter keeps the gateway's CORS, security and request id headers
// authoritative over whatever the upstream response carries.
type upstreamWriter struct {
	http.ResponseWriter
	owned http.Header
	sent  bool
}

func newUpstreamWriter(w http.ResponseWriter) *upstreamWriter {
	h := w.Header()
	owned := http.Header{}
	for _, kv := range securityHeaders {
		owned[kv[0]] = nil
	}
	owned[RequestIDHeader] = nil
	for name := range h {
		if strings.HasPrefix(name, "Access-Control-") {
			owned[name] = nil
		}
	}
	for name := range owned {
		if v := h.Values(name); len(v) > 0 {
			owned[name] = append([]string(nil), v...)
		} else {
			delete(owned, name)
		}
	}
	return &upstreamWriter{ResponseWriter: w, owned: owned}
}

// restore drops upstream CORS headers and resets gateway-owned ones.
func (u *upstreamWriter) restore() {
	h := u.ResponseWriter.Header()
	for name := range h {
		if strings.HasPrefix(name, "Access-Control-") {
			if _, ok := u.owned[name]; !ok {
				delete(h, name)
			}
		}
	}
	for name, v := range u.owned {
		h[name] = append([]string(nil), v...)
	}
}

func (u *upstreamWriter) WriteHeader(code int) {
	if !u.sent {
		u.restore()
		u.sent = code >= http.StatusOK
	}
	u.ResponseWriter.WriteHeader(code)
}

func (u *upstreamWriter) Write(b []byte) (int, error) {
	if !u.sent {
		u.WriteHeader(http.StatusOK)
	}
	return u.ResponseWriter.Write(b)
}

func (u *upstreamWriter) Flush() {
	if !u.sent {
		u.WriteHeader(http.StatusOK)
	}
	if f, ok := u.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (u *upstreamWriter) Unwrap() http.ResponseWriter {
	return u.ResponseWriter
}

var _ http.Handler = (*Handler)(nil)

// errAbort reports whether a recovered panic is the net/http abort signal.
func errAbort(p any) bool {
	err, ok := p.(error)
	return ok && errors.Is(err, http.ErrAbortHandler)
}
