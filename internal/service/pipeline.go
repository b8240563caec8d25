// Package service contains the request admission pipeline.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/rpcgate/internal/ctxkey"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/gate"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
	"github.com/Sentinel-Gate/rpcgate/pkg/rpc"
)

// TokenChecker verifies a static bearer token against its stored hash.
// Satisfied by *auth.TokenVerifier.
type TokenChecker interface {
	Verify(rawToken, storedHash string) error
}

// SignatureChecker verifies an HMAC request signature.
// Satisfied by *auth.SignatureVerifier.
type SignatureChecker interface {
	Verify(ctx context.Context, body []byte, h auth.SignedHeaders, cfg auth.SignatureConfig) error
}

// PayloadScanner checks the structure of a parsed body.
// Satisfied by validation.Guard.
type PayloadScanner interface {
	Scan(value any, limits validation.Limits) error
}

// Pipeline runs the admission gates for one request in cost-ascending order:
// rate limit, static token, body size, signature, payload guard.
// The first failing gate ends the request; later gates never run.
type Pipeline struct {
	limiter    ratelimit.RateLimiter
	tokens     TokenChecker
	signatures SignatureChecker
	guard      PayloadScanner
	metrics    gate.MetricsSink
	tracer     trace.Tracer
	logger     *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMetrics sets the sink notified of rate limit and auth rejections.
func WithMetrics(sink gate.MetricsSink) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = sink
	}
}

// WithTracer sets the tracer used for admission spans.
func WithTracer(tracer trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// WithPipelineLogger sets the fallback logger used when the request context
// carries none.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithScanner replaces the payload scanner.
func WithScanner(s PayloadScanner) PipelineOption {
	return func(p *Pipeline) {
		p.guard = s
	}
}

// NewPipeline creates a pipeline over the shared limiter and verifiers.
func NewPipeline(limiter ratelimit.RateLimiter, tokens TokenChecker, signatures SignatureChecker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		limiter:    limiter,
		tokens:     tokens,
		signatures: signatures,
		guard:      validation.Guard{},
		metrics:    gate.NopSink{},
		tracer:     otel.Tracer("rpcgate/pipeline"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// admission tracks one request through the stages.
type admission struct {
	adm    *gate.Admission
	span   trace.Span
	logger *slog.Logger
}

func (a *admission) advance(to gate.Stage) {
	a.adm.Stage = to
	a.span.AddEvent(to.String())
	a.logger.Debug("pipeline stage", "stage", to.String())
}

func (a *admission) reject(rej *gate.Rejection) (*gate.Admission, error) {
	from := a.adm.Stage
	a.adm.Stage = gate.StageRejected
	a.span.AddEvent(gate.StageRejected.String(), trace.WithAttributes(
		attribute.String("rejection.kind", string(rej.Kind)),
		attribute.String("rejection.code", rej.Code),
		attribute.String("rejection.after_stage", from.String()),
	))
	a.span.SetStatus(codes.Error, string(rej.Kind))
	a.logger.Debug("pipeline stage",
		"stage", gate.StageRejected.String(),
		"after", from.String(),
		"code", rej.Code,
	)
	return nil, rej
}

// Admit runs every gate against req. It returns the admission on success
// or a *gate.Rejection for the first failing gate.
func (p *Pipeline) Admit(ctx context.Context, req *gate.Request) (*gate.Admission, error) {
	settings := req.Settings
	if settings == nil {
		settings = gate.DefaultSettings()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.admit", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.Path),
	))
	defer span.End()

	a := &admission{
		adm:    &gate.Admission{Stage: gate.StageStart},
		span:   span,
		logger: ctxkey.Logger(ctx, p.logger),
	}

	if rej := p.checkRate(ctx, req, settings, a.logger); rej != nil {
		return a.reject(rej)
	}
	a.advance(gate.StageRateChecked)

	if rej := p.checkStaticToken(req, settings, a.logger); rej != nil {
		return a.reject(rej)
	}
	a.advance(gate.StageStaticAuthChecked)

	raw, rej := readBody(req, settings.MaxBodyBytes)
	if rej != nil {
		return a.reject(rej)
	}
	a.adm.RawBody = raw
	a.advance(gate.StageBodySizeChecked)

	if rej := p.checkSignature(ctx, raw, req, settings, a.logger); rej != nil {
		return a.reject(rej)
	}
	a.advance(gate.StageSignatureVerified)

	if rej := p.checkPayload(a, req, settings); rej != nil {
		return a.reject(rej)
	}
	a.advance(gate.StageGuardChecked)

	if a.adm.RPCMethod != "" {
		span.SetAttributes(attribute.String("rpc.method", a.adm.RPCMethod))
	}
	span.SetStatus(codes.Ok, "")
	return a.adm, nil
}

func (p *Pipeline) checkRate(ctx context.Context, req *gate.Request, s *gate.Settings, logger *slog.Logger) *gate.Rejection {
	if !s.RateLimitEnabled || s.RatePolicy.Limit <= 0 {
		return nil
	}

	key := ratelimit.FormatKey(ratelimit.KeyTypeClient, req.ClientID)
	res, err := p.limiter.Allow(ctx, key, s.RatePolicy)
	if err != nil {
		if s.RateFailOpen {
			logger.Warn("rate limit check failed, allowing request", "error", err)
			return nil
		}
		logger.Error("rate limit check failed, rejecting request", "error", err)
		return gate.StoreUnavailable(err)
	}
	if !res.Allowed {
		p.metrics.RecordRateLimited()
		logger.Warn("client rate limited",
			"client", req.ClientID,
			"retry_after", res.RetryAfter,
		)
		return gate.RateLimited(res.RetryAfter)
	}
	return nil
}

func (p *Pipeline) checkStaticToken(req *gate.Request, s *gate.Settings, logger *slog.Logger) *gate.Rejection {
	if !s.StaticAuthRequired {
		return nil
	}
	if req.BearerToken == "" {
		p.metrics.RecordAuthFailure(string(gate.KindUnauthorized))
		return gate.Unauthorized()
	}

	err := p.tokens.Verify(req.BearerToken, s.StaticTokenHash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrInvalidToken):
		p.metrics.RecordAuthFailure(string(gate.KindUnauthorized))
		return gate.Unauthorized()
	default:
		// The configured hash itself is unusable.
		logger.Error("static token verification failed", "error", err)
		return gate.Internal(err)
	}
}

// readBody reads at most limit bytes. A declared length over the limit is
// refused without reading anything.
func readBody(req *gate.Request, limit int64) ([]byte, *gate.Rejection) {
	if limit > 0 && req.ContentLength > limit {
		return nil, gate.PayloadTooLarge(limit)
	}
	if req.Body == nil {
		return nil, nil
	}

	r := req.Body
	if limit > 0 {
		r = io.LimitReader(req.Body, limit+1)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, gate.Internal(fmt.Errorf("read body: %w", err))
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, gate.PayloadTooLarge(limit)
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) checkSignature(ctx context.Context, raw []byte, req *gate.Request, s *gate.Settings, logger *slog.Logger) *gate.Rejection {
	err := p.signatures.Verify(ctx, raw, req.Signed, s.Signature)
	if err == nil {
		return nil
	}

	var authErr *auth.Error
	switch {
	case errors.As(err, &authErr):
		p.metrics.RecordAuthFailure(string(authErr.Code))
		if authErr.Code == auth.CodeWeakSecret {
			logger.Error("signing secret is too short, rejecting signed traffic")
		} else {
			logger.Warn("signature verification failed", "code", authErr.Code, "client", req.ClientID)
		}
		return gate.AuthFailed(authErr)
	case errors.Is(err, auth.ErrNonceStore):
		logger.Error("nonce store unavailable, rejecting request", "error", err)
		return gate.StoreUnavailable(err)
	default:
		return gate.Internal(err)
	}
}

func (p *Pipeline) checkPayload(a *admission, req *gate.Request, s *gate.Settings) *gate.Rejection {
	// The declared content type is ignored: every body that decodes as
	// JSON is scanned.
	raw := a.adm.RawBody
	if len(raw) == 0 {
		return nil
	}

	if err := validation.CheckNesting(raw, s.Guard); err != nil {
		return violationRejection(err)
	}

	parsed, err := validation.Parse(raw)
	if err != nil {
		// Not a guard concern: the handler rejects malformed bodies itself.
		a.logger.Debug("body is not valid JSON, forwarding unparsed", "content_type", req.ContentType, "error", err)
		return nil
	}
	if err := p.guard.Scan(parsed, s.Guard); err != nil {
		return violationRejection(err)
	}

	a.adm.Parsed = parsed
	a.adm.RPCMethod = rpc.Inspect(raw).Method
	return nil
}

func violationRejection(err error) *gate.Rejection {
	var v *validation.Violation
	if errors.As(err, &v) {
		return gate.ValidationFailed(v)
	}
	return gate.Internal(err)
}
