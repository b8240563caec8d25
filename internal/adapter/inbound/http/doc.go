// Package http is the inbound HTTP adapter for rpcgate.
//
// # Usage
//
//	handler := http.NewHandler(pipeline, forwarder,
//	    http.WithSettings(source),
//	    http.WithThrottle(throttle),
//	    http.WithMetricsSink(metrics),
//	)
//	transport := http.NewHTTPTransport(handler,
//	    http.WithAddr(":8080"),
//	    http.WithHealthChecker(health),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	GET /health   - component checks, 503 when a shared store is unreachable
//	GET /metrics  - Prometheus exposition
//	/*            - every other path goes through the admission pipeline
//
// # Layers
//
// Requests pass through these layers, outermost first:
//
//  1. Handler - settings snapshot, request id, security headers, panic
//     recovery, metrics and the single access log record
//  2. CORSMiddleware - origin decision, answers preflights
//  3. throttle - streaming connection cap for configured path prefixes
//  4. admission - rate limit, static token, body size, signature, payload guard
//
// Admitted requests reach the downstream handler with the buffered body
// and the *gate.Admission in their context.
//
// # Request Headers
//
//	Authorization: Bearer <token>        - static token, when required
//	X-Signature: sha256=<hex>            - HMAC of timestamp, nonce and body
//	X-Signature-Timestamp: <unix secs>
//	X-Signature-Nonce: <nonce>
//	X-Request-ID: <id>                   - echoed when well formed
package http
