package gate

import (
	"context"
	"io"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

// Request is the transport-neutral input of the admission pipeline.
type Request struct {
	Method string
	Path   string

	// ClientID is the salted hash of the client address, never the address.
	ClientID string

	ContentType string
	// ContentLength is the declared body length, or -1 when unknown.
	ContentLength int64
	Body          io.Reader

	// BearerToken is the token from the Authorization header, if any.
	BearerToken string

	Signed auth.SignedHeaders

	// Settings is the snapshot this request is judged against.
	Settings *Settings
}

// Admission is the result of a request that passed every gate.
type Admission struct {
	// RawBody is the body exactly as received.
	RawBody []byte
	// Parsed is the decoded JSON body, or nil when the body is not JSON or
	// does not parse. The downstream handler decides what to do then.
	Parsed any
	// RPCMethod is the JSON-RPC method name when the body is a request.
	RPCMethod string
	// Stage is the last stage reached.
	Stage Stage
}

type admissionKey struct{}

// WithAdmission returns a context carrying a.
func WithAdmission(ctx context.Context, a *Admission) context.Context {
	return context.WithValue(ctx, admissionKey{}, a)
}

// AdmissionFromContext returns the admission stored by WithAdmission.
func AdmissionFromContext(ctx context.Context) (*Admission, bool) {
	a, ok := ctx.Value(admissionKey{}).(*Admission)
	return a, ok && a != nil
}
