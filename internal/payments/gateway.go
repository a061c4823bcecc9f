package payments

import "context"

// SessionPaid is the gateway payment status of a settled checkout session.
const SessionPaid = "paid"

// SessionParams describes a hosted checkout session for one appointment.
type SessionParams struct {
	AmountCents   int64
	ProductName   string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

// Session is the subset of a gateway checkout session the lifecycle needs.
type Session struct {
	ID            string
	URL           string
	PaymentStatus string
}

// Gateway creates and inspects hosted checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, params SessionParams) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}
