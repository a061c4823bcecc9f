package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var stripeTracer = otel.Tracer("clinic.internal.payments.stripe")

const dryRunPrefix = "cs_dryrun_"

// StripeGateway talks to Stripe Checkout through stripe-go.
type StripeGateway struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool

	api *client.API
}

func NewStripeGateway(secretKey string, logger *logging.Logger) *StripeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	g := &StripeGateway{
		secretKey:  secretKey,
		baseURL:    stripe.APIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	g.init()
	return g
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (g *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
		g.init()
	}
	return g
}

// WithDryRun returns fake sessions without calling Stripe. Dry-run sessions
// always report as paid.
func (g *StripeGateway) WithDryRun(enabled bool) *StripeGateway {
	g.dryRun = enabled
	return g
}

func (g *StripeGateway) init() {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(g.baseURL),
		HTTPClient:        g.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	})
	g.api = client.New(g.secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func (g *StripeGateway) CreateSession(ctx context.Context, p SessionParams) (*Session, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.Int64("clinic.amount_cents", p.AmountCents))

	if g.dryRun {
		fakeID := dryRunPrefix + uuid.NewString()[:8]
		g.logger.Info("stripe dry run: skipping checkout session creation", "amount_cents", p.AmountCents)
		return &Session{ID: fakeID, URL: "https://checkout.stripe.com/dry-run/" + fakeID}, nil
	}

	name := p.ProductName
	if strings.TrimSpace(name) == "" {
		name = "Appointment Payment"
	}
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount:  stripe.Int64(p.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
			},
			Quantity: stripe.Int64(1),
		}},
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.SuccessURL != "" {
		params.SuccessURL = stripe.String(p.SuccessURL)
	}
	if p.CancelURL != "" {
		params.CancelURL = stripe.String(p.CancelURL)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: stripe create session: %w", err)
	}
	if s.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}
	return &Session{ID: s.ID, URL: s.URL, PaymentStatus: string(s.PaymentStatus)}, nil
}

func (g *StripeGateway) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.get_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.session_id", sessionID))

	if g.dryRun && strings.HasPrefix(sessionID, dryRunPrefix) {
		return &Session{ID: sessionID, PaymentStatus: SessionPaid}, nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: stripe get session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL, PaymentStatus: string(s.PaymentStatus)}, nil
}

var _ Gateway = (*StripeGateway)(nil)
