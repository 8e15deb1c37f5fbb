package adapter

import "context"

// RemotePayment is the authoritative payment object fetched from the processor
// for the secondary confirmation check.
type RemotePayment struct {
	ID       string
	OrderID  string
	Amount   int64 // minor units
	Currency string
	Status   string // e.g. created / authorized / captured / failed
}

// Settled reports whether the processor considers the money secured.
func (p RemotePayment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

// PaymentGateway is the hex port for the external payment processor.
type PaymentGateway interface {
	Name() string
	// KeyID is the public key identifier the client checkout widget needs.
	KeyID() string
	// CreateOrder registers a remote order and returns the processor's order id.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)
	// FetchPayment retrieves the authoritative payment object by processor id.
	FetchPayment(ctx context.Context, paymentID string) (*RemotePayment, error)
}
