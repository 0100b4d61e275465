// Package exchange implements the buy lifecycle against the Unocoin REST
// API: quotes priced from the live rate card, the bank payment medium, the
// trade state machine and the KYC profile workflow.
package exchange

import (
	"context"
	"encoding/json"
)

// API is the transport the exchange client talks through. Auth variants
// attach the offline token as a bearer token and fail without sending
// anything when no token is set.
type API interface {
	GET(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	POST(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	PATCH(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	DELETE(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)

	AuthGET(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	AuthPOST(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	AuthPATCH(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)
	AuthDELETE(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error)

	IsLoggedIn() bool
	SetOfflineToken(token string)
	PhotoURL(filename string) string
}

// TokenOptions are passed to the wallet when requesting a partner token.
type TokenOptions struct {
	WalletAge bool
}

// AddressReservation is a receive address held for a trade being created.
// Commit binds it to the trade once the exchange accepted the order.
type AddressReservation struct {
	Address string
	Commit  func(trade *Trade) error
}

// Delegate is the wallet side of the integration. Every method is required;
// wallets without a capability supply a no-op (see NopDelegate).
type Delegate interface {
	Email() string
	IsEmailVerified() bool
	GetToken(ctx context.Context, partner string, opts TokenOptions) (string, error)

	// Save persists the whole exchange session.
	Save(ctx context.Context) error

	ReserveReceiveAddress(ctx context.Context) (*AddressReservation, error)
	ReleaseReceiveAddress(trade *Trade)
	GetReceiveAddress(trade *Trade) string
	MonitorAddress(address string, callback func(txHash string))

	SerializeExtraFields(extra ExtraFields, trade *Trade)
	DeserializeExtraFields(extra ExtraFields, trade *Trade)
}

// NopDelegate implements Delegate with no-ops. Embed it to supply only the
// capabilities a wallet has.
type NopDelegate struct{}

func (NopDelegate) Email() string         { return "" }
func (NopDelegate) IsEmailVerified() bool { return false }
func (NopDelegate) GetToken(context.Context, string, TokenOptions) (string, error) {
	return "", nil
}
func (NopDelegate) Save(context.Context) error { return nil }
func (NopDelegate) ReserveReceiveAddress(context.Context) (*AddressReservation, error) {
	return &AddressReservation{}, nil
}
func (NopDelegate) ReleaseReceiveAddress(*Trade)               {}
func (NopDelegate) GetReceiveAddress(*Trade) string            { return "" }
func (NopDelegate) MonitorAddress(string, func(txHash string)) {}
func (NopDelegate) SerializeExtraFields(ExtraFields, *Trade)   {}
func (NopDelegate) DeserializeExtraFields(ExtraFields, *Trade) {}

// ExtraFields carries wallet-owned keys serialized alongside a trade.
type ExtraFields map[string]json.RawMessage

// Set stores v under key.
func (e ExtraFields) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e[key] = raw
	return nil
}

// Get decodes key into v and reports whether it was present.
func (e ExtraFields) Get(key string, v any) (bool, error) {
	raw, ok := e[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}
