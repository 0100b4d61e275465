package exchange

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	apperrors "unocoin-client/internal/errors"
)

// statusOK is the exchange's success code inside a 200 response.
const statusOK = 200

// Endpoints used by the client.
const (
	endpointRegister   = "api/blockchain-v1/authentication/register"
	endpointRates      = "api/blockchain-v1/general/rates"
	endpointProfile    = "api/v1/wallet/profiledetails"
	endpointVerify     = "api/v1/settings/uploaduserprofile"
	endpointTrades     = "api/v1/wallet/inr_transactions"
	endpointBuy        = "api/v1/trading/instant_buyingbtc"
	endpointReference  = "api/v1/wallet/add_reference"
	endpointCancel     = "api/v1/trading/cancel_order"
	statusAlreadyInUse = 724
)

type envelope struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// checkStatus turns a non-success status_code into a VendorError.
func checkStatus(raw json.RawMessage) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.Wrap(err, "decoding response")
	}
	if env.StatusCode != statusOK {
		return apperrors.NewVendorError(env.StatusCode, env.Message)
	}
	return nil
}

// flexNumber accepts a JSON number, a numeric string, "" or null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

// flexID is an order id sent as an integer on creation and as a string
// when listing.
type flexID int64

func (id *flexID) UnmarshalJSON(b []byte) error {
	var n flexNumber
	if err := n.UnmarshalJSON(b); err != nil {
		return apperrors.NewValidationError("id", string(b), "not an integer id")
	}
	if float64(n) != math.Trunc(float64(n)) {
		return apperrors.NewValidationError("id", string(b), "not an integer id")
	}
	*id = flexID(n)
	return nil
}

// round rounds half up, matching how the exchange's web client rounds.
func round(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
