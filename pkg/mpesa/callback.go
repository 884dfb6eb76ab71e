package mpesa

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Unknown stands in for a metadata field the gateway did not send.
const Unknown = "unknown"

// Metadata item names sent with a successful payment.
const (
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemAmount          = "Amount"
	ItemPhoneNumber     = "PhoneNumber"
	ItemTransactionDate = "TransactionDate"
)

// ErrMalformedCallback is returned for payloads missing the stkCallback envelope or
// the checkout request id.
var ErrMalformedCallback = errors.New("mpesa: malformed callback payload")

// Result is the outcome carried by a callback: either Confirmation or Rejection.
type Result interface {
	isResult()
}

// Confirmation is a successful payment (result code 0).
type Confirmation struct {
	ReceiptNumber   string
	Amount          string
	PhoneNumber     string
	TransactionDate string
}

// Rejection is any non-zero result code.
type Rejection struct {
	Code   int
	Reason string
}

func (Confirmation) isResult() {}
func (Rejection) isResult()    {}

// Callback is a validated STK push result.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Result            Result
}

type callbackEnvelope struct {
	Body *struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []metadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback validates the raw webhook body and converts it into a Callback.
func ParseCallback(body []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.STKCallback == nil {
		return nil, ErrMalformedCallback
	}
	raw := env.Body.STKCallback
	if strings.TrimSpace(raw.CheckoutRequestID) == "" {
		return nil, ErrMalformedCallback
	}
	code, err := strconv.Atoi(rawString(raw.ResultCode))
	if err != nil {
		return nil, errors.Join(ErrMalformedCallback, err)
	}

	cb := &Callback{
		MerchantRequestID: raw.MerchantRequestID,
		CheckoutRequestID: raw.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        raw.ResultDesc,
	}
	if code != 0 {
		cb.Result = Rejection{Code: code, Reason: raw.ResultDesc}
		return cb, nil
	}

	var items []metadataItem
	if raw.CallbackMetadata != nil {
		items = raw.CallbackMetadata.Item
	}
	cb.Result = Confirmation{
		ReceiptNumber:   lookupItem(items, ItemReceiptNumber),
		Amount:          lookupItem(items, ItemAmount),
		PhoneNumber:     lookupItem(items, ItemPhoneNumber),
		TransactionDate: lookupItem(items, ItemTransactionDate),
	}
	return cb, nil
}

func lookupItem(items []metadataItem, name string) string {
	for _, item := range items {
		if item.Name == name {
			if v := rawString(item.Value); v != "" && v != "null" {
				return v
			}
		}
	}
	return Unknown
}

// rawString renders a JSON scalar as text; strings lose their quotes and numbers keep
// their literal digits so large phone numbers are not mangled by float conversion.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}
