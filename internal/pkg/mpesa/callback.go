package mpesa

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Metadata item names Daraja uses in successful STK callbacks. The list is
// provider-controlled and sparse; absence of any item is normal.
const (
	MetaAmount           = "Amount"
	MetaReceiptNumber    = "MpesaReceiptNumber"
	MetaPhoneNumber      = "PhoneNumber"
	MetaAccountReference = "AccountReference"
	MetaTransactionDate  = "TransactionDate"
)

// CallbackEnvelope is the typed form of Daraja's Body.stkCallback webhook.
type CallbackEnvelope struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Items             []MetadataItem
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type rawCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []MetadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

var ErrNoCallbackBody = errors.New("payload has no stkCallback body")

// ParseCallback decodes a raw webhook payload into a CallbackEnvelope.
// A payload that is valid JSON but lacks the stkCallback envelope returns
// ErrNoCallbackBody so callers can acknowledge without processing.
func ParseCallback(payload []byte) (*CallbackEnvelope, error) {
	var raw rawCallback
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	cb := raw.Body.StkCallback
	if cb.MerchantRequestID == "" && cb.CheckoutRequestID == "" && cb.ResultDesc == "" && len(cb.CallbackMetadata.Item) == 0 {
		return nil, ErrNoCallbackBody
	}

	return &CallbackEnvelope{
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        cb.ResultCode,
		ResultDesc:        strings.TrimSpace(cb.ResultDesc),
		Items:             cb.CallbackMetadata.Item,
	}, nil
}

// Success reports whether the callback confirms a completed payment.
func (e *CallbackEnvelope) Success() bool {
	return e.ResultCode == 0
}

// MetadataValue returns the named metadata item rendered as a string.
// Daraja sends phone numbers and amounts as JSON numbers and receipt
// numbers as strings; both forms normalize to plain digits here.
func (e *CallbackEnvelope) MetadataValue(name string) (string, bool) {
	for _, item := range e.Items {
		if !strings.EqualFold(strings.TrimSpace(item.Name), name) {
			continue
		}
		if v, ok := renderValue(item.Value); ok {
			return v, true
		}
	}
	return "", false
}

func renderValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		// 254708374149 must not come out as 2.54708374149e+11.
		if f, ferr := n.Float64(); ferr == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return n.String(), true
	}

	return "", false
}
