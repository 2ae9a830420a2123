package paystack

import (
	"bytes"
	"encoding/json"
	"time"
)

// Amounts are always in minor currency units (pesewas/kobo).

type InitializeRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Charge is the transaction object returned by verify and charge webhooks.
type Charge struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Channel         string     `json:"channel"`
	GatewayResponse string     `json:"gateway_response"`
	PaidAt          *time.Time `json:"paid_at"`
	Metadata        Metadata   `json:"metadata"`
}

// Succeeded reports whether the charge captured funds.
func (c *Charge) Succeeded() bool {
	return c != nil && c.Status == "success"
}

type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency,omitempty"`
}

type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
}

type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency,omitempty"`
}

// Transfer is returned by initiate and carried by transfer webhooks.
type Transfer struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
}

type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type SubaccountRequest struct {
	BusinessName     string  `json:"business_name"`
	SettlementBank   string  `json:"settlement_bank"`
	AccountNumber    string  `json:"account_number"`
	PercentageCharge float64 `json:"percentage_charge"`
}

type Subaccount struct {
	SubaccountCode string `json:"subaccount_code"`
	AccountName    string `json:"account_name"`
	BusinessName   string `json:"business_name"`
}

// Metadata is the free-form map attached to charges. Paystack sometimes
// sends it as a JSON-encoded string, or as "" when empty.
type Metadata map[string]any

func (m *Metadata) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if raw == "" || raw[0] != '{' {
			*m = nil
			return nil
		}
		trimmed = []byte(raw)
	}
	if trimmed[0] != '{' {
		*m = nil
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// String returns the metadata value for key when it is a string.
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Event is a webhook delivery.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)
