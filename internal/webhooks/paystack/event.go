package paystackwebhook

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/paystack"
)

// Delivery is a decoded webhook body.
type Delivery struct {
	Event    string
	Charge   *paystack.Charge
	Transfer *paystack.Transfer
}

// Decode parses a raw body. Charge and transfer payloads are decoded for
// the events that carry them; other events keep only the name.
func Decode(raw []byte) (*Delivery, error) {
	var env paystack.Event
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name missing")
	}

	out := &Delivery{Event: name}
	switch name {
	case paystack.EventChargeSuccess:
		var charge paystack.Charge
		if err := json.Unmarshal(env.Data, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed charge payload")
		}
		out.Charge = &charge
	case paystack.EventTransferSuccess, paystack.EventTransferFailed, paystack.EventTransferReversed:
		var transfer paystack.Transfer
		if err := json.Unmarshal(env.Data, &transfer); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed transfer payload")
		}
		out.Transfer = &transfer
	}
	return out, nil
}

// Key identifies the delivery for the guard, or "" when it has no stable
// reference.
func (d *Delivery) Key() string {
	switch {
	case d == nil:
		return ""
	case d.Charge != nil && d.Charge.Reference != "":
		return d.Event + ":" + d.Charge.Reference
	case d.Transfer != nil && d.Transfer.TransferCode != "":
		return d.Event + ":" + d.Transfer.TransferCode
	}
	return ""
}
