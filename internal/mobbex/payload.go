// Package mobbex implements the gateway-specific pieces of the integration.
package mobbex

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shopcore/shopcore-payments/internal/domain"
)

// childIDPrefix marks sub-transaction payment ids (installments, split
// payment legs) issued by the gateway.
const childIDPrefix = "CHD-"

// flexInt unmarshals a JSON int that the gateway sometimes quotes.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = flexInt(v)
	return nil
}

// flexBool unmarshals a JSON bool that the gateway sometimes sends as
// "yes"/"no" strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "true", "yes", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type jsonInstallment struct {
	Description string          `json:"description"`
	Count       int             `json:"count"`
	Amount      decimal.Decimal `json:"amount"`
}

type jsonSource struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Number      string          `json:"number"`
	Installment jsonInstallment `json:"installment"`
}

type jsonPayload struct {
	Parent *flexBool `json:"parent"`
	Data   struct {
		Payment struct {
			ID     string          `json:"id"`
			Total  decimal.Decimal `json:"total"`
			Status struct {
				Code    flexInt `json:"code"`
				Message string  `json:"message"`
				Text    string  `json:"text"`
			} `json:"status"`
			Source       jsonSource `json:"source"`
			RiskAnalysis struct {
				Level float64 `json:"level"`
			} `json:"riskAnalysis"`
		} `json:"payment"`
		Entity struct {
			UID string `json:"uid"`
		} `json:"entity"`
	} `json:"data"`
}

// ParseJSON decodes a JSON webhook body into a typed notification.
// The raw body is preserved verbatim on the notification for audit.
func ParseJSON(body []byte) (*domain.Notification, error) {
	var payload jsonPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding webhook body: %w", err)
	}

	p := payload.Data.Payment
	message := p.Status.Message
	if message == "" {
		message = p.Status.Text
	}

	n := &domain.Notification{
		PaymentID:     p.ID,
		StatusCode:    int(p.Status.Code),
		StatusMessage: message,
		Total:         p.Total,
		EntityUID:     payload.Data.Entity.UID,
		RiskScore:     p.RiskAnalysis.Level,
		RawPayload:    json.RawMessage(body),
		Source: domain.PaymentSource{
			Type:   p.Source.Type,
			Name:   p.Source.Name,
			Number: p.Source.Number,
			Installment: domain.Installment{
				Description: p.Source.Installment.Description,
				Count:       p.Source.Installment.Count,
				Amount:      p.Source.Installment.Amount,
			},
		},
	}
	if payload.Parent != nil {
		n.Parent = bool(*payload.Parent)
	} else {
		n.Parent = !strings.HasPrefix(p.ID, childIDPrefix)
	}
	return n, nil
}

// ParseForm decodes a form-encoded webhook body. The gateway flattens the
// same structure into bracketed keys (data[payment][id], ...). The fields
// are re-encoded as a JSON object for the audit payload: the transaction
// log and the reconciled event both carry JSON, and a form body is not.
func ParseForm(values url.Values) (*domain.Notification, error) {
	get := func(keys ...string) string {
		for _, key := range keys {
			if v := values.Get(key); v != "" {
				return v
			}
		}
		return ""
	}

	code, _ := strconv.Atoi(get("data[payment][status][code]", "status_code"))
	count, _ := strconv.Atoi(get("data[payment][source][installment][count]", "installment_count"))
	risk, _ := strconv.ParseFloat(get("data[payment][riskAnalysis][level]", "risk_analysis"), 64)

	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding form payload: %w", err)
	}

	n := &domain.Notification{
		PaymentID:     get("data[payment][id]", "payment_id"),
		StatusCode:    code,
		StatusMessage: get("data[payment][status][message]", "data[payment][status][text]", "status_message"),
		Total:         parseDecimal(get("data[payment][total]", "total")),
		EntityUID:     get("data[entity][uid]", "entity_uid"),
		RiskScore:     risk,
		RawPayload:    json.RawMessage(raw),
		Source: domain.PaymentSource{
			Type:   get("data[payment][source][type]", "source_type"),
			Name:   get("data[payment][source][name]", "source_name"),
			Number: get("data[payment][source][number]", "source_number"),
			Installment: domain.Installment{
				Description: get("data[payment][source][installment][description]", "installment_name"),
				Count:       count,
				Amount:      parseDecimal(get("data[payment][source][installment][amount]", "installment_amount")),
			},
		},
	}

	switch parent := get("parent", "data[parent]"); parent {
	case "yes", "true", "1":
		n.Parent = true
	case "no", "false", "0":
		n.Parent = false
	default:
		n.Parent = !strings.HasPrefix(n.PaymentID, childIDPrefix)
	}
	return n, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
