// Package model holds the shared transaction, snapshot and contact types.
package model

import (
	"github.com/shopspring/decimal"
)

// StateFrom values record where a row's geography came from.
const (
	StateFromTransaction   = "transaction"
	StateFromSource        = "transaction.source"
	StateFromContact       = "contact.state"
	StateFromContactCustom = "contact.custom_field"
	StateFromUnknown       = "unknown"
)

// DefaultCurrency is applied when upstream omits one.
const DefaultCurrency = "USD"

// TransactionRecord is one normalized upstream payment.
type TransactionRecord struct {
	ID             string          `json:"id,omitempty"`
	ContactID      string          `json:"contactId,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	AmountRefunded decimal.Decimal `json:"amountRefunded"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	PaymentMethod  string          `json:"paymentMethod,omitempty"`
	Source         string          `json:"source,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	// CreatedMs is epoch milliseconds; 0 means unknown.
	CreatedMs int64  `json:"createdMs"`
	State     string `json:"state,omitempty"`
	City      string `json:"city,omitempty"`
	County    string `json:"county,omitempty"`
	StateFrom string `json:"stateFrom,omitempty"`
	// LiveMode is nil when upstream does not say.
	LiveMode *bool `json:"liveMode,omitempty"`

	ContactLifetimeNet    decimal.Decimal `json:"contactLifetimeNet"`
	ContactLifetimeOrders int             `json:"contactLifetimeOrders"`
}

// IsLive reports whether the row may count as revenue; unknown counts as live.
func (r TransactionRecord) IsLive() bool {
	return r.LiveMode == nil || *r.LiveMode
}

// Snapshot is the durable per-(tenant, location) row set.
type Snapshot struct {
	TenantID        string              `json:"tenantId"`
	LocationID      string              `json:"locationId"`
	Rows            []TransactionRecord `json:"rows"`
	NewestCreatedMs int64               `json:"newestCreatedMs"`
	OldestCreatedMs int64               `json:"oldestCreatedMs"`
	// Complete is false when the last fetch stopped at its page cap.
	Complete bool `json:"complete"`
	// FullHistory is set once an uncapped full backfill has landed.
	FullHistory bool  `json:"fullHistory"`
	UpdatedAtMs int64 `json:"updatedAtMs"`
	// Gap is set when an incremental refresh stopped at its page cap, so rows
	// between the fetched tail and the previous newest row were never seen.
	// Only a full backfill clears it.
	Gap bool `json:"gap,omitempty"`
	// RefreshReason records why the snapshot was last written.
	RefreshReason string `json:"refreshReason,omitempty"`
}

// PageMeta is the normalized pagination metadata of one upstream page.
type PageMeta struct {
	HasMore      bool
	HasMoreKnown bool
	NextPage     int
	NextCursor   string
	// TotalCount is known when positive.
	TotalCount int
}

// Page is one fetched page of rows.
type Page struct {
	Rows []TransactionRecord
	Meta PageMeta
}

// CustomField is a free-form contact attribute.
type CustomField struct {
	ID    string `json:"id,omitempty"`
	Key   string `json:"key,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// ContactProfile is the subset of a CRM contact used for geography.
type ContactProfile struct {
	ID           string
	State        string
	City         string
	County       string
	Source       string
	CustomFields []CustomField
}

// Integration is the resolved upstream target of (tenant, integration key).
type Integration struct {
	TenantID    string
	Key         string
	LocationID  string
	Token       string
	AgencyToken string
	CompanyID   string
}
