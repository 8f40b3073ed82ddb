package leads

import (
	"encoding/json"
	"time"
)

// Lead is a validated buyer lead as captured from a form or CSV row.
// Optional values are nil when absent.
type Lead struct {
	FullName     string   `json:"fullName"`
	Email        *string  `json:"email"`
	Phone        string   `json:"phone"`
	City         string   `json:"city"`
	PropertyType string   `json:"propertyType"`
	BHK          *string  `json:"bhk"`
	Purpose      string   `json:"purpose"`
	BudgetMin    *int     `json:"budgetMin"`
	BudgetMax    *int     `json:"budgetMax"`
	Timeline     string   `json:"timeline"`
	Source       string   `json:"source"`
	Notes        *string  `json:"notes"`
	Tags         []string `json:"tags"`
	Status       string   `json:"status"`
}

// NewBuyer is a lead tagged with the principal that will own it.
type NewBuyer struct {
	Lead
	OwnerID string `json:"ownerId"`
}

// Buyer is a stored lead.
type Buyer struct {
	ID string `json:"id"`
	Lead
	OwnerID   string    `json:"ownerId"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Input converts the stored lead back to an editable input.
func (b *Buyer) Input() BuyerInput {
	return BuyerInput{
		FullName:     b.FullName,
		Email:        b.Email,
		Phone:        b.Phone,
		City:         b.City,
		PropertyType: b.PropertyType,
		BHK:          b.BHK,
		Purpose:      b.Purpose,
		BudgetMin:    b.BudgetMin,
		BudgetMax:    b.BudgetMax,
		Timeline:     b.Timeline,
		Source:       b.Source,
		Notes:        b.Notes,
		Tags:         append([]string{}, b.Tags...),
		Status:       b.Status,
	}
}

// History actions recorded in buyer_history.diff.
const (
	ActionCreated  = "created"
	ActionImported = "imported"
	ActionUpdated  = "updated"
)

// HistoryDiff is the JSON document stored per history row.
type HistoryDiff struct {
	Action  string `json:"action"`
	Changes any    `json:"changes"`
	User    string `json:"user"`
}

// FieldChange is one entry of an update diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// HistoryEntry is an audit row for a buyer.
type HistoryEntry struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyerId"`
	ChangedBy string          `json:"changedBy"`
	ChangedAt time.Time       `json:"changedAt"`
	Diff      json.RawMessage `json:"diff"`
}
