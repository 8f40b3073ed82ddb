package leads

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() BuyerInput {
	return BuyerInput{
		FullName:     "Priya Sharma",
		Email:        strPtr("priya@example.com"),
		Phone:        "9876543210",
		City:         "Mohali",
		PropertyType: "Villa",
		BHK:          strPtr("3"),
		Purpose:      "Buy",
		BudgetMin:    intPtr(8000000),
		BudgetMax:    intPtr(12000000),
		Timeline:     "3-6m",
		Source:       "Referral",
		Tags:         []string{"vip"},
	}
}

func validationDetails(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	return verr.Details
}

func TestBuyerInputValidateNormalizes(t *testing.T) {
	in := validInput()
	in.Email = strPtr("")
	in.Notes = strPtr("")
	in.Tags = []string{" a ", "", "b"}

	require.NoError(t, in.Validate())
	assert.Nil(t, in.Email)
	assert.Nil(t, in.Notes)
	assert.Equal(t, StatusNew, in.Status)
	assert.Equal(t, []string{"a", "b"}, in.Tags)

	lead := in.Lead()
	assert.Equal(t, "Priya Sharma", lead.FullName)
	assert.Equal(t, StatusNew, lead.Status)
}

func TestBuyerInputValidateFieldErrors(t *testing.T) {
	in := validInput()
	in.FullName = "P"
	in.Phone = "12"
	in.City = "Delhi"

	details := validationDetails(t, in.Validate())
	assert.Equal(t, []string{
		"fullName: Full name must be at least 2 characters",
		"phone: Phone must be 10-15 digits",
		"city: Invalid enum value. Expected 'Chandigarh' | 'Mohali' | 'Zirakpur' | 'Panchkula' | 'Other', received 'Delhi'",
	}, details)
}

func TestBuyerInputValidateBudgetRules(t *testing.T) {
	in := validInput()
	in.BudgetMin = intPtr(0)
	details := validationDetails(t, in.Validate())
	assert.Equal(t, []string{"budgetMin: Number must be greater than 0"}, details)

	in = validInput()
	in.BudgetMin, in.BudgetMax = intPtr(10), intPtr(5)
	details = validationDetails(t, in.Validate())
	assert.Equal(t, []string{"budgetMax: Budget max must be greater than or equal to budget min"}, details)
}

func TestBuyerInputValidateBHKRule(t *testing.T) {
	in := validInput()
	in.BHK = nil
	details := validationDetails(t, in.Validate())
	assert.Equal(t, []string{"bhk: BHK is required for Apartment/Villa"}, details)

	in.PropertyType = "Plot"
	assert.NoError(t, in.Validate())
}

func TestApplyPatchOverlaysSentKeys(t *testing.T) {
	current := validInput()
	patch := map[string]json.RawMessage{
		"status":    json.RawMessage(`"Qualified"`),
		"budgetMax": json.RawMessage(`15000000`),
		"email":     json.RawMessage(`null`),
		"unknown":   json.RawMessage(`true`),
	}

	merged, keys, err := ApplyPatch(current, patch)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "budgetMax", "status"}, keys)
	assert.Equal(t, "Qualified", merged.Status)
	assert.Equal(t, 15000000, *merged.BudgetMax)
	assert.Nil(t, merged.Email)

	// the original is untouched
	assert.Equal(t, 12000000, *current.BudgetMax)
	require.NotNil(t, current.Email)
	assert.Equal(t, "", current.Status)
}

func TestApplyPatchDoesNotAliasTags(t *testing.T) {
	current := validInput()
	merged, _, err := ApplyPatch(current, map[string]json.RawMessage{"tags": json.RawMessage(`["hot"]`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"hot"}, merged.Tags)
	assert.Equal(t, []string{"vip"}, current.Tags)
}

func TestApplyPatchRejectsWrongTypes(t *testing.T) {
	_, _, err := ApplyPatch(validInput(), map[string]json.RawMessage{"budgetMin": json.RawMessage(`"lots"`)})
	details := validationDetails(t, err)
	require.Len(t, details, 1)
	assert.True(t, strings.HasPrefix(details[0], "Invalid request body"))
}

func TestDiffReportsOnlyChangedSentKeys(t *testing.T) {
	before := validInput()
	after := validInput()
	after.Status = "Contacted"
	after.Notes = strPtr("called twice")
	after.City = "Zirakpur" // changed but not sent

	changes, err := Diff(before, after, []string{"status", "notes", "phone"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, FieldChange{Old: "", New: "Contacted"}, changes["status"])
	assert.Equal(t, FieldChange{Old: nil, New: "called twice"}, changes["notes"])
}

func TestDiffTreatsEqualSlicesAsUnchanged(t *testing.T) {
	before := validInput()
	after := validInput()
	after.Tags = []string{"vip"}
	changes, err := Diff(before, after, []string{"tags"})
	require.NoError(t, err)
	assert.Empty(t, changes)
}
