package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDynamicValues_PreservesFirstSetOrder(t *testing.T) {
	var d DynamicValues
	d.Set("zeta", "1")
	d.Set("alpha", "2")
	d.Set("zeta", "3") // overwrite keeps original position

	assert.Equal(t, []string{"zeta", "alpha"}, d.Names())
	assert.Equal(t, 2, d.Len())

	v, ok := d.Get("zeta")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = d.Get("missing")
	assert.False(t, ok)
}

func TestImportRecord_FieldMap(t *testing.T) {
	amount := decimal.NewFromFloat(10.5)
	rec := &ImportRecord{
		ID:          uuid.New(),
		CompanyCode: "ACME",
		Amount:      &amount,
		Notes:       "checked",
		SourceFile:  "input.csv",
		TimeBlock:   "20260110_093000",
	}
	rec.Dynamic.Set("department", "Sales")

	m := rec.FieldMap()
	assert.Equal(t, "ACME", m["company_code"])
	assert.Equal(t, "10.5", m["amount"])
	assert.Equal(t, "Sales", m["department"])
	assert.Equal(t, "input.csv", m["source_file"])
}

func TestImportRecord_FieldMapOmitsNilAmount(t *testing.T) {
	rec := &ImportRecord{CompanyCode: "ACME"}
	_, ok := rec.FieldMap()["amount"]
	assert.False(t, ok)
}

func TestCompanyStatus_Terminal(t *testing.T) {
	assert.True(t, CompanyStatusProcessed.Terminal())
	assert.False(t, CompanyStatusNotStarted.Terminal())
	assert.False(t, CompanyStatusInProgress.Terminal())
	assert.False(t, CompanyStatusWaiting.Terminal())
}

func TestCompanyStatus_Valid(t *testing.T) {
	assert.True(t, CompanyStatusWaiting.Valid())
	assert.False(t, CompanyStatus("archived").Valid())
}

func TestCompanyAggregate_CleanFlag(t *testing.T) {
	agg := &CompanyAggregate{}
	assert.False(t, agg.IsClean())
	agg.MarkClean()
	assert.True(t, agg.IsClean())
	agg.MarkDirty()
	assert.False(t, agg.IsClean())
}
