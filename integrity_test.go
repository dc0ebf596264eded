package payline

import (
	"context"
	"testing"

	"github.com/blnkfinance/payline/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIntegrityHealthyAfterRelease(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment("ord_1", "seller_1", "100", "10")
	_, err := env.payline.ReleaseFunds(context.Background(), "ord_1", SystemActor)
	require.NoError(t, err)

	report, err := env.payline.CheckIntegrity(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Findings)
	assert.Equal(t, env.clock.Now(), report.CheckedAt)
}

func TestCheckIntegrityFindsMissingEntries(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPayment("ord_1", "seller_1", "100", "10")
	p.PayoutStatus = model.PayoutReleased
	p.ProviderEventID = "evt_1"
	env.store.addPayment(p)

	report, err := env.payline.CheckIntegrity(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, report.Healthy)

	issues := map[model.IntegrityIssue]model.IntegrityFinding{}
	for _, f := range report.Findings {
		issues[f.Issue] = f
	}
	require.Len(t, issues, 2)
	assert.Equal(t, model.CreditKey("ord_1"), issues[model.IssueMissingCredit].EntryKey)
	assert.Equal(t, "evt_1", issues[model.IssueMissingCredit].ProviderEventID)
	assert.Equal(t, model.CommissionKey("ord_1"), issues[model.IssueMissingCommission].EntryKey)
}

func TestCheckIntegrityFindsOrphanEntries(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment("ord_1", "seller_1", "100", "10")
	_, err := env.payline.PostCredit(context.Background(), "seller_1", decimal.NewFromInt(90), "TRY", "ord_1", model.CreditKey("ord_1"))
	require.NoError(t, err)

	report, err := env.payline.CheckIntegrity(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, model.IssueOrphanEntry, report.Findings[0].Issue)
	assert.Equal(t, "ord_1", report.Findings[0].OrderID)
}
