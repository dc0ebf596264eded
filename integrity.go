package payline

import (
	"context"
	"fmt"

	"github.com/blnkfinance/payline/model"
	"github.com/sirupsen/logrus"
)

// CheckIntegrity looks for money in flight: RELEASED payments missing their
// CREDIT or COMMISSION entries, and ledger entries for orders that were never
// released. Findings are logged, counted and sent to Slack.
func (p *Payline) CheckIntegrity(ctx context.Context, limit int) (*model.IntegrityReport, error) {
	ctx, span := tracer.Start(ctx, "CheckIntegrity")
	defer span.End()

	if limit <= 0 {
		limit = p.cfg.Recovery.BatchSize
	}
	missing, err := p.datasource.FindReleasedWithoutEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	orphans, err := p.datasource.FindOrphanEntries(ctx, limit)
	if err != nil {
		return nil, err
	}

	findings := make([]model.IntegrityFinding, 0, len(missing)+len(orphans))
	findings = append(findings, missing...)
	findings = append(findings, orphans...)
	report := &model.IntegrityReport{
		CheckedAt: p.now(),
		Findings:  findings,
		Healthy:   len(findings) == 0,
	}
	if report.Healthy {
		return report, nil
	}

	for _, f := range findings {
		logrus.WithFields(logrus.Fields{
			"issue":             f.Issue,
			"order_id":          f.OrderID,
			"entry_key":         f.EntryKey,
			"provider_event_id": f.ProviderEventID,
		}).Error("ledger integrity finding")
	}
	integrityFailures.Add(float64(len(findings)))
	p.notifier.NotifyError(fmt.Errorf("integrity check found %d issue(s), first: %s on order %s",
		len(findings), findings[0].Issue, findings[0].OrderID))
	return report, nil
}
