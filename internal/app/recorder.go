package app

import (
	"context"
	"time"

	"dailycast/internal/broadcast"
	"dailycast/internal/metrics"
	"dailycast/internal/storage"
	logx "dailycast/pkg/logx"
)

// passRecorder feeds broadcast outcomes into metrics and every finished
// pass into the audit log.
type passRecorder struct {
	metrics *metrics.Metrics
	store   storage.Store
	log     logx.Logger
}

func (r *passRecorder) Outcome(name string, k broadcast.Kind) {
	if r.metrics != nil {
		r.metrics.Outcome(name, k)
	}
}

func (r *passRecorder) Pass(rep broadcast.Report) {
	if r.metrics != nil {
		r.metrics.Pass(rep)
	}
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e := storage.AuditEntry{
		At:         rep.StartedAt,
		Kind:       storage.AuditPass,
		Stream:     rep.Name,
		PassID:     rep.ID,
		Total:      rep.Total,
		Delivered:  rep.Delivered,
		Gone:       rep.Gone,
		Transient:  rep.Transient,
		Skipped:    rep.Skipped,
		Incomplete: rep.Incomplete,
		TookMS:     rep.Duration.Milliseconds(),
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("pass", rep.ID), logx.Err(err))
	}
}
