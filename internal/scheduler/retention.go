package scheduler

import "context"

// PurgeAuditLogsJob drops audit events older than the configured retention.
func (s *Scheduler) PurgeAuditLogsJob(ctx context.Context) error {
	run := s.startPeriodicRun("purge_audit_logs")
	if s.auditSvc == nil || s.cfg.Audit.RetentionDays <= 0 {
		s.finishRun(run, outcomeSkipped, nil)
		return nil
	}

	deleted, err := s.auditSvc.Purge(ctx, s.cfg.Audit.RetentionDays)
	if err != nil {
		s.finishRun(run, outcomeFailed, err)
		return err
	}
	run.AddProcessed(int(deleted))
	s.finishRun(run, outcomeSuccess, nil)
	return nil
}
