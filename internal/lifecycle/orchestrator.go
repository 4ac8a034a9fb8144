// Package lifecycle runs the long-lived, multi-step background jobs that
// export or permanently delete a tenant's data. Jobs are modeled as explicit
// ordered step sequences with a persisted cursor, so a crash mid-sequence
// leaves resumable, inspectable state rather than silent partial completion.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tenant-service/internal/apperr"
	"tenant-service/internal/isolation"
	"tenant-service/internal/model"
	"tenant-service/internal/registry"
	"tenant-service/pkg/config"
	"tenant-service/prometheus"
)

// jobTimeout bounds a single job run.
const jobTimeout = 30 * time.Minute

// Orchestrator coordinates export and deletion jobs. Jobs for different
// tenants run concurrently without coordination; within one tenant, the
// registry's status guard is what keeps provisioning and deletion from ever
// overlapping.
type Orchestrator struct {
	reg      *registry.Registry
	exec     isolation.SchemaExecutor
	dumper   PartitionDumper
	store    BlobStore
	notifier Notifier
	sessions SessionInvalidator
	cfg      config.LifecycleConfig
	log      *zap.Logger

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(reg *registry.Registry, exec isolation.SchemaExecutor, dumper PartitionDumper,
	store BlobStore, notifier Notifier, sessions SessionInvalidator,
	cfg config.LifecycleConfig, log *zap.Logger) *Orchestrator {
	if cfg.ExportCooldown <= 0 {
		cfg.ExportCooldown = 24 * time.Hour
	}
	if cfg.ArtifactTTL <= 0 {
		cfg.ArtifactTTL = 72 * time.Hour
	}
	return &Orchestrator{
		reg:      reg,
		exec:     exec,
		dumper:   dumper,
		store:    store,
		notifier: notifier,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}
}

// GetJob returns a lifecycle job by id.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*model.LifecycleJob, error) {
	var job model.LifecycleJob
	err := o.reg.DB().WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ENotFound, "job not found")
		}
		return nil, apperr.Wrap("failed to load job", err)
	}
	return &job, nil
}

// createJob persists a new processing job record.
func (o *Orchestrator) createJob(ctx context.Context, tenantID uint, kind model.JobKind, requestedBy uint) (*model.LifecycleJob, error) {
	job := &model.LifecycleJob{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Kind:        kind,
		Status:      model.JobProcessing,
		RequestedBy: requestedBy,
	}
	if err := o.reg.DB().WithContext(ctx).Create(job).Error; err != nil {
		return nil, apperr.Wrap("failed to create job record", err)
	}
	prometheus.RunningJobsGauge.WithLabelValues(string(kind)).Inc()
	return job, nil
}

// discardJob removes a job record whose status guard rejected before the job
// ever started. Only stillborn records go through here; a job that ran, even
// unsuccessfully, is kept forever.
func (o *Orchestrator) discardJob(ctx context.Context, job *model.LifecycleJob) {
	if err := o.reg.DB().WithContext(ctx).Delete(&model.LifecycleJob{}, "id = ?", job.ID).Error; err != nil {
		o.log.Error("Failed to discard job record", zap.String("job_id", job.ID), zap.Error(err))
	}
	prometheus.RunningJobsGauge.WithLabelValues(string(job.Kind)).Dec()
}

// completeStep advances the persisted cursor after a step finished.
func (o *Orchestrator) completeStep(ctx context.Context, job *model.LifecycleJob, step string, progress int) error {
	job.LastStep = step
	job.Progress = progress
	err := o.reg.DB().WithContext(ctx).Model(job).
		Updates(map[string]interface{}{"last_step": step, "progress": progress}).Error
	if err != nil {
		return apperr.Wrap("failed to persist job cursor", err)
	}
	return nil
}

// completeJob marks a job completed with a result summary.
func (o *Orchestrator) completeJob(ctx context.Context, job *model.LifecycleJob, result string) {
	now := time.Now()
	job.Status = model.JobCompleted
	job.Progress = 100
	job.Result = result
	job.CompletedAt = &now
	if err := o.reg.DB().WithContext(ctx).Model(job).Updates(map[string]interface{}{
		"status": model.JobCompleted, "progress": 100, "result": result, "completed_at": now,
	}).Error; err != nil {
		o.log.Error("Failed to persist job completion", zap.String("job_id", job.ID), zap.Error(err))
	}
	prometheus.RunningJobsGauge.WithLabelValues(string(job.Kind)).Dec()
	prometheus.LifecycleJobCounter.WithLabelValues(string(job.Kind), "completed").Inc()
}

// failJob marks a job failed. The recorded result is the redacted message
// only; the cause goes to the server logs, never into the job record, so no
// schema contents or credentials can leak through the status endpoint. The
// step cursor is left as-is to support manual operator resumption; a
// destructive ordered sequence is never retried automatically.
func (o *Orchestrator) failJob(ctx context.Context, job *model.LifecycleJob, redacted string, cause error) {
	o.log.Error("Lifecycle job failed",
		zap.String("job_id", job.ID),
		zap.Uint("tenant_id", job.TenantID),
		zap.String("kind", string(job.Kind)),
		zap.String("last_step", job.LastStep),
		zap.Error(cause))

	now := time.Now()
	job.Status = model.JobFailed
	job.Result = redacted
	job.CompletedAt = &now
	if err := o.reg.DB().WithContext(ctx).Model(job).Updates(map[string]interface{}{
		"status": model.JobFailed, "result": redacted, "completed_at": now,
	}).Error; err != nil {
		o.log.Error("Failed to persist job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	prometheus.RunningJobsGauge.WithLabelValues(string(job.Kind)).Dec()
	prometheus.LifecycleJobCounter.WithLabelValues(string(job.Kind), "failed").Inc()
}

// Wait blocks until all in-flight jobs finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
