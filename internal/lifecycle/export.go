package lifecycle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tenant-service/internal/apperr"
	"tenant-service/internal/isolation"
	"tenant-service/internal/model"
	"tenant-service/prometheus"
)

// Export step names, in execution order. The persisted cursor records the
// last of these that completed.
const (
	stepEnumerate = "enumerate"
	stepSerialize = "serialize"
	stepBundle    = "bundle"
	stepUpload    = "upload"
	stepNotifyReq = "notify"
)

// RequestExport starts an export job for a tenant. At most one export per
// tenant runs per cooldown window; the gate is checked before anything else
// happens.
func (o *Orchestrator) RequestExport(ctx context.Context, tenantID, requestedBy uint, requesterEmail string) (*model.LifecycleJob, error) {
	tenant, err := o.reg.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Status != model.StatusReady {
		return nil, apperr.Newf(apperr.ETenantNotReady, "tenant is %s", tenant.Status)
	}

	if err := o.checkExportCooldown(ctx, tenantID); err != nil {
		return nil, err
	}

	job, err := o.createJob(ctx, tenantID, model.JobExport, requestedBy)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		o.runExport(runCtx, job, tenant, requesterEmail)
	}()

	return job, nil
}

func (o *Orchestrator) checkExportCooldown(ctx context.Context, tenantID uint) error {
	var last model.LifecycleJob
	err := o.reg.DB().WithContext(ctx).
		Where("tenant_id = ? AND kind = ?", tenantID, model.JobExport).
		Order("created_at DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No prior export: nothing to rate-limit against.
		return nil
	}
	if err != nil {
		return apperr.Wrap("failed to check export cooldown", err)
	}
	if last.Status != model.JobFailed && time.Since(last.CreatedAt) < o.cfg.ExportCooldown {
		return apperr.Newf(apperr.ERateLimited,
			"an export for this tenant ran less than %s ago", o.cfg.ExportCooldown)
	}
	return nil
}

// runExport executes the export step sequence. Steps run strictly in order;
// any failure marks the job failed with a redacted error that never carries
// relation contents or credentials.
func (o *Orchestrator) runExport(ctx context.Context, job *model.LifecycleJob, tenant *model.Tenant, requesterEmail string) {
	log := o.log.With(zap.String("job_id", job.ID), zap.Uint("tenant_id", tenant.ID))

	// Step 1: enumerate tenant-scoped relations plus the registry rows that
	// reference the tenant.
	stop := prometheus.TrackJobStep(string(model.JobExport), stepEnumerate)
	tables := isolation.BootstrapTables
	members, err := o.reg.ListMembers(ctx, tenant.ID)
	if err != nil {
		o.failJob(ctx, job, "export failed while enumerating data", err)
		return
	}
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepEnumerate, 10); err != nil {
		o.failJob(ctx, job, "export failed while enumerating data", err)
		return
	}

	// Step 2: serialize each relation's contents.
	stop = prometheus.TrackJobStep(string(model.JobExport), stepSerialize)
	contents := make(map[string][]byte, len(tables)+2)
	records := 0
	for _, table := range tables {
		rows, err := o.dumper.DumpTable(ctx, tenant.SchemaName, table, tenant.ID)
		if err != nil {
			o.failJob(ctx, job, "export failed while reading tenant data", err)
			return
		}
		data, err := json.Marshal(rows)
		if err != nil {
			o.failJob(ctx, job, "export failed while encoding tenant data", err)
			return
		}
		contents[table+".json"] = data
		records += len(rows)
	}

	tenantJSON, err := json.Marshal(tenant)
	if err != nil {
		o.failJob(ctx, job, "export failed while encoding registry data", err)
		return
	}
	contents["tenant.json"] = tenantJSON
	memberJSON, err := json.Marshal(members)
	if err != nil {
		o.failJob(ctx, job, "export failed while encoding registry data", err)
		return
	}
	contents["members.json"] = memberJSON
	records += len(members)
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepSerialize, 40); err != nil {
		o.failJob(ctx, job, "export failed while encoding tenant data", err)
		return
	}

	// Step 3: bundle into a single downloadable artifact.
	stop = prometheus.TrackJobStep(string(model.JobExport), stepBundle)
	bundle, err := zipBundle(contents)
	if err != nil {
		o.failJob(ctx, job, "export failed while bundling", err)
		return
	}
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepBundle, 60); err != nil {
		o.failJob(ctx, job, "export failed while bundling", err)
		return
	}

	// Step 4: upload under a tenant-scoped key with a bounded lifetime.
	stop = prometheus.TrackJobStep(string(model.JobExport), stepUpload)
	key := exportKey(tenant.Slug, job.ID)
	if err := o.store.Put(ctx, key, bundle, o.cfg.ArtifactTTL); err != nil {
		o.failJob(ctx, job, "export failed while uploading artifact", err)
		return
	}
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepUpload, 80); err != nil {
		o.failJob(ctx, job, "export failed while uploading artifact", err)
		return
	}

	// Step 5: notify the requester with a time-limited retrieval link.
	url, err := o.store.PresignGet(ctx, key, o.cfg.ArtifactTTL)
	if err != nil {
		o.failJob(ctx, job, "export failed while preparing download link", err)
		return
	}
	err = o.notifier.Send(ctx, Notification{
		Recipient: requesterEmail,
		Template:  "export_ready",
		Data: map[string]string{
			"tenant_name":  tenant.Name,
			"download_url": url,
			"expires_in":   o.cfg.ArtifactTTL.String(),
		},
	})
	if err != nil {
		o.failJob(ctx, job, "export failed while notifying the requester", err)
		return
	}
	if err := o.completeStep(ctx, job, stepNotifyReq, 90); err != nil {
		o.failJob(ctx, job, "export failed while notifying the requester", err)
		return
	}

	// Step 6: record the size/record-count summary.
	summary, _ := json.Marshal(map[string]interface{}{
		"records":      records,
		"size_bytes":   len(bundle),
		"artifact_key": key,
	})
	o.completeJob(ctx, job, string(summary))
	log.Info("Export completed", zap.Int("records", records), zap.Int("size_bytes", len(bundle)))
}

// exportKey builds the tenant-scoped storage key for an export artifact.
func exportKey(slug, jobID string) string {
	return fmt.Sprintf("exports/%s/%s.zip", slug, jobID)
}

// artifactPrefix is the storage prefix holding everything a tenant ever
// uploaded or exported. The deletion job wipes it wholesale.
func artifactPrefix(slug string) string {
	return fmt.Sprintf("exports/%s/", slug)
}

// zipBundle packs the serialized relations into one zip archive.
func zipBundle(contents map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range contents {
		f, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
