package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tenant-service/internal/apperr"
	"tenant-service/internal/model"
	"tenant-service/pkg/jwtutil"
	"tenant-service/prometheus"
)

// Deletion step names, in execution order. The audit record is written first,
// before any tenant data is touched, so a failed deletion is never silently
// lost.
const (
	stepAudit           = "audit"
	stepNotifyMembers   = "notify_members"
	stepInvalidate      = "invalidate_sessions"
	stepRemoveMembers   = "remove_memberships"
	stepDeleteArtifacts = "delete_artifacts"
	stepDropSchema      = "drop_schema"
	stepMarkDeleted     = "mark_deleted"
	stepClearDefaults   = "clear_defaults"
)

// RequestDeletion starts the deletion job for a tenant. It refuses to begin
// unless the actor re-proved their identity moments ago (reauth token) and
// typed the exact tenant name. The ready -> deleting transition is the
// concurrency guard: a tenant that is still provisioning, already deleting,
// or deleted is rejected here.
func (o *Orchestrator) RequestDeletion(ctx context.Context, tenantID, actorID uint, actorEmail, confirmationName, reauthToken string) (*model.LifecycleJob, error) {
	if _, err := jwtutil.ValidateReauthToken(reauthToken, actorID); err != nil {
		prometheus.RecordError("missing_reauth_proof")
		return nil, apperr.New(apperr.EForbidden, "identity must be re-proven before deletion")
	}

	tenant, err := o.reg.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if confirmationName != tenant.Name {
		return nil, apperr.New(apperr.EInvalid, "confirmation name does not match the tenant name")
	}

	// Member list and count are captured before anything is removed; the
	// audit record and the notification fan-out both need them.
	members, err := o.reg.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// The job record is created before the status guard so a persistence
	// failure can never leave the tenant stuck in `deleting` with no job to
	// show for it. If the guard then rejects, the stillborn record is
	// discarded; it never ran and was never returned to the caller.
	job, err := o.createJob(ctx, tenantID, model.JobDeletion, actorID)
	if err != nil {
		return nil, err
	}

	if _, err := o.reg.Transition(ctx, tenantID, model.StatusReady, model.StatusDeleting); err != nil {
		o.discardJob(ctx, job)
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		o.runDeletion(runCtx, job, tenant, members, actorID, actorEmail)
	}()

	return job, nil
}

// runDeletion executes the deletion step sequence. The order is strict and
// mostly irreversible; if any step after the audit record fails, the job is
// marked failed with the cursor preserved for manual operator resumption,
// never retried blindly.
func (o *Orchestrator) runDeletion(ctx context.Context, job *model.LifecycleJob, tenant *model.Tenant, members []model.Membership, actorID uint, actorEmail string) {
	log := o.log.With(zap.String("job_id", job.ID), zap.Uint("tenant_id", tenant.ID), zap.String("slug", tenant.Slug))

	// Step 1: write the audit record before touching any tenant data. It
	// lives in the registry area, outside the schema, and survives the drop.
	stop := prometheus.TrackJobStep(string(model.JobDeletion), stepAudit)
	detail, _ := json.Marshal(map[string]interface{}{
		"schema_name": tenant.SchemaName,
		"requested":   time.Now().UTC().Format(time.RFC3339),
	})
	audit := model.DeletionAuditRecord{
		TenantID:    tenant.ID,
		TenantName:  tenant.Name,
		TenantSlug:  tenant.Slug,
		ActorID:     actorID,
		ActorEmail:  actorEmail,
		MemberCount: len(members),
		Detail:      string(detail),
	}
	if err := o.reg.DB().WithContext(ctx).Create(&audit).Error; err != nil {
		o.failJob(ctx, job, "deletion failed before any data was touched", err)
		return
	}
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepAudit, 10); err != nil {
		o.failJob(ctx, job, "deletion failed before any data was touched", err)
		return
	}

	// Step 2: notify all current members. These notifications are
	// compliance-relevant and cannot be suppressed by preferences.
	for _, m := range members {
		err := o.notifier.Send(ctx, Notification{
			Recipient: m.User.Email,
			Template:  "tenant_deletion",
			Data: map[string]string{
				"tenant_name": tenant.Name,
			},
		})
		if err != nil {
			o.failJob(ctx, job, "deletion failed while notifying members", err)
			return
		}
	}
	if err := o.completeStep(ctx, job, stepNotifyMembers, 20); err != nil {
		o.failJob(ctx, job, "deletion failed while notifying members", err)
		return
	}

	// Step 3: invalidate every active session of every member.
	for _, m := range members {
		if err := o.sessions.InvalidateAll(ctx, m.UserID); err != nil {
			o.failJob(ctx, job, "deletion failed while invalidating sessions", err)
			return
		}
	}
	if err := o.completeStep(ctx, job, stepInvalidate, 35); err != nil {
		o.failJob(ctx, job, "deletion failed while invalidating sessions", err)
		return
	}

	// Step 4: remove membership rows.
	if err := o.reg.RemoveAllMemberships(ctx, tenant.ID); err != nil {
		o.failJob(ctx, job, "deletion failed while removing memberships", err)
		return
	}
	if err := o.completeStep(ctx, job, stepRemoveMembers, 50); err != nil {
		o.failJob(ctx, job, "deletion failed while removing memberships", err)
		return
	}

	// Step 5: delete tenant-scoped external artifacts.
	if err := o.store.DeletePrefix(ctx, artifactPrefix(tenant.Slug)); err != nil {
		o.failJob(ctx, job, "deletion failed while removing stored artifacts", err)
		return
	}
	if err := o.completeStep(ctx, job, stepDeleteArtifacts, 65); err != nil {
		o.failJob(ctx, job, "deletion failed while removing stored artifacts", err)
		return
	}

	// Step 6: destroy the schema. One atomic statement removes every
	// tenant-scoped relation; this is the point of schema-per-tenant.
	stop = prometheus.TrackJobStep(string(model.JobDeletion), stepDropSchema)
	if err := o.exec.DropSchema(ctx, tenant.SchemaName); err != nil {
		o.failJob(ctx, job, "deletion failed while destroying the tenant schema", err)
		return
	}
	stop(time.Now())
	if err := o.completeStep(ctx, job, stepDropSchema, 80); err != nil {
		o.failJob(ctx, job, "deletion failed while destroying the tenant schema", err)
		return
	}

	// Step 7: finalize the registry row. The row stays forever; only its
	// status changes.
	if _, err := o.reg.MarkDeleted(ctx, tenant.ID); err != nil {
		o.failJob(ctx, job, "deletion failed while finalizing the registry", err)
		return
	}
	prometheus.ActiveTenantsGauge.Dec()
	if err := o.completeStep(ctx, job, stepMarkDeleted, 90); err != nil {
		o.failJob(ctx, job, "deletion failed while finalizing the registry", err)
		return
	}

	// Step 8: clear default-tenant pointers. Users are never deleted here; a
	// user may belong to other tenants.
	if err := o.reg.ClearDefaultTenant(ctx, tenant.ID); err != nil {
		o.failJob(ctx, job, "deletion failed while clearing user defaults", err)
		return
	}
	if err := o.completeStep(ctx, job, stepClearDefaults, 95); err != nil {
		o.failJob(ctx, job, "deletion failed while clearing user defaults", err)
		return
	}

	summary, _ := json.Marshal(map[string]interface{}{
		"members_removed": len(members),
		"schema_dropped":  tenant.SchemaName,
	})
	o.completeJob(ctx, job, string(summary))
	log.Info("Tenant deleted", zap.Int("members_removed", len(members)))
}
