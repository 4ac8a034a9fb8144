// Package provision creates tenant schemas. Provisioning runs asynchronously
// relative to the triggering request: the caller gets a pending tenant back
// immediately and polls the status while the schema bootstrap executes in the
// background under a bounded deadline.
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenant-service/internal/apperr"
	"tenant-service/internal/isolation"
	"tenant-service/internal/model"
	"tenant-service/internal/registry"
	"tenant-service/pkg/config"
	"tenant-service/prometheus"
)

// Provisioner creates and bootstraps tenant schemas.
type Provisioner struct {
	reg  *registry.Registry
	exec isolation.SchemaExecutor
	cfg  config.ProvisionConfig
	log  *zap.Logger

	wg sync.WaitGroup
}

// New creates a provisioner.
func New(reg *registry.Registry, exec isolation.SchemaExecutor, cfg config.ProvisionConfig, log *zap.Logger) *Provisioner {
	if cfg.MaxSlugAttempts <= 0 {
		cfg.MaxSlugAttempts = 50
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 2 * time.Minute
	}
	return &Provisioner{reg: reg, exec: exec, cfg: cfg, log: log}
}

// Provision registers a new tenant and starts the asynchronous schema
// bootstrap. The returned tenant is in pending status; the caller polls
// for ready or failed.
//
// Slug generation: the candidate comes from the hint (or the name), and on
// collision an incrementing numeric suffix is appended until the registry's
// uniqueness constraint accepts it, bounded by MaxSlugAttempts. The schema
// name is derived from the accepted slug and validated against the allow-list
// before any DDL is issued.
func (p *Provisioner) Provision(ctx context.Context, name, slugHint string, ownerID uint) (*model.Tenant, error) {
	if name == "" {
		return nil, apperr.New(apperr.EInvalid, "name is required")
	}
	if len(name) > 100 {
		return nil, apperr.New(apperr.EInvalid, "name must be at most 100 characters")
	}

	base := Slugify(slugHint)
	if base == "" {
		base = Slugify(name)
	}
	if base == "" {
		return nil, apperr.New(apperr.EInvalid, "name does not yield a usable slug")
	}

	tenant, err := p.register(ctx, name, base, ownerID)
	if err != nil {
		return nil, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(tenant)
	}()

	return tenant, nil
}

// register claims a unique slug. Collisions surface as constraint violations
// from the registry, so two concurrent requests for the same name can never
// both claim one slug; the loser moves to the next suffix.
func (p *Provisioner) register(ctx context.Context, name, base string, ownerID uint) (*model.Tenant, error) {
	for attempt := 0; attempt < p.cfg.MaxSlugAttempts; attempt++ {
		slug := base
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", base, attempt)
		}

		schema, err := isolation.SchemaNameForSlug(slug)
		if err != nil {
			return nil, err
		}

		tenant := &model.Tenant{
			Name:       name,
			Slug:       slug,
			SchemaName: schema,
			Status:     model.StatusPending,
		}
		err = p.reg.CreateWithOwner(ctx, tenant, ownerID)
		if err == nil {
			return tenant, nil
		}
		if apperr.ErrCode(err) == apperr.EConflict {
			continue
		}
		return nil, err
	}
	return nil, apperr.Newf(apperr.EConflict, "no available slug for %q after %d attempts", base, p.cfg.MaxSlugAttempts)
}

// run executes the schema bootstrap for a pending tenant. It is decoupled
// from the triggering request and bounded by MaxDuration; on any failure the
// transaction rolls back, a best-effort drop removes any residue, and the
// tenant moves to failed. No half-created schema ever persists.
func (p *Provisioner) run(tenant *model.Tenant) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.MaxDuration)
	defer cancel()

	start := time.Now()
	log := p.log.With(zap.Uint("tenant_id", tenant.ID), zap.String("slug", tenant.Slug))

	if _, err := p.reg.Transition(ctx, tenant.ID, model.StatusPending, model.StatusProvisioning); err != nil {
		log.Error("Provisioning rejected by status guard", zap.Error(err))
		prometheus.ProvisionCounter.WithLabelValues("failed").Inc()
		return
	}

	if err := p.bootstrap(ctx, tenant); err != nil {
		log.Error("Provisioning failed, rolling back", zap.Error(err))
		prometheus.RecordError("ddl_failure")
		prometheus.ProvisionCounter.WithLabelValues("failed").Inc()

		// The bootstrap transaction already rolled back; the drop clears any
		// residue a partial failure outside the transaction could leave.
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer dropCancel()
		if dropErr := p.exec.DropSchema(dropCtx, tenant.SchemaName); dropErr != nil {
			log.Error("Rollback drop failed", zap.Error(dropErr))
		}
		if failErr := p.reg.Fail(dropCtx, tenant.ID, err.Error()); failErr != nil {
			log.Error("Failed to mark tenant failed", zap.Error(failErr))
		}
		return
	}

	if _, err := p.reg.Transition(ctx, tenant.ID, model.StatusProvisioning, model.StatusReady); err != nil {
		log.Error("Failed to mark tenant ready", zap.Error(err))
		prometheus.ProvisionCounter.WithLabelValues("failed").Inc()
		return
	}

	prometheus.ProvisionCounter.WithLabelValues("ready").Inc()
	prometheus.ActiveTenantsGauge.Inc()
	prometheus.ProvisionDuration.Observe(time.Since(start).Seconds())
	log.Info("Tenant provisioned", zap.Duration("took", time.Since(start)))
}

// bootstrap creates the schema, its relations, and the row-level policies in
// one transaction.
func (p *Provisioner) bootstrap(ctx context.Context, tenant *model.Tenant) error {
	defer prometheus.TrackDBOperation("ddl")(time.Now())

	stmts, err := isolation.BootstrapDDL(tenant.SchemaName, tenant.ID)
	if err != nil {
		return err
	}
	return p.exec.ExecDDL(ctx, stmts)
}

// Wait blocks until all in-flight provisioning runs finish.
func (p *Provisioner) Wait() {
	p.wg.Wait()
}
