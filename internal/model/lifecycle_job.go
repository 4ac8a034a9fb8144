package model

import (
	"time"
)

// JobKind identifies the lifecycle operation a job performs.
type JobKind string

const (
	JobExport   JobKind = "export"
	JobDeletion JobKind = "deletion"
)

// JobStatus is the state of a lifecycle job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// LifecycleJob is the durable record of an export or deletion run. The row
// outlives the tenant schema it operated on and is never deleted; a failed
// deletion therefore always stays visible. LastStep is the persisted cursor:
// the name of the last step that completed, so a crash mid-sequence leaves
// inspectable, resumable state instead of silent partial completion.
type LifecycleJob struct {
	ID          string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID    uint       `json:"tenant_id" gorm:"index;not null"`
	Kind        JobKind    `json:"kind" gorm:"type:varchar(20);not null"`
	Status      JobStatus  `json:"status" gorm:"type:varchar(20);not null;default:'processing'"`
	LastStep    string     `json:"last_step" gorm:"type:varchar(50)"`
	Progress    int        `json:"progress"`
	Result      string     `json:"result,omitempty" gorm:"type:text"`
	RequestedBy uint       `json:"requested_by" gorm:"not null"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
