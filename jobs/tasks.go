package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vendorhub/vendor-portal/internal/vendors"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRegistrationNotice tells a vendor their registration was received.
	TaskRegistrationNotice = "vendor:registration_notice"
	// TaskPendingDigest summarises registrations awaiting review.
	TaskPendingDigest = "vendor:pending_digest"
)

// RegistrationNoticePayload carries what the notice needs about a record.
type RegistrationNoticePayload struct {
	RecordID string `json:"record_id"`
	Name     string `json:"name"`
	ShopName string `json:"shop_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Plan     string `json:"plan"`
}

// NewRegistrationNoticeTask builds the notice task for rec.
func NewRegistrationNoticeTask(rec vendors.Record) (*asynq.Task, error) {
	body, err := json.Marshal(RegistrationNoticePayload{
		RecordID: rec.ID,
		Name:     rec.Name,
		ShopName: rec.ShopName,
		Email:    rec.Email,
		Phone:    rec.Phone,
		Plan:     string(rec.Plan),
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode registration notice: %w", err)
	}
	return asynq.NewTask(TaskRegistrationNotice, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewPendingDigestTask builds the scheduled digest task.
func NewPendingDigestTask() *asynq.Task {
	return asynq.NewTask(TaskPendingDigest, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}
