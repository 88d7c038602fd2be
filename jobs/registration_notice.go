package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/ttacon/libphonenumber"

	jobmetrics "github.com/vendorhub/vendor-portal/internal/jobs"
)

// DefaultRegion is the numbering plan assumed for national phone numbers.
const DefaultRegion = "IN"

// Message is an outgoing vendor notification.
type Message struct {
	To      string
	Phone   string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	m.Logger.Info("email notification sent",
		slog.String("to", msg.To),
		slog.String("phone", msg.Phone),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// RegistrationNoticeJob handles TaskRegistrationNotice.
type RegistrationNoticeJob struct {
	Mailer  Mailer
	Region  string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRegistrationNoticeJob wires dependencies for the notice handler.
func NewRegistrationNoticeJob(mailer Mailer, region string, logger *slog.Logger, metrics *jobmetrics.Metrics) *RegistrationNoticeJob {
	if region == "" {
		region = DefaultRegion
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	return &RegistrationNoticeJob{Mailer: mailer, Region: region, Logger: logger, Metrics: metrics}
}

// Handle processes registration notice tasks.
func (j *RegistrationNoticeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("registration notice: handler not configured")
	}
	var payload RegistrationNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("registration notice: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" {
		return fmt.Errorf("registration notice: missing email: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskRegistrationNotice)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.Logger.With(slog.String("record_id", payload.RecordID))
	phone, perr := FormatPhone(payload.Phone, j.Region)
	if perr != nil {
		logger.Warn("registration notice phone", slog.Any("error", perr))
		phone = ""
	}
	msg := Message{
		To:      payload.Email,
		Phone:   phone,
		Subject: "Your vendor registration has been received",
		Body: fmt.Sprintf("Hello %s, your registration for %s on the %s plan is pending review. Reference: %s.",
			payload.Name, payload.ShopName, payload.Plan, payload.RecordID),
	}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("registration notice: send: %w", err)
	}
	return nil
}

// FormatPhone normalises a national or international number to E.164.
func FormatPhone(raw, region string) (string, error) {
	num, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("phone number %q is not valid", raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
