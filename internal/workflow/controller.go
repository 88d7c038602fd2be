package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendorhub/vendor-portal/internal/auth"
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
)

// RecordStore receives records created by completed payments.
type RecordStore interface {
	Append(ctx context.Context, rec vendors.Record) error
}

// DocumentStore persists attachments as they are uploaded.
type DocumentStore interface {
	Save(ctx context.Context, draftID string, kind vendors.DocumentKind, a vendors.Attachment) (vendors.DocumentRef, error)
	Remove(ctx context.Context, refs []vendors.DocumentRef) error
}

// Gate decides whether admin credentials are acceptable.
type Gate interface {
	Login(ctx context.Context, username, password string) bool
}

// Notifier is told about completed registrations. Failures never undo a
// registration.
type Notifier interface {
	RegistrationCompleted(ctx context.Context, rec vendors.Record) error
}

// Details are the free-text registration fields.
type Details struct {
	Name          string `json:"name"`
	ShopName      string `json:"shopName"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	AadhaarNumber string `json:"aadhaarNumber"`
	PanNumber     string `json:"panNumber"`
	GSTNumber     string `json:"gstNumber"`
	Address       string `json:"address"`
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Validator *vendors.Validator
	Records   RecordStore
	Documents DocumentStore
	Payments  PaymentProcessor
	Claims    PaymentClaims
	Gate      Gate
	Notifier  Notifier
	Logger    *slog.Logger
}

// Controller applies workflow events to machines. It is the only place that
// changes a Machine, and on error the machine is left as it was.
type Controller struct {
	validator *vendors.Validator
	records   RecordStore
	documents DocumentStore
	payments  PaymentProcessor
	claims    PaymentClaims
	gate      Gate
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewController constructs a Controller.
func NewController(deps Dependencies) *Controller {
	c := &Controller{
		validator: deps.Validator,
		records:   deps.Records,
		documents: deps.Documents,
		payments:  deps.Payments,
		claims:    deps.Claims,
		gate:      deps.Gate,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if c.validator == nil {
		c.validator = vendors.NewValidator()
	}
	if c.payments == nil {
		c.payments = SimulatedProcessor{Delay: DefaultPaymentDelay}
	}
	if c.claims == nil {
		c.claims = newLocalClaims()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// WithNow overrides the clock for deterministic tests.
func (c *Controller) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// WithIDGenerator overrides record id generation.
func (c *Controller) WithIDGenerator(fn func() string) {
	if fn != nil {
		c.newID = fn
	}
}

// StartRegistration moves Home to Registration with a fresh draft.
func (c *Controller) StartRegistration(m *Machine) error {
	if err := m.require("start registration", StateHome); err != nil {
		return err
	}
	m.State = StateRegistration
	m.Draft = newDraft()
	m.Receipt = nil
	return nil
}

// StartAdminLogin moves Home to AdminLogin.
func (c *Controller) StartAdminLogin(m *Machine) error {
	if err := m.require("start admin login", StateHome); err != nil {
		return err
	}
	m.State = StateAdminLogin
	return nil
}

// UpdateDetails replaces the free-text fields of the draft.
func (c *Controller) UpdateDetails(m *Machine, d Details) error {
	if err := m.require("update details", StateRegistration); err != nil {
		return err
	}
	draft := m.ensureDraft()
	draft.Name = d.Name
	draft.ShopName = d.ShopName
	draft.Phone = d.Phone
	draft.Email = d.Email
	draft.AadhaarNumber = d.AadhaarNumber
	draft.PanNumber = d.PanNumber
	draft.GSTNumber = d.GSTNumber
	draft.Address = d.Address
	return nil
}

// SetManualLocation records typed coordinates, clearing any captured position.
func (c *Controller) SetManualLocation(m *Machine, lat, lng string) error {
	if err := m.require("set manual location", StateRegistration); err != nil {
		return err
	}
	m.ensureDraft().SetManualLocation(lat, lng)
	return nil
}

// CaptureLocation asks locator for a position and stores it on the draft,
// clearing manual coordinates. On failure the draft is unchanged.
func (c *Controller) CaptureLocation(ctx context.Context, m *Machine, locator Locator) error {
	if err := m.require("capture location", StateRegistration); err != nil {
		return err
	}
	coord, err := locator.Locate(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	m.ensureDraft().SetAutoLocation(coord)
	return nil
}

// AttachDocument stores an upload and puts its reference in the given draft
// slot. An empty upload deletes the stored document and clears the slot.
func (c *Controller) AttachDocument(ctx context.Context, m *Machine, kind vendors.DocumentKind, a vendors.Attachment) error {
	if err := m.require("attach document", StateRegistration); err != nil {
		return err
	}
	if c.documents == nil {
		return errors.New("workflow: no document store")
	}
	draft := m.Draft
	if draft == nil {
		draft = newDraft()
	}
	field := string(kind) + "Image"
	if len(a.Data) == 0 {
		if ref := draft.Document(kind); ref != nil {
			if err := c.documents.Remove(ctx, []vendors.DocumentRef{*ref}); err != nil {
				return fmt.Errorf("%w: remove %s document: %w", vendors.ErrSaveFailed, kind, err)
			}
		}
		draft.Attach(kind, nil)
		m.Draft = draft
		return nil
	}
	if len(a.Data) > vendors.MaxDocumentSize {
		return vendors.FieldErrors{field: "document too large"}
	}
	if _, ok := vendors.SniffAttachment(a.Data); !ok {
		return vendors.FieldErrors{field: "unsupported document type"}
	}
	ref, err := c.documents.Save(ctx, draft.ID, kind, a)
	if err != nil {
		return err
	}
	draft.Attach(kind, &ref)
	m.Draft = draft
	return nil
}

// Submit validates the draft and moves to Payment. Field errors are returned
// as vendors.FieldErrors.
func (c *Controller) Submit(m *Machine) error {
	if err := m.require("submit", StateRegistration); err != nil {
		return err
	}
	if errs := c.validator.Validate(*m.ensureDraft()); len(errs) > 0 {
		return errs
	}
	m.State = StatePayment
	if m.SelectedPlan == "" {
		m.SelectedPlan = vendors.DefaultPlan
	}
	return nil
}

// Back returns from Payment to Registration keeping the draft.
func (c *Controller) Back(m *Machine) error {
	if err := m.require("back", StatePayment); err != nil {
		return err
	}
	m.State = StateRegistration
	return nil
}

// Pay charges the selected plan and, once paid, turns the draft into a
// pending record. An empty planID pays for the preselected plan. If the
// charge or any write fails the machine stays in Payment with its draft.
//
// Only one Pay per draft runs at a time and a paid draft stays claimed, so
// replays of the same snapshot fail with ErrPaymentInProgress.
func (c *Controller) Pay(ctx context.Context, m *Machine, planID vendors.PlanID) (rec vendors.Record, err error) {
	if err := m.require("pay", StatePayment); err != nil {
		return vendors.Record{}, err
	}
	if m.Draft == nil {
		return vendors.Record{}, fmt.Errorf("%w: no draft to pay for", ErrInvalidTransition)
	}
	if planID == "" {
		planID = m.SelectedPlan
	}
	plan, err := vendors.LookupPlan(planID)
	if err != nil {
		return vendors.Record{}, err
	}
	draft := *m.Draft
	if draft.ID == "" {
		return vendors.Record{}, fmt.Errorf("%w: draft has no id", ErrInvalidTransition)
	}

	if err := c.claims.CheckAndInsert(ctx, draft.ID, paymentModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return vendors.Record{}, fmt.Errorf("%w: draft %s", ErrPaymentInProgress, draft.ID)
		}
		return vendors.Record{}, fmt.Errorf("workflow: claim payment: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if relErr := c.claims.Delete(context.WithoutCancel(ctx), draft.ID, paymentModule); relErr != nil {
			c.logger.Warn("release payment claim", slog.String("draft", draft.ID), slog.Any("error", relErr))
		}
	}()

	id := c.newID()
	rec, err = vendors.BuildRecord(id, draft, plan.ID, c.now())
	if err != nil {
		return vendors.Record{}, err
	}

	charge := Charge{Reference: draft.ID, Plan: plan.ID, Amount: plan.Price, Currency: plan.Currency, Email: draft.Email}
	if err := c.payments.Charge(ctx, charge); err != nil {
		c.logger.Warn("payment failed", slog.String("plan", string(plan.ID)), slog.Any("error", err))
		return vendors.Record{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	if err := c.records.Append(ctx, rec); err != nil {
		return vendors.Record{}, err
	}

	if c.notifier != nil {
		if err := c.notifier.RegistrationCompleted(ctx, rec); err != nil {
			c.logger.Warn("registration notice", slog.String("id", id), slog.Any("error", err))
		}
	}
	c.logger.Info("registration completed", slog.String("id", id), slog.String("plan", string(plan.ID)))

	m.State = StateSuccess
	m.Draft = nil
	m.SelectedPlan = ""
	m.Receipt = &Receipt{RecordID: rec.ID, Name: rec.Name, Email: rec.Email, Plan: rec.Plan}
	return rec, nil
}

// BackToHome leaves Success, clearing the draft.
func (c *Controller) BackToHome(m *Machine) error {
	if err := m.require("back to home", StateSuccess); err != nil {
		return err
	}
	m.State = StateHome
	m.Draft = nil
	m.Receipt = nil
	return nil
}

// Login consults the gate and opens the admin dashboard.
func (c *Controller) Login(ctx context.Context, m *Machine, username, password string) error {
	if err := m.require("login", StateAdminLogin); err != nil {
		return err
	}
	if c.gate == nil || !c.gate.Login(ctx, username, password) {
		return auth.ErrInvalidCredentials
	}
	m.State = StateAdminDashboard
	m.Admin = true
	return nil
}

// Logout closes the admin dashboard.
func (c *Controller) Logout(m *Machine) error {
	if err := m.require("logout", StateAdminDashboard); err != nil {
		return err
	}
	m.State = StateHome
	m.Admin = false
	return nil
}

func (m *Machine) ensureDraft() *vendors.Draft {
	if m.Draft == nil {
		m.Draft = newDraft()
	}
	return m.Draft
}

func newDraft() *vendors.Draft {
	return &vendors.Draft{ID: uuid.NewString()}
}
