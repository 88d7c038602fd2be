package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vendorhub/vendor-portal/internal/auth"
	"github.com/vendorhub/vendor-portal/internal/platform/kv"
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type recordingNotifier struct {
	records []vendors.Record
	err     error
}

func (n *recordingNotifier) RegistrationCompleted(_ context.Context, rec vendors.Record) error {
	n.records = append(n.records, rec)
	return n.err
}

type failingRecords struct{ err error }

func (f failingRecords) Append(context.Context, vendors.Record) error { return f.err }

// ControllerSuite drives full visitor journeys against a miniredis-backed registry.
type ControllerSuite struct {
	suite.Suite
	ctx        context.Context
	mr         *miniredis.Miniredis
	store      kv.Store
	registry   *vendors.Registry
	documents  *vendors.Documents
	claims     *shared.IdempotencyStore
	notifier   *recordingNotifier
	controller *workflow.Controller
	charges    []workflow.Charge
	payErr     error
	nextID     int
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.store = kv.NewRedisStore(client)
	s.registry = vendors.NewRegistry(s.store)
	s.documents = vendors.NewDocuments(s.store)
	s.claims = shared.NewIdempotencyStore(client, time.Hour)
	s.notifier = &recordingNotifier{}
	s.charges = nil
	s.payErr = nil
	s.nextID = 0
	s.controller = s.newController(s.registry)
}

func (s *ControllerSuite) newController(records workflow.RecordStore) *workflow.Controller {
	creds, err := auth.NewStaticCredentials(auth.DefaultUsername, auth.DefaultPassword, "")
	s.Require().NoError(err)
	c := workflow.NewController(workflow.Dependencies{
		Records:   records,
		Documents: s.documents,
		Claims:    s.claims,
		Payments: workflow.PaymentFunc(func(_ context.Context, ch workflow.Charge) error {
			s.charges = append(s.charges, ch)
			return s.payErr
		}),
		Gate:     auth.NewService(creds, nil),
		Notifier: s.notifier,
	})
	c.WithNow(func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) })
	c.WithIDGenerator(func() string {
		s.nextID++
		return "vendor-" + string(rune('0'+s.nextID))
	})
	return c
}

func (s *ControllerSuite) fillValidDraft(m *workflow.Machine) {
	s.Require().NoError(s.controller.UpdateDetails(m, workflow.Details{
		Name:      "Asha Rao",
		ShopName:  "Asha Stores",
		Phone:     "9876543210",
		Email:     "asha@example.com",
		PanNumber: "ABCDE1234F",
		GSTNumber: "GST123",
		Address:   "12 MG Road",
	}))
	s.Require().NoError(s.controller.AttachDocument(s.ctx, m, vendors.DocumentShop, vendors.Attachment{Filename: "shop.png", Data: pngBytes}))
}

func (s *ControllerSuite) TestRegistrationJourney() {
	t := s.T()
	m := workflow.NewMachine()

	require.NoError(t, s.controller.StartRegistration(m))
	assert.Equal(t, workflow.StateRegistration, m.State)
	s.fillValidDraft(m)

	require.NoError(t, s.controller.Submit(m))
	assert.Equal(t, workflow.StatePayment, m.State)
	assert.Equal(t, vendors.PlanPremium, m.SelectedPlan)

	rec, err := s.controller.Pay(s.ctx, m, vendors.PlanPremium)
	require.NoError(t, err)
	assert.Equal(t, "vendor-1", rec.ID)
	assert.Equal(t, vendors.StatusPending, rec.Status)
	assert.Equal(t, vendors.PlanPremium, rec.Plan)
	assert.Equal(t, "2026-05-01", rec.RegistrationDate)
	require.Len(t, rec.Documents, 1)

	assert.Equal(t, workflow.StateSuccess, m.State)
	assert.Nil(t, m.Draft)
	require.NotNil(t, m.Receipt)
	assert.Equal(t, "asha@example.com", m.Receipt.Email)

	require.Len(t, s.charges, 1)
	assert.Equal(t, "2499", s.charges[0].Amount.String())
	require.Len(t, s.notifier.records, 1)

	stored, err := s.registry.Get(s.ctx, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	require.NoError(t, s.controller.BackToHome(m))
	assert.Equal(t, workflow.StateHome, m.State)
	assert.Nil(t, m.Receipt)
}

func (s *ControllerSuite) TestSubmitRejectsInvalidDraft() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.SetManualLocation(m, "95", "77"))

	err := s.controller.Submit(m)
	require.ErrorIs(t, err, vendors.ErrValidation)
	fe, ok := vendors.AsFieldErrors(err)
	require.True(t, ok)
	assert.Equal(t, "invalid latitude", fe["manualLatitude"])
	assert.Equal(t, workflow.StateRegistration, m.State)

	all, err := s.registry.ListAll(s.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func (s *ControllerSuite) TestBackKeepsDraft() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))

	require.NoError(t, s.controller.Back(m))
	assert.Equal(t, workflow.StateRegistration, m.State)
	require.NotNil(t, m.Draft)
	assert.Equal(t, "Asha Rao", m.Draft.Name)
}

func (s *ControllerSuite) TestPaymentFailureIsRetryable() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))

	s.payErr = errors.New("card declined")
	_, err := s.controller.Pay(s.ctx, m, vendors.PlanBasic)
	require.ErrorIs(t, err, workflow.ErrPaymentFailed)
	assert.Equal(t, workflow.StatePayment, m.State)
	assert.NotNil(t, m.Draft)
	counts, err := s.registry.Counts(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)

	s.payErr = nil
	rec, err := s.controller.Pay(s.ctx, m, vendors.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, vendors.PlanBasic, rec.Plan)
	counts, err = s.registry.Counts(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func (s *ControllerSuite) TestPayRejectsUnknownPlan() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))

	_, err := s.controller.Pay(s.ctx, m, "gold")
	require.ErrorIs(t, err, vendors.ErrUnknownPlan)
	assert.Empty(t, s.charges)
	assert.Equal(t, workflow.StatePayment, m.State)
}

func (s *ControllerSuite) TestAppendFailureKeepsDraftAndDocuments() {
	t := s.T()
	c := s.newController(failingRecords{err: vendors.ErrSaveFailed})
	m := workflow.NewMachine()
	require.NoError(t, c.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, c.Submit(m))

	_, err := c.Pay(s.ctx, m, "")
	require.ErrorIs(t, err, vendors.ErrSaveFailed)
	assert.Equal(t, workflow.StatePayment, m.State)
	require.NotNil(t, m.Draft)
	assert.Empty(t, s.notifier.records)

	_, err = s.store.Get(s.ctx, vendors.DocumentKey(m.Draft.ID, vendors.DocumentShop))
	assert.NoError(t, err)

	// The claim is released, so the same draft can be paid once the store is back.
	rec, err := s.newController(s.registry).Pay(s.ctx, m, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSuccess, m.State)
	require.Len(t, rec.Documents, 1)
}

func (s *ControllerSuite) payConcurrently(claims workflow.PaymentClaims) {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))
	snapshot, err := m.Snapshot()
	require.NoError(t, err)

	var charged atomic.Int32
	c := workflow.NewController(workflow.Dependencies{
		Records:   s.registry,
		Documents: s.documents,
		Claims:    claims,
		Payments: workflow.PaymentFunc(func(context.Context, workflow.Charge) error {
			charged.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil
		}),
	})

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replay, err := workflow.RestoreMachine(snapshot)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = c.Pay(s.ctx, replay, "")
		}(i)
	}
	wg.Wait()

	var paid, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			paid++
		case errors.Is(err, workflow.ErrPaymentInProgress):
			busy++
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, n-1, busy)
	assert.Equal(t, int32(1), charged.Load())

	// A paid draft stays claimed.
	replay, err := workflow.RestoreMachine(snapshot)
	require.NoError(t, err)
	_, err = c.Pay(s.ctx, replay, "")
	require.ErrorIs(t, err, workflow.ErrPaymentInProgress)
	assert.Equal(t, workflow.StatePayment, replay.State)

	counts, err := s.registry.Counts(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func (s *ControllerSuite) TestConcurrentPaysCreateOneRecord() {
	s.payConcurrently(s.claims)
}

func (s *ControllerSuite) TestConcurrentPaysWithInProcessClaims() {
	s.payConcurrently(nil)
}

func (s *ControllerSuite) TestNotifierFailureDoesNotFailRegistration() {
	t := s.T()
	s.notifier.err = errors.New("queue down")
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))

	_, err := s.controller.Pay(s.ctx, m, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSuccess, m.State)
}

func (s *ControllerSuite) TestAdminSession() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartAdminLogin(m))
	assert.Equal(t, workflow.StateAdminLogin, m.State)

	err := s.controller.Login(s.ctx, m, "admin", "nope")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Equal(t, workflow.StateAdminLogin, m.State)
	assert.False(t, m.IsAdmin())

	require.NoError(t, s.controller.Login(s.ctx, m, "admin", "admin123"))
	assert.True(t, m.IsAdmin())

	require.NoError(t, s.controller.Logout(m))
	assert.Equal(t, workflow.StateHome, m.State)
	assert.False(t, m.Admin)
}

func (s *ControllerSuite) TestInvalidTransitionsLeaveMachineUntouched() {
	t := s.T()
	ctrl := s.controller
	cases := []struct {
		name  string
		state workflow.State
		event func(*workflow.Machine) error
	}{
		{"submit from home", workflow.StateHome, ctrl.Submit},
		{"back from registration", workflow.StateRegistration, ctrl.Back},
		{"home from payment", workflow.StatePayment, ctrl.BackToHome},
		{"logout from admin login", workflow.StateAdminLogin, ctrl.Logout},
		{"registration from success", workflow.StateSuccess, ctrl.StartRegistration},
		{"admin login from dashboard", workflow.StateAdminDashboard, ctrl.StartAdminLogin},
		{"details from payment", workflow.StatePayment, func(m *workflow.Machine) error {
			return ctrl.UpdateDetails(m, workflow.Details{Name: "x"})
		}},
		{"pay from registration", workflow.StateRegistration, func(m *workflow.Machine) error {
			_, err := ctrl.Pay(s.ctx, m, vendors.PlanBasic)
			return err
		}},
		{"login from home", workflow.StateHome, func(m *workflow.Machine) error {
			return ctrl.Login(s.ctx, m, "admin", "admin123")
		}},
	}
	for _, tc := range cases {
		m := &workflow.Machine{State: tc.state, Draft: &vendors.Draft{Name: "kept"}}
		before := *m
		err := tc.event(m)
		assert.ErrorIs(t, err, workflow.ErrInvalidTransition, tc.name)
		assert.Equal(t, before, *m, tc.name)
	}
}

func (s *ControllerSuite) TestLocationCapture() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	require.NoError(t, s.controller.SetManualLocation(m, "28.6139", "77.2090"))

	err := s.controller.CaptureLocation(s.ctx, m, workflow.ReportedLocation{Error: "permission denied"})
	require.ErrorIs(t, err, workflow.ErrLocationUnavailable)
	assert.Equal(t, "28.6139", m.Draft.ManualLatitude)

	lat, lng := 12.9716, 77.5946
	require.NoError(t, s.controller.CaptureLocation(s.ctx, m, workflow.ReportedLocation{Latitude: &lat, Longitude: &lng}))
	assert.Equal(t, &vendors.Coordinate{Latitude: lat, Longitude: lng}, m.Draft.AutoLocation)
	assert.Empty(t, m.Draft.ManualLatitude)

	require.NoError(t, s.controller.SetManualLocation(m, "1", "2"))
	assert.Nil(t, m.Draft.AutoLocation)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err = s.controller.CaptureLocation(ctx, m, workflow.ReportedLocation{Latitude: &lat, Longitude: &lng})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "1", m.Draft.ManualLatitude)
}

func (s *ControllerSuite) TestAttachDocumentRejectsNonImages() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))

	err := s.controller.AttachDocument(s.ctx, m, vendors.DocumentPAN, vendors.Attachment{Filename: "pan.txt", Data: []byte("hello")})
	require.ErrorIs(t, err, vendors.ErrValidation)
	assert.Nil(t, m.Draft.PanImage)

	require.NoError(t, s.controller.AttachDocument(s.ctx, m, vendors.DocumentPAN, vendors.Attachment{Filename: "pan.png", Data: pngBytes}))
	require.NotNil(t, m.Draft.PanImage)
	assert.Equal(t, "pan.png", m.Draft.PanImage.Filename)
	assert.Equal(t, "image/png", m.Draft.PanImage.ContentType)
	stored, err := s.store.Get(s.ctx, m.Draft.PanImage.Key)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, stored)

	snapshot, err := m.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(snapshot), "data")

	key := m.Draft.PanImage.Key
	require.NoError(t, s.controller.AttachDocument(s.ctx, m, vendors.DocumentPAN, vendors.Attachment{}))
	assert.Nil(t, m.Draft.PanImage)
	_, err = s.store.Get(s.ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func (s *ControllerSuite) TestStartRegistrationDiscardsPreviousDraft() {
	t := s.T()
	m := workflow.NewMachine()
	require.NoError(t, s.controller.StartRegistration(m))
	s.fillValidDraft(m)
	require.NoError(t, s.controller.Submit(m))
	_, err := s.controller.Pay(s.ctx, m, "")
	require.NoError(t, err)
	require.NoError(t, s.controller.BackToHome(m))

	require.NoError(t, s.controller.StartRegistration(m))
	assert.NotEmpty(t, m.Draft.ID)
	assert.Equal(t, vendors.Draft{ID: m.Draft.ID}, *m.Draft)
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func TestMachineSnapshotRoundTrip(t *testing.T) {
	m := &workflow.Machine{
		State: workflow.StatePayment,
		Draft: &vendors.Draft{ID: "draft-1", Name: "Asha", ShopImage: &vendors.DocumentRef{
			Kind: vendors.DocumentShop, Key: vendors.DocumentKey("draft-1", vendors.DocumentShop), Filename: "s.png",
		}},
		SelectedPlan: vendors.PlanEnterprise,
	}
	data, err := m.Snapshot()
	require.NoError(t, err)

	restored, err := workflow.RestoreMachine(data)
	require.NoError(t, err)
	assert.Equal(t, m, restored)

	fresh, err := workflow.RestoreMachine(nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateHome, fresh.State)

	_, err = workflow.RestoreMachine([]byte(`{"state":"limbo"}`))
	assert.Error(t, err)
}

func TestSimulatedProcessor(t *testing.T) {
	p := workflow.SimulatedProcessor{Delay: 10 * time.Millisecond}
	require.NoError(t, p.Charge(context.Background(), workflow.Charge{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := workflow.SimulatedProcessor{Delay: time.Hour}
	assert.ErrorIs(t, slow.Charge(ctx, workflow.Charge{}), context.Canceled)
}
