package portal

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vendorhub/vendor-portal/internal/auth"
	"github.com/vendorhub/vendor-portal/internal/observability"
	"github.com/vendorhub/vendor-portal/internal/platform/httpx"
	"github.com/vendorhub/vendor-portal/internal/platform/kv"
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type portalFixture struct {
	t         *testing.T
	srv       *httptest.Server
	client    *http.Client
	token     string
	registry  *vendors.Registry
	documents *vendors.Documents
	payErr    error
	payDelay  time.Duration
	charges   atomic.Int32
}

func newPortal(t *testing.T) *portalFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewRedisStore(rdb)
	f := &portalFixture{
		t:         t,
		registry:  vendors.NewRegistry(store),
		documents: vendors.NewDocuments(store),
	}

	creds, err := auth.NewStaticCredentials(auth.DefaultUsername, auth.DefaultPassword, "")
	require.NoError(t, err)
	var seq atomic.Int64
	controller := workflow.NewController(workflow.Dependencies{
		Records:   f.registry,
		Documents: f.documents,
		Claims:    shared.NewIdempotencyStore(rdb, time.Hour),
		Payments: workflow.PaymentFunc(func(context.Context, workflow.Charge) error {
			f.charges.Add(1)
			time.Sleep(f.payDelay)
			return f.payErr
		}),
		Gate:   auth.NewService(creds, logger),
		Logger: logger,
	})
	controller.WithNow(func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) })
	controller.WithIDGenerator(func() string {
		return fmt.Sprintf("vendor-%d", seq.Add(1))
	})

	sessions := shared.NewSessionManager(rdb, "vendor_portal_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("test-secret")
	h := NewHandler(logger, controller, f.registry, f.documents, csrf, observability.NewMetrics())

	r := chi.NewRouter()
	r.Route("/portal", func(r chi.Router) {
		r.Use(sessions.Middleware(logger))
		r.Use(csrf.Middleware(logger))
		h.MountRoutes(r)
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	f.client = &http.Client{Jar: jar}
	return f
}

func (f *portalFixture) send(req *http.Request) *http.Response {
	f.t.Helper()
	if f.token != "" {
		req.Header.Set(shared.CSRFHeader, f.token)
	}
	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *portalFixture) do(method, path string, body any) *http.Response {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return f.send(req)
}

func (f *portalFixture) upload(kind, filename string, data []byte) *http.Response {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(f.t, err)
	_, err = part.Write(data)
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/portal/registration/documents/"+kind, &buf)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.send(req)
}

// state decodes a state response and remembers its csrf token.
func (f *portalFixture) state(resp *http.Response) stateView {
	f.t.Helper()
	require.Equal(f.t, http.StatusOK, resp.StatusCode)
	var view stateView
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&view))
	if view.CSRFToken != "" {
		f.token = view.CSRFToken
	}
	return view
}

func (f *portalFixture) refresh() stateView {
	f.t.Helper()
	return f.state(f.do(http.MethodGet, "/portal/state", nil))
}

func problem(t *testing.T, resp *http.Response) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func validDetails() workflow.Details {
	return workflow.Details{
		Name:          "Asha Rao",
		ShopName:      "Rao Textiles",
		Phone:         "9876543210",
		Email:         "asha@x.in",
		AadhaarNumber: "123456789012",
		PanNumber:     "ABCDE1234F",
		GSTNumber:     "29ABCDE1234F1Z5",
		Address:       "12 MG Road",
	}
}

// toPayment walks a visitor from Home to the Payment step.
func (f *portalFixture) toPayment(details workflow.Details) stateView {
	f.t.Helper()
	f.refresh()
	f.state(f.do(http.MethodPost, "/portal/registration", nil))
	f.state(f.do(http.MethodPut, "/portal/registration/details", details))
	f.state(f.do(http.MethodPut, "/portal/registration/location/manual", manualLocationRequest{Latitude: "12.97", Longitude: "77.59"}))
	for _, kind := range []string{"aadhaar", "pan", "shop"} {
		f.state(f.upload(kind, kind+".png", pngBytes))
	}
	return f.state(f.do(http.MethodPost, "/portal/registration/submit", nil))
}

// register walks a visitor from Home to Success.
func (f *portalFixture) register(details workflow.Details) stateView {
	f.t.Helper()
	f.toPayment(details)
	return f.state(f.do(http.MethodPost, "/portal/payment", paymentRequest{PlanID: vendors.PlanBasic}))
}

func (f *portalFixture) loginAdmin() stateView {
	f.t.Helper()
	f.refresh()
	f.state(f.do(http.MethodPost, "/portal/admin", nil))
	return f.state(f.do(http.MethodPost, "/portal/admin/login", loginRequest{Username: "admin", Password: "admin123"}))
}

func TestStateStartsAtHome(t *testing.T) {
	f := newPortal(t)
	view := f.refresh()
	assert.Equal(t, workflow.StateHome, view.State)
	assert.False(t, view.Admin)
	assert.NotEmpty(t, view.CSRFToken)
	assert.Nil(t, view.Draft)
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	f := newPortal(t)
	resp := f.do(http.MethodPost, "/portal/registration", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.refresh()
	f.token = "forged"
	resp = f.do(http.MethodPost, "/portal/registration", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRegistrationJourney(t *testing.T) {
	f := newPortal(t)

	f.refresh()
	view := f.state(f.do(http.MethodPost, "/portal/registration", nil))
	require.Equal(t, workflow.StateRegistration, view.State)
	require.NotNil(t, view.Draft)

	f.state(f.do(http.MethodPut, "/portal/registration/details", validDetails()))
	lat, lng := 12.97, 77.59
	view = f.state(f.do(http.MethodPost, "/portal/registration/location", workflow.ReportedLocation{Latitude: &lat, Longitude: &lng}))
	require.NotNil(t, view.Draft.Location)
	assert.InDelta(t, 12.97, view.Draft.Location.Latitude, 1e-9)
	require.Len(t, view.Notices, 1)
	assert.Equal(t, "Location captured successfully!", view.Notices[0].Message)

	for _, kind := range []string{"aadhaar", "pan", "shop"} {
		view = f.state(f.upload(kind, kind+".png", pngBytes))
	}
	assert.Equal(t, map[string]string{"aadhaar": "aadhaar.png", "pan": "pan.png", "shop": "shop.png"}, view.Draft.Documents)

	view = f.state(f.do(http.MethodPost, "/portal/registration/submit", nil))
	require.Equal(t, workflow.StatePayment, view.State)
	assert.Equal(t, vendors.DefaultPlan, view.SelectedPlan)

	view = f.state(f.do(http.MethodPost, "/portal/payment/back", nil))
	require.Equal(t, workflow.StateRegistration, view.State)
	assert.Equal(t, "Asha Rao", view.Draft.Name)
	f.state(f.do(http.MethodPost, "/portal/registration/submit", nil))

	view = f.state(f.do(http.MethodPost, "/portal/payment", paymentRequest{PlanID: vendors.PlanEnterprise}))
	require.Equal(t, workflow.StateSuccess, view.State)
	require.NotNil(t, view.Receipt)
	assert.Equal(t, "vendor-1", view.Receipt.RecordID)
	assert.Nil(t, view.Draft)

	rec, err := f.registry.Get(context.Background(), "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, vendors.StatusPending, rec.Status)
	assert.Equal(t, vendors.PlanEnterprise, rec.Plan)
	assert.Equal(t, "2026-03-14", rec.RegistrationDate)
	assert.Len(t, rec.Documents, 3)

	view = f.state(f.do(http.MethodPost, "/portal/home", nil))
	assert.Equal(t, workflow.StateHome, view.State)
	assert.Nil(t, view.Receipt)
}

func TestSubmitReportsFieldErrors(t *testing.T) {
	f := newPortal(t)
	f.refresh()
	f.state(f.do(http.MethodPost, "/portal/registration", nil))

	resp := f.do(http.MethodPost, "/portal/registration/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	p := problem(t, resp)
	assert.Contains(t, p.Errors, "name")
	assert.Contains(t, p.Errors, "shopImage")

	view := f.refresh()
	assert.Equal(t, workflow.StateRegistration, view.State)
	require.Len(t, view.Notices, 1)
	assert.Equal(t, shared.NoticeError, view.Notices[0].Kind)
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	f := newPortal(t)
	f.refresh()

	resp := f.do(http.MethodPost, "/portal/payment", paymentRequest{PlanID: vendors.PlanBasic})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, workflow.StateHome, f.refresh().State)
}

func TestCaptureLocationFailureKeepsDraft(t *testing.T) {
	f := newPortal(t)
	f.refresh()
	f.state(f.do(http.MethodPost, "/portal/registration", nil))
	f.state(f.do(http.MethodPut, "/portal/registration/location/manual", manualLocationRequest{Latitude: "1.5", Longitude: "2.5"}))

	resp := f.do(http.MethodPost, "/portal/registration/location", workflow.ReportedLocation{Error: "permission denied"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	view := f.refresh()
	assert.Equal(t, "1.5", view.Draft.ManualLatitude)
	assert.Nil(t, view.Draft.Location)
	require.Len(t, view.Notices, 1)
	assert.Equal(t, "Failed to get location. Please enable location services.", view.Notices[0].Message)
}

func TestAttachDocumentRejectsUnsupportedContent(t *testing.T) {
	f := newPortal(t)
	f.refresh()
	f.state(f.do(http.MethodPost, "/portal/registration", nil))

	resp := f.upload("pan", "notes.txt", []byte("plain text"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, problem(t, resp).Errors, "panImage")

	resp = f.upload("passport", "p.png", pngBytes)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPaymentFailureStaysOnPayment(t *testing.T) {
	f := newPortal(t)
	f.payErr = errors.New("card declined")
	f.toPayment(validDetails())

	resp := f.do(http.MethodPost, "/portal/payment", paymentRequest{PlanID: vendors.PlanBasic})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	view := f.refresh()
	assert.Equal(t, workflow.StatePayment, view.State)
	require.NotNil(t, view.Draft)
	records, err := f.registry.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	resp = f.do(http.MethodPost, "/portal/payment", paymentRequest{PlanID: "platinum"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConcurrentPaymentsRegisterOnce(t *testing.T) {
	f := newPortal(t)
	f.payDelay = 50 * time.Millisecond
	f.toPayment(validDetails())

	body, err := json.Marshal(paymentRequest{PlanID: vendors.PlanBasic})
	require.NoError(t, err)
	const n = 4
	codes := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/portal/payment", bytes.NewReader(body))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(shared.CSRFHeader, f.token)
			resp, err := f.client.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			_ = resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var paid, conflicts int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			paid++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, paid, "status codes %v", codes)
	assert.Equal(t, n-1, conflicts, "status codes %v", codes)
	assert.Equal(t, int32(1), f.charges.Load())

	records, err := f.registry.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	view := f.refresh()
	assert.Equal(t, workflow.StateSuccess, view.State)
	require.NotNil(t, view.Receipt)
	assert.Equal(t, records[0].ID, view.Receipt.RecordID)
}

func TestAdminRoutesRequireLogin(t *testing.T) {
	f := newPortal(t)
	f.refresh()

	resp := f.do(http.MethodGet, "/portal/admin/vendors", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.state(f.do(http.MethodPost, "/portal/admin", nil))
	resp = f.do(http.MethodPost, "/portal/admin/login", loginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	view := f.refresh()
	assert.Equal(t, workflow.StateAdminLogin, view.State)
	assert.False(t, view.Admin)
	resp = f.do(http.MethodGet, "/portal/admin/vendors/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminLoginRotatesSession(t *testing.T) {
	f := newPortal(t)
	f.refresh()
	before := f.token
	f.state(f.do(http.MethodPost, "/portal/admin", nil))

	view := f.state(f.do(http.MethodPost, "/portal/admin/login", loginRequest{Username: "admin", Password: "admin123"}))
	assert.Equal(t, workflow.StateAdminDashboard, view.State)
	assert.True(t, view.Admin)
	assert.NotEqual(t, before, f.token)

	view = f.state(f.do(http.MethodPost, "/portal/admin/logout", nil))
	assert.Equal(t, workflow.StateHome, view.State)
	assert.False(t, view.Admin)
	resp := f.do(http.MethodGet, "/portal/admin/vendors", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminConsole(t *testing.T) {
	f := newPortal(t)
	f.register(validDetails())
	other := validDetails()
	other.Name = "Priya Sharma"
	other.ShopName = "Sharma Kirana"
	other.Email = "priya@x.in"
	f.state(f.do(http.MethodPost, "/portal/home", nil))
	f.register(other)
	f.state(f.do(http.MethodPost, "/portal/home", nil))

	f.loginAdmin()

	var list vendorListView
	resp := f.do(http.MethodGet, "/portal/admin/vendors?search=kirana", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Vendors, 1)
	assert.Equal(t, "vendor-2", list.Vendors[0].ID)
	assert.Equal(t, "all", list.Status)
	assert.Equal(t, vendors.Counts{Total: 2, Pending: 2}, list.Counts)

	resp = f.do(http.MethodPost, "/portal/admin/vendors/vendor-1/status", statusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated vendors.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, vendors.StatusActive, updated.Status)

	resp = f.do(http.MethodGet, "/portal/admin/vendors?status=active", nil)
	list = vendorListView{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Vendors, 1)
	assert.Equal(t, "vendor-1", list.Vendors[0].ID)

	var counts vendors.Counts
	resp = f.do(http.MethodGet, "/portal/admin/vendors/stats", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, vendors.Counts{Total: 2, Pending: 1, Active: 1}, counts)

	resp = f.do(http.MethodGet, "/portal/admin/vendors/vendor-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(http.MethodGet, "/portal/admin/vendors/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(http.MethodPost, "/portal/admin/vendors/missing/status", statusRequest{Status: "active"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(http.MethodPost, "/portal/admin/vendors/vendor-1/status", statusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(http.MethodGet, "/portal/admin/vendors?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminDocumentDownload(t *testing.T) {
	f := newPortal(t)
	f.register(validDetails())
	f.state(f.do(http.MethodPost, "/portal/home", nil))
	f.loginAdmin()

	resp := f.do(http.MethodGet, "/portal/admin/vendors/vendor-1/documents/shop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, body)

	resp = f.do(http.MethodGet, "/portal/admin/vendors/vendor-1/documents/selfie", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAdminExports(t *testing.T) {
	f := newPortal(t)
	f.register(validDetails())
	f.state(f.do(http.MethodPost, "/portal/home", nil))
	f.loginAdmin()

	resp := f.do(http.MethodGet, "/portal/admin/vendors/export.csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), vendors.CSVFilename)
	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, vendors.ExportHeader, rows[0])
	assert.Equal(t, "Asha Rao", rows[1][0])

	resp = f.do(http.MethodGet, "/portal/admin/vendors/export.xlsx?search=nobody", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	book, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = book.Close() })
	sheetRows, err := book.GetRows(book.GetSheetName(0))
	require.NoError(t, err)
	assert.Len(t, sheetRows, 1)

	view := f.refresh()
	require.Len(t, view.Notices, 2)
	assert.Equal(t, "Vendor data exported successfully!", view.Notices[1].Message)
}

func TestPlansCatalog(t *testing.T) {
	f := newPortal(t)
	resp := f.do(http.MethodGet, "/portal/plans", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view plansView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Len(t, view.Plans, len(vendors.Catalog()))
	assert.Equal(t, vendors.DefaultPlan, view.DefaultPlan)
}
