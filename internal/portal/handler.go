// Package portal exposes the registration workflow and the admin console
// over HTTP. Each visitor's workflow machine lives in their session.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vendorhub/vendor-portal/internal/observability"
	"github.com/vendorhub/vendor-portal/internal/platform/httpx"
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
)

// Registry is the read and status side of the vendor registry.
type Registry interface {
	Query(ctx context.Context, term string, filter vendors.StatusFilter) ([]vendors.Record, error)
	Get(ctx context.Context, id string) (vendors.Record, error)
	UpdateStatus(ctx context.Context, id string, status vendors.Status) (vendors.Record, error)
	Counts(ctx context.Context) (vendors.Counts, error)
}

// DocumentReader loads stored registration documents.
type DocumentReader interface {
	Open(ctx context.Context, ref vendors.DocumentRef) ([]byte, error)
}

type Handler struct {
	logger     *slog.Logger
	controller *workflow.Controller
	registry   Registry
	documents  DocumentReader
	csrf       *shared.CSRFManager
	metrics    *observability.Metrics
}

func NewHandler(
	logger *slog.Logger,
	controller *workflow.Controller,
	registry Registry,
	documents DocumentReader,
	csrf *shared.CSRFManager,
	metrics *observability.Metrics,
) *Handler {
	return &Handler{
		logger:     logger,
		controller: controller,
		registry:   registry,
		documents:  documents,
		csrf:       csrf,
		metrics:    metrics,
	}
}

// MountRoutes registers the portal routes. The router must already carry the
// session and CSRF middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/state", h.showState)
	r.Get("/plans", h.listPlans)

	r.Route("/registration", func(r chi.Router) {
		r.Post("/", h.event("start_registration", h.startRegistration))
		r.Put("/details", h.event("update_details", h.updateDetails))
		r.Post("/location", h.event("capture_location", h.captureLocation))
		r.Put("/location/manual", h.event("set_manual_location", h.setManualLocation))
		r.Post("/documents/{kind}", h.event("attach_document", h.attachDocument))
		r.Post("/submit", h.event("submit", h.submit))
	})
	r.Post("/payment", h.event("pay", h.pay))
	r.Post("/payment/back", h.event("back", h.back))
	r.Post("/home", h.event("back_to_home", h.backToHome))

	r.Route("/admin", func(r chi.Router) {
		r.Post("/", h.event("start_admin_login", h.startAdminLogin))
		r.Post("/login", h.event("login", h.login))
		r.Post("/logout", h.event("logout", h.logout))

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/vendors", h.listVendors)
			r.Get("/vendors/stats", h.vendorStats)
			r.Get("/vendors/export.csv", h.exportCSV)
			r.Get("/vendors/export.xlsx", h.exportXLSX)
			r.Get("/vendors/{id}", h.showVendor)
			r.Post("/vendors/{id}/status", h.updateStatus)
			r.Get("/vendors/{id}/documents/{kind}", h.showDocument)
		})
	})
}

// eventFunc applies one workflow event to m. The returned notice is queued
// for the visitor on success.
type eventFunc func(r *http.Request, sess *shared.Session, m *workflow.Machine) (string, error)

func (h *Handler) event(name string, fn eventFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			h.fail(w, nil, name, shared.ErrSessionMissing)
			return
		}
		m := h.machine(sess)
		notice, err := fn(r, sess, m)
		h.metrics.ObserveEvent(name, err)
		if err != nil {
			h.fail(w, sess, name, err)
			return
		}
		snapshot, err := m.Snapshot()
		if err != nil {
			h.fail(w, sess, name, fmt.Errorf("snapshot machine: %w", err))
			return
		}
		sess.SetMachine(snapshot)
		if notice != "" {
			sess.AddNotice(shared.Notice{Kind: shared.NoticeSuccess, Message: notice})
		}
		h.respondState(w, sess, m)
	}
}

func (h *Handler) machine(sess *shared.Session) *workflow.Machine {
	m, err := workflow.RestoreMachine(sess.Machine())
	if err != nil {
		h.logger.Warn("discarding unreadable workflow state", slog.Any("error", err))
		return workflow.NewMachine()
	}
	return m
}

func (h *Handler) fail(w http.ResponseWriter, sess *shared.Session, name string, err error) {
	status, _ := httpx.Classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("portal request failed", slog.String("event", name), slog.Any("error", err))
	}
	if sess != nil {
		sess.AddNotice(shared.Notice{Kind: shared.NoticeError, Message: noticeFor(err)})
	}
	httpx.RespondError(w, err)
}

func (h *Handler) respondState(w http.ResponseWriter, sess *shared.Session, m *workflow.Machine) {
	token, err := h.csrf.EnsureToken(sess)
	if err != nil {
		h.fail(w, sess, "state", fmt.Errorf("issue csrf token: %w", err))
		return
	}
	view := newStateView(m)
	view.CSRFToken = token
	view.Notices = sess.PopNotices()
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) showState(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.fail(w, nil, "state", shared.ErrSessionMissing)
		return
	}
	h.respondState(w, sess, h.machine(sess))
}

func (h *Handler) listPlans(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, plansView{Plans: vendors.Catalog(), DefaultPlan: vendors.DefaultPlan})
}

func (h *Handler) startRegistration(_ *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	return "", h.controller.StartRegistration(m)
}

func (h *Handler) updateDetails(r *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	var req workflow.Details
	if err := decode(r, &req); err != nil {
		return "", err
	}
	return "", h.controller.UpdateDetails(m, req)
}

func (h *Handler) captureLocation(r *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	var req workflow.ReportedLocation
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if err := h.controller.CaptureLocation(r.Context(), m, req); err != nil {
		return "", err
	}
	return "Location captured successfully!", nil
}

func (h *Handler) setManualLocation(r *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	var req manualLocationRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	return "", h.controller.SetManualLocation(m, req.Latitude, req.Longitude)
}

func (h *Handler) attachDocument(r *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	kind, err := vendors.ParseDocumentKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", err
	}
	if err := r.ParseMultipartForm(vendors.MaxDocumentSize); err != nil {
		return "", fmt.Errorf("%w: %w", httpx.ErrBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("%w: %w", httpx.ErrBadRequest, err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, vendors.MaxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: %w", httpx.ErrBadRequest, err)
	}
	return "", h.controller.AttachDocument(r.Context(), m, kind, vendors.Attachment{Filename: header.Filename, Data: data})
}

func (h *Handler) submit(_ *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	return "", h.controller.Submit(m)
}

func (h *Handler) back(_ *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	return "", h.controller.Back(m)
}

func (h *Handler) pay(r *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	var req paymentRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			return "", err
		}
	}
	rec, err := h.controller.Pay(r.Context(), m, req.PlanID)
	if err != nil {
		return "", err
	}
	h.metrics.RegistrationCompleted(string(rec.Plan))
	return "Payment successful! Registration completed.", nil
}

func (h *Handler) backToHome(_ *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	return "", h.controller.BackToHome(m)
}

func (h *Handler) startAdminLogin(_ *http.Request, _ *shared.Session, m *workflow.Machine) (string, error) {
	return "", h.controller.StartAdminLogin(m)
}

func (h *Handler) login(r *http.Request, sess *shared.Session, m *workflow.Machine) (string, error) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if err := h.controller.Login(r.Context(), m, req.Username, req.Password); err != nil {
		h.logger.Warn("admin login rejected", slog.String("username", req.Username))
		return "", err
	}
	sess.Renew()
	return "Welcome to the admin dashboard.", nil
}

func (h *Handler) logout(_ *http.Request, sess *shared.Session, m *workflow.Machine) (string, error) {
	if err := h.controller.Logout(m); err != nil {
		return "", err
	}
	sess.Renew()
	return "Signed out.", nil
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || !h.machine(sess).IsAdmin() {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) query(r *http.Request) (string, vendors.StatusFilter, []vendors.Record, error) {
	term := r.URL.Query().Get("search")
	filter, err := vendors.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return "", filter, nil, err
	}
	records, err := h.registry.Query(r.Context(), term, filter)
	return term, filter, records, err
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	term, filter, records, err := h.query(r)
	if err != nil {
		h.fail(w, sess, "list_vendors", err)
		return
	}
	counts, err := h.registry.Counts(r.Context())
	if err != nil {
		h.fail(w, sess, "list_vendors", err)
		return
	}
	if records == nil {
		records = []vendors.Record{}
	}
	httpx.JSON(w, http.StatusOK, vendorListView{Vendors: records, Search: term, Status: filter.String(), Counts: counts})
}

func (h *Handler) vendorStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.registry.Counts(r.Context())
	if err != nil {
		h.fail(w, shared.SessionFromContext(r.Context()), "vendor_stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) showVendor(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, shared.SessionFromContext(r.Context()), "show_vendor", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, sess, "update_status", err)
		return
	}
	status, err := vendors.ParseStatus(req.Status)
	if err != nil {
		h.fail(w, sess, "update_status", err)
		return
	}
	rec, err := h.registry.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	h.metrics.ObserveEvent("update_status", err)
	if err != nil {
		h.fail(w, sess, "update_status", err)
		return
	}
	h.metrics.StatusChanged(string(status))
	h.logger.Info("vendor status updated", slog.String("id", rec.ID), slog.String("status", string(status)))
	sess.AddNotice(shared.Notice{Kind: shared.NoticeSuccess, Message: fmt.Sprintf("Vendor status updated to %s", status)})
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) showDocument(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	kind, err := vendors.ParseDocumentKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, sess, "show_document", err)
		return
	}
	rec, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, sess, "show_document", err)
		return
	}
	ref, err := vendors.FindDocument(rec, kind)
	if err != nil {
		h.fail(w, sess, "show_document", err)
		return
	}
	data, err := h.documents.Open(r.Context(), ref)
	if err != nil {
		h.fail(w, sess, "show_document", err)
		return
	}
	httpx.Attachment(w, ref.ContentType, ref.Filename, data)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, vendors.CSVFilename, vendors.WriteCSV)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, vendors.XLSXFilename, vendors.WriteXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, filename string, write func(io.Writer, []vendors.Record) error) {
	sess := shared.SessionFromContext(r.Context())
	_, _, records, err := h.query(r)
	if err != nil {
		h.fail(w, sess, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := write(&buf, records); err != nil {
		h.fail(w, sess, "export", fmt.Errorf("write %s: %w", filename, err))
		return
	}
	sess.AddNotice(shared.Notice{Kind: shared.NoticeSuccess, Message: "Vendor data exported successfully!"})
	httpx.Attachment(w, contentTypeFor(filename), filename, buf.Bytes())
}

func decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %w", httpx.ErrBadRequest, err)
	}
	return nil
}

func noticeFor(err error) string {
	if fe, ok := vendors.AsFieldErrors(err); ok && len(fe) > 0 {
		return "Please correct the highlighted fields."
	}
	switch {
	case errors.Is(err, workflow.ErrPaymentFailed):
		return "Payment failed. Please try again."
	case errors.Is(err, workflow.ErrPaymentInProgress):
		return "Your payment is already being processed."
	case errors.Is(err, workflow.ErrLocationUnavailable):
		return "Failed to get location. Please enable location services."
	case errors.Is(err, vendors.ErrSaveFailed):
		return "Could not save your registration. Please try again."
	case errors.Is(err, httpx.ErrBadRequest):
		return "The request could not be read."
	}
	status, _ := httpx.Classify(err)
	switch status {
	case http.StatusUnauthorized:
		return "Invalid credentials."
	case http.StatusInternalServerError:
		return "Something went wrong."
	}
	return err.Error()
}
