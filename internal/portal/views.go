package portal

import (
	"github.com/vendorhub/vendor-portal/internal/shared"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
)

type draftView struct {
	workflow.Details
	Location        *vendors.Coordinate `json:"location,omitempty"`
	ManualLatitude  string              `json:"manualLatitude,omitempty"`
	ManualLongitude string              `json:"manualLongitude,omitempty"`
	Documents       map[string]string   `json:"documents"`
}

// stateView is the visitor-facing projection of a machine. Document keys
// stay server side; only filenames are shown.
type stateView struct {
	State        workflow.State    `json:"state"`
	Admin        bool              `json:"admin"`
	Draft        *draftView        `json:"draft,omitempty"`
	SelectedPlan vendors.PlanID    `json:"selectedPlan,omitempty"`
	Receipt      *workflow.Receipt `json:"receipt,omitempty"`
	CSRFToken    string            `json:"csrfToken"`
	Notices      []shared.Notice   `json:"notices,omitempty"`
}

func newStateView(m *workflow.Machine) stateView {
	view := stateView{
		State:        m.State,
		Admin:        m.IsAdmin(),
		SelectedPlan: m.SelectedPlan,
		Receipt:      m.Receipt,
	}
	if d := m.Draft; d != nil {
		dv := &draftView{
			Details: workflow.Details{
				Name:          d.Name,
				ShopName:      d.ShopName,
				Phone:         d.Phone,
				Email:         d.Email,
				AadhaarNumber: d.AadhaarNumber,
				PanNumber:     d.PanNumber,
				GSTNumber:     d.GSTNumber,
				Address:       d.Address,
			},
			Location:        d.AutoLocation,
			ManualLatitude:  d.ManualLatitude,
			ManualLongitude: d.ManualLongitude,
			Documents:       map[string]string{},
		}
		for _, ref := range d.Documents() {
			dv.Documents[string(ref.Kind)] = ref.Filename
		}
		view.Draft = dv
	}
	return view
}

type plansView struct {
	Plans       []vendors.Plan `json:"plans"`
	DefaultPlan vendors.PlanID `json:"defaultPlan"`
}

type vendorListView struct {
	Vendors []vendors.Record `json:"vendors"`
	Search  string           `json:"search"`
	Status  string           `json:"status"`
	Counts  vendors.Counts   `json:"counts"`
}

type manualLocationRequest struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

type paymentRequest struct {
	PlanID vendors.PlanID `json:"plan_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type statusRequest struct {
	Status string `json:"status"`
}
