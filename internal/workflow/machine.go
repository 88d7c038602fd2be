// Package workflow drives a visitor through registration, payment and the
// admin console.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/vendorhub/vendor-portal/internal/vendors"
)

// State is a step of the portal workflow.
type State string

const (
	StateHome           State = "home"
	StateRegistration   State = "registration"
	StatePayment        State = "payment"
	StateSuccess        State = "success"
	StateAdminLogin     State = "admin_login"
	StateAdminDashboard State = "admin_dashboard"
)

func (s State) valid() bool {
	switch s {
	case StateHome, StateRegistration, StatePayment, StateSuccess, StateAdminLogin, StateAdminDashboard:
		return true
	}
	return false
}

// Receipt summarises the record created by a completed payment.
type Receipt struct {
	RecordID string         `json:"recordId"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Plan     vendors.PlanID `json:"plan"`
}

// Machine is the per-visitor workflow state. It holds at most one draft.
// Machines are plain values; all transitions go through a Controller.
type Machine struct {
	State        State          `json:"state"`
	Draft        *vendors.Draft `json:"draft,omitempty"`
	SelectedPlan vendors.PlanID `json:"selectedPlan,omitempty"`
	Receipt      *Receipt       `json:"receipt,omitempty"`
	Admin        bool           `json:"admin"`
}

// NewMachine returns a machine at Home.
func NewMachine() *Machine {
	return &Machine{State: StateHome}
}

// IsAdmin reports whether the machine is an authenticated admin console.
func (m *Machine) IsAdmin() bool {
	return m.Admin && m.State == StateAdminDashboard
}

// Snapshot serialises the machine.
func (m *Machine) Snapshot() ([]byte, error) {
	return json.Marshal(m)
}

// RestoreMachine rebuilds a machine from Snapshot output. Empty input yields
// a fresh machine.
func RestoreMachine(data []byte) (*Machine, error) {
	if len(data) == 0 {
		return NewMachine(), nil
	}
	var m Machine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("workflow: decode machine: %w", err)
	}
	if !m.State.valid() {
		return nil, fmt.Errorf("workflow: unknown state %q", m.State)
	}
	return &m, nil
}

func (m *Machine) require(event string, states ...State) error {
	for _, s := range states {
		if m.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.State)
}
