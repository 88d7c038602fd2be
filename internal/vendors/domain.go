// Package vendors holds the vendor record registry, its validation rules,
// the plan catalog and record export.
package vendors

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the admin-assigned lifecycle status of a vendor record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusActive, StatusSuspended}
}

// ParseStatus converts a literal into a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusActive, StatusSuspended:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// StatusFilter selects either every record or records with a single status.
// The zero value matches everything.
type StatusFilter struct {
	status Status
}

// FilterAll matches every status.
var FilterAll = StatusFilter{}

// FilterBy restricts results to one status.
func FilterBy(status Status) StatusFilter {
	return StatusFilter{status: status}
}

// ParseStatusFilter accepts "all", "" or a status literal.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" || trimmed == "all" {
		return FilterAll, nil
	}
	status, err := ParseStatus(trimmed)
	if err != nil {
		return StatusFilter{}, err
	}
	return FilterBy(status), nil
}

// Matches reports whether status passes the filter.
func (f StatusFilter) Matches(status Status) bool {
	return f.status == "" || f.status == status
}

func (f StatusFilter) String() string {
	if f.status == "" {
		return "all"
	}
	return string(f.status)
}

// Coordinate is a validated geographic position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate checks the latitude/longitude bounds.
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	if !latitudeInRange(lat) {
		return Coordinate{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if !longitudeInRange(lng) {
		return Coordinate{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lng)
	}
	return Coordinate{Latitude: lat, Longitude: lng}, nil
}

func latitudeInRange(v float64) bool  { return v >= -90 && v <= 90 }
func longitudeInRange(v float64) bool { return v >= -180 && v <= 180 }

func parseDegrees(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DocumentKind names one of the three attachment slots of a registration.
type DocumentKind string

const (
	DocumentAadhaar DocumentKind = "aadhaar"
	DocumentPAN     DocumentKind = "pan"
	DocumentShop    DocumentKind = "shop"
)

// DocumentKinds lists every attachment slot.
func DocumentKinds() []DocumentKind {
	return []DocumentKind{DocumentAadhaar, DocumentPAN, DocumentShop}
}

// ParseDocumentKind converts a path segment into a DocumentKind.
func ParseDocumentKind(raw string) (DocumentKind, error) {
	switch k := DocumentKind(strings.ToLower(raw)); k {
	case DocumentAadhaar, DocumentPAN, DocumentShop:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown document %q", ErrValidation, raw)
	}
}

// Attachment is an uploaded binary document that has not been stored yet.
type Attachment struct {
	Filename string
	Data     []byte
}

// DocumentRef points at a stored attachment.
type DocumentRef struct {
	Kind        DocumentKind `json:"kind"`
	Key         string       `json:"key"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"contentType"`
	Size        int          `json:"size"`
}

// Draft is an in-progress registration owned by the workflow.
//
// AutoLocation and the manual coordinate strings are mutually exclusive; use
// SetAutoLocation and SetManualLocation rather than assigning the fields.
// Documents are stored as soon as they are attached; the draft only keeps
// their references.
type Draft struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	ShopName        string       `json:"shopName"`
	Phone           string       `json:"phone"`
	Email           string       `json:"email"`
	AadhaarNumber   string       `json:"aadhaarNumber"`
	PanNumber       string       `json:"panNumber"`
	GSTNumber       string       `json:"gstNumber"`
	Address         string       `json:"address"`
	AutoLocation    *Coordinate  `json:"location,omitempty"`
	ManualLatitude  string       `json:"manualLatitude"`
	ManualLongitude string       `json:"manualLongitude"`
	AadhaarImage    *DocumentRef `json:"aadhaarImage,omitempty"`
	PanImage        *DocumentRef `json:"panImage,omitempty"`
	ShopImage       *DocumentRef `json:"shopImage,omitempty"`
}

// SetAutoLocation records a captured position and clears manual coordinates.
func (d *Draft) SetAutoLocation(c Coordinate) {
	d.AutoLocation = &c
	d.ManualLatitude = ""
	d.ManualLongitude = ""
}

// SetManualLocation records typed coordinates and clears the captured position.
// Passing two blank strings clears the location entirely.
func (d *Draft) SetManualLocation(lat, lng string) {
	d.AutoLocation = nil
	d.ManualLatitude = strings.TrimSpace(lat)
	d.ManualLongitude = strings.TrimSpace(lng)
}

// ResolveLocation collapses the draft location into at most one coordinate.
func (d *Draft) ResolveLocation() (*Coordinate, error) {
	if d.AutoLocation != nil {
		c, err := NewCoordinate(d.AutoLocation.Latitude, d.AutoLocation.Longitude)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	latRaw := strings.TrimSpace(d.ManualLatitude)
	lngRaw := strings.TrimSpace(d.ManualLongitude)
	if latRaw == "" && lngRaw == "" {
		return nil, nil
	}
	lat, okLat := parseDegrees(latRaw)
	lng, okLng := parseDegrees(lngRaw)
	if !okLat || !okLng {
		return nil, fmt.Errorf("%w: manual coordinates %q, %q", ErrInvalidCoordinate, latRaw, lngRaw)
	}
	c, err := NewCoordinate(lat, lng)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Document returns the stored document held in the given slot.
func (d *Draft) Document(kind DocumentKind) *DocumentRef {
	switch kind {
	case DocumentAadhaar:
		return d.AadhaarImage
	case DocumentPAN:
		return d.PanImage
	case DocumentShop:
		return d.ShopImage
	}
	return nil
}

// Attach puts ref in the given slot, replacing any previous one. A nil ref
// empties the slot.
func (d *Draft) Attach(kind DocumentKind, ref *DocumentRef) {
	switch kind {
	case DocumentAadhaar:
		d.AadhaarImage = ref
	case DocumentPAN:
		d.PanImage = ref
	case DocumentShop:
		d.ShopImage = ref
	}
}

// Documents lists the attached documents in aadhaar, pan, shop order.
func (d *Draft) Documents() []DocumentRef {
	var refs []DocumentRef
	for _, kind := range DocumentKinds() {
		if ref := d.Document(kind); ref != nil {
			refs = append(refs, *ref)
		}
	}
	return refs
}

// Record is a durable vendor entry in the registry.
type Record struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	ShopName         string        `json:"shopName"`
	Phone            string        `json:"phone"`
	Email            string        `json:"email"`
	AadhaarNumber    string        `json:"aadhaarNumber"`
	PanNumber        string        `json:"panNumber"`
	GSTNumber        string        `json:"gstNumber"`
	Address          string        `json:"address"`
	Location         *Coordinate   `json:"location"`
	Documents        []DocumentRef `json:"documents,omitempty"`
	Plan             PlanID        `json:"plan"`
	RegistrationDate string        `json:"registrationDate"`
	Status           Status        `json:"status"`
}

// RegistrationDateLayout is the layout of Record.RegistrationDate.
const RegistrationDateLayout = "2006-01-02"

// clone returns a copy that shares no mutable state with r.
func (r Record) clone() Record {
	if r.Location != nil {
		loc := *r.Location
		r.Location = &loc
	}
	if r.Documents != nil {
		r.Documents = append([]DocumentRef(nil), r.Documents...)
	}
	return r
}

// Counts aggregates records per status.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
}

// CountRecords derives Counts by scanning records.
func CountRecords(records []Record) Counts {
	c := Counts{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusActive:
			c.Active++
		case StatusSuspended:
			c.Suspended++
		}
	}
	return c
}
