package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/vendorhub/vendor-portal/internal/platform/kv"
)

// RegistryKey is the well-known key holding the serialized collection.
const RegistryKey = "vendors:registered"

// Registry is the durable, ordered collection of vendor records.
//
// Every mutation re-serializes the whole collection and writes it back under
// one key before returning. Reads always come from the store, so results are
// snapshots and never live views.
type Registry struct {
	store  kv.Store
	locker kv.Locker
	key    string
	logger *slog.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithLocker replaces the in-process lock, typically with a Redis lock so
// mutations are serialised across processes. A nil locker is ignored.
func WithLocker(l kv.Locker) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithKey overrides RegistryKey.
func WithKey(key string) RegistryOption {
	return func(r *Registry) { r.key = key }
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry constructs a Registry over store.
func NewRegistry(store kv.Store, opts ...RegistryOption) *Registry {
	r := &Registry{store: store, locker: kv.NewLocalLocker(), key: RegistryKey, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildRecord turns a validated draft into a pending record. The record takes
// over the draft's stored documents.
func BuildRecord(id string, d Draft, plan PlanID, now time.Time) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, errors.New("vendors: record id required")
	}
	if _, err := LookupPlan(plan); err != nil {
		return Record{}, err
	}
	loc, err := d.ResolveLocation()
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:               id,
		Name:             d.Name,
		ShopName:         d.ShopName,
		Phone:            d.Phone,
		Email:            d.Email,
		AadhaarNumber:    d.AadhaarNumber,
		PanNumber:        d.PanNumber,
		GSTNumber:        d.GSTNumber,
		Address:          d.Address,
		Location:         loc,
		Documents:        d.Documents(),
		Plan:             plan,
		RegistrationDate: now.Format(RegistrationDateLayout),
		Status:           StatusPending,
	}, nil
}

// Append adds rec at the end of the collection.
func (r *Registry) Append(ctx context.Context, rec Record) error {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if _, err := ParseStatus(string(rec.Status)); err != nil {
		return err
	}
	err := r.mutate(ctx, func(records []Record) ([]Record, error) {
		for _, existing := range records {
			if existing.ID == rec.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
			}
		}
		return append(records, rec.clone()), nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("vendor appended", slog.String("id", rec.ID), slog.String("plan", string(rec.Plan)))
	return nil
}

// ListAll returns a snapshot of every record in insertion order.
func (r *Registry) ListAll(ctx context.Context) ([]Record, error) {
	return r.load(ctx)
}

// Get returns the record with id.
func (r *Registry) Get(ctx context.Context, id string) (Record, error) {
	records, err := r.load(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Query returns records matching term and filter, preserving insertion order.
// term is a case-insensitive substring matched against name, shop name, email
// and phone; an empty term matches everything.
func (r *Registry) Query(ctx context.Context, term string, filter StatusFilter) ([]Record, error) {
	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return FilterRecords(records, term, filter), nil
}

// FilterRecords applies the Query semantics to an in-memory slice.
func FilterRecords(records []Record, term string, filter StatusFilter) []Record {
	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(term))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if !filter.Matches(rec.Status) {
			continue
		}
		if needle != "" && !matchesTerm(folder, rec, needle) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matchesTerm(folder cases.Caser, rec Record, needle string) bool {
	for _, field := range []string{rec.Name, rec.ShopName, rec.Email, rec.Phone} {
		if strings.Contains(folder.String(field), needle) {
			return true
		}
	}
	return false
}

// UpdateStatus overwrites the status of id and persists the collection.
// Any status may follow any other.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status) (Record, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Record{}, err
	}
	var updated Record
	err := r.mutate(ctx, func(records []Record) ([]Record, error) {
		for i := range records {
			if records[i].ID == id {
				records[i].Status = status
				updated = records[i].clone()
				return records, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return Record{}, err
	}
	r.logger.Info("vendor status updated", slog.String("id", id), slog.String("status", string(status)))
	return updated, nil
}

// Counts derives totals by scanning ListAll.
func (r *Registry) Counts(ctx context.Context) (Counts, error) {
	records, err := r.ListAll(ctx)
	if err != nil {
		return Counts{}, err
	}
	return CountRecords(records), nil
}

func (r *Registry) load(ctx context.Context) ([]Record, error) {
	payload, err := r.store.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("vendors: load registry: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("vendors: decode registry: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// mutate runs fn on a freshly loaded copy of the collection and writes the
// result back. On any failure the stored collection is left untouched.
func (r *Registry) mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	release, err := r.locker.Obtain(ctx, r.key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	defer release()

	records, err := r.load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("vendors: encode registry: %w", err)
	}
	if err := r.store.Set(ctx, r.key, payload); err != nil {
		r.logger.Error("persist registry", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}
