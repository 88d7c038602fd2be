package vendors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vendorhub/vendor-portal/internal/platform/kv"
)

// MaxDocumentSize bounds a single uploaded attachment.
const MaxDocumentSize = 5 << 20

// Documents stores registration attachments next to the registry.
type Documents struct {
	store kv.Store
}

// NewDocuments constructs a document store.
func NewDocuments(store kv.Store) *Documents {
	return &Documents{store: store}
}

// DocumentKey returns the storage key of one attachment. Documents are keyed
// by the draft they were uploaded for and keep that key once registered.
func DocumentKey(draftID string, kind DocumentKind) string {
	return "vendors:documents:" + draftID + ":" + string(kind)
}

// SniffAttachment returns the detected content type and whether it is an
// accepted document type (any image, or PDF).
func SniffAttachment(data []byte) (string, bool) {
	mtype := mimetype.Detect(data)
	if strings.HasPrefix(mtype.String(), "image/") || mtype.Is("application/pdf") {
		return mtype.String(), true
	}
	return mtype.String(), false
}

// Save persists a under the draft's key for kind, replacing any earlier
// upload in that slot.
func (d *Documents) Save(ctx context.Context, draftID string, kind DocumentKind, a Attachment) (DocumentRef, error) {
	if draftID == "" {
		return DocumentRef{}, errors.New("vendors: draft id required")
	}
	if len(a.Data) == 0 {
		return DocumentRef{}, fmt.Errorf("%w: empty %s document", ErrValidation, kind)
	}
	contentType, _ := SniffAttachment(a.Data)
	key := DocumentKey(draftID, kind)
	if err := d.store.Set(ctx, key, a.Data); err != nil {
		return DocumentRef{}, fmt.Errorf("%w: store %s document: %w", ErrSaveFailed, kind, err)
	}
	return DocumentRef{
		Kind:        kind,
		Key:         key,
		Filename:    a.Filename,
		ContentType: contentType,
		Size:        len(a.Data),
	}, nil
}

// Open returns the stored bytes of ref.
func (d *Documents) Open(ctx context.Context, ref DocumentRef) ([]byte, error) {
	data, err := d.store.Get(ctx, ref.Key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, ref.Key)
		}
		return nil, fmt.Errorf("vendors: open document: %w", err)
	}
	return data, nil
}

// Remove deletes every referenced document, returning the first failure.
func (d *Documents) Remove(ctx context.Context, refs []DocumentRef) error {
	var first error
	for _, ref := range refs {
		if err := d.store.Delete(ctx, ref.Key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FindDocument returns the reference of kind on rec.
func FindDocument(rec Record, kind DocumentKind) (DocumentRef, error) {
	for _, ref := range rec.Documents {
		if ref.Kind == kind {
			return ref, nil
		}
	}
	return DocumentRef{}, fmt.Errorf("%w: %s has no %s document", ErrNotFound, rec.ID, kind)
}
