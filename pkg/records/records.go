// Package records defines participant records: the card a participant's
// captured image is attached to.
package records

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no record has the given id
	ErrNotFound = errors.New("record not found")
	// ErrInvalid is returned when a record lacks required fields
	ErrInvalid = errors.New("name and caption are required")
)

// Record is one participant card
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Caption   string    `json:"caption"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Patch is a partial update. Nil fields are left untouched;
// an empty ImageURL removes the image.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	Caption  *string `json:"caption,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

// String returns a pointer to s for building patches
func String(s string) *string {
	return &s
}

// Apply returns r with the patch's fields set
func (p Patch) Apply(r Record) Record {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Caption != nil {
		r.Caption = *p.Caption
	}
	if p.ImageURL != nil {
		r.ImageURL = *p.ImageURL
	}
	return r
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Name == nil && p.Caption == nil && p.ImageURL == nil
}

// Validate checks the fields required to create a record
func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Caption) == "" {
		return ErrInvalid
	}
	return nil
}

// Repository stores participant records
type Repository interface {
	// List returns all records, newest first
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// Create assigns the id and creation time
	Create(ctx context.Context, r Record) (Record, error)
	Update(ctx context.Context, id string, patch Patch) (Record, error)
	Delete(ctx context.Context, id string) error
}
