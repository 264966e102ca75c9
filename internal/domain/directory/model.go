package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is the front-desk registration record. The queue and booking
// flows reference it by ID and display MRN and full name.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MRN         string     `db:"mrn" json:"mrn"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	BirthDate   *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	PhoneMobile *string    `db:"phone_mobile" json:"phone_mobile,omitempty"`
	Email       *string    `db:"email" json:"email,omitempty"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts for display boards and call announcements.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
