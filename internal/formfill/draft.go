// Package formfill holds the certificate application draft that the
// assistant fills in from the conversation.
package formfill

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownField = errors.New("unknown form field")
	ErrInvalidValue = errors.New("invalid form value")
)

// Field names one entry of the application form.
type Field string

const (
	FullName        Field = "fullName"
	DateOfBirth     Field = "dob"
	Gender          Field = "gender"
	Email           Field = "email"
	Phone           Field = "phone"
	Address         Field = "address"
	Pincode         Field = "pincode"
	AadhaarNumber   Field = "aadharNumber"
	CertificateType Field = "certificateType"
)

// Fields lists every required field in form order.
var Fields = []Field{
	FullName, DateOfBirth, Gender, Email, Phone, Address, Pincode, AadhaarNumber, CertificateType,
}

// ParseField maps a wire name onto a Field.
func ParseField(name string) (Field, error) {
	for _, f := range Fields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// Data is the form body. Nil entries have not been provided yet.
type Data struct {
	FullName        *string `json:"fullName"`
	DateOfBirth     *string `json:"dob"`
	Gender          *string `json:"gender"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	Address         *string `json:"address"`
	Pincode         *string `json:"pincode"`
	AadhaarNumber   *string `json:"aadharNumber"`
	CertificateType *string `json:"certificateType"`
}

func (d *Data) slot(f Field) **string {
	switch f {
	case FullName:
		return &d.FullName
	case DateOfBirth:
		return &d.DateOfBirth
	case Gender:
		return &d.Gender
	case Email:
		return &d.Email
	case Phone:
		return &d.Phone
	case Address:
		return &d.Address
	case Pincode:
		return &d.Pincode
	case AadhaarNumber:
		return &d.AadhaarNumber
	case CertificateType:
		return &d.CertificateType
	default:
		return nil
	}
}

// Draft is one application in progress.
type Draft struct {
	ID          string     `json:"id"`
	Data        Data       `json:"formData"`
	LastUpdated *time.Time `json:"lastUpdated"`
	IsComplete  bool       `json:"isComplete"`
}

var now = time.Now

// NewDraft returns an empty draft. An empty id is replaced by a fresh uuid.
func NewDraft(id string) *Draft {
	if id == "" {
		id = uuid.NewString()
	}
	return &Draft{ID: id}
}

// Get returns a field's value and whether it has been set.
func (d *Draft) Get(f Field) (string, bool) {
	p := d.Data.slot(f)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

// Update normalizes value and stores it in f.
func (d *Draft) Update(f Field, value string) error {
	p := d.Data.slot(f)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	normalized, err := Normalize(f, value)
	if err != nil {
		return err
	}
	*p = &normalized
	ts := now().UTC()
	d.LastUpdated = &ts
	d.IsComplete = len(d.Missing()) == 0
	return nil
}

// Apply updates every recognised entry of values and returns the entries it
// rejected, keyed by the given name.
func (d *Draft) Apply(values map[string]string) map[string]error {
	rejected := map[string]error{}
	for name, value := range values {
		f, err := ParseField(name)
		if err == nil {
			err = d.Update(f, value)
		}
		if err != nil {
			rejected[name] = err
		}
	}
	return rejected
}

// Missing lists fields not yet provided, in form order.
func (d *Draft) Missing() []Field {
	var out []Field
	for _, f := range Fields {
		if _, ok := d.Get(f); !ok {
			out = append(out, f)
		}
	}
	return out
}

// Reset clears every field while keeping the draft id.
func (d *Draft) Reset() {
	*d = Draft{ID: d.ID}
}
