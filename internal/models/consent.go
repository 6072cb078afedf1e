package models

import (
	"time"

	"github.com/gookit/validate"
)

type Address struct {
	Street string `json:"calle"`
	Region string `json:"region"`
	Comuna string `json:"comuna"`
}

type Client struct {
	Name          string  `json:"nombre" validate:"required"`
	LastName      string  `json:"apellidos"`
	Age           int     `json:"edad" validate:"min:0"`
	RUT           string  `json:"rut" validate:"required"`
	BirthDate     string  `json:"fechaNacimiento"`
	Address       Address `json:"direccion"`
	Phone         string  `json:"telefono"`
	Email         string  `json:"email"`
	DataConfirmed bool    `json:"confirmacionDatos"`
}

// FullName is the display name used in listings and exports.
func (c Client) FullName() string {
	if c.LastName == "" {
		return c.Name
	}
	return c.Name + " " + c.LastName
}

func (c Client) IsMinor() bool {
	return c.Age < 18
}

type Guardian struct {
	Name              string `json:"nombre"`
	RUT               string `json:"rut"`
	Relationship      string `json:"parentesco"`
	OtherRelationship string `json:"otroParentesco,omitempty"`
	Signature         string `json:"firma,omitempty"`
}

type HealthAnswer struct {
	Answer  bool   `json:"respuesta"`
	Details string `json:"informacionAdicional,omitempty"`
}

// HealthAnswers is keyed by health question id.
type HealthAnswers map[string]HealthAnswer

type ConsentRecord struct {
	ID         string        `json:"id"`
	Code       string        `json:"codigo"`
	CreatedAt  time.Time     `json:"fechaCreacion"`
	Client     Client        `json:"cliente"`
	Guardian   *Guardian     `json:"tutor,omitempty"`
	Health     HealthAnswers `json:"informacionSalud"`
	ArtistName string        `json:"artistaSeleccionado"`
	Signature  string        `json:"firma"`
	Archived   bool          `json:"archivado"`
}

// NewConsent is what the form submits; id, code, creation time and the
// archived flag are assigned by the store.
type NewConsent struct {
	Client     Client        `json:"cliente"`
	Guardian   *Guardian     `json:"tutor,omitempty"`
	Health     HealthAnswers `json:"informacionSalud"`
	ArtistName string        `json:"artistaSeleccionado" validate:"required"`
	Signature  string        `json:"firma" validate:"required"`
}

func (n NewConsent) Validate() error {
	vd := validate.Struct(&n)
	vd.StopOnError = false
	if !vd.Validate() {
		return vd.Errors
	}
	if n.Client.IsMinor() && n.Guardian == nil {
		return errGuardianRequired
	}
	return nil
}
