package models

import (
	"errors"

	"github.com/gookit/validate"
)

var errGuardianRequired = errors.New("tutor: required for clients under 18")

type Artist struct {
	ID     string `json:"id"`
	Name   string `json:"nombre" validate:"required"`
	Active bool   `json:"activo"`
	Image  string `json:"imagen,omitempty"`
}

func (a Artist) Validate() error {
	vd := validate.Struct(&a)
	if !vd.Validate() {
		return vd.Errors
	}
	return nil
}

type HealthQuestion struct {
	ID            string `json:"id"`
	Question      string `json:"pregunta"`
	DefaultAnswer bool   `json:"respuestaPorDefecto"`
	ShowDetails   bool   `json:"mostrarCampoAdicional"`
	DetailsOnlyIf bool   `json:"campoAdicionalSoloSi"`
	DetailsText   string `json:"textoAdicional,omitempty"`
}

type ContactInfo struct {
	Name      string `json:"nombre"`
	WhatsApp  string `json:"whatsapp"`
	Email     string `json:"email"`
	Instagram string `json:"instagram"`
}

// StudioConfig is the single studio configuration. ConsentText and
// GuardianText keep their {Placeholder} tokens; they are resolved by the UI.
type StudioConfig struct {
	StudioName      string           `json:"nombreEstudio"`
	StudioAddress   string           `json:"direccionEstudio"`
	Logo            string           `json:"logo,omitempty"`
	HealthQuestions []HealthQuestion `json:"preguntasSalud"`
	Artists         []Artist         `json:"artistas"`
	ConsentText     string           `json:"textoConsentimiento"`
	GuardianText    string           `json:"textoTutorLegal"`
	FooterText      string           `json:"textosFooter"`
	Contact         ContactInfo      `json:"datosContacto"`
	CreamAftercare  string           `json:"creamAftercare,omitempty"`
	PatchAftercare  string           `json:"patchAftercare,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c StudioConfig) Clone() StudioConfig {
	out := c
	out.HealthQuestions = append([]HealthQuestion{}, c.HealthQuestions...)
	out.Artists = append([]Artist{}, c.Artists...)
	return out
}

func (c StudioConfig) ArtistIndex(id string) int {
	for i, a := range c.Artists {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (c StudioConfig) ArtistByName(name string) (Artist, bool) {
	for _, a := range c.Artists {
		if a.Name == name {
			return a, true
		}
	}
	return Artist{}, false
}

func DefaultStudioConfig() StudioConfig {
	return StudioConfig{
		StudioName:      "Estudio de Tatuajes",
		StudioAddress:   "Calle Principal #123, Santiago, Chile",
		HealthQuestions: []HealthQuestion{},
		Artists:         []Artist{},
		ConsentText: "Yo, {Nombre Cliente}, con RUT {Rut Cliente}, de {Edad Cliente} años de edad, declaro ser la persona " +
			"descrita como \"CLIENTE\" en este documento y autorizo al artista {Nombre Artista} de {Nombre Estudio} " +
			"ubicado en {Direccion Estudio} para realizar el procedimiento de tatuaje...",
		GuardianText: "Yo, {Nombre Tutor} con cédula de identidad {Rut Tutor}, en mi calidad de {Parentesco Tutor} de " +
			"{Nombre Cliente} {Apellidos Cliente} con RUT {Rut Cliente}, menor de edad ({Edad Cliente} años), autorizo " +
			"que se le realice un tatuaje en {Nombre Estudio} ubicado en {Direccion Estudio}...",
		FooterText: "¿Deseas un sistema como este? Dale clic acá",
		Contact: ContactInfo{
			Name:      "Desarrollador Web",
			WhatsApp:  "+56 9 1234 5678",
			Email:     "contacto@desarrollador.cl",
			Instagram: "@desarrollador_web",
		},
	}
}
