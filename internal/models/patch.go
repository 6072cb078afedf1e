package models

import "consentsync/internal/backend"

// ConfigPatch replaces only the fields that are set.
type ConfigPatch struct {
	StudioName      *string           `json:"nombreEstudio,omitempty"`
	StudioAddress   *string           `json:"direccionEstudio,omitempty"`
	Logo            *string           `json:"logo,omitempty"`
	HealthQuestions *[]HealthQuestion `json:"preguntasSalud,omitempty"`
	ConsentText     *string           `json:"textoConsentimiento,omitempty"`
	GuardianText    *string           `json:"textoTutorLegal,omitempty"`
	FooterText      *string           `json:"textosFooter,omitempty"`
	Contact         *ContactInfo      `json:"datosContacto,omitempty"`
	CreamAftercare  *string           `json:"creamAftercare,omitempty"`
	PatchAftercare  *string           `json:"patchAftercare,omitempty"`
}

func (p ConfigPatch) Apply(c StudioConfig) StudioConfig {
	out := c.Clone()
	setString(&out.StudioName, p.StudioName)
	setString(&out.StudioAddress, p.StudioAddress)
	setString(&out.Logo, p.Logo)
	setString(&out.ConsentText, p.ConsentText)
	setString(&out.GuardianText, p.GuardianText)
	setString(&out.FooterText, p.FooterText)
	setString(&out.CreamAftercare, p.CreamAftercare)
	setString(&out.PatchAftercare, p.PatchAftercare)
	if p.Contact != nil {
		out.Contact = *p.Contact
	}
	if p.HealthQuestions != nil {
		out.HealthQuestions = append([]HealthQuestion{}, (*p.HealthQuestions)...)
	}
	return out
}

// Row is the remote column patch. Health questions are local to the form
// and have no column.
func (p ConfigPatch) Row() backend.Row {
	row := backend.Row{}
	putString(row, "studio_name", p.StudioName)
	putString(row, "studio_address", p.StudioAddress)
	putString(row, "logo_url", p.Logo)
	putString(row, "consent_text", p.ConsentText)
	putString(row, "tutor_consent_text", p.GuardianText)
	putString(row, "footer_text", p.FooterText)
	putString(row, "cream_aftercare", p.CreamAftercare)
	putString(row, "patch_aftercare", p.PatchAftercare)
	if p.Contact != nil {
		row["contact_info"] = map[string]any{
			"nombre":    p.Contact.Name,
			"whatsapp":  p.Contact.WhatsApp,
			"email":     p.Contact.Email,
			"instagram": p.Contact.Instagram,
		}
	}
	return row
}

func (p ConfigPatch) Empty() bool {
	return p == ConfigPatch{}
}

type ArtistPatch struct {
	Name   *string `json:"nombre,omitempty"`
	Active *bool   `json:"activo,omitempty"`
	Image  *string `json:"imagen,omitempty"`
}

func (p ArtistPatch) Apply(a Artist) Artist {
	setString(&a.Name, p.Name)
	setString(&a.Image, p.Image)
	if p.Active != nil {
		a.Active = *p.Active
	}
	return a
}

func (p ArtistPatch) Row() backend.Row {
	row := backend.Row{}
	putString(row, "name", p.Name)
	putString(row, "image_url", p.Image)
	if p.Active != nil {
		row["active"] = *p.Active
	}
	return row
}

func (p ArtistPatch) Empty() bool {
	return p == ArtistPatch{}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func putString(row backend.Row, col string, v *string) {
	if v != nil {
		row[col] = *v
	}
}
