package models

import (
	"consentsync/internal/backend"
	"time"
)

// Remote tables.
const (
	TableConfig   = "config"
	TableArtists  = "artists"
	TableConsents = "consents"
)

// ConsentColumns selects a consent with the name of its artist embedded.
var ConsentColumns = []string{
	"id", "code", "client_info", "tutor_info", "artist_id",
	"client_signature", "tutor_signature", "archived", "created_at", "updated_at",
	"artists:artist_id(name)",
}

type ConfigRow struct {
	ID               backend.ID  `json:"id,omitempty"`
	StudioName       string      `json:"studio_name"`
	StudioAddress    string      `json:"studio_address"`
	ConsentText      string      `json:"consent_text"`
	TutorConsentText string      `json:"tutor_consent_text"`
	FooterText       string      `json:"footer_text"`
	ContactInfo      ContactInfo `json:"contact_info"`
	Logo             string      `json:"logo_url,omitempty"`
	CreamAftercare   string      `json:"cream_aftercare,omitempty"`
	PatchAftercare   string      `json:"patch_aftercare,omitempty"`
	CreatedAt        string      `json:"created_at,omitempty"`
}

type ArtistRow struct {
	ID       backend.ID `json:"id,omitempty"`
	ConfigID backend.ID `json:"config_id,omitempty"`
	Name     string     `json:"name"`
	Active   bool       `json:"active"`
	ImageURL string     `json:"image_url,omitempty"`
}

// ClientInfo is the client_info column: the client block with the health
// answers folded in.
type ClientInfo struct {
	Client
	Health HealthAnswers `json:"informacionSalud,omitempty"`
}

type embeddedArtist struct {
	Name string `json:"name"`
}

type ConsentRow struct {
	ID              backend.ID      `json:"id,omitempty"`
	Code            string          `json:"code"`
	ClientInfo      ClientInfo      `json:"client_info"`
	TutorInfo       *Guardian       `json:"tutor_info"`
	ArtistID        backend.ID      `json:"artist_id,omitempty"`
	ClientSignature string          `json:"client_signature"`
	TutorSignature  *string         `json:"tutor_signature"`
	Archived        bool            `json:"archived"`
	CreatedAt       string          `json:"created_at,omitempty"`
	Artist          *embeddedArtist `json:"artists,omitempty"`
}

func (r ConfigRow) ToStudioConfig(artists []Artist) StudioConfig {
	if artists == nil {
		artists = []Artist{}
	}
	return StudioConfig{
		StudioName:      r.StudioName,
		StudioAddress:   r.StudioAddress,
		Logo:            r.Logo,
		HealthQuestions: []HealthQuestion{},
		Artists:         artists,
		ConsentText:     r.ConsentText,
		GuardianText:    r.TutorConsentText,
		FooterText:      r.FooterText,
		Contact:         r.ContactInfo,
		CreamAftercare:  r.CreamAftercare,
		PatchAftercare:  r.PatchAftercare,
	}
}

func ConfigRowFrom(c StudioConfig) ConfigRow {
	return ConfigRow{
		StudioName:       c.StudioName,
		StudioAddress:    c.StudioAddress,
		ConsentText:      c.ConsentText,
		TutorConsentText: c.GuardianText,
		FooterText:       c.FooterText,
		ContactInfo:      c.Contact,
		Logo:             c.Logo,
		CreamAftercare:   c.CreamAftercare,
		PatchAftercare:   c.PatchAftercare,
	}
}

func (r ArtistRow) ToArtist() Artist {
	return Artist{
		ID:     r.ID.String(),
		Name:   r.Name,
		Active: r.Active,
		Image:  r.ImageURL,
	}
}

func ArtistRowFrom(a Artist, configID string) ArtistRow {
	return ArtistRow{
		ID:       backend.ID(a.ID),
		ConfigID: backend.ID(configID),
		Name:     a.Name,
		Active:   a.Active,
		ImageURL: a.Image,
	}
}

func (r ConsentRow) ToConsent() ConsentRecord {
	health := r.ClientInfo.Health
	if health == nil {
		health = HealthAnswers{}
	}
	rec := ConsentRecord{
		ID:        r.ID.String(),
		Code:      r.Code,
		CreatedAt: ParseTimestamp(r.CreatedAt),
		Client:    r.ClientInfo.Client,
		Guardian:  r.TutorInfo,
		Health:    health,
		Signature: r.ClientSignature,
		Archived:  r.Archived,
	}
	if r.Artist != nil {
		rec.ArtistName = r.Artist.Name
	}
	return rec
}

func ConsentRowFrom(c ConsentRecord, artistID string) ConsentRow {
	row := ConsentRow{
		ID:              backend.ID(c.ID),
		Code:            c.Code,
		ClientInfo:      ClientInfo{Client: c.Client, Health: c.Health},
		TutorInfo:       c.Guardian,
		ArtistID:        backend.ID(artistID),
		ClientSignature: c.Signature,
		Archived:        c.Archived,
	}
	if c.Guardian != nil && c.Guardian.Signature != "" {
		sig := c.Guardian.Signature
		row.TutorSignature = &sig
	}
	return row
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts the timestamp shapes Postgres and JSON clients
// produce. Unparseable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
