package models

import (
	"consentsync/internal/backend"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestConsentRow_ToConsent(t *testing.T) {
	rows := []backend.Row{{
		"id":   float64(42),
		"code": "TCF-ABCDE-12345",
		"client_info": map[string]any{
			"nombre":    "Ana",
			"apellidos": "Pérez",
			"edad":      float64(17),
			"rut":       "11.111.111-1",
			"direccion": map[string]any{"calle": "Uno 1", "region": "RM", "comuna": "Santiago"},
			"informacionSalud": map[string]any{
				"alergias": map[string]any{"respuesta": true, "informacionAdicional": "látex"},
			},
		},
		"tutor_info":       map[string]any{"nombre": "Luis", "rut": "2-2", "parentesco": "Padre", "firma": "sig-t"},
		"artist_id":        "a1",
		"client_signature": "sig-c",
		"tutor_signature":  "sig-t",
		"archived":         false,
		"created_at":       "2024-03-15T10:30:00.123456+00:00",
		"artists":          map[string]any{"name": "Ana Tattoo"},
	}}

	var decoded []ConsentRow
	require.NoError(t, backend.Decode(rows, &decoded))
	require.Len(t, decoded, 1)
	rec := decoded[0].ToConsent()

	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, "TCF-ABCDE-12345", rec.Code)
	assert.Equal(t, "Ana", rec.Client.Name)
	assert.Equal(t, 17, rec.Client.Age)
	assert.Equal(t, "Santiago", rec.Client.Address.Comuna)
	assert.Equal(t, HealthAnswer{Answer: true, Details: "látex"}, rec.Health["alergias"])
	require.NotNil(t, rec.Guardian)
	assert.Equal(t, "Padre", rec.Guardian.Relationship)
	assert.Equal(t, "Ana Tattoo", rec.ArtistName)
	assert.Equal(t, "sig-c", rec.Signature)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 123456000, time.UTC), rec.CreatedAt.UTC())
}

func TestConsentRow_MissingOptionalBlocks(t *testing.T) {
	var row ConsentRow
	require.NoError(t, backend.DecodeRow(backend.Row{"id": "c1", "code": "X", "client_info": map[string]any{"nombre": "B"}}, &row))
	rec := row.ToConsent()

	assert.Nil(t, rec.Guardian)
	assert.Empty(t, rec.ArtistName)
	assert.NotNil(t, rec.Health)
	assert.True(t, rec.CreatedAt.IsZero())
}

func TestConsentRowFrom_EncodesColumns(t *testing.T) {
	rec := ConsentRecord{
		ID:        "c1",
		Code:      "TCF-1",
		Client:    Client{Name: "Ana", Age: 30},
		Guardian:  &Guardian{Name: "Luis", Signature: "sig-t"},
		Health:    HealthAnswers{"q1": {Answer: false}},
		Signature: "sig-c",
	}
	row, err := backend.Encode(ConsentRowFrom(rec, "a1"))
	require.NoError(t, err)

	assert.Equal(t, "c1", row["id"])
	assert.Equal(t, "a1", row["artist_id"])
	assert.Equal(t, "sig-t", row["tutor_signature"])
	assert.Equal(t, false, row["archived"])
	info := row["client_info"].(map[string]any)
	assert.Equal(t, "Ana", info["nombre"])
	assert.Contains(t, info, "informacionSalud")
	assert.NotContains(t, row, "created_at")
	assert.NotContains(t, row, "artists")
}

func TestConfigRow_RoundTrip(t *testing.T) {
	def := DefaultStudioConfig()
	row := ConfigRowFrom(def)
	row.ID = "7"

	artists := []Artist{{ID: "a1", Name: "Ana", Active: true}}
	cfg := row.ToStudioConfig(artists)

	assert.Equal(t, def.StudioName, cfg.StudioName)
	assert.Equal(t, def.Contact, cfg.Contact)
	assert.Equal(t, def.GuardianText, cfg.GuardianText)
	assert.Equal(t, artists, cfg.Artists)
	assert.NotNil(t, cfg.HealthQuestions)
}

func TestArtistRow_Mapping(t *testing.T) {
	var rows []ArtistRow
	require.NoError(t, backend.Decode([]backend.Row{{"id": float64(3), "config_id": float64(1), "name": "Ana", "active": true, "image_url": "img"}}, &rows))

	a := rows[0].ToArtist()
	assert.Equal(t, Artist{ID: "3", Name: "Ana", Active: true, Image: "img"}, a)

	back := ArtistRowFrom(a, "1")
	assert.Equal(t, backend.ID("1"), back.ConfigID)
	assert.Equal(t, "img", back.ImageURL)
}

func TestDefaultStudioConfig(t *testing.T) {
	cfg := DefaultStudioConfig()
	assert.Equal(t, "Estudio de Tatuajes", cfg.StudioName)
	assert.Equal(t, "Calle Principal #123, Santiago, Chile", cfg.StudioAddress)
	assert.Equal(t, "¿Deseas un sistema como este? Dale clic acá", cfg.FooterText)
	assert.Equal(t, "@desarrollador_web", cfg.Contact.Instagram)
	assert.Contains(t, cfg.ConsentText, "{Nombre Cliente}")
	assert.Empty(t, cfg.Artists)
}

func TestStudioConfig_CloneDoesNotShareArtists(t *testing.T) {
	cfg := DefaultStudioConfig()
	cfg.Artists = []Artist{{ID: "a1", Name: "Ana"}}

	cp := cfg.Clone()
	cp.Artists[0].Name = "Other"
	assert.Equal(t, "Ana", cfg.Artists[0].Name)

	assert.Equal(t, 0, cfg.ArtistIndex("a1"))
	assert.Equal(t, -1, cfg.ArtistIndex("zz"))
	a, ok := cfg.ArtistByName("Ana")
	assert.True(t, ok)
	assert.Equal(t, "a1", a.ID)
}

func TestConfigPatch_ApplyAndRow(t *testing.T) {
	cfg := DefaultStudioConfig()
	patch := ConfigPatch{
		StudioName: strPtr("Tinta Sur"),
		Contact:    &ContactInfo{Name: "Caro", Email: "c@x.cl"},
	}

	out := patch.Apply(cfg)
	assert.Equal(t, "Tinta Sur", out.StudioName)
	assert.Equal(t, cfg.StudioAddress, out.StudioAddress)
	assert.Equal(t, "Caro", out.Contact.Name)
	assert.Equal(t, "Estudio de Tatuajes", cfg.StudioName)

	row := patch.Row()
	assert.Equal(t, "Tinta Sur", row["studio_name"])
	assert.NotContains(t, row, "studio_address")
	assert.Equal(t, "c@x.cl", row["contact_info"].(map[string]any)["email"])

	assert.False(t, patch.Empty())
	assert.True(t, ConfigPatch{}.Empty())
}

func TestArtistPatch_ApplyAndRow(t *testing.T) {
	inactive := false
	patch := ArtistPatch{Active: &inactive}

	a := patch.Apply(Artist{ID: "a1", Name: "Ana", Active: true})
	assert.Equal(t, Artist{ID: "a1", Name: "Ana", Active: false}, a)
	assert.Equal(t, backend.Row{"active": false}, patch.Row())
	assert.True(t, ArtistPatch{}.Empty())
}

func TestNewConsent_Validate(t *testing.T) {
	valid := NewConsent{
		Client:     Client{Name: "Ana", RUT: "1-9", Age: 25},
		ArtistName: "Ana Tattoo",
		Signature:  "sig",
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.Signature = ""
	assert.Error(t, missing.Validate())

	minor := valid
	minor.Client.Age = 16
	assert.ErrorIs(t, minor.Validate(), errGuardianRequired)

	minor.Guardian = &Guardian{Name: "Luis", RUT: "2-7", Relationship: "Padre"}
	assert.NoError(t, minor.Validate())
}

func TestArtist_Validate(t *testing.T) {
	assert.NoError(t, Artist{Name: "Ana"}.Validate())
	assert.Error(t, Artist{}.Validate())
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, 2024, ParseTimestamp("2024-03-15T10:00:00Z").Year())
	assert.Equal(t, 15, ParseTimestamp("2024-03-15 10:00:00.5+00").Day())
	assert.Equal(t, time.March, ParseTimestamp("2024-03-15T10:00:00").Month())
	assert.True(t, ParseTimestamp("yesterday").IsZero())
}

func TestClient_Helpers(t *testing.T) {
	assert.Equal(t, "Ana Pérez", Client{Name: "Ana", LastName: "Pérez"}.FullName())
	assert.Equal(t, "Ana", Client{Name: "Ana"}.FullName())
	assert.True(t, Client{Age: 17}.IsMinor())
	assert.False(t, Client{Age: 18}.IsMinor())
}
