package controllers

import (
	"consentsync/internal/models"
	"consentsync/internal/providers"
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"time"
)

var exportHeader = []string{"Código", "Fecha", "Nombre", "Apellidos", "RUT", "Edad", "Teléfono", "Email", "Artista", "Tutor", "Archivado"}

// ExportConsents streams the active records, or the archived ones with
// ?archived=true, as CSV.
func (ac *ApiController) ExportConsents(w http.ResponseWriter, r *http.Request) {
	records := ac.consents.Active()
	name := "consentimientos"
	if archived, _ := strconv.ParseBool(r.URL.Query().Get("archived")); archived {
		records = ac.consents.Archived()
		name = "consentimientos_archivados"
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+"_"+time.Now().Format("20060102")+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := writeConsentsCSV(w, records); err != nil {
		ac.logger.Errorf(providers.TypeGet, "CSV export failed: %v", err)
	}
}

func writeConsentsCSV(out io.Writer, records []models.ConsentRecord) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, rec := range records {
		guardian := ""
		if rec.Guardian != nil {
			guardian = rec.Guardian.Name
		}
		date := ""
		if !rec.CreatedAt.IsZero() {
			date = rec.CreatedAt.Local().Format("02/01/2006 15:04")
		}
		row := []string{
			rec.Code,
			date,
			rec.Client.Name,
			rec.Client.LastName,
			rec.Client.RUT,
			strconv.Itoa(rec.Client.Age),
			rec.Client.Phone,
			rec.Client.Email,
			rec.ArtistName,
			guardian,
			strconv.FormatBool(rec.Archived),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
