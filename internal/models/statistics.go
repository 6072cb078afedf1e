package models

type DayCount struct {
	Date  string `json:"fecha"`
	Count int    `json:"cantidad"`
}

type MonthCount struct {
	Month string `json:"mes"`
	Count int    `json:"cantidad"`
}

type ArtistCount struct {
	Name    string `json:"nombre"`
	Clients int    `json:"totalClientes"`
}

type Statistics struct {
	Total     int           `json:"totalFormularios"`
	Minors    int           `json:"menoresEdad"`
	Adults    int           `json:"mayoresEdad"`
	PerDay    []DayCount    `json:"porDia"`
	PerMonth  []MonthCount  `json:"porMes"`
	PerArtist []ArtistCount `json:"artistasStats"`
}
