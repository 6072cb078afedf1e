package internal

import (
	"consentsync/internal/controllers"
	"consentsync/internal/providers"
	"net/http"
)

func InitRoutes(apiController *controllers.ApiController) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()

	routers.Get("/config", http.HandlerFunc(apiController.GetConfig))
	routers.Put("/config", http.HandlerFunc(apiController.UpdateConfig))

	routers.Post("/artists", http.HandlerFunc(apiController.AddArtist))
	routers.Put("/artists", http.HandlerFunc(apiController.UpdateArtist))
	routers.Delete("/artists", http.HandlerFunc(apiController.RemoveArtist))

	routers.Get("/consents", http.HandlerFunc(apiController.GetConsents))
	routers.Post("/consents", http.HandlerFunc(apiController.AddConsent))
	routers.Get("/consents/archived", http.HandlerFunc(apiController.GetArchivedConsents))
	routers.Post("/consents/archive", http.HandlerFunc(apiController.ArchiveConsent))
	routers.Get("/consents/export", http.HandlerFunc(apiController.ExportConsents))
	routers.Get("/consent", http.HandlerFunc(apiController.GetConsent))
	routers.Get("/verify", http.HandlerFunc(apiController.Verify))
	routers.Get("/statistics", http.HandlerFunc(apiController.GetStatistics))

	routers.Post("/retry", http.HandlerFunc(apiController.Retry))
	routers.Get("/status", http.HandlerFunc(apiController.GetStatus))
	return routers
}
