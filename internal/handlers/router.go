package handlers

import (
	"context"
	"net/http"
	"strconv"

	"dockwave-backend/internal/geofence"
	"dockwave-backend/internal/ingest"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/observe"
	"dockwave-backend/internal/reconciler"
	"dockwave-backend/internal/returns"
	"dockwave-backend/internal/wavestore"
	"dockwave-backend/internal/websocket"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// UserDirectory is the user and device-token store behind the user endpoints
type UserDirectory interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context, role string) ([]models.User, error)
	SaveToken(ctx context.Context, t models.FCMToken) error
}

// Deps are the services the HTTP API is built on
type Deps struct {
	Waves      *wavestore.Service
	Reconciler *reconciler.Reconciler
	Broker     *observe.Broker
	Returns    *returns.Service
	Ingestor   *ingest.Ingestor
	Evaluator  *geofence.Evaluator
	Fences     *geofence.StaticProvider
	Users      UserDirectory
	Hub        *websocket.Hub
	JWTSecret  string
}

// NewRouter wires every route of the API
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", websocket.HandleWebSocket(d.Hub, d.Broker, d.Ingestor, d.JWTSecret))

	r.Route("/api/dispatcher", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))
		r.Use(middleware.RequireRole(middleware.RoleDispatcher))

		// Shifts and wave composition
		r.Post("/shifts", CreateShift(d.Waves))
		r.Get("/shifts", ListShifts(d.Waves))
		r.Get("/shifts/{shiftID}", GetShiftLayout(d.Waves))
		r.Post("/shifts/{shiftID}/archive", ArchiveShift(d.Waves))
		r.Post("/shifts/{shiftID}/waves", AppendWave(d.Waves))
		r.Put("/shifts/{shiftID}/waves/count", EnsureWaveCount(d.Waves))
		r.Delete("/shifts/{shiftID}/waves/{waveIndex}", RemoveWave(d.Waves))
		r.Post("/shifts/{shiftID}/waves/{waveIndex}/slots", UpsertSlot(d.Waves))
		r.Patch("/shifts/{shiftID}/slots/{slotID}", EditSlot(d.Waves))
		r.Post("/shifts/{shiftID}/import", ImportWaves(d.Waves))

		// Driver status (persisted state only)
		r.Get("/shifts/{shiftID}/statuses", GetShiftSnapshot(d.Reconciler))
		r.Get("/shifts/{shiftID}/drivers/{driverID}/status", GetDriverStatus(d.Reconciler))
		r.Get("/shifts/{shiftID}/drivers/{driverID}/history", GetDriverHistory(d.Reconciler))

		// Dispatcher calls
		r.Post("/shifts/{shiftID}/drivers/{driverID}/call-to-dock", CallToDock(d.Reconciler))
		r.Post("/shifts/{shiftID}/drivers/{driverID}/call-to-parking", CallToParking(d.Reconciler))

		r.Get("/shifts/{shiftID}/package-returns", ListPackageReturns(d.Returns))
		r.Get("/shifts/{shiftID}/locations", GetDriverLocations(d.Ingestor))

		// Geofences
		r.Get("/bases/geofences", ListGeofences(d.Fences))
		r.Get("/bases/{baseID}/geofences", GetGeofences(d.Fences))
		r.Put("/bases/{baseID}/geofences", PutGeofences(d.Fences, d.Hub))

		// Users
		r.Post("/users", CreateUser(d.Users))
		r.Get("/users", ListUsers(d.Users))

		r.Get("/diagnostics", GetDiagnostics(d))
	})

	r.Route("/api/driver", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))
		r.Use(middleware.RequireRole(middleware.RoleDriver))

		r.Get("/shifts/{shiftID}/status", GetMyStatus(d.Reconciler, d.Waves))
		r.Post("/shifts/{shiftID}/confirm", DriverAction(d.Reconciler, models.EventConfirm))
		r.Post("/shifts/{shiftID}/start-loading", DriverAction(d.Reconciler, models.EventStartLoading))
		r.Post("/shifts/{shiftID}/complete", DriverAction(d.Reconciler, models.EventCompleteLoading))
		r.Post("/shifts/{shiftID}/package-returns", RegisterPackageReturns(d.Returns))

		r.Post("/location", PostLocation(d.Ingestor))
		r.Post("/fcm-token", RegisterFCMToken(d.Users))
		r.Post("/logs/diagnostic", ReceiveDiagnosticLog())
	})

	return r
}

// pathInt reads an integer URL parameter, answering 400 when it is malformed
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	utils.RespondJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
