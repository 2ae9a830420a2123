package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/towline/towline-backend/api/controllers"
	webhookcontrollers "github.com/towline/towline-backend/api/controllers/webhooks"
	"github.com/towline/towline-backend/api/middleware"
	"github.com/towline/towline-backend/internal/notifications"
	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/enums"
	"github.com/towline/towline-backend/pkg/logger"
)

// Store is the redis surface the HTTP layer needs for idempotency, rate
// limiting and readiness.
type Store interface {
	middleware.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Services bundles the domain services mounted on the router.
type Services struct {
	Requests      controllers.RequestService
	Matching      controllers.MatchingService
	Tracking      controllers.TrackingService
	Payments      controllers.PaymentService
	Providers     controllers.ProviderService
	Notifications notifications.Service
	Webhooks      webhookcontrollers.PaystackWebhookService
}

var (
	customer = enums.ActorCustomer
	provider = enums.ActorProvider
	admin    = enums.ActorAdmin
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	store Store,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	idem := middleware.NewIdempotency(store, cfg.Eventing.HTTPIdempotencyTTL, logg)
	once := idem.Require(0)
	oncePayment := idem.Require(middleware.PaymentIdempotencyTTL)

	trackPolicy := middleware.NewRateLimitPolicy("track", cfg.HTTP.TrackRateWindow, cfg.HTTP.TrackRateLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": store,
		}))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(svc.Webhooks, logg))
	})

	r.With(middleware.IPRateLimit(trackPolicy, store, logg)).
		Get("/api/v1/requests/track/{code}", controllers.TrackRequest(svc.Requests, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/requests", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, customer), once).Post("/", controllers.CreateRequest(svc.Requests, logg))
			r.Route("/{requestId}", func(r chi.Router) {
				r.Get("/", controllers.GetRequest(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, customer, admin)).Post("/assign", controllers.AssignProvider(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, provider), once).Post("/quote", controllers.QuoteRequest(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, customer)).Post("/accept", controllers.AcceptQuote(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, provider)).Post("/status", controllers.UpdateRequestStatus(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, customer, provider, admin)).Post("/cancel", controllers.CancelRequest(svc.Requests, logg))
				r.With(middleware.RequireRole(logg, customer)).Post("/confirm", controllers.ConfirmCompletion(svc.Requests, logg))

				r.Route("/tracking", func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, customer, provider))
					r.Post("/activate", controllers.ActivateTracking(svc.Tracking, logg))
					r.Post("/deactivate", controllers.DeactivateTracking(svc.Tracking, svc.Requests, logg))
					r.Post("/samples", controllers.IngestSample(svc.Tracking, logg))
				})
				r.With(middleware.RequireRole(logg, customer)).Get("/eta", controllers.RequestETA(svc.Tracking, svc.Requests, logg))
			})
		})

		r.Route("/matching", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, customer))
			r.Get("/nearby", controllers.NearbyProviders(svc.Matching, logg))
			r.Get("/closest", controllers.ClosestProvider(svc.Matching, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, customer), oncePayment).Post("/initialize", controllers.InitializePayment(svc.Payments, logg))
			r.With(middleware.RequireRole(logg, customer, admin)).Get("/verify/{reference}", controllers.VerifyPayment(svc.Payments, logg))
			r.With(middleware.RequireRole(logg, customer, admin), oncePayment).Post("/transfer", controllers.TransferToProvider(svc.Payments, logg))
		})

		r.Route("/providers", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, provider))
			r.Get("/me", controllers.GetProviderProfile(svc.Providers, logg))
			r.Post("/availability", controllers.SetAvailability(svc.Providers, logg))
			r.With(once).Post("/payout", controllers.SetupPayout(svc.Payments, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.With(middleware.RequireRole(logg, customer, provider)).Post("/devices", controllers.RegisterDevice(svc.Notifications, logg))
		})
	})

	return r
}
