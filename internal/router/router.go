package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-identity-service/internal/config"
	"go-identity-service/internal/handler"
	"go-identity-service/internal/middleware"
	"go-identity-service/internal/model"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	User    *handler.UserHandler
	Health  *handler.HealthHandler
	Metrics http.Handler
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	recorder middleware.HTTPRecorder,
	authMiddleware *middleware.AuthMiddleware,
	handlers Handlers,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger, recorder))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", handlers.Health.Health)
	if handlers.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", handlers.Metrics)
	}

	requireAuth := authMiddleware.RequireAuth
	admins := authMiddleware.RequireRoles(model.RoleAdmin, model.RoleSuperAdmin)
	superAdmin := authMiddleware.RequireRoles(model.RoleSuperAdmin)
	selfOrAdmins := authMiddleware.RequireSelfOrRoles("id", model.RoleAdmin, model.RoleSuperAdmin)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", handlers.Auth.Login)
			auth.With(middleware.RequireUpstreamSecret(cfg.ExternalLoginSecret)).Post("/external", handlers.Auth.ExternalLogin)
			auth.Post("/logout", handlers.Auth.Logout)
			auth.With(requireAuth).Get("/me", handlers.Auth.Me)
			auth.Get("/verify-email/{token}", handlers.Auth.VerifyEmail)
			auth.Post("/verify-email/resend", handlers.Auth.ResendVerification)
			auth.Post("/forgot-password", handlers.Auth.ForgotPassword)
			auth.Post("/reset-password", handlers.Auth.ResetPassword)
			auth.With(requireAuth).Put("/password", handlers.Auth.ChangePassword)
		})

		api.Route("/users", func(users chi.Router) {
			users.Post("/", handlers.Auth.Register)
			users.Post("/super-admin", handlers.Auth.RegisterSuperAdmin)
			users.With(requireAuth, admins).Get("/", handlers.User.List)
			users.With(requireAuth, admins).Get("/role/{role}", handlers.User.ListByRole)
			users.With(requireAuth).Get("/username/{username}", handlers.User.GetByUsername)
			users.With(requireAuth).Get("/{id}", handlers.User.Get)
			users.With(requireAuth, selfOrAdmins).Patch("/{id}", handlers.User.Update)
			users.With(requireAuth, admins).Delete("/{id}", handlers.User.Delete)
			users.With(requireAuth, superAdmin).Put("/{id}/password", handlers.Auth.SetPassword)
			users.With(requireAuth, selfOrAdmins).Put("/{id}/profile-image", handlers.User.UpdateProfileImage)
			users.Get("/{id}/profile-image", handlers.User.ProfileImage)
		})
	})

	return r
}
