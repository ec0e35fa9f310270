package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/popis/internal/model"
)

// Options tune the router. Zero values fall back to defaults.
type Options struct {
	TokenTTL          time.Duration
	LowStockThreshold int
	LoginRate         float64 // attempts per second per client IP
	LoginBurst        int
	Now               func() time.Time
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, opts Options) http.Handler {
	mux := http.NewServeMux()

	var limiter *LoginLimiter
	if opts.LoginRate > 0 && opts.LoginBurst > 0 {
		limiter = NewLoginLimiter(opts.LoginRate, opts.LoginBurst)
	}

	settingsHandler := &SettingsHandler{DB: db, DefaultLowStockThreshold: opts.LowStockThreshold}
	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret, TokenTTL: opts.TokenTTL, Limiter: limiter}
	usersHandler := &UsersHandler{DB: db}
	itemsHandler := &ItemsHandler{DB: db, Settings: settingsHandler}
	countsHandler := &CountsHandler{DB: db, Now: opts.Now}
	reportsHandler := &ReportsHandler{DB: db, Settings: settingsHandler, Now: opts.Now}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("GET /api/auth/me", authMW(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Settings: read (all roles), write (admin).
	mux.Handle("GET /api/settings", authMW(http.HandlerFunc(settingsHandler.Get)))
	mux.Handle("PUT /api/settings", authMW(requireAdmin(http.HandlerFunc(settingsHandler.Update))))

	// Items: read (all roles), write (manager+).
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(requireManager(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/low-stock", authMW(http.HandlerFunc(itemsHandler.LowStock)))
	mux.Handle("GET /api/items/categories", authMW(http.HandlerFunc(itemsHandler.Categories)))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(requireManager(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{id}", authMW(requireManager(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("PUT /api/items/{id}/image", authMW(requireManager(http.HandlerFunc(itemsHandler.UploadImage))))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))
	mux.Handle("GET /api/items/{id}/history", authMW(http.HandlerFunc(itemsHandler.GetHistory)))
	mux.Handle("POST /api/items/{id}/adjust", authMW(requireManager(http.HandlerFunc(itemsHandler.Adjust))))

	// Counts: the engine decides who may edit, submit and review.
	mux.Handle("GET /api/counts", authMW(http.HandlerFunc(countsHandler.List)))
	mux.Handle("POST /api/counts", authMW(http.HandlerFunc(countsHandler.Create)))
	mux.Handle("GET /api/counts/stats", authMW(http.HandlerFunc(countsHandler.Stats)))
	mux.Handle("GET /api/counts/export", authMW(http.HandlerFunc(countsHandler.Export)))
	mux.Handle("GET /api/counts/{id}", authMW(http.HandlerFunc(countsHandler.Get)))
	mux.Handle("DELETE /api/counts/{id}", authMW(http.HandlerFunc(countsHandler.Delete)))
	mux.Handle("POST /api/counts/{id}/items", authMW(http.HandlerFunc(countsHandler.AddItem)))
	mux.Handle("PUT /api/counts/{id}/items/{itemID}", authMW(http.HandlerFunc(countsHandler.UpdateItem)))
	mux.Handle("DELETE /api/counts/{id}/items/{itemID}", authMW(http.HandlerFunc(countsHandler.RemoveItem)))
	mux.Handle("POST /api/counts/{id}/submit", authMW(http.HandlerFunc(countsHandler.Submit)))
	mux.Handle("POST /api/counts/{id}/approve", authMW(http.HandlerFunc(countsHandler.Approve)))
	mux.Handle("POST /api/counts/{id}/reject", authMW(http.HandlerFunc(countsHandler.Reject)))

	// Dashboard (all roles) and reports (manager+).
	mux.Handle("GET /api/dashboard", authMW(http.HandlerFunc(reportsHandler.Dashboard)))
	mux.Handle("GET /api/reports/counts", authMW(requireManager(http.HandlerFunc(reportsHandler.Counts))))
	mux.Handle("GET /api/reports/discrepancies", authMW(requireManager(http.HandlerFunc(reportsHandler.Discrepancies))))

	return mux
}
