package httpserver

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fx-ledger/internal/auth"
	"fx-ledger/internal/currencies"
	"fx-ledger/internal/httputil"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/rate"
	"fx-ledger/internal/trades"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

type RouterDeps struct {
	AuthHandler       *auth.Handler
	LedgerHandler     *ledger.Handler
	TradesHandler     *trades.Handler
	UsersHandler      *users.Handler
	CurrenciesHandler *currencies.Handler
	AuthService       *auth.Service
	WSHandler         http.Handler
	Limiter           *rate.Limiter
	RateBypassAdmin   bool
	Registry          *prometheus.Registry
	Logger            *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	limit := func(class types.EndpointClass) func(http.Handler) http.Handler {
		return RateLimit(d.Limiter, class, d.RateBypassAdmin)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	// The websocket route sits outside the request logger; the status
	// recorder would break the connection hijack.
	r.Get("/v1/ws", d.WSHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequestLogger(d.Logger))

		r.Route("/auth", func(r chi.Router) {
			r.Use(limit(types.EndpointClassAuth))
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
			r.With(WithAuth(d.AuthService)).Post("/password", withPrincipal(d.AuthHandler.ChangePassword))
		})

		r.With(limit(types.EndpointClassInfo)).Get("/currencies", d.CurrenciesHandler.List)
		r.With(limit(types.EndpointClassInfo)).Get("/pairs", d.CurrenciesHandler.ListPairs)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Group(func(r chi.Router) {
				r.Use(limit(types.EndpointClassInfo))
				r.Get("/me", withPrincipal(d.AuthHandler.Me))
				r.Get("/balances", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Balances(w, r, p, p.UserID)
				}))
				r.Get("/balances/{code}", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Balance(w, r, p, p.UserID, chi.URLParam(r, "code"))
				}))
				r.Get("/transactions", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Transactions(w, r, p, p.UserID)
				}))
				r.Get("/trades/{id}", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.TradesHandler.Get(w, r, p, p.UserID, chi.URLParam(r, "id"))
				}))
				r.Get("/users/{id}", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.UsersHandler.Get(w, r, p, chi.URLParam(r, "id"))
				}))
				r.Get("/users/{id}/balances", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Balances(w, r, p, chi.URLParam(r, "id"))
				}))
				r.Get("/users/{id}/balances/{code}", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Balance(w, r, p, chi.URLParam(r, "id"), chi.URLParam(r, "code"))
				}))
				r.Get("/users/{id}/transactions", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.LedgerHandler.Transactions(w, r, p, chi.URLParam(r, "id"))
				}))
				r.Get("/users/{id}/trades/{tradeID}", withPrincipal(func(w http.ResponseWriter, r *http.Request, p types.Principal) {
					d.TradesHandler.Get(w, r, p, chi.URLParam(r, "id"), chi.URLParam(r, "tradeID"))
				}))
			})

			r.Group(func(r chi.Router) {
				r.Use(limit(types.EndpointClassTrading))
				r.Post("/deposits", withPrincipal(d.LedgerHandler.Deposit))
				r.Post("/withdrawals", withPrincipal(d.LedgerHandler.Withdraw))
				r.Post("/trades/simulate", withPrincipal(d.TradesHandler.Simulate))
				r.Post("/trades", withPrincipal(d.TradesHandler.Execute))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Use(RequireAdmin)
			r.Use(limit(types.EndpointClassAdmin))

			r.Post("/users", d.UsersHandler.Create)
			r.Put("/users/{id}/role", func(w http.ResponseWriter, r *http.Request) {
				d.UsersHandler.SetRole(w, r, chi.URLParam(r, "id"))
			})
			r.Put("/users/{id}/active", func(w http.ResponseWriter, r *http.Request) {
				d.UsersHandler.SetActive(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/entities", d.UsersHandler.CreateEntity)
			r.Post("/entities/{id}/members", func(w http.ResponseWriter, r *http.Request) {
				d.UsersHandler.AddMember(w, r, chi.URLParam(r, "id"))
			})
			r.Delete("/entities/{id}/members/{userID}", func(w http.ResponseWriter, r *http.Request) {
				d.UsersHandler.RemoveMember(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
			})
			r.Post("/currencies", d.CurrenciesHandler.Create)
			r.Put("/currencies/{code}/active", func(w http.ResponseWriter, r *http.Request) {
				d.CurrenciesHandler.SetActive(w, r, chi.URLParam(r, "code"))
			})
			r.Post("/pairs", d.CurrenciesHandler.CreatePair)
			r.Put("/pairs/{symbol}/active", func(w http.ResponseWriter, r *http.Request) {
				d.CurrenciesHandler.SetPairActive(w, r, chi.URLParam(r, "symbol"))
			})
		})
	})

	return r
}

func withPrincipal(h func(http.ResponseWriter, *http.Request, types.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, p)
	}
}
