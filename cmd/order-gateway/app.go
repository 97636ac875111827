package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/auth"
	"github.com/localpepas/orderlink/internal/broker/messages"
	"github.com/localpepas/orderlink/internal/integrations/backendhttp"
	"github.com/localpepas/orderlink/internal/models"
	"github.com/localpepas/orderlink/internal/services/orderstate"
	"github.com/localpepas/orderlink/internal/socket"
)

// eventArchive is the read side of the postgres archive.
// Implemented by pgevents.Storage.
type eventArchive interface {
	ListOrderEvents(ctx context.Context, orderID string, limit, offset int) ([]messages.OrderEventRecorded, error)
}

type gatewayDeps struct {
	svc     *orderstate.Service
	mgr     *socket.Manager
	tokens  *auth.TokenStore
	backend *backendhttp.Client
	archive eventArchive
}

func runGateway(ctx context.Context, httpAddr string, deps gatewayDeps) error {
	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	srv := &http.Server{Handler: newRouter(deps)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func newRouter(deps gatewayDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		st := deps.svc.Store()
		writeJSON(w, http.StatusOK, map[string]any{
			"connection": deps.mgr.Stats(),
			"orders":     len(st.Orders()),
			"events":     len(st.Events(0)),
		})
	})

	r.Get("/connection", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"state": deps.mgr.State()})
	})
	r.Post("/connection/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.mgr.Reconnect(r.Context()); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, socket.ErrNoCredentials) {
				code = http.StatusUnauthorized
			}
			writeJSON(w, code, map[string]any{"state": deps.mgr.State(), "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": deps.mgr.State()})
	})

	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		if deps.backend == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "backend is not configured"})
			return
		}
		var in backendhttp.LoginInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "email and password are required"})
			return
		}
		tok, err := deps.backend.Login(r.Context(), in)
		if err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, backendhttp.ErrUnauthorized) {
				code = http.StatusUnauthorized
			}
			writeJSON(w, code, map[string]any{"error": err.Error()})
			return
		}
		if err := deps.tokens.SetToken(r.Context(), tok); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		// Свежая сессия: пробуем подключиться сразу, ошибки не фатальны.
		_ = deps.mgr.Reconnect(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"stored": true, "state": deps.mgr.State()})
	})

	r.Post("/session", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Token == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "token is required"})
			return
		}
		if err := deps.tokens.SetToken(r.Context(), in.Token); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stored": true})
	})
	r.Delete("/session", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.tokens.ClearToken(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
	})

	r.Get("/orders", func(w http.ResponseWriter, r *http.Request) {
		active := []orderstate.OrderView{}
		completed := []orderstate.OrderView{}
		for _, o := range deps.svc.Store().Orders() {
			v := orderstate.ViewOf(o)
			if models.IsFinal(o.Status) {
				completed = append(completed, v)
			} else {
				active = append(active, v)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active, "completed": completed})
	})

	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		o, ok := deps.svc.Store().Order(chi.URLParam(r, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusOK, o)
	})

	r.Get("/orders/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		if deps.archive == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "event archive is not configured"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		evs, err := deps.archive.ListOrderEvents(r.Context(), chi.URLParam(r, "id"), limit, offset)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		if evs == nil {
			evs = []messages.OrderEventRecorded{}
		}
		writeJSON(w, http.StatusOK, evs)
	})

	r.Get("/orders/{id}/view", func(w http.ResponseWriter, r *http.Request) {
		v, ok := deps.svc.OrderView(r.Context(), chi.URLParam(r, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	r.Get("/wallet", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.svc.Store().Wallet())
	})

	r.Get("/stock", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.svc.Store().Stock())
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, deps.svc.Store().Events(limit))
	})

	r.Post("/send", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body is required"})
			return
		}
		if !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be json"})
			return
		}
		if err := deps.mgr.Send(body); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, socket.ErrNotConnected) {
				code = http.StatusConflict
			}
			writeJSON(w, code, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sent": true})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
