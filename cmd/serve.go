package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/villedata/communes-cli/internal/model"
	"github.com/villedata/communes-cli/internal/store"
	"github.com/villedata/communes-cli/internal/transform"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reference data over a JSON CRUD API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/regions", func(r chi.Router) {
		r.Get("/", listRegions(st))
		r.Post("/", createRegion(st))
		r.Get("/{id}", getRegion(st))
		r.Delete("/{id}", deleteEntity(st.SoftDeleteRegion))
	})
	r.Route("/departments", func(r chi.Router) {
		r.Get("/", listDepartments(st))
		r.Post("/", createDepartment(st))
		r.Get("/{id}", getDepartment(st))
		r.Delete("/{id}", deleteEntity(st.SoftDeleteDepartment))
	})
	r.Route("/cities", func(r chi.Router) {
		r.Get("/", listCities(st))
		r.Post("/", createCity(st))
		r.Get("/{id}", getCity(st))
		r.Delete("/{id}", deleteEntity(st.SoftDeleteCity))
	})

	return r
}

func listRegions(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regions, err := st.ListRegions(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, regions)
	}
}

func getRegion(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		region, err := st.GetRegion(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if region == nil {
			respondNotFound(w)
			return
		}
		respondJSON(w, http.StatusOK, region)
	}
}

func createRegion(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		name := transform.NormalizeName(req.Name)
		if name == "" {
			respondError(w, http.StatusUnprocessableEntity, eris.New("name is required"))
			return
		}
		region, err := st.InsertRegion(r.Context(), name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusCreated, region)
	}
}

func listDepartments(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		departments, err := st.ListDepartments(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, departments)
	}
}

func getDepartment(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		dep, err := st.GetDepartment(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if dep == nil {
			respondNotFound(w)
			return
		}
		respondJSON(w, http.StatusOK, dep)
	}
}

func createDepartment(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Code     string `json:"code_departement"`
			RegionID int64  `json:"region_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		name := transform.NormalizeName(req.Name)
		code := transform.CleanString(req.Code)
		if name == "" || code == "" || req.RegionID == 0 {
			respondError(w, http.StatusUnprocessableEntity, eris.New("name, code_departement, and region_id are required"))
			return
		}
		region, err := st.GetRegion(r.Context(), req.RegionID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if region == nil {
			respondError(w, http.StatusUnprocessableEntity, eris.Errorf("unknown region: %d", req.RegionID))
			return
		}
		dep, err := st.InsertDepartment(r.Context(), name, code, req.RegionID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusCreated, dep)
	}
}

func listCities(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cities, err := st.ListActiveCities(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, cities)
	}
}

func getCity(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		city, err := st.GetCity(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if city == nil {
			respondNotFound(w)
			return
		}
		respondJSON(w, http.StatusOK, city)
	}
}

// createCity resolves the department from the postal code; the client never
// chooses it.
func createCity(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name       string   `json:"name"`
			PostalCode string   `json:"code_postal"`
			Latitude   *float64 `json:"latitude"`
			Longitude  *float64 `json:"longitude"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		name := transform.NormalizeName(req.Name)
		postal := transform.NormalizePostalCode(req.PostalCode)
		if name == "" || postal == "" {
			respondError(w, http.StatusUnprocessableEntity, eris.New("name and code_postal are required"))
			return
		}
		code, err := model.DepartmentCodeFromPostal(postal)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		dep, err := st.GetDepartmentByCode(r.Context(), code)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if dep == nil {
			respondError(w, http.StatusUnprocessableEntity, eris.Errorf("unknown department: %s", code))
			return
		}
		city, err := st.InsertCity(r.Context(), model.City{
			Name:         name,
			PostalCode:   postal,
			DepartmentID: dep.ID,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusCreated, city)
	}
}

func deleteEntity(del func(ctx context.Context, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := del(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, eris.New("invalid id"))
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondNotFound(w http.ResponseWriter) {
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError && strings.Contains(err.Error(), "not found") {
		respondNotFound(w)
		return
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
