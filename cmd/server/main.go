package main

import (
	"database/sql"
	"net/http"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/okralab/okra-server/internal/api"
	"github.com/okralab/okra-server/internal/config"
	"github.com/okralab/okra-server/internal/logging"
	"github.com/okralab/okra-server/internal/middleware"
	"github.com/okralab/okra-server/internal/services"
	"github.com/okralab/okra-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		logger.Fatal("open database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer db.Close()
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		logger.Fatal("init store", zap.Error(err))
	}
	if err := store.RunMigrations(db, ""); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	authmw := middleware.NewAuth(cfg.SecretKey)
	identity := services.NewIdentityService(st)
	assignments := services.NewAssignmentService(st)
	experiments := services.NewExperimentService(st)
	authSvc := services.NewAuthService(st, authmw.SignToken)
	if cfg.AdminPassword != "" {
		if err := authSvc.SeedOperator(cfg.AdminUser, cfg.AdminPassword); err != nil {
			logger.Fatal("seed operator", zap.String("user", cfg.AdminUser), zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	api.NewRouter(identity, assignments, experiments, authSvc, st, logger, api.Info{
		Name:    cfg.APIName,
		IconURL: cfg.APIIconURL,
		BaseURL: cfg.BaseURL(),
	}).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	var handler http.Handler = mux
	if cfg.ScriptName != "" {
		handler = http.StripPrefix(cfg.ScriptName, mux)
	}
	handler = authmw.WithAuth(handler)
	handler = middleware.CORS(cfg.AllowedOrigins())(handler)
	handler = middleware.NoStore(handler)
	handler = middleware.SecureHeaders(handler)
	handler = middleware.AllowedHost(cfg.APIHost)(handler)
	handler = middleware.RequestLog(logger)(handler)

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
