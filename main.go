package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sba-cms/pkg/config"
	"sba-cms/pkg/handlers"
	"sba-cms/pkg/logging"
	"sba-cms/pkg/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CMS_CONFIG"), "path to a YAML or TOML config file")
	addUser := flag.String("add-user", "", "create or update a database user and exit")
	password := flag.String("password", "", "password for -add-user")
	role := flag.String("role", services.RoleAdmin, "role for -add-user")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("loading config")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db := services.NewDatabase(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.BreakerTimeout)
	defer db.Close()

	auth := services.NewAuthenticator(db, cfg.Auth.OperatorUsername, cfg.Auth.OperatorPassword)

	if *addUser != "" {
		if err := auth.SaveUser(context.Background(), *addUser, *password, *role); err != nil {
			logging.Fatal().Err(err).Str("username", *addUser).Msg("saving user")
		}
		logging.Info().Str("username", *addUser).Msg("user saved")
		return
	}

	tokens, err := services.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("creating token issuer")
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn().Msg("no jwt secret configured, tokens will not survive a restart")
	}
	if cfg.Auth.OperatorPassword == "" {
		logging.Info().Msg("operator login disabled, only database users can sign in")
	}
	if !db.Configured() {
		logging.Info().Msg("no database configured, using file storage only")
	}

	paths := services.NewPathResolver(cfg.DataDir, cfg.I18nDir)
	contact := services.NewContactService(
		services.NewRequestLog(db, cfg.RequestLogPath),
		services.NewMailer(cfg.Mail),
		cfg.Contact.AdminEmail,
		cfg.Contact.SubjectPrefix,
	)

	srv := &handlers.Server{
		Content: services.NewContentRepository(db, services.NewFileStore(paths)),
		Media:   services.NewMediaStore(cfg.MediaDir, cfg.MediaPublicPath, db, services.NewWebPProcessor()),
		Auth:    auth,
		Tokens:  tokens,
		Contact: contact,
		DB:      db,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.NewRouter(cfg, srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown")
	}
	contact.Wait()
}
