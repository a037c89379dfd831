package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity-gateway/internal/audit"
	auditrepo "identity-gateway/internal/audit/repository"
	"identity-gateway/internal/auth"
	"identity-gateway/internal/config"
	"identity-gateway/internal/db"
	"identity-gateway/internal/identity/provider"
	identityrepo "identity-gateway/internal/identity/repository"
	linkrepo "identity-gateway/internal/link/repository"
	linksvc "identity-gateway/internal/link/service"
	"identity-gateway/internal/ratelimit"
	"identity-gateway/internal/security"
	"identity-gateway/internal/server"
	"identity-gateway/internal/server/interceptors"
	sessionrepo "identity-gateway/internal/session/repository"
	sessionsvc "identity-gateway/internal/session/service"
	"identity-gateway/internal/telemetry"
	telemetryotel "identity-gateway/internal/telemetry/otel"
	userrepo "identity-gateway/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "identity-gateway", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	users := userrepo.NewPostgresRepository(database)
	identities := identityrepo.NewPostgresRepository(database)
	sessions := sessionrepo.NewPostgresRepository(database)
	links := linkrepo.NewPostgresRepository(database)
	auditLogs := auditrepo.NewPostgresRepository(database)

	hasher := security.NewHasher(cfg.ArgonMemory, cfg.ArgonTime, cfg.ArgonParallelism)
	tokens := security.NewTokenProvider([]byte(cfg.AccessTokenSecret), "identity-gateway", cfg.AccessTokenTTL())

	google := provider.NewGoogleVerifier(cfg.GoogleClientID, 10*time.Second)
	telegram := provider.NewTelegramVerifier(cfg.TelegramBotToken, cfg.TelegramAuthMaxAge)

	limiter := ratelimit.NewLimiter(
		ratelimit.NewFailoverStore(ratelimit.NewPostgresStore(database), ratelimit.NewMemoryStore()),
		ratelimit.DefaultPolicies(),
		ratelimit.GlobalRules(),
		cfg.RateLimitEnabled,
	)

	sessionManager := sessionsvc.NewManager(sessions, users, tokens, cfg.RefreshTokenTTL())
	linkCoordinator := linksvc.NewCoordinator(links, identities, hasher, google, telegram, cfg.LinkTokenTTL())
	auditLogger := audit.NewLogger(auditLogs, interceptors.ClientIP)
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	authService := auth.NewService(users, identities, sessionManager, linkCoordinator,
		limiter, hasher, google, telegram, auditLogger, emitter)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s, healthSrv := server.New(server.Deps{Auth: authService, Tokens: tokens, DB: database})
	server.CheckReadiness(ctx, server.Deps{DB: database}, healthSrv)

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	s.GracefulStop()

	// Let in-flight async telemetry drain before tearing down the exporters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("gRPC server stopped")
}
