// Package server assembles the gRPC server: interceptor chain, OTel
// instrumentation, and the standard health service.
package server

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/security"
	"identity-gateway/internal/server/interceptors"
)

// Deps holds the wired application services the transport layer serves.
type Deps struct {
	// Auth is the auth service backing the authentication RPC surface.
	Auth *auth.Service
	// Tokens validates Bearer access tokens in the auth interceptor.
	Tokens *security.TokenProvider
	// DB, when set, gates readiness: health flips to NOT_SERVING if Ping fails.
	DB *sql.DB
}

// PublicMethods is the set of full method names served without a Bearer token:
// registration, the three logins, refresh, logout, and health checks.
func PublicMethods() map[string]bool {
	return map[string]bool{
		"/identitygateway.v1.AuthService/RegisterEmail": true,
		"/identitygateway.v1.AuthService/LoginEmail":    true,
		"/identitygateway.v1.AuthService/LoginGoogle":   true,
		"/identitygateway.v1.AuthService/LoginTelegram": true,
		"/identitygateway.v1.AuthService/Refresh":       true,
		"/identitygateway.v1.AuthService/Logout":        true,
		"/grpc.health.v1.Health/Check":                  true,
		"/grpc.health.v1.Health/Watch":                  true,
	}
}

// New builds the gRPC server with the OTel stats handler, the Bearer auth
// interceptor, and the standard health service registered. Callers register
// their RPC services on the returned server before Serve.
func New(deps Deps) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(deps.Tokens, PublicMethods()),
		),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(s, healthSrv)
	return s, healthSrv
}

// CheckReadiness pings the database and updates the health server's overall
// status accordingly. No-op when no DB was provided.
func CheckReadiness(ctx context.Context, deps Deps, healthSrv *health.Server) {
	if deps.DB == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err := deps.DB.PingContext(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	healthSrv.SetServingStatus("", status)
}
