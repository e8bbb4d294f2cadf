package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/raffle/internal/cache"
	"github.com/Additional-Code/raffle/internal/config"
	"github.com/Additional-Code/raffle/internal/database"
	"github.com/Additional-Code/raffle/internal/gateway"
	"github.com/Additional-Code/raffle/internal/logger"
	"github.com/Additional-Code/raffle/internal/messaging"
	"github.com/Additional-Code/raffle/internal/migration"
	"github.com/Additional-Code/raffle/internal/notify"
	"github.com/Additional-Code/raffle/internal/observability"
	repositoryorder "github.com/Additional-Code/raffle/internal/repository/order"
	repositorytoken "github.com/Additional-Code/raffle/internal/repository/token"
	"github.com/Additional-Code/raffle/internal/seeder"
	grpcserver "github.com/Additional-Code/raffle/internal/server/grpc"
	httpserver "github.com/Additional-Code/raffle/internal/server/http"
	serviceinventory "github.com/Additional-Code/raffle/internal/service/inventory"
	serviceorder "github.com/Additional-Code/raffle/internal/service/order"
	servicepayment "github.com/Additional-Code/raffle/internal/service/payment"
	servicereservation "github.com/Additional-Code/raffle/internal/service/reservation"
	transporthttp "github.com/Additional-Code/raffle/internal/transport/http"
	"github.com/Additional-Code/raffle/internal/worker"
	workernotification "github.com/Additional-Code/raffle/internal/worker/notification"
)

// Infra provides configuration, logging, telemetry and the database.
var Infra = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	database.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Infra,
	cache.Module,
	messaging.Module,
	gateway.Module,
	notify.Module,
	repositorytoken.Module,
	repositoryorder.Module,
	servicereservation.Module,
	servicepayment.Module,
	serviceorder.Module,
)

// Admin wires the operator commands: migrations, seeding and inventory audits.
var Admin = fx.Options(
	Infra,
	repositorytoken.Module,
	repositoryorder.Module,
	migration.Module,
	seeder.Module,
	serviceinventory.Module,
)

// HTTP wires the HTTP and gRPC transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workernotification.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
