package http

import (
	"github.com/nats-io/nats.go"

	"github.com/nasaharvest/street2sat/internal/adapters/postgres"
	"github.com/nasaharvest/street2sat/internal/adapters/valkey"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Surveys   *usecases.SurveyService
	Crops     *usecases.CropService
	Workflows ports.WorkflowStarter // optional; enables ?async=true triangulation
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
}
