// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"

	"github.com/onnwee/raid-herald/config"
	"github.com/onnwee/raid-herald/twitchapi"
)

// Subscriber is the raid intake surface the registration handlers drive.
type Subscriber interface {
	Subscribe(login string)
	Unsubscribe(login string)
}

// configurable for tests
var (
	exchangeCode  = twitchapi.ExchangeAuthCode
	validateToken = twitchapi.ValidateToken
	revokeToken   = twitchapi.RevokeToken
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db   *sql.DB
	cfg  *config.Config
	subs Subscriber
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, cfg *config.Config, subs Subscriber) *Handlers {
	return &Handlers{db: db, cfg: cfg, subs: subs}
}
