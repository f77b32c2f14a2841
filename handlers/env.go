package handlers

import (
	"postdeck/gateway"
	"postdeck/utils"

	"github.com/redis/go-redis/v9"
)

// Env carries the dependencies shared by every handler. DB and Gateway are
// nil when accounts or the auth gateway are not configured.
type Env struct {
	DB      utils.DB
	Redis   *redis.Client
	Gateway *gateway.Client
	Mailer  utils.Mailer
	Config  utils.Config
}
