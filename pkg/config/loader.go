package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg from environment variables. Fields are selected by their
// `env` struct tag, with `envDefault` supplying the value when the variable
// is unset:
//
//	type Config struct {
//	    WarehouseURL string `env:"WAREHOUSE_SERVICE_URL" envDefault:"http://localhost:8081"`
//	    StepTimeout  time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"30s"`
//	}
//
// cfg must be a pointer to a struct.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
