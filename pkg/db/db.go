package db

import (
	"github.com/moradacoop/morada/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Provide(Open)

// Open connects to the configured database and returns the shared handle.
func Open(cfg config.Config) (*gorm.DB, error) {
	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(dialect, &gorm.Config{})
}
