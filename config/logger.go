package config

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development mode logs human-readable
// lines to stderr; otherwise output is JSON.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, invalid("log.level: " + err.Error())
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}

// Logger builds the logger described by the log section.
func (c LogConfig) Logger() (*zap.Logger, error) {
	return NewLogger(c.Level, c.Development)
}
