package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/payflow/internal/config"
)

// Config is the observability view of the process configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string
	SlowQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = "payflow"
	}
	ratio := cfg.OTelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}
	return Config{
		ServiceName:          service,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.LogLevel,
		LogFormat:            cfg.LogFormat,
		SlowQuery:            time.Duration(cfg.SlowQueryMs) * time.Millisecond,
		OtelEnabled:          cfg.OTelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: cfg.OTLPProtocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether the process runs with development logging: debug
// level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
