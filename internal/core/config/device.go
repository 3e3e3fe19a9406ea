package config

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"

	"github.com/solatis/engage/internal/types"
)

// deviceEnv is the environment form of the host device identity.
type deviceEnv struct {
	ID         string `env:"ENGAGE_DEVICE_ID"`
	AppNS      string `env:"ENGAGE_APP_NS"      envDefault:"engage"`
	OSVersion  string `env:"ENGAGE_OS_VERSION"  envDefault:"unknown"`
	DeviceType string `env:"ENGAGE_DEVICE_TYPE" envDefault:"desktop"`
	Platform   string `env:"ENGAGE_PLATFORM"`
}

// LoadDevice reads the host device identity from the environment. Platform
// defaults to the running OS. An empty ID is filled in by the SDK from the
// persisted visitor id.
func LoadDevice() (types.Device, error) {
	var d deviceEnv
	if err := env.Parse(&d); err != nil {
		return types.Device{}, fmt.Errorf("parse device env: %w", err)
	}
	if d.Platform == "" {
		d.Platform = runtime.GOOS
	}
	return types.Device{
		ID:         d.ID,
		AppNS:      d.AppNS,
		OSVersion:  d.OSVersion,
		DeviceType: d.DeviceType,
		Platform:   d.Platform,
	}, nil
}
