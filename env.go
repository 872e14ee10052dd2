package etlkit

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"
)

// Environment variables read by LoadEnvironment.
const (
	EnvLocation    = "LOCATION"
	EnvEnvironment = "ENVIRONMENT"
	EnvProjectID   = "GOOGLE_CLOUD_PROJECT_ID"
)

// Environment is the deployment context of a run.
type Environment struct {
	Location    string // "cloud" for deployed runs
	Environment string // e.g. dev, staging, prod
	ProjectID   string // Google Cloud project
}

// LoadEnvironment reads the environment from the process environment and,
// when dotenvPath is not empty, from a dotenv file. Process variables win over
// the file. A missing file is not an error.
func LoadEnvironment(v *viper.Viper, dotenvPath string) (Environment, error) {
	if v == nil {
		v = viper.New()
	}
	for _, key := range []string{EnvLocation, EnvEnvironment, EnvProjectID} {
		// Bind with explicit names so a caller's env prefix does not apply.
		if err := v.BindEnv(key, key); err != nil {
			return Environment{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if dotenvPath != "" {
		v.SetConfigFile(dotenvPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Environment{}, fmt.Errorf("read env file %s: %w", dotenvPath, err)
			}
		}
	}

	return Environment{
		Location:    v.GetString(EnvLocation),
		Environment: v.GetString(EnvEnvironment),
		ProjectID:   v.GetString(EnvProjectID),
	}, nil
}
