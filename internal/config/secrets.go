package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadSecrets loads .env files (best-effort) and copies OKX credentials and endpoint
// overrides from the environment into cfg. Variables already set in the process win.
func LoadSecrets(cfg *Config, envFiles ...string) {
	if len(envFiles) == 0 {
		_ = godotenv.Load() // best-effort
	} else {
		for _, f := range envFiles {
			_ = godotenv.Load(f)
		}
	}
	setFromEnv(&cfg.Exchange.APIKey, "OKX_API_KEY")
	setFromEnv(&cfg.Exchange.APISecret, "OKX_API_SECRET")
	setFromEnv(&cfg.Exchange.Passphrase, "OKX_API_PASSPHRASE")
	setFromEnv(&cfg.Exchange.BaseURL, "OKX_BASE_URL")
	setFromEnv(&cfg.Exchange.WSURL, "OKX_WS_PUBLIC_URL")
	if raw, ok := os.LookupEnv("OKX_SIMULATED"); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			cfg.Exchange.Simulated = v
		}
	}
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
