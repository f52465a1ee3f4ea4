package factory

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/config"
	"github.com/hivehq/hive/internal/letta"
)

// NewLetta returns a client for the external agent service.
func NewLetta(cfg *config.Config, log zerolog.Logger) (letta.Service, error) {
	if cfg.LettaBaseURL == "" {
		return nil, fmt.Errorf("HIVE_LETTA_BASE_URL is required")
	}
	timeout := time.Duration(cfg.LettaTimeoutSeconds) * time.Second
	c := letta.NewClient(cfg.LettaBaseURL, cfg.LettaAPIKey, timeout)
	log.Info().Str("base_url", cfg.LettaBaseURL).Dur("timeout", timeout).Msg("agent backend client ready")
	return c, nil
}
