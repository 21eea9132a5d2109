package cloud

import (
	"context"
	"fmt"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/config"
)

// New creates a provider client based on config type (factory pattern)
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		return NewAWSClient(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)

	case config.ProviderDigitalOcean:
		if cfg.DigitalOcean == nil {
			return nil, fmt.Errorf("digitalocean config is nil")
		}
		return NewDOClient(cfg.DigitalOcean.Token, cfg.DigitalOcean.Region), nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
