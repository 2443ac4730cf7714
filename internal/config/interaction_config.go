// File: internal/config/interaction_config.go
// InteractionConfig tunes the input simulator. Key pauses are drawn from a
// normal distribution and clamped to a floor, mirroring how a person types.
package config

import (
	"fmt"
	"time"
)

// InteractionConfig holds the tunables for human-like typing and clicking.
type InteractionConfig struct {
	HumanLike        bool    `mapstructure:"human_like" yaml:"human_like"`
	KeyPauseMeanMs   float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDevMs float64 `mapstructure:"key_pause_std_dev_ms" yaml:"key_pause_std_dev_ms"`
	KeyPauseMinMs    float64 `mapstructure:"key_pause_min_ms" yaml:"key_pause_min_ms"`
	ClickWaitMs      int     `mapstructure:"click_wait_ms" yaml:"click_wait_ms"`
}

// ClickWait is the default post-click delay.
func (i InteractionConfig) ClickWait() time.Duration {
	return time.Duration(i.ClickWaitMs) * time.Millisecond
}

// Validate checks the Interaction configuration.
func (i *InteractionConfig) Validate() error {
	if i.KeyPauseMeanMs < 0 || i.KeyPauseStdDevMs < 0 || i.KeyPauseMinMs < 0 {
		return fmt.Errorf("key pause parameters must not be negative")
	}
	if i.KeyPauseMinMs > i.KeyPauseMeanMs {
		return fmt.Errorf("key_pause_min_ms (%.1f) cannot exceed key_pause_mean_ms (%.1f)", i.KeyPauseMinMs, i.KeyPauseMeanMs)
	}
	if i.ClickWaitMs < 0 {
		return fmt.Errorf("click_wait_ms must not be negative")
	}
	return nil
}
