package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/session"
)

const configsPrefix = "configs/"

// Config is the per-session behavior toggles a user may change at
// runtime. Unknown identities fall back to DefaultConfig.
type Config struct {
	AutoViewStatus bool   `json:"auto_view_status"`
	AutoLikeStatus bool   `json:"auto_like_status"`
	AutoRecording  bool   `json:"auto_recording"`
	LikeEmoji      string `json:"like_emoji"`
	Prefix         string `json:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		AutoViewStatus: true,
		AutoLikeStatus: true,
		LikeEmoji:      "💙",
		Prefix:         ".",
	}
}

// Configs stores one Config blob per identity at "configs/<identity>".
type Configs struct {
	store Store
}

func NewConfigs(store Store) *Configs {
	return &Configs{store: store}
}

func configKey(key session.IdentityKey) string {
	return configsPrefix + string(key)
}

// Load returns the stored config for key, or DefaultConfig when none
// has been saved yet.
func (c *Configs) Load(ctx context.Context, key session.IdentityKey) (Config, error) {
	data, err := c.store.Get(ctx, configKey(key))
	if errors.Is(err, ErrNotFound) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("sessionstore: decode config: %w", err)
	}
	return cfg, nil
}

func (c *Configs) Save(ctx context.Context, key session.IdentityKey, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, configKey(key), data)
}

func (c *Configs) Delete(ctx context.Context, key session.IdentityKey) error {
	return c.store.Delete(ctx, configKey(key))
}
