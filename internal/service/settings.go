package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Loafy-club/Booking/pkg/logger"
	pkgredis "github.com/Loafy-club/Booking/pkg/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SettingOutOfTicketDiscount is the app_config key holding the subscriber
// out-of-ticket discount percent
const SettingOutOfTicketDiscount = "subscriber_out_of_ticket_discount_percent"

// SettingsReader reads runtime settings from the configuration store
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
}

// SettingsCache is the optional shared cache in front of the settings store
type SettingsCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SettingsProvider supplies tunables that may change between calls
type SettingsProvider interface {
	DiscountPercent(ctx context.Context) int
}

// settingsProvider reads through an optional Redis cache; concurrent misses
// for the same key share one store read
type settingsProvider struct {
	store           SettingsReader
	cache           SettingsCache
	ttl             time.Duration
	defaultDiscount int
	group           singleflight.Group
}

// NewSettingsProvider creates a settings provider. cache may be nil.
func NewSettingsProvider(store SettingsReader, cache SettingsCache, ttl time.Duration, defaultDiscount int) SettingsProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &settingsProvider{
		store:           store,
		cache:           cache,
		ttl:             ttl,
		defaultDiscount: defaultDiscount,
	}
}

// DiscountPercent returns the configured out-of-ticket discount, falling back
// to the default when the setting is missing, invalid or unreadable
func (p *settingsProvider) DiscountPercent(ctx context.Context) int {
	value, err := p.get(ctx, SettingOutOfTicketDiscount)
	if err != nil {
		logger.Get().Warn("Falling back to default discount",
			zap.Int("default", p.defaultDiscount), zap.Error(err))
		return p.defaultDiscount
	}
	if value == "" {
		return p.defaultDiscount
	}

	percent, err := strconv.Atoi(value)
	if err != nil || percent < 0 || percent > 100 {
		logger.Get().Warn(fmt.Sprintf("Invalid %s value %q, using default %d", SettingOutOfTicketDiscount, value, p.defaultDiscount))
		return p.defaultDiscount
	}
	return percent
}

func (p *settingsProvider) get(ctx context.Context, key string) (string, error) {
	cacheKey := "settings:" + key
	if p.cache != nil {
		var cached string
		err := p.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, pkgredis.ErrCacheMiss) {
			logger.Get().Warn("Settings cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		value, ok, err := p.store.GetSetting(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if !ok {
			value = ""
		}
		if p.cache != nil {
			if err := p.cache.SetJSON(ctx, cacheKey, value, p.ttl); err != nil {
				logger.Get().Warn("Settings cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
