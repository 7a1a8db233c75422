package lightning

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// failureTTL bounds how long a failed lookup hides an alias.
const failureTTL = 5 * time.Minute

// AliasResolver caches node aliases by pubkey. A node without an alias is
// cached as empty for the full TTL; a failed lookup only for failureTTL.
type AliasResolver struct {
	client     Client
	cache      *cache.Cache
	failureTTL time.Duration
	logger     zerolog.Logger
}

// NewAliasResolver builds a resolver whose entries live for ttl.
func NewAliasResolver(client Client, ttl time.Duration, logger zerolog.Logger) *AliasResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AliasResolver{
		client:     client,
		cache:      cache.New(ttl, 2*ttl),
		failureTTL: min(ttl, failureTTL),
		logger:     logger.With().Str("component", "alias_cache").Logger(),
	}
}

// Alias returns the cached alias of pubKey, or "" if it has none.
func (r *AliasResolver) Alias(ctx context.Context, pubKey string) string {
	if pubKey == "" {
		return ""
	}
	if v, found := r.cache.Get(pubKey); found {
		return v.(string)
	}
	alias, err := r.client.NodeAlias(ctx, pubKey)
	if err != nil {
		r.logger.Debug().Err(err).Str("pubkey", pubKey).Msg("alias lookup failed")
		r.cache.Set(pubKey, "", r.failureTTL)
		return ""
	}
	r.cache.SetDefault(pubKey, alias)
	return alias
}

// Display returns the alias or an abbreviated pubkey.
func (r *AliasResolver) Display(ctx context.Context, pubKey string) string {
	if alias := r.Alias(ctx, pubKey); alias != "" {
		return alias
	}
	return ShortKey(pubKey)
}
