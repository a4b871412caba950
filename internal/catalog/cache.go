// Package catalog provides the time-bounded cache of the remote voice
// catalog and the fixed supported-language table.
package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/retry"
)

// Lister is the slice of the TTS client the cache needs.
type Lister interface {
	ListVoices(ctx context.Context, languageFilter string) ([]core.Voice, int, error)
}

// Refresher brings an expired credential back to life before a catalog
// fetch. May be nil.
type Refresher interface {
	EnsureFresh(ctx context.Context) error
}

// Cache holds one fetched copy of the voice catalog. A cached sequence older
// than the TTL is never served without a refresh attempt; a filter never
// triggers a fetch on its own while the cache is fresh.
type Cache struct {
	mu        sync.Mutex
	voices    []core.Voice
	fetchedAt time.Time

	ttl       time.Duration
	lister    Lister
	refresher Refresher
	executor  *retry.Executor
	policy    retry.Policy
	log       *logger.Logger
	now       func() time.Time
}

// New creates an empty cache; the first List triggers a fetch.
func New(
	lister Lister,
	refresher Refresher,
	executor *retry.Executor,
	policy retry.Policy,
	ttl time.Duration,
	log *logger.Logger,
) *Cache {
	return &Cache{
		ttl:       ttl,
		lister:    lister,
		refresher: refresher,
		executor:  executor,
		policy:    policy,
		log:       log,
		now:       time.Now,
	}
}

// List serves the catalog, optionally filtered in memory by language code.
// A stale cache is refreshed through the executor first; a failed refresh is
// logged and yields an empty sequence, never an error.
func (c *Cache) List(ctx context.Context, languageFilter string) []core.Voice {
	c.mu.Lock()
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
	cached := c.voices
	c.mu.Unlock()

	if !fresh {
		if c.refresher != nil {
			refreshErr := c.refresher.EnsureFresh(ctx)
			if refreshErr != nil {
				c.log.Error("Credential refresh before catalog fetch failed: %v", refreshErr)

				return nil
			}
		}

		fetched, err := retry.Do(ctx, c.executor, c.policy, retry.ClassifyStatus,
			func(ctx context.Context) ([]core.Voice, int, error) {
				return c.lister.ListVoices(ctx, "")
			})
		if err != nil {
			c.log.Error("Voice catalog fetch failed: %v", err)

			return nil
		}

		c.mu.Lock()
		c.voices = fetched
		c.fetchedAt = c.now()
		cached = fetched
		c.mu.Unlock()

		c.log.Info("Voice catalog refreshed: %d voices", len(fetched))
	}

	return filterByLanguage(cached, languageFilter)
}

// filterByLanguage keeps voices whose language tags match the code. An empty
// filter keeps everything.
func filterByLanguage(voices []core.Voice, code string) []core.Voice {
	if code == "" {
		return voices
	}

	code = strings.ToLower(code)

	filtered := make([]core.Voice, 0, len(voices))

	for _, voice := range voices {
		for _, tag := range voice.Languages {
			if strings.HasPrefix(strings.ToLower(tag), code) {
				filtered = append(filtered, voice)

				break
			}
		}
	}

	return filtered
}
