package llm

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func TestExtractionCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newExtractionCache(clock, time.Minute)
	defer cache.close()

	key := cacheKey(testImage, testBanks)
	_, found := cache.get(key)
	assert.False(t, found)

	cache.set(key, "801457901704")
	id, found := cache.get(key)
	assert.True(t, found)
	assert.Equal(t, "801457901704", id)

	clock.Advance(2 * time.Minute)
	_, found = cache.get(key)
	assert.False(t, found)

	cache.purge()
	assert.Equal(t, 0, cache.size())
}

func TestCacheKeyIgnoresBankOrder(t *testing.T) {
	reversed := model.BankSpecs{testBanks[1], testBanks[0]}
	assert.Equal(t, cacheKey(testImage, testBanks), cacheKey(testImage, reversed))
	assert.NotEqual(t, cacheKey(testImage, testBanks), cacheKey([]byte("other"), testBanks))
}
