package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCacheStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(10, time.Minute)

	v, err := cs.Get(ctx, ResultCacheName, "k1")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(cs.Set(ctx, ResultCacheName, "k1", "cached-decision"))
	v, err = cs.Get(ctx, ResultCacheName, "k1")
	assert.NoError(err)
	assert.Equal("cached-decision", v)

	assert.NoError(cs.Purge(ctx, ResultCacheName, "k1"))
	v, err = cs.Get(ctx, ResultCacheName, "k1")
	assert.NoError(err)
	assert.Equal("", v)
}

func TestDecisionKeyDeterministic(t *testing.T) {
	assert := assert.New(t)

	packs := map[string]string{"sw": "pack-sw-1.2", "sh": "pack-sh-1.0"}
	k1 := DecisionKey("some text", "pol-1", "lex-1", "model-1", "supervised", packs, "", "", "")
	k2 := DecisionKey("some text", "pol-1", "lex-1", "model-1", "supervised", packs, "", "", "")
	assert.Equal(k1, k2)
	assert.Len(k1, 64)

	// every version component must change the key
	assert.NotEqual(k1, DecisionKey("some text", "pol-2", "lex-1", "model-1", "supervised", packs, "", "", ""))
	assert.NotEqual(k1, DecisionKey("some text", "pol-1", "lex-2", "model-1", "supervised", packs, "", "", ""))
	assert.NotEqual(k1, DecisionKey("some text", "pol-1", "lex-1", "model-1", "shadow", packs, "", "", ""))
	assert.NotEqual(k1, DecisionKey("some text", "pol-1", "lex-1", "model-1", "supervised", packs, "", "", "forward"))
}
