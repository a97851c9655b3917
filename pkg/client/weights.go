package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/detectionlab/data/pkg/score"
)

// WeightStore reads and replaces the single weight set that drives every
// Shannon Score. Obtain it with Client.Weights.
type WeightStore struct {
	c     *Client
	key   string
	cache *weightCache
}

func newWeightStore(c *Client, key string, ttl time.Duration) *WeightStore {
	ws := &WeightStore{c: c, key: key}
	if ttl > 0 {
		ws.cache = &weightCache{ttl: ttl}
	}
	return ws
}

// Key returns the backend key of the weight-set record.
func (ws *WeightStore) Key() string { return ws.key }

func (ws *WeightStore) path() string {
	return "/shannon-score-weights/" + url.PathEscape(ws.key) + "/"
}

// wire is the record as the backend stores it.
type wire struct {
	ID *int64 `json:"id,omitempty"`
	score.Weights
}

// Get returns the current weight set.
func (ws *WeightStore) Get(ctx context.Context) (score.Weights, error) {
	if ws.cache != nil {
		if w, ok := ws.cache.get(); ok {
			return w, nil
		}
	}

	var rec wire
	if err := ws.c.doJSON(ctx, "GetWeights", http.MethodGet, ws.path(), nil, &rec); err != nil {
		return score.Weights{}, err
	}
	if ws.cache != nil {
		ws.cache.set(rec.Weights)
	}
	return rec.Weights, nil
}

// Replace validates w locally and stores it. An invalid set is rejected with
// *score.WeightSumMismatchError before any request is made.
func (ws *WeightStore) Replace(ctx context.Context, w score.Weights) (score.Weights, error) {
	if err := w.Validate(); err != nil {
		return score.Weights{}, err
	}

	var rec wire
	if err := ws.c.doJSON(ctx, "ReplaceWeights", http.MethodPut, ws.path(), w, &rec); err != nil {
		if ws.cache != nil {
			ws.cache.clear()
		}
		return score.Weights{}, err
	}
	stored := rec.Weights
	if stored == (score.Weights{}) {
		stored = w
	}
	if ws.cache != nil {
		ws.cache.set(stored)
	}
	return stored, nil
}

// Submit validates the raw form and replaces the stored set. Local failures
// are *score.InvalidWeightError or *score.WeightSumMismatchError.
func (ws *WeightStore) Submit(ctx context.Context, form score.WeightForm) (score.Weights, error) {
	w, err := score.Validate(form)
	if err != nil {
		return score.Weights{}, err
	}
	return ws.Replace(ctx, w)
}

// --- single-entry TTL cache ---

type weightCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	value     score.Weights
	expiresAt time.Time
}

func (wc *weightCache) get() (score.Weights, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	if wc.expiresAt.IsZero() || time.Now().After(wc.expiresAt) {
		return score.Weights{}, false
	}
	return wc.value, true
}

func (wc *weightCache) set(w score.Weights) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.value = w
	wc.expiresAt = time.Now().Add(wc.ttl)
}

func (wc *weightCache) clear() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.expiresAt = time.Time{}
}
