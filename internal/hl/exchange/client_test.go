package exchange

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"hl-pairs-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

func TestNextNonceTracksWallClock(t *testing.T) {
	c := &Client{}
	before := uint64(time.Now().UnixMilli())
	if nonce := c.nextNonce(); nonce < before {
		t.Fatalf("nonce %d behind wall clock %d", nonce, before)
	}
}

func TestNextNonceMonotonicAgainstStalledClock(t *testing.T) {
	c := &Client{}
	future := uint64(time.Now().UnixMilli()) + 3_600_000
	c.lastNonce.Store(future)
	for i := uint64(1); i <= 3; i++ {
		if got := c.nextNonce(); got != future+i {
			t.Fatalf("nonce %d, want %d", got, future+i)
		}
	}
}

func TestNextNonceConcurrentUnique(t *testing.T) {
	c := &Client{}
	base := uint64(time.Now().UnixMilli()) + 3_600_000
	c.lastNonce.Store(base)

	const workers = 64
	nonces := make([]uint64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range nonces {
		go func(idx int) {
			defer wg.Done()
			nonces[idx] = c.nextNonce()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]struct{}, workers)
	for _, nonce := range nonces {
		if _, dup := seen[nonce]; dup {
			t.Fatalf("duplicate nonce %d", nonce)
		}
		if nonce <= base || nonce > base+workers {
			t.Fatalf("nonce %d outside (%d, %d]", nonce, base, base+workers)
		}
		seen[nonce] = struct{}{}
	}
}

func TestInitNonceStoreSeedsAndPersists(t *testing.T) {
	signer, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	client, err := NewClient("https://api.hyperliquid.xyz", 2*time.Second, signer, "")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	client.SetLogger(zap.NewNop())

	ctx := context.Background()
	key := nonceStoreKey(client.baseURL, client.signer, client.vaultAddress)
	seed := uint64(time.Now().UnixMilli()) + 10_000
	if err := store.Set(ctx, key, strconv.FormatUint(seed, 10)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if err := client.InitNonceStore(ctx, store); err != nil {
		t.Fatalf("init nonce store: %v", err)
	}
	state, ok := client.NonceState()
	if !ok {
		t.Fatalf("expected nonce state after init")
	}
	if state.Key == "" || state.Last != seed || state.Persisted != seed {
		t.Fatalf("unexpected seeded state: %+v", state)
	}

	nonce := client.nextNonce()
	if nonce != seed+1 {
		t.Fatalf("nonce %d, want %d", nonce, seed+1)
	}
	if state, _ := client.NonceState(); state.Persisted != nonce {
		t.Fatalf("persisted %d did not advance to %d", state.Persisted, nonce)
	}

	raw, found, err := store.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("read back stored nonce: found=%v err=%v", found, err)
	}
	if stored, _ := strconv.ParseUint(raw, 10, 64); stored != nonce {
		t.Fatalf("stored nonce %d, want %d", stored, nonce)
	}
}
