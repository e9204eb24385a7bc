//go:build integration

package integration

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"chatproxy/internal/keygen"
	"chatproxy/internal/store"
)

// runUserStoreSuite exercises one UserStore backend end to end.
func runUserStoreSuite(t *testing.T, users store.UserStore) {
	t.Helper()
	ctx := testCtx
	keys, err := keygen.New("sha256", "")
	if err != nil {
		t.Fatalf("keygen.New: %v", err)
	}

	t.Run("lifecycle", func(t *testing.T) {
		u, err := users.Create(ctx, &store.User{TokensUsed: 0, TokensAuthorized: 500})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if u.Identity == 0 {
			t.Fatal("Create did not assign an identity")
		}

		key := keys.Generate(u.Identity)
		if err := users.SetKey(ctx, u.Identity, key); err != nil {
			t.Fatalf("SetKey: %v", err)
		}

		found, err := users.FindByKey(ctx, key)
		if err != nil {
			t.Fatalf("FindByKey: %v", err)
		}
		if found.Identity != u.Identity || found.TokensAuthorized != 500 {
			t.Errorf("found = %+v", found)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := users.FindByKey(ctx, "no-such-key")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("key set only once", func(t *testing.T) {
		u, err := users.Create(ctx, &store.User{TokensAuthorized: 500})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		first := keys.Generate(u.Identity)
		if err := users.SetKey(ctx, u.Identity, first); err != nil {
			t.Fatalf("first SetKey: %v", err)
		}

		second := keys.Generate(u.Identity)
		if err := users.SetKey(ctx, u.Identity, second); err != nil {
			t.Fatalf("second SetKey: %v", err)
		}
		if _, err := users.FindByKey(ctx, first); err != nil {
			t.Errorf("original key lost after second SetKey: %v", err)
		}
		if _, err := users.FindByKey(ctx, second); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second key must not resolve, got %v", err)
		}
	})

	t.Run("usage accumulation", func(t *testing.T) {
		u, err := users.Create(ctx, &store.User{TokensAuthorized: 500})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		key := keys.Generate(u.Identity)
		if err := users.SetKey(ctx, u.Identity, key); err != nil {
			t.Fatalf("SetKey: %v", err)
		}

		updated, err := users.AddUsage(ctx, key, 42)
		if err != nil {
			t.Fatalf("AddUsage: %v", err)
		}
		if updated.TokensUsed != 42 {
			t.Errorf("tokens_used = %d, want 42", updated.TokensUsed)
		}

		updated, err = users.AddUsage(ctx, key, 8)
		if err != nil {
			t.Fatalf("second AddUsage: %v", err)
		}
		if updated.TokensUsed != 50 {
			t.Errorf("tokens_used = %d, want 50", updated.TokensUsed)
		}
	})

	t.Run("concurrent increments never lose updates", func(t *testing.T) {
		u, err := users.Create(ctx, &store.User{TokensAuthorized: 1_000_000})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		key := keys.Generate(u.Identity)
		if err := users.SetKey(ctx, u.Identity, key); err != nil {
			t.Fatalf("SetKey: %v", err)
		}

		const workers = 8
		const perWorker = 25
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					if _, err := users.AddUsage(ctx, key, 3); err != nil {
						t.Errorf("AddUsage: %v", err)
					}
				}
			}()
		}
		wg.Wait()

		final, err := users.FindByKey(ctx, key)
		if err != nil {
			t.Fatalf("FindByKey: %v", err)
		}
		want := int64(workers * perWorker * 3)
		if final.TokensUsed != want {
			t.Errorf("tokens_used = %d, want %d", final.TokensUsed, want)
		}
	})

	t.Run("add usage for unknown key", func(t *testing.T) {
		_, err := users.AddUsage(ctx, fmt.Sprintf("missing-%d", 1), 10)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPostgreSQLUserStore(t *testing.T) {
	users, err := store.NewPostgreSQLStore(testCtx, pgPool)
	if err != nil {
		t.Fatalf("NewPostgreSQLStore: %v", err)
	}
	defer users.Close()

	runUserStoreSuite(t, users)
}

func TestMongoDBUserStore(t *testing.T) {
	users, err := store.NewMongoDBStore(testCtx, mongoDatabase)
	if err != nil {
		t.Fatalf("NewMongoDBStore: %v", err)
	}
	defer users.Close()

	runUserStoreSuite(t, users)
}
