// Package user persists owner records in the property store under the
// credential keys the identity origin protocol expects.
package user

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tealdao/derivekit/core"
)

// Persisted keys. identityUsers holds every stored record keyed by
// owner public key; activePublicKey selects one of them; loginKeyPair
// exists only while a login handshake is in flight.
const (
	keyActivePublicKey = "activePublicKey"
	keyIdentityUsers   = "identityUsers"
	keyLoginKeyPair    = "loginKeyPair"
)

func New(properties core.PropertyStore) core.UserStore {
	cache, err := lru.New[string, *core.User](64)
	if err != nil {
		panic(err)
	}

	return &store{
		properties: properties,
		cache:      cache,
	}
}

type store struct {
	properties core.PropertyStore
	cache      *lru.Cache[string, *core.User]
}

func (s *store) All(ctx context.Context) (map[string]*core.User, error) {
	users := map[string]*core.User{}
	if err := s.properties.Get(ctx, keyIdentityUsers, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// Find returns a copy of the record. Callers mutate their copy freely
// and persist it with Put; handing out the cached pointer would let a
// background refresh race every other holder.
func (s *store) Find(ctx context.Context, ownerPublicKey string) (*core.User, error) {
	if u, ok := s.cache.Get(ownerPublicKey); ok {
		return u.Clone(), nil
	}

	users, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	u, ok := users[ownerPublicKey]
	if !ok {
		return nil, core.ErrUserNotFound
	}

	s.cache.Add(ownerPublicKey, u)
	return u.Clone(), nil
}

func (s *store) Put(ctx context.Context, ownerPublicKey string, user *core.User) error {
	users, err := s.All(ctx)
	if err != nil {
		return err
	}

	users[ownerPublicKey] = user
	if err := s.properties.Set(ctx, keyIdentityUsers, users); err != nil {
		return err
	}

	s.cache.Purge()
	return nil
}

func (s *store) Delete(ctx context.Context, ownerPublicKey string) error {
	users, err := s.All(ctx)
	if err != nil {
		return err
	}

	delete(users, ownerPublicKey)
	if err := s.properties.Set(ctx, keyIdentityUsers, users); err != nil {
		return err
	}

	s.cache.Purge()
	return nil
}

func (s *store) ActivePublicKey(ctx context.Context) (string, error) {
	var key string
	if err := s.properties.Get(ctx, keyActivePublicKey, &key); err != nil {
		return "", err
	}

	return key, nil
}

func (s *store) SetActivePublicKey(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return s.properties.Delete(ctx, keyActivePublicKey)
	}

	return s.properties.Set(ctx, keyActivePublicKey, publicKey)
}

func (s *store) StageLoginKeyPair(ctx context.Context, pair *core.KeyPair) error {
	return s.properties.Set(ctx, keyLoginKeyPair, pair)
}

func (s *store) StagedLoginKeyPair(ctx context.Context) (*core.KeyPair, error) {
	var pair core.KeyPair
	if err := s.properties.Get(ctx, keyLoginKeyPair, &pair); err != nil {
		return nil, err
	}

	if pair.PublicKey == "" {
		return nil, nil
	}

	return &pair, nil
}

func (s *store) ClearLoginKeyPair(ctx context.Context) error {
	return s.properties.Delete(ctx, keyLoginKeyPair)
}
