// Package directory serves the known-users list behind a TTL cache, so
// the new-chat picker does not hit the remote on every open.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"go.uber.org/zap"

	"molva/internal/models"
)

// Lister is the single remote call the directory depends on.
type Lister interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

type Directory struct {
	remote Lister
	log    *zap.Logger
	ttl    time.Duration
	cache  geche.Geche[string, models.User]

	mu        sync.Mutex
	ids       []string
	fetchedAt time.Time
}

// New builds a directory whose entries expire after ttl. The context
// bounds the cache's cleanup goroutine.
func New(ctx context.Context, remote Lister, ttl time.Duration, log *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{
		remote: remote,
		log:    log,
		ttl:    ttl,
		cache:  geche.NewMapTTLCache[string, models.User](ctx, ttl, ttl),
	}
}

// List returns all known users, refreshing from the remote when the
// cached listing has expired.
func (d *Directory) List(ctx context.Context) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.fetchedAt) < d.ttl && len(d.ids) > 0 {
		users := make([]models.User, 0, len(d.ids))
		stale := false
		for _, id := range d.ids {
			u, err := d.cache.Get(id)
			if err != nil {
				stale = true
				break
			}
			users = append(users, u)
		}
		if !stale {
			return users, nil
		}
	}

	return d.refreshLocked(ctx)
}

// Lookup returns one user by id, refreshing the listing on a miss.
func (d *Directory) Lookup(ctx context.Context, id string) (models.User, error) {
	if u, err := d.cache.Get(id); err == nil {
		return u, nil
	}

	d.mu.Lock()
	_, err := d.refreshLocked(ctx)
	d.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}

	u, err := d.cache.Get(id)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (d *Directory) refreshLocked(ctx context.Context) ([]models.User, error) {
	users, err := d.remote.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		d.cache.Set(u.ID, u)
		ids = append(ids, u.ID)
	}
	d.ids = ids
	d.fetchedAt = time.Now()
	d.log.Debug("users directory refreshed", zap.Int("count", len(users)))
	return users, nil
}
