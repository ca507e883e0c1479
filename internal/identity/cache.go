// Package identity memoizes user and group identity resolution for the
// lifetime of a session.
package identity

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/remote"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
)

// Fetcher issues logical calls; explicit identity fetches go through the
// batch scheduler so they coalesce with everything else in flight.
type Fetcher interface {
	Enqueue(method string, params remote.Params) <-chan remote.Result
}

// Cache resolves sender identities at most once explicitly per session.
// Opportunistic fills from scanned responses are the primary population path;
// explicit fetches are the fallback. Later scans overwrite earlier entries,
// so a richer response refreshes a stale name or avatar mid-session.
type Cache struct {
	fetch Fetcher
	log   *logger.Logger

	// flight collapses concurrent misses on the same id into one fetch.
	flight singleflight.Group

	mu     sync.RWMutex
	users  map[int64]*model.Identity
	groups map[int64]*model.Identity
}

// NewCache creates an identity cache fetching misses through f.
func NewCache(f Fetcher, log *logger.Logger) *Cache {
	return &Cache{
		fetch:  f,
		log:    log.Named("identity"),
		users:  make(map[int64]*model.Identity),
		groups: make(map[int64]*model.Identity),
	}
}

// wireProfile is the user record shape embedded in responses.
type wireProfile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Photo     string `json:"photo_100"`
}

func (p wireProfile) identity() *model.Identity {
	return &model.Identity{
		ID:     p.ID,
		Kind:   model.IdentityUser,
		Name:   strings.TrimSpace(p.FirstName + " " + p.LastName),
		Avatar: p.Photo,
	}
}

// wireGroup is the group record shape embedded in responses.
type wireGroup struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo_100"`
}

func (g wireGroup) identity() *model.Identity {
	return &model.Identity{
		ID:     g.ID,
		Kind:   model.IdentityGroup,
		Name:   g.Name,
		Avatar: g.Photo,
	}
}

// Profile resolves a user identity, fetching it at most once on a miss.
func (c *Cache) Profile(ctx context.Context, id int64) (*model.Identity, error) {
	c.mu.RLock()
	ident, ok := c.users[id]
	c.mu.RUnlock()
	if ok {
		return ident, nil
	}

	v, err, _ := c.flight.Do("user:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		// A racing lookup or scan may have filled the entry while this
		// caller was joining the flight.
		c.mu.RLock()
		ident, ok := c.users[id]
		c.mu.RUnlock()
		if ok {
			return ident, nil
		}

		res, err := c.await(ctx, c.fetch.Enqueue("users.get", remote.Params{
			"user_ids": strconv.FormatInt(id, 10),
			"fields":   "photo_100",
		}))
		if err != nil {
			return nil, err
		}

		var profiles []wireProfile
		if err := json.Unmarshal(res, &profiles); err != nil {
			return nil, err
		}
		if len(profiles) == 0 {
			return nil, nil
		}
		ident = profiles[0].identity()
		c.storeUser(ident)
		return ident, nil
	})
	if err != nil {
		return nil, err
	}
	ident, _ = v.(*model.Identity)
	return ident, nil
}

// Group resolves a group identity, fetching it at most once on a miss.
func (c *Cache) Group(ctx context.Context, id int64) (*model.Identity, error) {
	c.mu.RLock()
	ident, ok := c.groups[id]
	c.mu.RUnlock()
	if ok {
		return ident, nil
	}

	v, err, _ := c.flight.Do("group:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		c.mu.RLock()
		ident, ok := c.groups[id]
		c.mu.RUnlock()
		if ok {
			return ident, nil
		}

		res, err := c.await(ctx, c.fetch.Enqueue("groups.getById", remote.Params{
			"group_id": strconv.FormatInt(id, 10),
			"fields":   "photo_100",
		}))
		if err != nil {
			return nil, err
		}

		var groups []wireGroup
		if err := json.Unmarshal(res, &groups); err != nil {
			return nil, err
		}
		if len(groups) == 0 {
			return nil, nil
		}
		ident = groups[0].identity()
		c.storeGroup(ident)
		return ident, nil
	})
	if err != nil {
		return nil, err
	}
	ident, _ = v.(*model.Identity)
	return ident, nil
}

// Lookup returns an already-resolved identity without fetching. Negative ids
// address groups by wire convention.
func (c *Cache) Lookup(id int64) *model.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id < 0 {
		return c.groups[-id]
	}
	return c.users[id]
}

// ScanPayload feeds the cache from any response payload embedding profile or
// group record arrays. Registered as a gateway response scanner.
func (c *Cache) ScanPayload(payload json.RawMessage) {
	var embedded struct {
		Profiles []wireProfile `json:"profiles"`
		Groups   []wireGroup   `json:"groups"`
	}
	if err := json.Unmarshal(payload, &embedded); err != nil {
		return
	}
	for _, p := range embedded.Profiles {
		c.storeUser(p.identity())
	}
	for _, g := range embedded.Groups {
		c.storeGroup(g.identity())
	}
}

func (c *Cache) await(ctx context.Context, ch <-chan remote.Result) (json.RawMessage, error) {
	select {
	case res := <-ch:
		return res.Payload, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) storeUser(ident *model.Identity) {
	if ident == nil || ident.ID == 0 {
		return
	}
	c.mu.Lock()
	c.users[ident.ID] = ident
	size := len(c.users) + len(c.groups)
	c.mu.Unlock()
	metrics.IdentityCacheSize.Set(float64(size))
	c.log.Debug("identity cached", zap.Int64("user_id", ident.ID))
}

func (c *Cache) storeGroup(ident *model.Identity) {
	if ident == nil || ident.ID == 0 {
		return
	}
	c.mu.Lock()
	c.groups[ident.ID] = ident
	size := len(c.users) + len(c.groups)
	c.mu.Unlock()
	metrics.IdentityCacheSize.Set(float64(size))
	c.log.Debug("identity cached", zap.Int64("group_id", ident.ID))
}
