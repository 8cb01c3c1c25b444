package app

import (
	"context"

	"github.com/rs/zerolog/log"
)

// IdentityResult is what the resolver posts to a session's inbox.
type IdentityResult struct {
	UserID int64
	Err    error
}

// Resolver reconciles a display name with a persisted user record,
// creating the user when it does not exist yet.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve runs asynchronously and posts the result to inbox. If the session
// is gone by then (ctx canceled) the result is discarded; a disconnect never
// cancels the lookup itself.
func (r *Resolver) Resolve(ctx context.Context, name string, inbox chan<- IdentityResult) {
	go func() {
		res := r.lookup(name)
		select {
		case inbox <- res:
		case <-ctx.Done():
		}
	}()
}

func (r *Resolver) lookup(name string) IdentityResult {
	ctx := context.Background()
	u, err := r.store.FindUserByName(ctx, name)
	if err != nil {
		log.Warn().Str("module", "app.identity").Str("name", name).Err(err).Msg("user lookup failed")
		return IdentityResult{Err: err}
	}
	if u != nil {
		log.Info().Str("module", "app.identity").Str("name", name).Int64("user", u.ID).Msg("user found")
		return IdentityResult{UserID: u.ID}
	}
	id, err := r.store.CreateUser(ctx, name)
	if err != nil {
		log.Warn().Str("module", "app.identity").Str("name", name).Err(err).Msg("user create failed")
		return IdentityResult{Err: err}
	}
	log.Info().Str("module", "app.identity").Str("name", name).Int64("user", id).Msg("user created")
	return IdentityResult{UserID: id}
}
