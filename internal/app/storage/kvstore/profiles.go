package kvstore

import (
	"context"
	"sort"

	"github.com/pglocator/pglocator/internal/app/domain/account"
)

func (s *Store) GetProfile(ctx context.Context, id string) (account.Profile, error) {
	return getDoc[account.Profile](ctx, s.kv, prefixUser+id)
}

func (s *Store) SaveProfile(ctx context.Context, p account.Profile) error {
	return putDoc(ctx, s.kv, prefixUser+p.ID, p)
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	return del(ctx, s.kv, prefixUser+id)
}

// ListProfiles returns every profile ordered by creation time.
func (s *Store) ListProfiles(ctx context.Context) ([]account.Profile, error) {
	out, err := listDocs[account.Profile](ctx, s.kv, prefixUser)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, fn func(*account.Profile) error) (account.Profile, error) {
	return updateDoc(ctx, s.kv, prefixUser+id, true, fn)
}
