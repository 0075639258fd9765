package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"visitorid/internal/identity/models"
	"visitorid/pkg/platform/sentinel"
)

const (
	identitySeqKey       = "identity:seq"
	identityKeyPrefix    = "identity:id:"
	primaryIndexPrefix   = "identity:fp:"
	weakIndexPrefix      = "identity:weak:"
	fieldPrimary         = "fingerprint_id"
	fieldWeak            = "weak_fingerprint_id"
	fieldScorerKey       = "scorer_key"
	fieldCreatedAt       = "created_at"
	fieldDeletedAt       = "deleted_at"
	redisTimestampLayout = time.RFC3339Nano
)

// softDeleteScript sets deleted_at only on existing, live identities so a stray
// id never materializes an empty hash.
var softDeleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HSETNX', KEYS[1], 'deleted_at', ARGV[1])
end
return 0
`)

// RedisStore keeps identities as hashes with set indexes per fingerprint.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func identityKey(id int64) string {
	return identityKeyPrefix + strconv.FormatInt(id, 10)
}

func (s *RedisStore) Create(ctx context.Context, primaryID, weakID, scorerKey string, now time.Time) (int64, error) {
	identity, err := models.NewIdentity(primaryID, weakID, scorerKey, now)
	if err != nil {
		return 0, err
	}
	id, err := s.client.Incr(ctx, identitySeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate identity id: %w", err)
	}
	member := strconv.FormatInt(id, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, identityKey(id),
			fieldPrimary, identity.PrimaryID,
			fieldWeak, identity.WeakID,
			fieldScorerKey, identity.ScorerKey,
			fieldCreatedAt, identity.CreatedAt.UTC().Format(redisTimestampLayout),
		)
		pipe.SAdd(ctx, primaryIndexPrefix+identity.PrimaryID, member)
		pipe.SAdd(ctx, weakIndexPrefix+identity.WeakID, member)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

func (s *RedisStore) FindByID(ctx context.Context, id int64) (*models.Identity, error) {
	fields, err := s.client.HGetAll(ctx, identityKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("identity %d: %w", id, ErrNotFound)
	}
	return decodeIdentity(id, fields)
}

func (s *RedisStore) FindExact(ctx context.Context, primaryID string) (models.ExactMatch, error) {
	found, err := s.liveMembers(ctx, primaryIndexPrefix+primaryID)
	if err != nil {
		return models.ExactMatch{}, fmt.Errorf("find identity by fingerprint: %w", err)
	}
	return models.ExactMatchOf(found), nil
}

func (s *RedisStore) FindWeak(ctx context.Context, weakID string) ([]*models.Identity, error) {
	found, err := s.liveMembers(ctx, weakIndexPrefix+weakID)
	if err != nil {
		return nil, fmt.Errorf("find identities by weak fingerprint: %w", err)
	}
	return found, nil
}

func (s *RedisStore) SoftDelete(ctx context.Context, now time.Time, ids ...int64) (int, error) {
	stamp := now.UTC().Format(redisTimestampLayout)
	deleted := 0
	for _, id := range ids {
		applied, err := softDeleteScript.Run(ctx, s.client, []string{identityKey(id)}, stamp).Int()
		if err != nil {
			return deleted, fmt.Errorf("soft delete identity %d: %w", id, err)
		}
		deleted += applied
	}
	return deleted, nil
}

// liveMembers loads every identity referenced by an index set in one pipeline
// and drops soft-deleted ones.
func (s *RedisStore) liveMembers(ctx context.Context, indexKey string) ([]*models.Identity, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %s member %q: %w", indexKey, m, sentinel.ErrInvalidState)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, identityKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Identity, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		identity, err := decodeIdentity(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if identity.IsDeleted() {
			continue
		}
		out = append(out, identity)
	}
	return out, nil
}

func decodeIdentity(id int64, fields map[string]string) (*models.Identity, error) {
	createdAt, err := time.Parse(redisTimestampLayout, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("identity %d created_at: %w", id, sentinel.ErrInvalidState)
	}
	identity := &models.Identity{
		ID:        id,
		PrimaryID: fields[fieldPrimary],
		WeakID:    fields[fieldWeak],
		ScorerKey: fields[fieldScorerKey],
		CreatedAt: createdAt,
	}
	if raw, ok := fields[fieldDeletedAt]; ok && raw != "" {
		deletedAt, err := time.Parse(redisTimestampLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("identity %d deleted_at: %w", id, sentinel.ErrInvalidState)
		}
		identity.DeletedAt = &deletedAt
	}
	return identity, nil
}
