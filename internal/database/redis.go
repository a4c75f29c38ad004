package database

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"rolectl/internal/model"
	"rolectl/internal/settings"
)

const (
	redisKeyPrefix      = "rolectl"
	redisChangesChannel = redisKeyPrefix + ":role-changes"
	redisMaxRetries     = 4
)

// RedisDatabase implements settings.Database on Redis. Roles are JSON
// values indexed per server; every write is announced on a pub/sub channel
// so other processes see it.
type RedisDatabase struct {
	client *redis.Client
	clock  settings.Clock
	ids    settings.IDGenerator
	hub    *changeHub

	pubsub *redis.PubSub
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisDatabase connects to Redis and starts the change feed.
func NewRedisDatabase(ctx context.Context, opts *redis.Options, clock settings.Clock, ids settings.IDGenerator) (*RedisDatabase, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisDatabaseFromClient(ctx, client, clock, ids)
}

// NewRedisDatabaseFromClient wraps an existing client. The database owns the
// client and closes it on Close.
func NewRedisDatabaseFromClient(ctx context.Context, client *redis.Client, clock settings.Clock, ids settings.IDGenerator) (*RedisDatabase, error) {
	if clock == nil {
		clock = settings.RealClock{}
	}
	if ids == nil {
		ids = settings.UUIDGenerator{}
	}
	s := &RedisDatabase{
		client: client,
		clock:  clock,
		ids:    ids,
		hub:    newChangeHub(),
	}

	s.pubsub = client.Subscribe(ctx, redisChangesChannel)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("subscribing to role changes: %w", err)
	}
	s.wg.Add(1)
	go s.watchChanges(s.pubsub.Channel())

	return s, nil
}

func (s *RedisDatabase) roleKey(serverID, roleID string) string {
	return redisKeyPrefix + ":role:" + serverID + ":" + roleID
}

func (s *RedisDatabase) indexKey(serverID string) string {
	return redisKeyPrefix + ":roles:" + serverID
}

func (s *RedisDatabase) watchChanges(ch <-chan *redis.Message) {
	defer s.wg.Done()
	for msg := range ch {
		serverID, roleID, found := strings.Cut(msg.Payload, "/")
		if !found {
			continue
		}
		if err := s.refreshRole(context.Background(), serverID, roleID); err != nil {
			s.hub.logger().Error("failed to refresh changed role", "server", serverID, "role", roleID, "error", err)
		}
	}
}

// announce tells other processes about a write. Local subscribers were
// already told through the hub, so a failure is only logged.
func (s *RedisDatabase) announce(ctx context.Context, serverID, roleID string) {
	if err := s.client.Publish(ctx, redisChangesChannel, serverID+"/"+roleID).Err(); err != nil {
		s.hub.logger().Warn("failed to announce role change", "server", serverID, "role", roleID, "error", err)
	}
}

// SetLogger sets where change feed failures are reported.
func (s *RedisDatabase) SetLogger(l settings.Logger) { s.hub.setLogger(l) }

func decodeRole(data []byte) (*model.Role, error) {
	var r model.Role
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding role: %w", err)
	}
	return &r, nil
}

// sortRoles orders roles the way the SQL stores list them.
func sortRoles(roles []*model.Role) {
	slices.SortFunc(roles, func(a, b *model.Role) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// Role operations

func (s *RedisDatabase) Get(ctx context.Context, serverID, roleID string) (*model.Role, error) {
	data, err := s.client.Get(ctx, s.roleKey(serverID, roleID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding role: %w", err)
	}
	return decodeRole(data)
}

func (s *RedisDatabase) ListRoles(ctx context.Context, serverID string) ([]*model.Role, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(serverID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.roleKey(serverID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	roles := make([]*model.Role, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // removed since SMEMBERS
		}
		r, err := decodeRole([]byte(str))
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	sortRoles(roles)
	return roles, nil
}

func (s *RedisDatabase) CreateRole(ctx context.Context, role *model.Role) (*model.Role, error) {
	r := role.Clone()
	if r == nil || r.ServerID == "" || r.Name == "" {
		return nil, fmt.Errorf("creating role: server id and name are required")
	}
	if r.ID == "" {
		r.ID = s.ids.New()
	}
	if r.HexColor == "" {
		r.HexColor = settings.DefaultHexColor
	}
	now := s.clock.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	if r.Order == 0 {
		n, err := s.client.SCard(ctx, s.indexKey(r.ServerID)).Result()
		if err != nil {
			return nil, fmt.Errorf("finding role position: %w", err)
		}
		r.Order = int(n) + 1
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding role: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.roleKey(r.ServerID, r.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("inserting role: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("inserting role: role %s already exists", r.ID)
	}
	if err := s.client.SAdd(ctx, s.indexKey(r.ServerID), r.ID).Err(); err != nil {
		return nil, fmt.Errorf("indexing role: %w", err)
	}

	s.hub.publish(r.ServerID, r.ID, r)
	s.announce(ctx, r.ServerID, r.ID)
	return r.Clone(), nil
}

// Update applies patch with an optimistic WATCH transaction, retrying when
// another client changes the role concurrently.
func (s *RedisDatabase) Update(ctx context.Context, serverID, roleID string, patch settings.Patch) error {
	key := s.roleKey(serverID, roleID)

	for i := 0; i < redisMaxRetries; i++ {
		var updated *model.Role

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			current, err := decodeRole(data)
			if err != nil {
				return err
			}

			next, err := settings.ApplyPatch(current, patch)
			if err != nil {
				return &settings.ServiceError{Message: err.Error(), Err: err}
			}
			next.UpdatedAt = s.clock.Now().UTC()

			encoded, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encoding role: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errRoleNotFound
			}
			var svcErr *settings.ServiceError
			if errors.As(err, &svcErr) {
				return err
			}
			return fmt.Errorf("updating role: %w", err)
		}

		s.hub.publish(serverID, roleID, updated)
		s.announce(ctx, serverID, roleID)
		return nil
	}

	return fmt.Errorf("updating role: too many concurrent writers")
}

func (s *RedisDatabase) Delete(ctx context.Context, serverID, roleID string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.roleKey(serverID, roleID))
		pipe.SRem(ctx, s.indexKey(serverID), roleID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if del.Val() == 0 {
		return errRoleNotFound
	}

	s.hub.publish(serverID, roleID, nil)
	s.announce(ctx, serverID, roleID)
	return nil
}

// Change notification

func (s *RedisDatabase) Subscribe(serverID, roleID string, fn func(*model.Role)) func() {
	return s.hub.subscribe(serverID, roleID, fn)
}

func (s *RedisDatabase) Refresh(ctx context.Context) error {
	for _, key := range s.hub.watched() {
		if err := s.refreshRole(ctx, key.serverID, key.roleID); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisDatabase) refreshRole(ctx context.Context, serverID, roleID string) error {
	r, err := s.Get(ctx, serverID, roleID)
	if err != nil {
		return fmt.Errorf("refreshing role %s: %w", roleID, err)
	}
	s.hub.publish(serverID, roleID, r)
	return nil
}

// Settings operation tracking

const (
	redisOperationsKey   = redisKeyPrefix + ":operations"
	redisOperationSeqKey = redisKeyPrefix + ":operations:seq"
)

func operationKey(id int64) string {
	return redisKeyPrefix + ":operation:" + strconv.FormatInt(id, 10)
}

func (s *RedisDatabase) CreateOperation(operation string, parameters string) (*model.SettingsOperation, error) {
	ctx := context.Background()
	id, err := s.client.Incr(ctx, redisOperationSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("creating settings operation: %w", err)
	}
	op := &model.SettingsOperation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now().UTC(),
		Status:     "running",
	}
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encoding settings operation: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, operationKey(id), data, 0)
		pipe.LPush(ctx, redisOperationsKey, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating settings operation: %w", err)
	}
	return op, nil
}

func (s *RedisDatabase) FinishOperation(id int64, status string) error {
	ctx := context.Background()
	data, err := s.client.Get(ctx, operationKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("finishing settings operation: %w", err)
	}
	var op model.SettingsOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("decoding settings operation: %w", err)
	}
	finished := s.clock.Now().UTC()
	op.FinishedAt = &finished
	op.Status = status

	encoded, err := json.Marshal(&op)
	if err != nil {
		return fmt.Errorf("encoding settings operation: %w", err)
	}
	if err := s.client.Set(ctx, operationKey(id), encoded, 0).Err(); err != nil {
		return fmt.Errorf("finishing settings operation: %w", err)
	}
	return nil
}

func (s *RedisDatabase) ListOperations(limit int) ([]*model.SettingsOperation, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx := context.Background()
	ids, err := s.client.LRange(ctx, redisOperationsKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing settings operations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("listing settings operations: bad id %q", id)
		}
		keys[i] = operationKey(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("listing settings operations: %w", err)
	}

	ops := make([]*model.SettingsOperation, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var op model.SettingsOperation
		if err := json.Unmarshal([]byte(str), &op); err != nil {
			return nil, fmt.Errorf("decoding settings operation: %w", err)
		}
		ops = append(ops, &op)
	}
	return ops, nil
}

// Maintenance

// CheckMigrations always succeeds: the Redis layout has no schema version.
func (s *RedisDatabase) CheckMigrations() error {
	return nil
}

// Close stops the change feed and closes the client.
func (s *RedisDatabase) Close() error {
	var firstErr error
	s.once.Do(func() {
		if err := s.pubsub.Close(); err != nil {
			firstErr = err
		}
		s.wg.Wait()
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

var _ settings.Database = (*RedisDatabase)(nil)
