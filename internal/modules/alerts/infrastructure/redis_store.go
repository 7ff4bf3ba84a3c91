package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reliefWs/internal/modules/alerts/domain"
)

const (
	notificationKeyPrefix = "alerts:notification:"
	inboxKeyPrefix        = "alerts:inbox:"
	unreadKeyPrefix       = "alerts:unread:"
	readAtKeyPrefix       = "alerts:readat:"
	publicFeedKey         = "alerts:public"

	publicItemTTL = 7 * 24 * time.Hour
)

// saveNotificationScript inserts the record and indexes it only when the id is new.
var saveNotificationScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
	redis.call('SADD', KEYS[3], ARGV[3])
	return 1
end
return 0
`)

var appendPublicScript = redis.NewScript(`
if redis.call('SET', KEYS[2], ARGV[1], 'NX', 'EX', ARGV[4]) then
	redis.call('LPUSH', KEYS[1], ARGV[2])
	redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[3]) - 1)
	return 1
end
return 0
`)

// RedisNotificationStore keeps notifications in Redis:
// one JSON string per record, a sorted inbox per recipient, an unread set and a read-at hash.
type RedisNotificationStore struct {
	client *redis.Client
}

func NewRedisNotificationStore(client *redis.Client) *RedisNotificationStore {
	return &RedisNotificationStore{client: client}
}

func (s *RedisNotificationStore) Save(ctx context.Context, n domain.Notification) (bool, error) {
	n.Read = false
	n.ReadAt = nil
	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}
	keys := []string{notificationKeyPrefix + n.ID, inboxKeyPrefix + n.Recipient, unreadKeyPrefix + n.Recipient}
	created, err := saveNotificationScript.Run(ctx, s.client, keys, payload, n.CreatedAt.UnixMilli(), n.ID).Int()
	if err != nil {
		return false, storeFailure("save notification", err)
	}
	return created == 1, nil
}

func (s *RedisNotificationStore) List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	ids, err := s.client.ZRevRange(ctx, inboxKeyPrefix+recipient, 0, -1).Result()
	if err != nil {
		return nil, storeFailure("list inbox", err)
	}
	if len(ids) == 0 {
		return []domain.Notification{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = notificationKeyPrefix + id
	}
	var (
		itemsCmd  *redis.SliceCmd
		unreadCmd *redis.StringSliceCmd
		readAtCmd *redis.MapStringStringCmd
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		itemsCmd = pipe.MGet(ctx, keys...)
		unreadCmd = pipe.SMembers(ctx, unreadKeyPrefix+recipient)
		readAtCmd = pipe.HGetAll(ctx, readAtKeyPrefix+recipient)
		return nil
	})
	if err != nil {
		return nil, storeFailure("list inbox", err)
	}

	unread := make(map[string]struct{}, len(unreadCmd.Val()))
	for _, id := range unreadCmd.Val() {
		unread[id] = struct{}{}
	}
	readAt := readAtCmd.Val()

	out := make([]domain.Notification, 0, len(ids))
	for _, raw := range itemsCmd.Val() {
		n, ok := decodeNotification(raw)
		if !ok {
			continue
		}
		_, isUnread := unread[n.ID]
		n.Read = !isUnread
		if n.Read {
			if ts, err := time.Parse(time.RFC3339Nano, readAt[n.ID]); err == nil {
				n.ReadAt = &ts
			}
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *RedisNotificationStore) CountUnread(ctx context.Context, recipient string) (int, error) {
	n, err := s.client.SCard(ctx, unreadKeyPrefix+recipient).Result()
	if err != nil {
		return 0, storeFailure("count unread", err)
	}
	return int(n), nil
}

func (s *RedisNotificationStore) MarkRead(ctx context.Context, recipient, id string, at time.Time) error {
	if err := s.client.ZScore(ctx, inboxKeyPrefix+recipient, id).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotificationNotFound
		}
		return storeFailure("mark read", err)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, readAtKeyPrefix+recipient, id, at.UTC().Format(time.RFC3339Nano))
		pipe.SRem(ctx, unreadKeyPrefix+recipient, id)
		return nil
	})
	if err != nil {
		return storeFailure("mark read", err)
	}
	return nil
}

func (s *RedisNotificationStore) MarkAllRead(ctx context.Context, recipient string, at time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, unreadKeyPrefix+recipient).Result()
	if err != nil {
		return 0, storeFailure("mark all read", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	stamp := at.UTC().Format(time.RFC3339Nano)
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HSetNX(ctx, readAtKeyPrefix+recipient, id, stamp)
		}
		removed = pipe.SRem(ctx, unreadKeyPrefix+recipient, members...)
		return nil
	})
	if err != nil {
		return 0, storeFailure("mark all read", err)
	}
	return int(removed.Val()), nil
}

func (s *RedisNotificationStore) AppendPublic(ctx context.Context, n domain.Notification, keep int) error {
	if keep <= 0 {
		keep = 5
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	keys := []string{publicFeedKey, notificationKeyPrefix + n.ID}
	ttl := int(publicItemTTL / time.Second)
	if err := appendPublicScript.Run(ctx, s.client, keys, payload, n.ID, keep, ttl).Err(); err != nil {
		return storeFailure("append public feed", err)
	}
	return nil
}

func (s *RedisNotificationStore) LatestPublic(ctx context.Context, limit int) ([]domain.Notification, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.LRange(ctx, publicFeedKey, 0, stop).Result()
	if err != nil {
		return nil, storeFailure("latest public", err)
	}
	if len(ids) == 0 {
		return []domain.Notification{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = notificationKeyPrefix + id
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeFailure("latest public", err)
	}
	out := make([]domain.Notification, 0, len(raws))
	for _, raw := range raws {
		if n, ok := decodeNotification(raw); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func decodeNotification(raw any) (domain.Notification, bool) {
	text, ok := raw.(string)
	if !ok || text == "" {
		return domain.Notification{}, false
	}
	var n domain.Notification
	if err := json.Unmarshal([]byte(text), &n); err != nil {
		return domain.Notification{}, false
	}
	return n, true
}

func storeFailure(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

const (
	crpfKeyPrefix   = "alerts:crpf:"
	crpfIndexKey    = "alerts:crpf-index"
	crpfPendingKey  = "alerts:crpf-pending"
	maxWatchRetries = 5
)

// createCrpfScript leaves an existing request untouched so a redelivered event cannot reset its status.
var createCrpfScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
	if ARGV[4] == '1' then
		redis.call('SADD', KEYS[3], ARGV[3])
	end
	return 1
end
return 0
`)

// RedisCrpfStore keeps CRPF requests in Redis with a creation-time index and a pending set.
type RedisCrpfStore struct {
	client *redis.Client
}

func NewRedisCrpfStore(client *redis.Client) *RedisCrpfStore {
	return &RedisCrpfStore{client: client}
}

func (s *RedisCrpfStore) Create(ctx context.Context, n domain.CrpfNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode crpf notification: %w", err)
	}
	pending := 0
	if n.Status == domain.CrpfStatusPending {
		pending = 1
	}
	keys := []string{crpfKeyPrefix + n.ID, crpfIndexKey, crpfPendingKey}
	err = createCrpfScript.Run(ctx, s.client, keys, payload, n.CreatedAt.UnixMilli(), n.ID, pending).Err()
	if err != nil {
		return storeFailure("create crpf notification", err)
	}
	return nil
}

func (s *RedisCrpfStore) Get(ctx context.Context, id string) (domain.CrpfNotification, error) {
	raw, err := s.client.Get(ctx, crpfKeyPrefix+strings.TrimSpace(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CrpfNotification{}, domain.ErrCrpfNotFound
		}
		return domain.CrpfNotification{}, storeFailure("get crpf notification", err)
	}
	var n domain.CrpfNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return domain.CrpfNotification{}, fmt.Errorf("decode crpf notification: %w", err)
	}
	return n, nil
}

func (s *RedisCrpfStore) List(ctx context.Context, status domain.CrpfStatus) ([]domain.CrpfNotification, error) {
	ids, err := s.client.ZRevRange(ctx, crpfIndexKey, 0, -1).Result()
	if err != nil {
		return nil, storeFailure("list crpf notifications", err)
	}
	if len(ids) == 0 {
		return []domain.CrpfNotification{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = crpfKeyPrefix + id
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeFailure("list crpf notifications", err)
	}
	out := make([]domain.CrpfNotification, 0, len(raws))
	for _, raw := range raws {
		text, ok := raw.(string)
		if !ok {
			continue
		}
		var n domain.CrpfNotification
		if err := json.Unmarshal([]byte(text), &n); err != nil {
			continue
		}
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Acknowledge uses WATCH so concurrent acknowledgments of one request collapse to a single transition.
func (s *RedisCrpfStore) Acknowledge(ctx context.Context, id string, at time.Time) (domain.CrpfNotification, bool, error) {
	key := crpfKeyPrefix + strings.TrimSpace(id)
	var (
		result  domain.CrpfNotification
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrCrpfNotFound
			}
			return err
		}
		var current domain.CrpfNotification
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode crpf notification: %w", err)
		}
		result, changed = current.Acknowledge(at)
		if !changed {
			return nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SRem(ctx, crpfPendingKey, result.ID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, changed, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, domain.ErrCrpfNotFound):
			return domain.CrpfNotification{}, false, err
		default:
			return domain.CrpfNotification{}, false, storeFailure("acknowledge crpf notification", err)
		}
	}
	return domain.CrpfNotification{}, false, storeFailure("acknowledge crpf notification", redis.TxFailedErr)
}

const (
	audienceTopicPrefix = "alerts:audience:topic:"
	audienceUserPrefix  = "alerts:audience:user:"
)

// RedisAudience keeps the topic interest of known users in two families of sets.
type RedisAudience struct {
	client *redis.Client
}

func NewRedisAudience(client *redis.Client) *RedisAudience {
	return &RedisAudience{client: client}
}

func (a *RedisAudience) Remember(ctx context.Context, identity domain.Identity) error {
	if identity.IsAnonymous() {
		return nil
	}
	userID := strings.TrimSpace(identity.UserID)
	userKey := audienceUserPrefix + userID
	previous, err := a.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return storeFailure("remember audience", err)
	}
	topics := domain.TopicsFor(identity)
	want := make(map[string]struct{}, len(topics))
	members := make([]any, 0, len(topics))
	for _, topic := range topics {
		want[string(topic)] = struct{}{}
		members = append(members, string(topic))
	}
	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, topic := range previous {
			if _, keep := want[topic]; !keep {
				pipe.SRem(ctx, audienceTopicPrefix+topic, userID)
			}
		}
		for _, topic := range topics {
			pipe.SAdd(ctx, audienceTopicPrefix+string(topic), userID)
		}
		pipe.Del(ctx, userKey)
		if len(members) > 0 {
			pipe.SAdd(ctx, userKey, members...)
		}
		return nil
	})
	if err != nil {
		return storeFailure("remember audience", err)
	}
	return nil
}

func (a *RedisAudience) Members(ctx context.Context, topic domain.Topic) ([]string, error) {
	users, err := a.client.SMembers(ctx, audienceTopicPrefix+string(topic)).Result()
	if err != nil {
		return nil, storeFailure("audience members", err)
	}
	sort.Strings(users)
	return users, nil
}
