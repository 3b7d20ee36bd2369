package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"atlas/internal/service/ledger/domain"
)

// RedisStockStore is the hot-path StockStore. Each operation is one Lua
// script, so the reservation check, the stock comparison and the decrement
// execute atomically inside Redis and no application-side coordination is
// needed.
type RedisStockStore struct {
	client        *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
}

func NewRedisStockStore(client *redis.Client) *RedisStockStore {
	return &RedisStockStore{
		client:        client,
		reserveScript: redis.NewScript(reserveScriptSrc),
		releaseScript: redis.NewScript(releaseScriptSrc),
		commitScript:  redis.NewScript(commitScriptSrc),
	}
}

func stockKey(itemID string) string {
	// Hash tag keeps every size of one item in the same cluster slot.
	return fmt.Sprintf("stock:{%s}", itemID)
}

func reservationKey(idempotencyKey string) string {
	return "resv:" + idempotencyKey
}

// SeedStock initializes stock for an (item, size) pair.
func (s *RedisStockStore) SeedStock(ctx context.Context, itemID, size string, stock int) error {
	if err := s.client.HSet(ctx, stockKey(itemID), size, stock).Err(); err != nil {
		return errors.Wrap(err, "seed stock")
	}
	return nil
}

func (s *RedisStockStore) FindSizeStock(ctx context.Context, itemID, size string) (int, error) {
	val, err := s.client.HGet(ctx, stockKey(itemID), size).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "find size stock")
	}
	stock, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrap(err, "parse stock value")
	}
	return stock, nil
}

func (s *RedisStockStore) Reserve(ctx context.Context, res *domain.Reservation) (domain.ReservationResult, error) {
	keys := []string{stockKey(res.ItemID), reservationKey(res.IdempotencyKey)}
	raw, err := s.reserveScript.Run(ctx, s.client, keys,
		res.Size, res.Quantity, res.ItemID, time.Now().Unix()).Result()
	if err != nil {
		return domain.ReservationResult{}, errors.Wrap(err, "run reserve script")
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return domain.ReservationResult{}, errors.Errorf("unexpected reserve script reply: %v", raw)
	}
	code, _ := reply[0].(int64)
	value, _ := reply[1].(int64)

	switch code {
	case reserveCodeOk:
		return domain.ReservationResult{Status: domain.StatusOk, Remaining: int(value)}, nil
	case reserveCodeReplay:
		return domain.ReservationResult{Status: domain.StatusOk, Remaining: int(value), Replayed: true}, nil
	case reserveCodeInsufficient:
		return domain.ReservationResult{Status: domain.StatusInsufficientStock, Remaining: int(value)}, nil
	case reserveCodeNotFound:
		return domain.ReservationResult{Status: domain.StatusNotFound}, nil
	default:
		return domain.ReservationResult{}, errors.Errorf("unknown reserve script code: %d", code)
	}
}

func (s *RedisStockStore) Commit(ctx context.Context, idempotencyKey string) error {
	raw, err := s.commitScript.Run(ctx, s.client, []string{reservationKey(idempotencyKey)}).Result()
	if err != nil {
		return errors.Wrap(err, "run commit script")
	}
	code, _ := raw.(int64)
	switch code {
	case commitCodeOk:
		return nil
	case commitCodeNotFound:
		return domain.ErrNotFound
	default:
		return errors.Errorf("cannot commit reservation (code %d)", code)
	}
}

func (s *RedisStockStore) Release(ctx context.Context, idempotencyKey string) (domain.ReleaseResult, error) {
	resvKey := reservationKey(idempotencyKey)
	// The stock key depends on the reservation's item, so read the hash
	// first to declare both keys to the script. The state check stays
	// inside the script, which keeps the release itself atomic; a replay
	// racing past this read sees a RELEASED state and no-ops.
	fields, err := s.client.HGetAll(ctx, resvKey).Result()
	if err != nil {
		return domain.ReleaseResult{}, errors.Wrap(err, "lookup reservation")
	}
	if len(fields) == 0 {
		return domain.ReleaseResult{Released: false}, nil
	}

	keys := []string{resvKey, stockKey(fields["item_id"])}
	raw, err := s.releaseScript.Run(ctx, s.client, keys, fields["size"]).Result()
	if err != nil {
		return domain.ReleaseResult{}, errors.Wrap(err, "run release script")
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return domain.ReleaseResult{}, errors.Errorf("unexpected release script reply: %v", raw)
	}
	code, _ := reply[0].(int64)
	quantity, _ := reply[1].(int64)
	return domain.ReleaseResult{Released: code == 1, Quantity: int(quantity)}, nil
}

func (s *RedisStockStore) GetReservation(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	fields, err := s.client.HGetAll(ctx, reservationKey(idempotencyKey)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "lookup reservation")
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	quantity, _ := strconv.Atoi(fields["quantity"])
	remainingAfter, _ := strconv.Atoi(fields["remaining_after"])
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &domain.Reservation{
		ItemID:         fields["item_id"],
		Size:           fields["size"],
		Quantity:       quantity,
		IdempotencyKey: idempotencyKey,
		State:          domain.State(fields["state"]),
		RemainingAfter: remainingAfter,
		CreatedAt:      time.Unix(createdAt, 0),
	}, nil
}

const (
	reserveCodeNotFound     = -1
	reserveCodeInsufficient = 0
	reserveCodeOk           = 1
	reserveCodeReplay       = 2

	commitCodeNotFound = -1
	commitCodeOk       = 1
)

// KEYS[1] stock hash for the item, KEYS[2] reservation hash for the key.
// ARGV: size, quantity, item id, unix timestamp.
var reserveScriptSrc = `
if redis.call('exists', KEYS[2]) == 1 then
    return {2, tonumber(redis.call('hget', KEYS[2], 'remaining_after'))}
end

local stock = redis.call('hget', KEYS[1], ARGV[1])
if not stock then
    return {-1, 0}
end
stock = tonumber(stock)

local qty = tonumber(ARGV[2])
if stock < qty then
    return {0, stock}
end

local remaining = redis.call('hincrby', KEYS[1], ARGV[1], -qty)
redis.call('hset', KEYS[2],
    'item_id', ARGV[3],
    'size', ARGV[1],
    'quantity', qty,
    'state', 'RESERVED',
    'remaining_after', remaining,
    'created_at', ARGV[4])
return {1, remaining}
`

// KEYS[1] reservation hash, KEYS[2] stock hash for its item. ARGV[1] size.
// Returns {1, qty} when stock was returned, {0, 0} when there was nothing
// to release.
var releaseScriptSrc = `
local state = redis.call('hget', KEYS[1], 'state')
if state ~= 'RESERVED' then
    return {0, 0}
end

local qty = tonumber(redis.call('hget', KEYS[1], 'quantity'))
redis.call('hincrby', KEYS[2], ARGV[1], qty)
redis.call('hset', KEYS[1], 'state', 'RELEASED')
return {1, qty}
`

// KEYS[1] reservation hash.
var commitScriptSrc = `
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
local state = redis.call('hget', KEYS[1], 'state')
if state == 'COMMITTED' then
    return 1
end
if state ~= 'RESERVED' then
    return 0
end
redis.call('hset', KEYS[1], 'state', 'COMMITTED')
return 1
`
