package account

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const REDIS_KEY_USER_BALANCE = "crash:balance:"

// Balances are stored as integer cents so that the non-negative check and the
// write happen in one script invocation.
var adjustScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	cur = ARGV[2]
end
local nxt = tonumber(cur) + tonumber(ARGV[1])
if nxt < 0 then
	return {0, cur}
end
redis.call('SET', KEYS[1], string.format('%d', nxt))
return {1, string.format('%d', nxt)}
`)

// RedisLedger keeps balances in Redis under crash:balance:<account>.
type RedisLedger struct {
	client  *redis.Client
	initial decimal.Decimal
}

func NewRedisLedger(client *redis.Client, initial decimal.Decimal) *RedisLedger {
	return &RedisLedger{client: client, initial: initial}
}

func (l *RedisLedger) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}
	key := REDIS_KEY_USER_BALANCE + account

	// SETNX keeps get-or-create idempotent under concurrent first reads.
	if err := l.client.SetNX(ctx, key, toCents(l.initial), 0).Err(); err != nil {
		return decimal.Zero, fmt.Errorf("init balance %s: %w", account, err)
	}
	cents, err := l.client.Get(ctx, key).Int64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", account, err)
	}
	return fromCents(cents), nil
}

func (l *RedisLedger) Adjust(ctx context.Context, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := validAccount(account); err != nil {
		return decimal.Zero, err
	}
	key := REDIS_KEY_USER_BALANCE + account

	res, err := adjustScript.Run(ctx, l.client, []string{key}, toCents(delta), toCents(l.initial)).Slice()
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: %w", account, err)
	}
	if len(res) != 2 {
		return decimal.Zero, errors.New("adjust balance: unexpected script reply")
	}

	ok, _ := res[0].(int64)
	raw, _ := res[1].(string)
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance %s: bad stored value %q", account, raw)
	}
	balance = balance.Shift(-2)

	if ok != 1 {
		return balance, fmt.Errorf("adjust %s by %s: %w", account, delta.StringFixed(2), ErrInsufficientFunds)
	}
	return balance, nil
}

func (l *RedisLedger) SetBalance(ctx context.Context, account string, balance decimal.Decimal) error {
	if err := validAccount(account); err != nil {
		return err
	}
	if balance.IsNegative() {
		return ErrInsufficientFunds
	}
	if err := l.client.Set(ctx, REDIS_KEY_USER_BALANCE+account, toCents(balance), 0).Err(); err != nil {
		return fmt.Errorf("set balance %s: %w", account, err)
	}
	log.Printf("[LEDGER] Balance of %s set to %s", account, balance.StringFixed(2))
	return nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
