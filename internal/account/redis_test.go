package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Requires a running Redis; skipped otherwise.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLedger_Adjust(t *testing.T) {
	client := newTestRedis(t)
	l := NewRedisLedger(client, DefaultInitialBalance)
	ctx := context.Background()
	acct := "test-" + uuid.NewString()
	defer client.Del(ctx, REDIS_KEY_USER_BALANCE+acct)

	bal, err := l.Balance(ctx, acct)
	if err != nil || !bal.Equal(DefaultInitialBalance) {
		t.Fatalf("Balance() = %v, %v; want %v", bal, err, DefaultInitialBalance)
	}

	bal, err = l.Adjust(ctx, acct, decimal.RequireFromString("-100.25"))
	if err != nil || !bal.Equal(decimal.RequireFromString("899.75")) {
		t.Fatalf("Adjust(-100.25) = %v, %v; want 899.75", bal, err)
	}

	bal, err = l.Adjust(ctx, acct, decimal.RequireFromString("-900"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft error = %v, want ErrInsufficientFunds", err)
	}
	if !bal.Equal(decimal.RequireFromString("899.75")) {
		t.Errorf("balance after rejected debit = %v, want 899.75", bal)
	}
}

func TestCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 100},
		{"12.34", 1234},
		{"-5.5", -550},
		{"0.005", 1},
	}
	for _, tt := range tests {
		if got := toCents(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("toCents(%s) = %d, want %d", tt.in, got, tt.want)
		}
		if tt.want != 1 && !fromCents(tt.want).Equal(decimal.RequireFromString(tt.in)) {
			t.Errorf("fromCents(%d) = %v, want %s", tt.want, fromCents(tt.want), tt.in)
		}
	}
}
