package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2HalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"1.005":  "1.01",
		"-1.005": "-1.01",
		"2.344":  "2.34",
		"10":     "10",
	}
	for in, want := range cases {
		got := Round2(decimal.RequireFromString(in))
		assert.Truef(t, got.Equal(decimal.RequireFromString(want)), "Round2(%s) = %s, want %s", in, got, want)
	}
}

func TestPercentAndWithinCent(t *testing.T) {
	assert.True(t, Percent(decimal.RequireFromString("0.5")).Equal(decimal.RequireFromString("0.005")))
	assert.True(t, WithinCent(decimal.RequireFromString("10.004"), decimal.NewFromInt(10)))
	assert.False(t, WithinCent(decimal.RequireFromString("10.01"), decimal.NewFromInt(10)))
}

func TestLockerSerialisesByKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client)
	ctx := context.Background()
	date := time.Date(2025, 4, 2, 15, 0, 0, 0, time.UTC)
	key := ReconcileLockKey(date)
	require.Equal(t, "caja:reconcile:2025-04-02:lock", key)

	release, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Acquire(ctx, MoraLockKey(date), time.Minute)
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client)

	_, err := locker.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = locker.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
}

func TestNilLockerIsNoop(t *testing.T) {
	release, err := NewLocker(nil).Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	release()
}

type execStub struct {
	err   error
	calls int
}

func (e *execStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.calls++
	return pgconn.CommandTag{}, e.err
}

func TestInsertIdempotencyKey(t *testing.T) {
	ctx := context.Background()

	ok := &execStub{}
	require.NoError(t, InsertIdempotencyKey(ctx, ok, "k1", "credito.pago"))
	assert.Equal(t, 1, ok.calls)

	dup := &execStub{err: &pgconn.PgError{Code: "23505"}}
	require.ErrorIs(t, InsertIdempotencyKey(ctx, dup, "k1", "credito.pago"), ErrIdempotencyConflict)

	boom := errors.New("boom")
	require.ErrorIs(t, InsertIdempotencyKey(ctx, &execStub{err: boom}, "k1", "credito.pago"), boom)

	none := &execStub{}
	require.Error(t, InsertIdempotencyKey(ctx, none, "", "credito.pago"))
	require.Error(t, InsertIdempotencyKey(ctx, none, "k", ""))
	assert.Zero(t, none.calls)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	_, ok := TenantFromContext(ctx)
	assert.False(t, ok)

	_, ok = ActorFromContext(ContextWithActor(ctx, uuid.Nil))
	assert.False(t, ok)

	tenant, actor := uuid.New(), uuid.New()
	ctx = ContextWithActor(ContextWithTenant(ctx, tenant), actor)
	gotTenant, ok := TenantFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tenant, gotTenant)
	gotActor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, gotActor)
}
