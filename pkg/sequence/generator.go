package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator mints the human-readable codes shown to operators alongside
// snowflake primary keys.
type Generator interface {
	NextProgramCode(ctx context.Context) (string, error)
	NextPaymentCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{rdb: p.Redis}
}

func (g *RedisGenerator) NextProgramCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "PRG")
}

func (g *RedisGenerator) NextPaymentCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "PAY")
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:%s:%s", prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis is a convenience dependency for codes, not a correctness
		// one: fall back to a random code so payments keep flowing.
		suffix, rerr := randomAlphaNumeric(5)
		if rerr != nil {
			return "", err
		}
		return fmt.Sprintf("%s-%s-%s", prefix, today, suffix), nil
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))
	randSuffix, _ := randomAlphaNumeric(2)

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
