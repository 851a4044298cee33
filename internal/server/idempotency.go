package server

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

func idempotencyKeyFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

func (s *Server) idempotencyRedisKey(key string) string {
	return s.cfg.Queue.KeyPrefix + ":idempotency:create-batch:" + key
}

// rememberedBatch returns the batch created by an earlier request with the same key.
func (s *Server) rememberedBatch(ctx context.Context, key string) (snowflake.ID, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	raw, err := s.redis.Get(ctx, s.idempotencyRedisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read idempotency key")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false, errors.Wrap(err, "parse remembered batch id")
	}
	return id, true, nil
}

func (s *Server) rememberBatch(ctx context.Context, key string, id snowflake.ID) error {
	if key == "" {
		return nil
	}
	return s.redis.Set(ctx, s.idempotencyRedisKey(key), id.String(), idempotencyTTL).Err()
}
