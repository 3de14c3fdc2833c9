package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// DefaultMembersTTL bounds how stale a cached membership page may be.
const DefaultMembersTTL = 10 * time.Minute

// MemberSource pages through channel memberships in ordering id order.
type MemberSource interface {
	ChannelMembers(ctx context.Context, channelID, afterID uint64, limit int) ([]core.ChannelMember, error)
}

// Members is a read-through cache in front of a MemberSource. Pages of one
// channel live in a single hash so they expire and invalidate together.
type Members struct {
	source MemberSource
	client redis.UniversalClient
	ttl    time.Duration
}

// NewMembers wraps source. A ttl of zero uses DefaultMembersTTL.
func NewMembers(source MemberSource, client redis.UniversalClient, ttl time.Duration) *Members {
	if ttl <= 0 {
		ttl = DefaultMembersTTL
	}
	return &Members{source: source, client: client, ttl: ttl}
}

func pageField(afterID uint64, limit int) string {
	return strconv.FormatUint(afterID, 10) + ":" + strconv.Itoa(limit)
}

// ChannelMembers returns a cached page or loads and caches it. A Redis
// read error other than a miss is returned to the caller.
func (m *Members) ChannelMembers(ctx context.Context, channelID, afterID uint64, limit int) ([]core.ChannelMember, error) {
	key := MembersKey(channelID)
	field := pageField(afterID, limit)

	raw, err := m.client.HGet(ctx, key, field).Bytes()
	switch {
	case err == nil:
		var page []core.ChannelMember
		if err := json.Unmarshal(raw, &page); err == nil {
			return page, nil
		}
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis: read members page: %w", err)
	}

	page, err := m.source.ChannelMembers(ctx, channelID, afterID, limit)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(page)
	if err != nil {
		return page, nil
	}
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, m.ttl)
	// A failed write only costs a cache miss next time.
	_, _ = pipe.Exec(ctx)
	return page, nil
}
