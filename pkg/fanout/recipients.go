package fanout

import (
	"context"
	"fmt"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// DefaultPageSize is the membership page size of a channel scan.
const DefaultPageSize = 25

// Single resolves to userID unless it is zero or one of exclude.
func Single(userID uint64, exclude ...uint64) Resolver {
	return List([]uint64{userID}, exclude...)
}

// List resolves to ids in order, dropping zeros, duplicates and excluded
// ids. The list is yielded as one page.
func List(ids []uint64, exclude ...uint64) Resolver {
	return func(_ context.Context, yield func([]uint64) error) error {
		out := dedupe(ids, exclude)
		if len(out) == 0 {
			return nil
		}
		return yield(out)
	}
}

// Followers resolves to the followers of a thread plus extra (the thread
// creator), minus the actor.
func Followers(src FollowerSource, parentKind string, parentID uint64, actorID uint64, extra ...uint64) Resolver {
	return func(ctx context.Context, yield func([]uint64) error) error {
		if src == nil {
			return fmt.Errorf("fanout: no follower source configured")
		}
		ids, err := src.ThreadFollowers(ctx, parentKind, parentID)
		if err != nil {
			return fmt.Errorf("fanout: load thread followers: %w", err)
		}
		all := make([]uint64, 0, len(extra)+len(ids))
		all = append(all, extra...)
		return List(append(all, ids...), actorID)(ctx, yield)
	}
}

// ChannelScan pages through the members of channelID. Each page is
// filtered to drop the actor, inactive members and members who muted the
// channel; a page shorter than pageSize ends the scan. The ordering id of
// the last member seen, filtered or not, positions the next page.
func ChannelScan(src MemberSource, channelID, actorID uint64, pageSize int) Resolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(ctx context.Context, yield func([]uint64) error) error {
		if src == nil {
			return fmt.Errorf("fanout: no member source configured")
		}
		var afterID uint64
		for {
			page, err := src.ChannelMembers(ctx, channelID, afterID, pageSize)
			if err != nil {
				return fmt.Errorf("fanout: load channel %d members after %d: %w", channelID, afterID, err)
			}

			ids := make([]uint64, 0, len(page))
			for _, m := range page {
				if m.ID > afterID {
					afterID = m.ID
				}
				if m.UserID == actorID || m.UserID == 0 || m.Status != core.MemberActive || m.NotificationMuted {
					continue
				}
				ids = append(ids, m.UserID)
			}
			if len(ids) > 0 {
				if err := yield(ids); err != nil {
					return err
				}
			}

			if len(page) < pageSize {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

func dedupe(ids []uint64, exclude []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids)+len(exclude))
	for _, id := range exclude {
		seen[id] = struct{}{}
	}
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
