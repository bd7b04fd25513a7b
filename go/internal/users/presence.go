package users

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OnlineSetKey is the Redis set holding logged in usernames
const OnlineSetKey = "auction:online"

// RedisPresence keeps presence in a Redis set so it is shared between
// processes and survives restarts of a single one.
type RedisPresence struct {
	client redis.UniversalClient
	key    string
}

// NewRedisPresence creates a presence store on client
func NewRedisPresence(client redis.UniversalClient) *RedisPresence {
	return &RedisPresence{client: client, key: OnlineSetKey}
}

func (p *RedisPresence) SetUserLoggedIn(ctx context.Context, username string, loggedIn bool) error {
	var err error
	if loggedIn {
		err = p.client.SAdd(ctx, p.key, username).Err()
	} else {
		err = p.client.SRem(ctx, p.key, username).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update presence set: %w", err)
	}
	return nil
}

func (p *RedisPresence) OnlineUsers(ctx context.Context) (map[string]bool, error) {
	members, err := p.client.SMembers(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence set: %w", err)
	}
	online := make(map[string]bool, len(members))
	for _, m := range members {
		online[m] = true
	}
	return online, nil
}
