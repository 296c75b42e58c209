// Package directory adapts the external directory store. The store holds the
// authoritative per-room member lists and per-user push tokens; this service
// only reads them (plus token removal on permanent push failures).
//
// Key schema:
//
//	ptt:room:{roomID}:members   SET of user IDs
//	ptt:user:{userID}:push_token STRING
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
)

// Service handles all interaction with the directory Redis.
//
// A nil *Service is valid and behaves as an empty directory, so the rest of
// the process never branches on "directory configured?".
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService connects to the directory Redis and verifies connectivity.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to directory redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("directory").Set(stateVal)
		},
	}

	logging.Info(ctx, "Connected to directory redis", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Client returns the underlying Redis client (used by the rate limiter store).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func roomMembersKey(roomID string) string {
	return "ptt:room:" + roomID + ":members"
}

func pushTokenKey(userID string) string {
	return "ptt:user:" + userID + ":push_token"
}

// GetRoomMemberIDs returns the authoritative member set for a room. May be
// empty; a store failure surfaces as an error the caller logs and treats as
// empty.
func (s *Service) GetRoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("directory member lookup failed for room %s: %w", roomID, err)
	}
	return res.([]string), nil
}

// GetPushTokens batch-resolves push tokens; absent entries mean "no token".
func (s *Service) GetPushTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	if s == nil || s.client == nil || len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		pipe := s.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(userIDs))
		for i, uid := range userIDs {
			cmds[i] = pipe.Get(ctx, pushTokenKey(uid))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, err
		}

		tokens := make(map[string]string, len(userIDs))
		for i, cmd := range cmds {
			val, err := cmd.Result()
			if err == redis.Nil || val == "" {
				continue
			}
			if err != nil {
				continue
			}
			tokens[userIDs[i]] = val
		}
		return tokens, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory push token lookup failed: %w", err)
	}
	return res.(map[string]string), nil
}

// RemovePushToken marks a user's token for removal after the gateway reported
// it permanently invalid.
func (s *Service) RemovePushToken(ctx context.Context, userID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, pushTokenKey(userID)).Err()
	})
	if err != nil {
		return fmt.Errorf("directory token removal failed for user %s: %w", userID, err)
	}
	return nil
}

// Ping verifies connectivity for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
