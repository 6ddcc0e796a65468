package redis

import (
	"context"
	"errors"
	"sync"

	"livequiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const activeCodesKey = "games:active"

// SessionStore keeps live sessions in a local map and writes through to
// Redis so a restarted process can rehydrate them. Per code it persists:
//   - game:{code}:state  is a versioned JSON blob of the full session
//   - game:{code}:scores is a hash participant -> cumulative score, a side
//     table for score queries without deserializing the blob (the reserved
//     host name is excluded)
//
// plus membership in the games:active set backing ListAll. The cache write
// happens first and is never rolled back on a Redis failure; after a crash
// between the two writes, cache and store may diverge until the next save.
type SessionStore struct {
	client   *redis.Client
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{
		client:   client,
		sessions: make(map[string]*domain.Session),
	}
}

func (s *SessionStore) Load(ctx context.Context, code string) (*domain.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[code]
	s.mu.RUnlock()
	if ok {
		return session, nil
	}

	blob, err := s.client.Get(ctx, s.stateKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	session, err = decodeSession(blob)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have rehydrated the same code while we were reading;
	// the cached copy wins.
	if cached, ok := s.sessions[code]; ok {
		return cached, nil
	}
	s.sessions[code] = session
	return session, nil
}

func (s *SessionStore) Save(ctx context.Context, code string, session *domain.Session) error {
	s.mu.Lock()
	s.sessions[code] = session
	s.mu.Unlock()

	blob, err := encodeSession(session)
	if err != nil {
		return err
	}

	scores := make(map[string]interface{}, len(session.Scores))
	for name, score := range session.Scores {
		if name == domain.HostName {
			continue
		}
		scores[name] = score
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(code), blob, 0)
	pipe.Del(ctx, s.scoresKey(code))
	if len(scores) > 0 {
		pipe.HSet(ctx, s.scoresKey(code), scores)
	}
	pipe.SAdd(ctx, activeCodesKey, code)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Remove(ctx context.Context, code string) error {
	s.mu.Lock()
	delete(s.sessions, code)
	s.mu.Unlock()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.stateKey(code), s.scoresKey(code))
	pipe.SRem(ctx, activeCodesKey, code)
	_, err := pipe.Exec(ctx)
	return err
}

// ListAll loads every active session, pulling uncached ones out of Redis.
// Stale set members (state blob already gone) are pruned as they are found.
func (s *SessionStore) ListAll(ctx context.Context) ([]*domain.Session, error) {
	codes, err := s.client.SMembers(ctx, activeCodesKey).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(codes))
	for _, code := range codes {
		session, err := s.Load(ctx, code)
		if errors.Is(err, domain.ErrSessionNotFound) {
			_ = s.client.SRem(ctx, activeCodesKey, code).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SessionStore) stateKey(code string) string {
	return "game:" + code + ":state"
}

func (s *SessionStore) scoresKey(code string) string {
	return "game:" + code + ":scores"
}
