package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChallengeStorage keeps issued enrollment challenges until they are
// consumed. Keyed by the challenge value itself since registration
// requests carry the challenge, not a session id. Safe for concurrent use.
type ChallengeStorage interface {
	// StoreChallenge records a freshly issued challenge for its session.
	// Overwriting an existing challenge is not an error.
	StoreChallenge(challenge string, sessionId string) error

	// RetrieveChallenge returns the session id a challenge was issued for,
	// or an error when the challenge is unknown.
	RetrieveChallenge(challenge string) (string, error)

	// RemoveChallenge consumes a challenge. Removing an unknown challenge
	// is an error; a challenge must never be consumable twice.
	RemoveChallenge(challenge string) error
}

// StoredEnrollment is the server-side enrollment: the reference embedding
// and the device key it is bound to.
type StoredEnrollment struct {
	Embedding []float64 `json:"embedding"`
	PublicKey string    `json:"publicKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnrollmentStorage persists enrollments keyed by the device key
// fingerprint. Safe for concurrent use.
type EnrollmentStorage interface {
	StoreEnrollment(fingerprint string, enrollment StoredEnrollment) error
	RetrieveEnrollment(fingerprint string) (StoredEnrollment, error)
	RemoveEnrollment(fingerprint string) error

	// AllEnrollments returns every stored enrollment by fingerprint; the
	// recovery flow scans these for an embedding match.
	AllEnrollments() (map[string]StoredEnrollment, error)
}

// ------------------------------------------------------------------------------

const challengeTimeout = 10 * time.Minute

func challengeKey(namespace, challenge string) string {
	return fmt.Sprintf("%s:challenge:%s", namespace, challenge)
}

func enrollmentKey(namespace, fingerprint string) string {
	return fmt.Sprintf("%s:enrollment:%s", namespace, fingerprint)
}

type RedisBiometricStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisBiometricStorage(client *redis.Client, namespace string) *RedisBiometricStorage {
	return &RedisBiometricStorage{client: client, namespace: namespace}
}

func (s *RedisBiometricStorage) StoreChallenge(challenge, sessionId string) error {
	ctx := context.Background()
	return s.client.Set(ctx, challengeKey(s.namespace, challenge), sessionId, challengeTimeout).Err()
}

func (s *RedisBiometricStorage) RetrieveChallenge(challenge string) (string, error) {
	ctx := context.Background()
	return s.client.Get(ctx, challengeKey(s.namespace, challenge)).Result()
}

func (s *RedisBiometricStorage) RemoveChallenge(challenge string) error {
	ctx := context.Background()
	removed, err := s.client.Del(ctx, challengeKey(s.namespace, challenge)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("challenge was not stored")
	}
	return nil
}

func (s *RedisBiometricStorage) StoreEnrollment(fingerprint string, enrollment StoredEnrollment) error {
	data, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}
	ctx := context.Background()
	return s.client.Set(ctx, enrollmentKey(s.namespace, fingerprint), data, 0).Err()
}

func (s *RedisBiometricStorage) RetrieveEnrollment(fingerprint string) (StoredEnrollment, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, enrollmentKey(s.namespace, fingerprint)).Bytes()
	if err != nil {
		return StoredEnrollment{}, err
	}
	var enrollment StoredEnrollment
	if err := json.Unmarshal(data, &enrollment); err != nil {
		return StoredEnrollment{}, fmt.Errorf("failed to decode enrollment: %w", err)
	}
	return enrollment, nil
}

func (s *RedisBiometricStorage) RemoveEnrollment(fingerprint string) error {
	ctx := context.Background()
	return s.client.Del(ctx, enrollmentKey(s.namespace, fingerprint)).Err()
}

func (s *RedisBiometricStorage) AllEnrollments() (map[string]StoredEnrollment, error) {
	ctx := context.Background()
	prefix := enrollmentKey(s.namespace, "")
	keys, err := s.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, err
	}

	enrollments := make(map[string]StoredEnrollment, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return nil, err
		}
		var enrollment StoredEnrollment
		if err := json.Unmarshal(data, &enrollment); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment at %s: %w", key, err)
		}
		enrollments[strings.TrimPrefix(key, prefix)] = enrollment
	}
	return enrollments, nil
}

// ------------------------------------------------------------------------------

type InMemoryBiometricStorage struct {
	challenges  map[string]string
	enrollments map[string]StoredEnrollment
	mutex       sync.Mutex
}

func NewInMemoryBiometricStorage() *InMemoryBiometricStorage {
	return &InMemoryBiometricStorage{
		challenges:  make(map[string]string),
		enrollments: make(map[string]StoredEnrollment),
	}
}

func (s *InMemoryBiometricStorage) StoreChallenge(challenge, sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.challenges[challenge] = sessionId
	return nil
}

func (s *InMemoryBiometricStorage) RetrieveChallenge(challenge string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if sessionId, ok := s.challenges[challenge]; ok {
		return sessionId, nil
	}
	return "", fmt.Errorf("failed to find challenge")
}

func (s *InMemoryBiometricStorage) RemoveChallenge(challenge string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.challenges[challenge]; !ok {
		return fmt.Errorf("failed to remove challenge, because it wasn't there")
	}
	delete(s.challenges, challenge)
	return nil
}

func (s *InMemoryBiometricStorage) StoreEnrollment(fingerprint string, enrollment StoredEnrollment) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.enrollments[fingerprint] = enrollment
	return nil
}

func (s *InMemoryBiometricStorage) RetrieveEnrollment(fingerprint string) (StoredEnrollment, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if enrollment, ok := s.enrollments[fingerprint]; ok {
		return enrollment, nil
	}
	return StoredEnrollment{}, fmt.Errorf("failed to find enrollment for %s", fingerprint)
}

func (s *InMemoryBiometricStorage) RemoveEnrollment(fingerprint string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.enrollments[fingerprint]; !ok {
		return fmt.Errorf("failed to remove enrollment for %s, because it wasn't there", fingerprint)
	}
	delete(s.enrollments, fingerprint)
	return nil
}

func (s *InMemoryBiometricStorage) AllEnrollments() (map[string]StoredEnrollment, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	enrollments := make(map[string]StoredEnrollment, len(s.enrollments))
	for fingerprint, enrollment := range s.enrollments {
		enrollments[fingerprint] = enrollment
	}
	return enrollments, nil
}
