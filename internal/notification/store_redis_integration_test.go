//go:build integration

package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"rollcall/internal/notification"
	"rollcall/pkg/testutil/containers"
)

type RedisEscalationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *notification.RedisEscalationStore
}

func TestRedisEscalationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisEscalationSuite))
}

func (s *RedisEscalationSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = notification.NewRedisEscalationStore(s.redis.Client)
}

func (s *RedisEscalationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisEscalationSuite) TestSaveAndList() {
	ctx := context.Background()

	records := []notification.Record{
		{
			Category:  notification.CategoryPresence,
			Priority:  notification.PriorityMedium,
			Message:   "student-1 checked in",
			Timestamp: time.Now().UTC().Truncate(time.Second),
		},
		{
			Category:   notification.CategorySystem,
			Priority:   notification.PriorityUrgent,
			Message:    "store down",
			Timestamp:  time.Now().UTC().Truncate(time.Second),
			Persistent: true,
		},
	}
	for i := range records {
		records[i].ID = uuid.New()
		s.Require().NoError(s.store.Save(ctx, records[i]))
	}

	got, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(got, 2)

	byMessage := map[string]notification.Record{}
	for _, r := range got {
		byMessage[r.Message] = r
	}
	s.Equal(notification.PriorityUrgent, byMessage["store down"].Priority)
	s.True(byMessage["store down"].Persistent)
}

func (s *RedisEscalationSuite) TestTTLExpiry() {
	ctx := context.Background()
	store := notification.NewRedisEscalationStore(s.redis.Client,
		notification.WithEscalationTTL(time.Second))

	record := notification.Record{
		ID:        uuid.New(),
		Category:  notification.CategoryPresence,
		Priority:  notification.PriorityMedium,
		Message:   "short lived",
		Timestamp: time.Now().UTC(),
	}
	s.Require().NoError(store.Save(ctx, record))

	got, err := store.List(ctx)
	s.Require().NoError(err)
	s.Len(got, 1)

	time.Sleep(1500 * time.Millisecond)

	got, err = store.List(ctx)
	s.Require().NoError(err)
	s.Empty(got)
}
