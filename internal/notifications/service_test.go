package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/mailloop/mailloop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscriber() *domain.Subscriber {
	return &domain.Subscriber{
		ID:     "sub-1",
		Email:  "ada@example.com",
		Name:   "Ada",
		Locale: "en",
	}
}

func TestService_EnqueueMagicLink(t *testing.T) {
	repo := &mockRepository{}
	svc, err := NewService(Config{BaseURL: "https://list.example.com", MaxAttempts: 3}, repo)
	require.NoError(t, err)

	expiresAt := time.Now().Add(time.Hour)
	err = svc.EnqueueMagicLink(context.Background(), testSubscriber(), "tok.en.value", expiresAt)
	require.NoError(t, err)

	require.Len(t, repo.items, 1)
	item := repo.items[0]

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "sub-1", item.SubscriberID)
	assert.Equal(t, "ada@example.com", item.Recipient)
	assert.Equal(t, MessageTypeMagicLink, item.MessageType)
	assert.Equal(t, 3, item.MaxAttempts)
	assert.Equal(t, "https://list.example.com/auth/verify?token=tok.en.value", item.Payload.Link)
	require.NotNil(t, item.Payload.LinkExpiresAt)
	assert.WithinDuration(t, expiresAt, *item.Payload.LinkExpiresAt, time.Second)
}

func TestService_EnqueueMagicLink_EscapesToken(t *testing.T) {
	repo := &mockRepository{}
	svc, err := NewService(Config{BaseURL: "https://list.example.com"}, repo)
	require.NoError(t, err)

	err = svc.EnqueueMagicLink(context.Background(), testSubscriber(), "a+b/c", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, repo.items, 1)
	assert.Equal(t, "https://list.example.com/auth/verify?token=a%2Bb%2Fc", repo.items[0].Payload.Link)
}

func TestService_EnqueueWelcomeAndGoodbye(t *testing.T) {
	repo := &mockRepository{}
	svc, err := NewService(Config{BaseURL: "https://list.example.com"}, repo)
	require.NoError(t, err)

	require.NoError(t, svc.EnqueueWelcome(context.Background(), testSubscriber()))
	require.NoError(t, svc.EnqueueGoodbye(context.Background(), testSubscriber()))

	require.Len(t, repo.items, 2)
	assert.Equal(t, MessageTypeWelcome, repo.items[0].MessageType)
	assert.Equal(t, MessageTypeGoodbye, repo.items[1].MessageType)
	assert.Empty(t, repo.items[0].Payload.Link)

	// MaxAttempts falls back to the worker default when unset.
	assert.Equal(t, DefaultWorkerConfig().MaxAttempts, repo.items[0].MaxAttempts)
}

func TestNewService_InvalidBaseURL(t *testing.T) {
	_, err := NewService(Config{BaseURL: "://bad"}, &mockRepository{})
	assert.Error(t, err)
}
