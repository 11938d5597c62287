package identity

import (
	"context"
	"testing"
	"time"

	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/subscribers"
	"github.com/mailloop/mailloop/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	byID    map[string]*domain.Subscriber
	byEmail map[string]*domain.Subscriber
	updated int
}

func newMockStore(subs ...*domain.Subscriber) *mockStore {
	m := &mockStore{
		byID:    make(map[string]*domain.Subscriber),
		byEmail: make(map[string]*domain.Subscriber),
	}
	for _, sub := range subs {
		m.byID[sub.ID] = sub
		m.byEmail[sub.Email] = sub
	}
	return m
}

func (m *mockStore) GetByID(_ context.Context, id string) (*domain.Subscriber, error) {
	sub, ok := m.byID[id]
	if !ok {
		return nil, subscribers.ErrSubscriberNotFound
	}
	return sub, nil
}

func (m *mockStore) GetByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	sub, ok := m.byEmail[email]
	if !ok {
		return nil, subscribers.ErrSubscriberNotFound
	}
	return sub, nil
}

func (m *mockStore) Update(_ context.Context, sub *domain.Subscriber) error {
	if _, ok := m.byID[sub.ID]; !ok {
		return subscribers.ErrSubscriberNotFound
	}
	m.byID[sub.ID] = sub
	m.updated++
	return nil
}

func (m *mockStore) SetMagicLink(_ context.Context, id, fingerprint string, expiresAt time.Time) error {
	sub, ok := m.byID[id]
	if !ok {
		return subscribers.ErrSubscriberNotFound
	}
	sub.MagicLinkToken = &fingerprint
	sub.MagicLinkTokenExpiry = &expiresAt
	sub.MagicLinkUsedAt = nil
	return nil
}

type linkEmail struct {
	subscriberID string
	token        string
}

type mockLinkNotifier struct {
	links    []linkEmail
	welcomed []string
}

func (m *mockLinkNotifier) EnqueueMagicLink(_ context.Context, sub *domain.Subscriber, token string, _ time.Time) error {
	m.links = append(m.links, linkEmail{subscriberID: sub.ID, token: token})
	return nil
}

func (m *mockLinkNotifier) EnqueueWelcome(_ context.Context, sub *domain.Subscriber) error {
	m.welcomed = append(m.welcomed, sub.ID)
	return nil
}

type identityFixture struct {
	tokens   *token.Service
	store    *mockStore
	notifier *mockLinkNotifier
	service  *Service
}

func newIdentityFixture(subs ...*domain.Subscriber) *identityFixture {
	tokens := token.NewService(token.Config{Secret: "test-secret"})
	store := newMockStore(subs...)
	notifier := &mockLinkNotifier{}
	return &identityFixture{
		tokens:   tokens,
		store:    store,
		notifier: notifier,
		service:  NewService(tokens, store, notifier),
	}
}

func pendingSubscriber(id, email string) *domain.Subscriber {
	return &domain.Subscriber{
		ID:               id,
		Email:            email,
		Status:           domain.StatusPending,
		EmailPreferences: domain.DefaultEmailPreferences(),
	}
}

func TestService_IssueMagicLink(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	err := f.service.IssueMagicLink(context.Background(), sub)
	require.NoError(t, err)

	require.Len(t, f.notifier.links, 1)
	raw := f.notifier.links[0].token

	require.NotNil(t, sub.MagicLinkToken)
	assert.Equal(t, Fingerprint(raw), *sub.MagicLinkToken,
		"the record stores the fingerprint, never the token")
	assert.NotEqual(t, raw, *sub.MagicLinkToken)
	require.NotNil(t, sub.MagicLinkTokenExpiry)
	assert.Nil(t, sub.MagicLinkUsedAt)
}

func TestService_IssueMagicLink_SupersedesPrevious(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	first := f.notifier.links[0].token

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	second := f.notifier.links[1].token
	require.NotEqual(t, first, second)

	// The first link no longer verifies even though its signature is valid.
	_, _, err := f.service.VerifyMagicLink(context.Background(), first)
	assert.ErrorIs(t, err, ErrLinkInvalid)

	// The fresh one still works.
	_, _, err = f.service.VerifyMagicLink(context.Background(), second)
	assert.NoError(t, err)
}

func TestService_SignIn(t *testing.T) {
	active := pendingSubscriber("sub-1", "ada@example.com")
	active.Status = domain.StatusActive

	unsubbed := pendingSubscriber("sub-2", "grace@example.com")
	unsubbed.Status = domain.StatusUnsubscribed

	f := newIdentityFixture(active, unsubbed)

	t.Run("active subscriber gets a link", func(t *testing.T) {
		err := f.service.SignIn(context.Background(), "ADA@example.com")
		require.NoError(t, err)
		require.Len(t, f.notifier.links, 1)
		assert.Equal(t, "sub-1", f.notifier.links[0].subscriberID)
	})

	t.Run("unknown email succeeds silently", func(t *testing.T) {
		before := len(f.notifier.links)
		err := f.service.SignIn(context.Background(), "nobody@example.com")
		require.NoError(t, err)
		assert.Len(t, f.notifier.links, before)
	})

	t.Run("unsubscribed email succeeds silently", func(t *testing.T) {
		before := len(f.notifier.links)
		err := f.service.SignIn(context.Background(), "grace@example.com")
		require.NoError(t, err)
		assert.Len(t, f.notifier.links, before)
	})
}

func TestService_VerifyMagicLink_ActivatesPending(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	got, session, err := f.service.VerifyMagicLink(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Nil(t, got.MagicLinkToken)
	assert.NotNil(t, got.MagicLinkUsedAt)
	assert.Equal(t, []string{"sub-1"}, f.notifier.welcomed)

	claims, err := f.tokens.VerifySession(session)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.SubscriberID())
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestService_VerifyMagicLink_SingleUse(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	_, _, err := f.service.VerifyMagicLink(context.Background(), raw)
	require.NoError(t, err)

	_, _, err = f.service.VerifyMagicLink(context.Background(), raw)
	assert.ErrorIs(t, err, ErrLinkInvalid, "a consumed link never verifies again")
}

func TestService_VerifyMagicLink_RepeatSignIn(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	sub.Status = domain.StatusActive
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	got, session, err := f.service.VerifyMagicLink(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, got.Status)
	assert.NotEmpty(t, session)
	assert.Empty(t, f.notifier.welcomed, "welcome is only sent on first activation")
}

func TestService_VerifyMagicLink_UnsubscribedRejected(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	sub.Status = domain.StatusUnsubscribed

	_, _, err := f.service.VerifyMagicLink(context.Background(), raw)
	assert.ErrorIs(t, err, subscribers.ErrInvalidStateTransition)
}

func TestService_VerifyMagicLink_EmailChanged(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	// An administrator re-pointed the record at a different address; links
	// minted for the old one must die.
	sub.Email = "other@example.com"

	_, _, err := f.service.VerifyMagicLink(context.Background(), raw)
	assert.ErrorIs(t, err, ErrLinkInvalid)
}

func TestService_VerifyMagicLink_RecordExpiry(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	require.NoError(t, f.service.IssueMagicLink(context.Background(), sub))
	raw := f.notifier.links[0].token

	past := time.Now().Add(-time.Minute)
	sub.MagicLinkTokenExpiry = &past

	_, _, err := f.service.VerifyMagicLink(context.Background(), raw)
	assert.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestService_VerifyMagicLink_BadTokens(t *testing.T) {
	sub := pendingSubscriber("sub-1", "ada@example.com")
	f := newIdentityFixture(sub)

	t.Run("garbage", func(t *testing.T) {
		_, _, err := f.service.VerifyMagicLink(context.Background(), "not.a.jwt")
		assert.ErrorIs(t, err, token.ErrTokenMalformed)
	})

	t.Run("session token is not a magic link", func(t *testing.T) {
		session, _, err := f.tokens.GenerateSession("sub-1", "ada@example.com")
		require.NoError(t, err)

		_, _, err = f.service.VerifyMagicLink(context.Background(), session)
		assert.ErrorIs(t, err, token.ErrWrongTokenType)
	})

	t.Run("valid token for deleted subscriber", func(t *testing.T) {
		link, _, err := f.tokens.GenerateMagicLink("gone", "gone@example.com")
		require.NoError(t, err)

		_, _, err = f.service.VerifyMagicLink(context.Background(), link)
		assert.ErrorIs(t, err, ErrLinkInvalid)
	})
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 64)
}
