//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/mailloop/mailloop/internal/testutil"
	"github.com/stretchr/testify/require"
)

// magicLinkTokenPattern matches the token query parameter inside a sign-in
// link.
var magicLinkTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9._~%+-]+)`)

// resetMailbox clears the Mailpit inbox so recipient searches only see mail
// produced by the current test.
func resetMailbox(t *testing.T) {
	t.Helper()
	drainOutbox(t)
	require.NoError(t, mailpitClient.DeleteAllMessages())
}

// subscribeEmail subscribes an address and returns the new subscriber ID.
func subscribeEmail(t *testing.T, client *testutil.Client, email, name string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/subscribe", map[string]string{
		"email": email,
		"name":  name,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Subscriber struct {
			ID     string `json:"id"`
			Status string `json:"subscription_status"`
		} `json:"subscriber"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Subscriber.ID)
	return result.Subscriber.ID
}

// waitForMagicLinkToken waits for a sign-in email to the given address and
// extracts the magic-link token from its body. The message is deleted
// implicitly on the next resetMailbox.
func waitForMagicLinkToken(t *testing.T, email string) string {
	t.Helper()

	messages, err := mailpitClient.WaitForRecipientMessages(email, 1, 10*time.Second)
	require.NoError(t, err)

	// The newest message is first; find the sign-in one.
	for _, summary := range messages {
		if summary.Subject != "Your sign-in link" {
			continue
		}
		msg, err := mailpitClient.GetMessageByID(summary.ID)
		require.NoError(t, err)

		match := magicLinkTokenPattern.FindStringSubmatch(msg.Text)
		require.NotNil(t, match, "no magic-link token in email body: %s", msg.Text)

		token, err := url.QueryUnescape(match[1])
		require.NoError(t, err)
		return token
	}

	t.Fatalf("no sign-in email for %s", email)
	return ""
}

// activateSubscriber walks the full double opt-in flow: subscribe, pick the
// magic link out of the mail, redeem it. The client ends up with an
// authenticated session. Returns the subscriber ID.
func activateSubscriber(t *testing.T, client *testutil.Client, email, name string) string {
	t.Helper()

	id := subscribeEmail(t, client, email, name)
	drainOutbox(t)
	token := waitForMagicLinkToken(t, email)
	client.VerifyMagicLink(t, token)
	return id
}

// newAdminClient returns a client authenticated with the administrator key.
func newAdminClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	client.AuthenticateAsAdmin(testAdminKey)
	return client
}

// subscriberStatus reads a subscriber's status straight from the database.
func subscriberStatus(t *testing.T, id string) string {
	t.Helper()

	var status string
	err := testDB.QueryRow(context.Background(),
		`SELECT status FROM subscribers WHERE id = $1`, id,
	).Scan(&status)
	require.NoError(t, err)
	return status
}
