package invites

import (
	"strings"
	"testing"
)

func TestTokenQueryMatchesCredentialsSchema(t *testing.T) {
	// scheduling-service owns calendar_credentials and stores the token
	// expiration in a column named expiry. A drift here fails every invite
	// lookup at runtime.
	if !strings.Contains(tokenQuery, "expiry") {
		t.Fatalf("token query must read the expiry column: %s", tokenQuery)
	}
	if strings.Contains(tokenQuery, "expires_at") {
		t.Fatalf("token query references a column the schema does not have: %s", tokenQuery)
	}
	if !strings.Contains(tokenQuery, "calendar_credentials") {
		t.Fatalf("token query must read calendar_credentials: %s", tokenQuery)
	}
}
