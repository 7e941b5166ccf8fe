package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// DevVerifier accepts any email address as a credential and derives the
// user id "dev_" + hex(email). Local development only.
type DevVerifier struct{}

var _ interfaces.IdentityVerifier = DevVerifier{}

// NewDevVerifier returns a DevVerifier and logs a warning, since it trusts
// whatever the client claims.
func NewDevVerifier() DevVerifier {
	logrus.WithField("component", "identity").Warn("Development identity mode: credentials are not verified")
	return DevVerifier{}
}

// Verify implements interfaces.IdentityVerifier.
func (DevVerifier) Verify(_ context.Context, credential string) (string, error) {
	email := strings.TrimSpace(credential)
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: dev credential must be an email address", interfaces.ErrUnverified)
	}
	userID := DevUserID(email)
	if !types.IsValidUserID(userID) {
		return "", fmt.Errorf("%w: email too long", interfaces.ErrUnverified)
	}
	return userID, nil
}

// DevUserID maps an email to its development user id.
func DevUserID(email string) string {
	return "dev_" + hex.EncodeToString([]byte(email))
}
