package inbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Visitor tokens are compact HMAC-signed blobs handed to the widget after
// StartConversation. They scope a visitor to a single conversation and are
// the only credential the public history endpoint accepts.

var (
	visitorTokenSecret []byte
	visitorTokenTTL    = 7 * 24 * time.Hour
)

func SetVisitorTokenSecret(secret string) {
	visitorTokenSecret = []byte(secret)
}

func SetVisitorTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		visitorTokenTTL = ttl
	}
}

// VisitorSession is the identity a verified visitor token resolves to.
type VisitorSession struct {
	ProjectID      string
	ConversationID string
	VisitorUID     string
}

// VerifyVisitorToken checks a widget-presented token and returns the
// identity it was issued to.
func VerifyVisitorToken(token string, now time.Time) (VisitorSession, error) {
	claims, err := verifyVisitorToken(token, now)
	if err != nil {
		return VisitorSession{}, err
	}
	return VisitorSession{
		ProjectID:      claims.ProjectID,
		ConversationID: claims.ConversationID,
		VisitorUID:     claims.VisitorUID,
	}, nil
}

type visitorTokenClaims struct {
	ProjectID      string `json:"projectId"`
	ConversationID string `json:"conversationId"`
	VisitorUID     string `json:"visitorUid"`
	IssuedAt       int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
}

func signVisitorToken(claims visitorTokenClaims) (string, error) {
	if len(visitorTokenSecret) == 0 {
		return "", errors.New("visitor token secret is not configured")
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode visitor token claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, visitorTokenSecret)
	mac.Write([]byte(encoded))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return encoded + "." + sig, nil
}

func verifyVisitorToken(token string, now time.Time) (visitorTokenClaims, error) {
	if len(visitorTokenSecret) == 0 {
		return visitorTokenClaims{}, errors.New("visitor token secret is not configured")
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return visitorTokenClaims{}, errors.New("malformed visitor token")
	}

	mac := hmac.New(sha256.New, visitorTokenSecret)
	mac.Write([]byte(parts[0]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return visitorTokenClaims{}, errors.New("invalid visitor token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return visitorTokenClaims{}, errors.New("malformed visitor token payload")
	}

	var claims visitorTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return visitorTokenClaims{}, errors.New("malformed visitor token payload")
	}

	if claims.ExpiresAt > 0 && now.Unix() > claims.ExpiresAt {
		return visitorTokenClaims{}, errors.New("visitor token expired")
	}

	return claims, nil
}
