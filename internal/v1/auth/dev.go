package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

// DevVerifier is a development-only verifier. It accepts tokens shaped
// "dev_<userID>_<name>" and, as a fallback, decodes JWT payloads without
// verifying the signature so frontends can reuse real provider tokens
// against a local server.
type DevVerifier struct{}

// Verify implements types.TokenValidator.
func (d *DevVerifier) Verify(tokenString string) (*types.Identity, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	if rest, ok := strings.CutPrefix(tokenString, "dev_"); ok {
		userID, name, found := strings.Cut(rest, "_")
		if !found || userID == "" {
			return nil, errors.New("dev token must be shaped dev_<userID>_<name>")
		}
		return &types.Identity{UserID: userID, DisplayName: name}, nil
	}

	// Fallback: decode the payload of a JWT without verifying so the
	// clientId matches between frontend and backend.
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errors.New("token is neither a dev token nor a JWT")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("failed to decode JWT payload")
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.New("failed to parse JWT payload")
	}

	id := &types.Identity{}
	if sub, ok := claims["sub"].(string); ok {
		id.UserID = sub
	}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if pic, ok := claims["picture"].(string); ok {
		id.PhotoURL = pic
	}
	if id.UserID == "" {
		return nil, errors.New("JWT payload has no sub claim")
	}

	logging.Warn(context.Background(), "DevVerifier accepted unverified JWT")
	return id, nil
}

// StubVerifier accepts any non-empty token and echoes it back as the user ID.
// Test use only.
type StubVerifier struct {
	// Identities optionally maps tokens to fixed identities.
	Identities map[string]types.Identity
}

// Verify implements types.TokenValidator.
func (s *StubVerifier) Verify(tokenString string) (*types.Identity, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	if s.Identities != nil {
		if id, ok := s.Identities[tokenString]; ok {
			return &id, nil
		}
	}
	return &types.Identity{UserID: tokenString}, nil
}
