package orchestrator

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/cascadefs/waterfall/internal/errors"
)

// OAuthCredentialStore refreshes a bearer token through an oauth2.TokenSource
// before handing it to the uploader pool, so a long-running upload outlives
// a short-lived access token.
type OAuthCredentialStore struct {
	source    oauth2.TokenSource
	channelID string
	tier      Tier
}

// NewOAuthCredentialStore wraps source (typically
// oauth2.Config.TokenSource or a cached oauth2.ReuseTokenSource) as a
// CredentialStore for one chat channel and tier.
func NewOAuthCredentialStore(source oauth2.TokenSource, channelID string, tier Tier) *OAuthCredentialStore {
	return &OAuthCredentialStore{source: source, channelID: channelID, tier: tier}
}

// Credential returns the current token, refreshing it first if expired.
func (s *OAuthCredentialStore) Credential(ctx context.Context) (Credential, error) {
	token, err := s.source.Token()
	if err != nil {
		return Credential{}, errors.Wrap(err, "oauth2 token refresh")
	}

	return Credential{
		Token:     token.AccessToken,
		ChannelID: s.channelID,
		Tier:      s.tier,
	}, nil
}

// StaticCredentialStore is a fixed, non-expiring credential — used for
// self-hosted deployments (the B2/S3/Azure transports) that have no OAuth2
// token to refresh.
type StaticCredentialStore struct {
	cred Credential
}

// NewStaticCredentialStore wraps a fixed credential.
func NewStaticCredentialStore(cred Credential) *StaticCredentialStore {
	return &StaticCredentialStore{cred: cred}
}

// Credential always returns the same value.
func (s *StaticCredentialStore) Credential(ctx context.Context) (Credential, error) {
	return s.cred, nil
}
