// Package grant mints and checks the signed room authorizations handed to
// participants. Issuance is stateless; uniqueness of generated names rests on
// the uuid entropy, not on any cross-request coordination.
package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/voicesell/bridge/internal/domain"
)

var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrSigning              = errors.New("token signing failed")
)

// VideoGrant is the room permission claim embedded in every token.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type Claims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Agent bool       `json:"agent,omitempty"`
	Video VideoGrant `json:"video"`
}

// Issuer signs authorization grants scoped to one room and one identity.
type Issuer struct {
	apiKey    string
	apiSecret string
	wsURL     string
	ttl       time.Duration
}

func NewIssuer(apiKey, apiSecret, wsURL string, ttl time.Duration) *Issuer {
	return &Issuer{apiKey: apiKey, apiSecret: apiSecret, wsURL: wsURL, ttl: ttl}
}

// Issue generates a fresh room name and participant identity for the tenant
// and signs a token authorizing exactly {join, publish, subscribe} on them.
// Nothing user-supplied reaches the claims.
func (i *Issuer) Issue(tenant domain.TenantConfig) (*domain.AuthorizationGrant, error) {
	room := domain.RoomName(fmt.Sprintf("%s_voice_assistant_room_%s", tenant.RoomPrefix, uuid.NewString()))
	identity := domain.ParticipantIdentity("voice_assistant_user_" + uuid.NewString())
	return i.issueFor(identity, room, tenant.CompanyName+" User", false)
}

// IssueFor signs a grant for a known identity joining a known room. Used to
// admit the agent participant into an already-named session room.
func (i *Issuer) IssueFor(identity domain.ParticipantIdentity, room domain.RoomName, name string, agent bool) (*domain.AuthorizationGrant, error) {
	return i.issueFor(identity, room, name, agent)
}

func (i *Issuer) issueFor(identity domain.ParticipantIdentity, room domain.RoomName, name string, agent bool) (*domain.AuthorizationGrant, error) {
	if i.apiKey == "" || i.apiSecret == "" || i.wsURL == "" {
		return nil, ErrMissingConfiguration
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   string(identity),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:  name,
		Agent: agent,
		Video: VideoGrant{
			Room:         string(room),
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.apiSecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return &domain.AuthorizationGrant{
		Token:    signed,
		Room:     room,
		Identity: identity,
		Endpoint: i.wsURL,
		Grants:   domain.GrantSet{Join: true, Publish: true, Subscribe: true},
	}, nil
}

// PeekClaims decodes a token's claims without verifying the signature.
// Client-side only: the client holds the token it was just issued and needs
// its own identity and room out of it. Never use this to admit anyone.
func PeekClaims(tokenString string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return &claims, nil
}
