package grant

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicesell/bridge/internal/domain"
)

var testTenant = domain.TenantConfig{
	CompanyName:   "Newport Beach Vacation Properties",
	RoomPrefix:    "newport",
	AgentIdentity: "newport-agent",
}

func TestIssuer_Issue(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost:8080/rtc", 15*time.Minute)

	g, err := issuer.Issue(testTenant)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if g.Token == "" {
		t.Error("Issue() returned an empty token")
	}
	if !strings.HasPrefix(string(g.Room), "newport_voice_assistant_room_") {
		t.Errorf("room name %q does not carry the tenant prefix", g.Room)
	}
	if !strings.HasPrefix(string(g.Identity), "voice_assistant_user_") {
		t.Errorf("identity %q does not carry the user prefix", g.Identity)
	}
	if g.Endpoint != "ws://localhost:8080/rtc" {
		t.Errorf("endpoint = %q", g.Endpoint)
	}
	if !g.Grants.Join || !g.Grants.Publish || !g.Grants.Subscribe {
		t.Errorf("grant set = %+v, want all true", g.Grants)
	}
}

func TestIssuer_MissingConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		issuer *Issuer
	}{
		{"no key", NewIssuer("", "secret", "ws://x", time.Minute)},
		{"no secret", NewIssuer("key", "", "ws://x", time.Minute)},
		{"no endpoint", NewIssuer("key", "secret", "", time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Issue(testTenant)
			if !errors.Is(err, ErrMissingConfiguration) {
				t.Errorf("Issue() error = %v, want ErrMissingConfiguration", err)
			}
		})
	}
}

func TestIssuer_UniqueNames(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)

	const n = 10000
	rooms := make(map[domain.RoomName]bool, n)
	identities := make(map[domain.ParticipantIdentity]bool, n)
	for i := 0; i < n; i++ {
		g, err := issuer.Issue(testTenant)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if rooms[g.Room] {
			t.Fatalf("duplicate room name after %d issuances: %s", i, g.Room)
		}
		if identities[g.Identity] {
			t.Fatalf("duplicate identity after %d issuances: %s", i, g.Identity)
		}
		rooms[g.Room] = true
		identities[g.Identity] = true
	}
}

func TestIssuer_UniqueNamesConcurrent(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)

	const workers = 8
	const perWorker = 250
	grants := make(chan *domain.AuthorizationGrant, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				g, err := issuer.Issue(testTenant)
				if err != nil {
					t.Errorf("Issue() error = %v", err)
					return
				}
				grants <- g
			}
		}()
	}
	wg.Wait()
	close(grants)

	rooms := make(map[domain.RoomName]bool)
	identities := make(map[domain.ParticipantIdentity]bool)
	for g := range grants {
		if rooms[g.Room] {
			t.Fatalf("duplicate room name: %s", g.Room)
		}
		if identities[g.Identity] {
			t.Fatalf("duplicate identity: %s", g.Identity)
		}
		rooms[g.Room] = true
		identities[g.Identity] = true
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)
	g, err := issuer.Issue(testTenant)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := NewVerifier("api-secret").Verify(g.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != string(g.Identity) {
		t.Errorf("sub = %q, want %q", claims.Subject, g.Identity)
	}
	if claims.Video.Room != string(g.Room) {
		t.Errorf("video.room = %q, want %q", claims.Video.Room, g.Room)
	}
	if !claims.Video.RoomJoin || !claims.Video.CanPublish || !claims.Video.CanSubscribe {
		t.Errorf("video grant = %+v, want all true", claims.Video)
	}
	if claims.Agent {
		t.Error("human grant marked as agent")
	}
}

func TestVerifier_Rejections(t *testing.T) {
	_ = NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)
	verifier := NewVerifier("api-secret")

	t.Run("wrong secret", func(t *testing.T) {
		other := NewIssuer("api-key", "other-secret", "ws://localhost/rtc", time.Minute)
		g, err := other.Issue(testTenant)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if _, err := verifier.Verify(g.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := verifier.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", -time.Minute)
		g, err := expired.Issue(testTenant)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if _, err := verifier.Verify(g.Token); !errors.Is(err, ErrExpiredToken) {
			t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
		}
	})
}

func TestIssuer_IssueForAgent(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)

	g, err := issuer.IssueFor("newport-agent", "newport_voice_assistant_room_x", "Agent", true)
	if err != nil {
		t.Fatalf("IssueFor() error = %v", err)
	}
	claims, err := NewVerifier("api-secret").Verify(g.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !claims.Agent {
		t.Error("agent grant not marked as agent")
	}
	if claims.Video.Room != "newport_voice_assistant_room_x" {
		t.Errorf("video.room = %q", claims.Video.Room)
	}
}

func TestPeekClaims(t *testing.T) {
	issuer := NewIssuer("api-key", "api-secret", "ws://localhost/rtc", time.Minute)
	g, err := issuer.Issue(testTenant)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := PeekClaims(g.Token)
	if err != nil {
		t.Fatalf("PeekClaims() error = %v", err)
	}
	if claims.Subject != string(g.Identity) {
		t.Errorf("sub = %q, want %q", claims.Subject, g.Identity)
	}

	if _, err := PeekClaims("garbage"); err == nil {
		t.Error("PeekClaims() accepted a garbage token")
	}
}
