package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voicesell/bridge/internal/domain"
)

func connectedManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	source := &stubSource{grants: []*domain.AuthorizationGrant{testGrant("1")}}
	transport := &fakeTransport{autoConnect: true}
	m := NewManager(source, transport)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, m, StateConnected)
	return m, transport
}

func TestBridge_SubmitNotConnected(t *testing.T) {
	m := NewManager(&stubSource{}, &fakeTransport{})
	b := NewBridge(m, time.Second)

	_, err := b.Submit(context.Background(), domain.LeadFormPayload{"name": "a"}, "agent")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Submit() error = %v, want ErrNotConnected", err)
	}
}

func TestBridge_Submit(t *testing.T) {
	m, transport := connectedManager(t)
	conn := transport.lastConn()
	conn.perform = func(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error) {
		return "SUCCESS", nil
	}
	b := NewBridge(m, time.Second)

	payload := domain.LeadFormPayload{"name": "Ada", "email": "ada@example.com", "interest": "sedan"}
	result, err := b.Submit(context.Background(), payload, "agent-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if result != "SUCCESS" {
		t.Errorf("result = %q, want SUCCESS", result)
	}

	if conn.callCount() != 1 {
		t.Fatalf("PerformRPC calls = %d, want 1", conn.callCount())
	}
	call := conn.calls[0]
	if call.To != "agent-1" {
		t.Errorf("To = %s", call.To)
	}
	if call.Method != MethodSubmitLeadForm {
		t.Errorf("Method = %s", call.Method)
	}
	var got map[string]any
	if err := json.Unmarshal(call.Payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["name"] != "Ada" || got["email"] != "ada@example.com" || got["interest"] != "sedan" {
		t.Errorf("payload = %v", got)
	}
}

func TestBridge_SingleInFlight(t *testing.T) {
	m, transport := connectedManager(t)
	conn := transport.lastConn()

	entered := make(chan struct{})
	release := make(chan struct{})
	conn.perform = func(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error) {
		close(entered)
		<-release
		return "SUCCESS", nil
	}
	b := NewBridge(m, 5*time.Second)

	firstDone := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 1}, "agent")
		firstDone <- err
	}()
	<-entered

	if _, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 2}, "agent"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("overlapping Submit() error = %v, want ErrRequestInFlight", err)
	}
	if conn.callCount() != 1 {
		t.Errorf("PerformRPC calls = %d, want 1 (rejection must not reach the transport)", conn.callCount())
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	// The slot is free again.
	conn.perform = nil
	if _, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 3}, "agent"); err != nil {
		t.Errorf("follow-up Submit() error = %v", err)
	}
}

func TestBridge_Timeout(t *testing.T) {
	m, transport := connectedManager(t)
	conn := transport.lastConn()
	conn.perform = func(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	b := NewBridge(m, 20*time.Millisecond)

	_, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 1}, "agent")
	if !errors.Is(err, ErrRPCTimeout) {
		t.Fatalf("Submit() error = %v, want ErrRPCTimeout", err)
	}

	// A timed-out call releases the slot; the next submission is accepted.
	conn.perform = nil
	if _, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 2}, "agent"); err != nil {
		t.Errorf("Submit() after timeout error = %v", err)
	}
}

func TestBridge_RemoteError(t *testing.T) {
	m, transport := connectedManager(t)
	transport.lastConn().perform = func(ctx context.Context, to domain.ParticipantIdentity, method string, payload []byte) (string, error) {
		return "", &RemoteError{Message: "webhook rejected payload"}
	}
	b := NewBridge(m, time.Second)

	_, err := b.Submit(context.Background(), domain.LeadFormPayload{"n": 1}, "agent")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Submit() error = %v, want *RemoteError", err)
	}
	if re.Message != "webhook rejected payload" {
		t.Errorf("Message = %q", re.Message)
	}
}

func TestBridge_InboundRejectedWhenNotConnected(t *testing.T) {
	m, transport := connectedManager(t)
	b := NewBridge(m, time.Second)

	called := false
	b.HandleInbound(MethodDisplayForm, func(ctx context.Context, payload []byte) (string, error) {
		called = true
		return "SHOWN", nil
	})

	conn := transport.lastConn()
	h := conn.handler(MethodDisplayForm)
	if h == nil {
		t.Fatal("handler not registered on live connection")
	}

	if result, err := h(context.Background(), []byte(`{"name":"Ada"}`)); err != nil || result != "SHOWN" {
		t.Fatalf("inbound while connected = (%q, %v)", result, err)
	}
	if !called {
		t.Fatal("handler not invoked")
	}

	m.End()
	waitState(t, m, StateDisconnected)

	called = false
	if _, err := h(context.Background(), []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("inbound while disconnected error = %v, want ErrNotConnected", err)
	}
	if called {
		t.Error("handler invoked outside Connected")
	}
}

func TestBridge_InboundBoundOnReconnect(t *testing.T) {
	source := &stubSource{grants: []*domain.AuthorizationGrant{testGrant("1"), testGrant("2")}}
	transport := &fakeTransport{autoConnect: true}
	m := NewManager(source, transport)
	b := NewBridge(m, time.Second)

	b.HandleInbound(MethodDisplayForm, func(ctx context.Context, payload []byte) (string, error) {
		return "SHOWN", nil
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitState(t, m, StateConnected)
	if transport.lastConn().handler(MethodDisplayForm) == nil {
		t.Fatal("handler missing on first connection")
	}

	m.End()
	waitState(t, m, StateDisconnected)
	m.Reset()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	waitState(t, m, StateConnected)
	if transport.lastConn().handler(MethodDisplayForm) == nil {
		t.Fatal("handler missing on second connection")
	}
}
