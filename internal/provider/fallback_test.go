package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/conduitlabs/conduit/internal/wire"
)

// scriptedProvider returns queued results per Open call.
type scriptedProvider struct {
	name  string
	errs  []error // nil entry means success
	calls int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Open(_ context.Context, _ Request) (*Stream, error) {
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	if err != nil {
		return nil, err
	}
	return &Stream{
		Body:   io.NopCloser(strings.NewReader("")),
		Decode: func([]byte, func(wire.Event)) error { return nil },
	}, nil
}

func TestFallbackRetriesTransientThenSucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{
		&ProviderError{StatusCode: 503, Message: "overloaded"},
		nil,
	}}
	fallback := &scriptedProvider{name: "fallback"}

	p := WithFallback(primary, fallback)
	stream, err := p.Open(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.Close()

	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2 (one retry)", primary.calls)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called despite primary success")
	}
}

func TestFallbackUsedOnPersistentPrimaryFailure(t *testing.T) {
	auth := &ProviderError{StatusCode: 401, Message: "bad key"}
	primary := &scriptedProvider{name: "primary", errs: []error{auth}}
	fallback := &scriptedProvider{name: "fallback"}

	p := WithFallback(primary, fallback)
	stream, err := p.Open(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.Close()

	// Auth errors are not transient, so no retry before falling back.
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.calls)
	}
}

func TestFallbackNilFallbackReturnsPrimaryError(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{
		errors.New("connection refused"),
	}}

	p := WithFallback(primary, nil)
	_, err := p.Open(context.Background(), Request{})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
}

func TestFallbackErrorWhenBothFail(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{
		&ProviderError{StatusCode: 401, Message: "bad key"},
	}}
	fallback := &scriptedProvider{name: "fallback", errs: []error{
		&ProviderError{StatusCode: 500, Message: "boom"},
	}}

	p := WithFallback(primary, fallback)
	_, err := p.Open(context.Background(), Request{})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 500 {
		t.Fatalf("expected fallback's error, got %v", err)
	}
}
