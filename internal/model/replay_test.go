package model

import (
	"context"
	"errors"
	"testing"
)

func TestReplayModelReturnsScriptedResponsesInOrder(t *testing.T) {
	replay := NewReplayModelFromText("first", "second")

	first, err := replay.Query(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Text != "first" {
		t.Fatalf("expected first, got %q", first.Text)
	}

	second, err := replay.Query(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Text != "second" {
		t.Fatalf("expected second, got %q", second.Text)
	}

	if replay.Calls() != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", replay.Calls())
	}
}

func TestReplayModelExhaustionReturnsError(t *testing.T) {
	replay := NewReplayModelFromText("only")
	if _, err := replay.Query(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if _, err := replay.Query(context.Background(), Request{}); err == nil {
		t.Fatal("expected error once script is exhausted")
	}
}

func TestReplayModelFailNextInjectsError(t *testing.T) {
	replay := NewReplayModelFromText("after-failure")
	injected := errors.New("simulated outage")
	replay.FailNext(injected)

	_, err := replay.Query(context.Background(), Request{})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	resp, err := replay.Query(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if resp.Text != "after-failure" {
		t.Fatalf("expected after-failure, got %q", resp.Text)
	}
}
