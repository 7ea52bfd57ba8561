package httpclient

import (
	"context"
	"testing"
)

func TestTestClientPopsLastFirst(t *testing.T) {
	client := NewTest("first", "second")

	got, err := client.Send(context.Background(), Request{Method: Get, URL: "http://x/1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q (last reply consumed first)", got, "second")
	}

	got, err = client.Send(context.Background(), Request{Method: Get, URL: "http://x/2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}
}

func TestTestClientExhausted(t *testing.T) {
	client := NewTest()
	_, err := client.Send(context.Background(), Request{Method: Get, URL: "http://x"})
	if err == nil {
		t.Fatal("expected ClientError when replies are exhausted")
	}
}

func TestTestClientIsTesting(t *testing.T) {
	if !NewTest().IsTesting() {
		t.Error("Test client should report IsTesting() == true")
	}
	if NewReal().IsTesting() {
		t.Error("Real client should report IsTesting() == false")
	}
}
