package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// envelope builds a generateContent response carrying text.
func envelope(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

// newTestClient returns a client against srv that records backoff waits
// instead of sleeping.
func newTestClient(srv *httptest.Server, waits *[]time.Duration) *Client {
	c := NewClient("test-key", WithBaseURL(srv.URL), WithModel("test-model"))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return c
}

func testRequest() Request {
	return Request{
		System: "you are a test",
		Prompt: "say hi",
		Schema: Object(map[string]*Schema{"greeting": String("")}, "greeting"),
	}
}

func TestGenerate_RequestShape(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, envelope(`{"greeting":"hi"}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	req := testRequest()
	req.Temperature = Temperature(0.7)

	text, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"greeting":"hi"}` {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/test-model:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("key = %q, want test-key", gotKey)
	}

	cfg, ok := gotBody["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("generationConfig missing: %v", gotBody)
	}
	if cfg["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", cfg["responseMimeType"])
	}
	if cfg["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", cfg["temperature"])
	}
	schema, ok := cfg["responseSchema"].(map[string]any)
	if !ok || schema["type"] != "OBJECT" {
		t.Errorf("responseSchema = %v", cfg["responseSchema"])
	}
	sys, ok := gotBody["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatalf("systemInstruction missing")
	}
	parts := sys["parts"].([]any)
	if parts[0].(map[string]any)["text"] != "you are a test" {
		t.Errorf("system text = %v", parts[0])
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestGenerate_OmitsTemperatureWhenUnset(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		fmt.Fprint(w, envelope(`{}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	if _, err := newTestClient(srv, &waits).Generate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(raw, "temperature") {
		t.Errorf("body contains temperature: %s", raw)
	}
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, envelope(`{"greeting":"hi"}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	if _, err := c.Generate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := attempt.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestGenerate_ExhaustsAfterFiveAttempts(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := attempt.Load(); got != 5 {
		t.Errorf("attempts = %d, want 5", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestGenerate_ConnectionRefusedIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(waits) != 4 {
		t.Errorf("waits = %d, want 4", len(waits))
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestGenerate_EmptyCandidatesNotRetried(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if got := attempt.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestGenerate_NoCredential(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if attempt.Load() != 0 {
		t.Error("server was called without a credential")
	}
}

func TestGenerateJSON_Malformed(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		fmt.Fprint(w, envelope(`not json at all`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := newTestClient(srv, &waits)

	var out map[string]string
	raw, err := c.GenerateJSON(context.Background(), testRequest(), &out)
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
	var me *MalformedOutputError
	if !errors.As(err, &me) || me.Raw != "not json at all" {
		t.Errorf("MalformedOutputError.Raw = %v", me)
	}
	if raw != "not json at all" {
		t.Errorf("raw = %q", raw)
	}
	if attempt.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempt.Load())
	}
}

func TestGenerate_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient("test-key", WithBaseURL(srv.URL), WithBackoffBase(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(ctx, testRequest())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
}

func TestGenerate_PerAttemptTimeout(t *testing.T) {
	var attempt atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprint(w, envelope(`{"greeting":"late"}`))
	}))
	defer srv.Close()
	defer close(release)

	var waits []time.Duration
	c := newTestClient(srv, &waits)
	c.timeout = 50 * time.Millisecond

	text, err := c.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"greeting":"late"}` {
		t.Errorf("text = %q", text)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("waits = %v, want [1s]", waits)
	}
}

func TestSchema_Serialization(t *testing.T) {
	s := Object(map[string]*Schema{
		"items": ArrayOf(String("")),
		"flag":  Enum("Oui", "Non"),
	}, "items", "flag")

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	json.Unmarshal(b, &got)

	if got["type"] != "OBJECT" {
		t.Errorf("type = %v", got["type"])
	}
	props := got["properties"].(map[string]any)
	items := props["items"].(map[string]any)
	if items["type"] != "ARRAY" || items["items"].(map[string]any)["type"] != "STRING" {
		t.Errorf("items = %v", items)
	}
	flag := props["flag"].(map[string]any)
	if enum := flag["enum"].([]any); len(enum) != 2 || enum[0] != "Oui" {
		t.Errorf("enum = %v", flag["enum"])
	}
	if _, ok := got["description"]; ok {
		t.Error("empty description should be omitted")
	}
}
