package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestOpenAIChat(t *testing.T) {
	var got map[string]interface{}
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"c1","model":"gpt-test","choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{"total_tokens":5}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "oa", Endpoint: srv.URL + "/", APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:         []Message{{Role: RoleSystem, Content: "plan"}, {Role: RoleUser, Content: "todo"}},
		Temperature:      2,
		TopK:             64,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "done" || resp.Usage.TotalTokens != 5 {
		t.Errorf("response = %+v", resp)
	}
	if gotAuth != "Bearer k" || gotPath != "/chat/completions" {
		t.Errorf("auth = %q path = %q", gotAuth, gotPath)
	}
	if got["model"] != defaultOpenAIModel {
		t.Errorf("model = %v", got["model"])
	}
	if got["temperature"] != 2.0 {
		t.Errorf("temperature = %v", got["temperature"])
	}
	if _, ok := got["top_k"]; ok {
		t.Errorf("top_k must not be sent")
	}
	if rf, _ := got["response_format"].(map[string]interface{}); rf["type"] != "json_object" {
		t.Errorf("response_format = %v", got["response_format"])
	}
}

func TestOpenAIChat_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","refusal":"cannot help"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "oa", Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Fatal("expected refusal error")
	}
}

func TestOpenAIChat_APIErrorIsTruncated(t *testing.T) {
	big := make([]byte, maxErrorBody*2)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write(big)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "oa", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || len(apiErr.Body) != maxErrorBody {
		t.Errorf("status = %d body len = %d", apiErr.Status, len(apiErr.Body))
	}
}
