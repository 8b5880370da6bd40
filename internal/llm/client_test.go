package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatCompletionSendsJSONModeAndTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3.2",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"command\": \"ls\"}"}
			}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "ollama", "llama3.2")
	resp, err := c.ChatCompletion(context.Background(), []Message{
		SystemMessage("be terse"),
		UserMessage("list files"),
	}, CompletionOptions{Temperature: Float(0), JSONMode: true})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if resp.Message.Content != `{"command": "ls"}` {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Message.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", resp.Message.Role)
	}

	if got["model"] != "llama3.2" {
		t.Errorf("model = %v, want llama3.2", got["model"])
	}
	if temp, ok := got["temperature"].(float64); !ok || temp != 0 {
		t.Errorf("temperature = %v, want 0", got["temperature"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", got["response_format"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "", "m")
	if _, err := c.ChatCompletion(context.Background(), []Message{UserMessage("hi")}, CompletionOptions{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models": [{"name": "llama3.2:latest", "size": 2019393189, "modified_at": "2024-10-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "", "")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2:latest" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModelsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "", "")
	if _, err := c.ListModels(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	c := NewAnthropicClient("", "key", "claude-sonnet-4-5")
	params := c.buildParams([]Message{
		SystemMessage("sys"),
		UserMessage("hello"),
	}, CompletionOptions{Temperature: Float(0)})

	if string(params.Model) != "claude-sonnet-4-5" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max tokens = %d, want %d", params.MaxTokens, defaultAnthropicMaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(params.Messages))
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0 {
		t.Errorf("temperature not set to 0")
	}
}
