package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Setenv(defaultAPIKeyEnv, "")

	if _, err := New(config.AzureProviderConfig{}, providertypes.Options{ModelID: "gpt4o"}); err == nil {
		t.Fatal("expected error without base url")
	}
	if _, err := New(config.AzureProviderConfig{BaseURL: "https://example.openai.azure.com"}, providertypes.Options{ModelID: "gpt4o"}); err == nil {
		t.Fatal("expected error without api key")
	}

	t.Setenv(defaultAPIKeyEnv, "key")
	if _, err := New(config.AzureProviderConfig{BaseURL: "https://example.openai.azure.com"}, providertypes.Options{}); err == nil {
		t.Fatal("expected error without model")
	}
}

func TestRunStreamsDeploymentTokens(t *testing.T) {
	t.Setenv(defaultAPIKeyEnv, "azure-key")

	type seenRequest struct{ path, key, version string }
	seen := make(chan seenRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{path: r.URL.Path, key: r.Header.Get("api-key"), version: r.URL.Query().Get("api-version")}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Good", " morning"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"x\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		_, _ = fmt.Fprint(w, "data: {\"id\":\"x\",\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	adapter, err := New(config.AzureProviderConfig{BaseURL: server.URL, APIVersion: "2024-10-21"}, providertypes.Options{
		ModelID:   "chat-deploy",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	var tokens []string
	adapter.SetTokenHandler(func(_ string, token providertypes.Token) {
		tokens = append(tokens, token.String())
	})

	response, err := adapter.Run(context.Background(), providertypes.Request{Prompt: "greet me"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	req := <-seen
	if !strings.Contains(req.path, "/openai/deployments/chat-deploy/chat/completions") {
		t.Fatalf("path = %q, want deployment path", req.path)
	}
	if req.key != "azure-key" {
		t.Fatalf("api-key header = %q", req.key)
	}
	if req.version != "2024-10-21" {
		t.Fatalf("api-version = %q", req.version)
	}
	if strings.Join(tokens, "|") != "Good| morning" {
		t.Fatalf("tokens = %v", tokens)
	}
	if response.Content != "Good morning" {
		t.Fatalf("content = %q", response.Content)
	}
	if response.Metadata.Usage == nil || response.Metadata.Usage.TotalTokens != 6 {
		t.Fatalf("usage = %+v, want total 6", response.Metadata.Usage)
	}
}
