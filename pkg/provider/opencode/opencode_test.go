package opencode

import (
	"context"
	"strings"
	"testing"

	sdk "github.com/sst/opencode-sdk-go"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.OpenCodeProviderConfig{}, providertypes.Options{ModelID: "anthropic/claude"})
	if err == nil {
		t.Fatal("expected error when base_url is missing")
	}
}

func TestNewRequiresModelRef(t *testing.T) {
	_, err := New(config.OpenCodeProviderConfig{BaseURL: "http://127.0.0.1:4096"}, providertypes.Options{ModelID: "claude"})
	if err == nil {
		t.Fatal("expected error for model without provider")
	}
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	adapter, err := New(config.OpenCodeProviderConfig{BaseURL: "http://127.0.0.1:4096"}, providertypes.Options{ModelID: "anthropic/claude"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := adapter.Run(context.Background(), providertypes.Request{Prompt: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOK     bool
		wantProvID string
		wantModel  string
	}{
		{name: "valid", input: "openai/gpt-5.2", wantOK: true, wantProvID: "openai", wantModel: "gpt-5.2"},
		{name: "nested model path", input: "openrouter/meta/llama", wantOK: true, wantProvID: "openrouter", wantModel: "meta/llama"},
		{name: "missing slash", input: "gpt-5.2", wantOK: false},
		{name: "empty provider", input: "/gpt-5.2", wantOK: false},
		{name: "empty model", input: "openai/", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provID, modelID, ok := parseModelRef(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if provID != tt.wantProvID {
				t.Fatalf("providerID = %q, want %q", provID, tt.wantProvID)
			}
			if modelID != tt.wantModel {
				t.Fatalf("modelID = %q, want %q", modelID, tt.wantModel)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	parts := []sdk.Part{
		{Type: sdk.PartTypeReasoning, Text: "should be ignored"},
		{Type: sdk.PartTypeText, Text: "  first line  "},
		{Type: sdk.PartTypeText, Text: ""},
		{Type: sdk.PartTypeText, Text: "second line"},
	}

	got := extractText(parts)
	if got != "first line\nsecond line" {
		t.Fatalf("extractText() = %q", got)
	}
}

func TestBuildBasicAuthHeader(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD", "secret")

	header, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{
		Username:    "relay",
		PasswordEnv: "TEST_OPENCODE_PASSWORD",
	})
	if !ok {
		t.Fatal("expected basic auth header")
	}
	if !strings.HasPrefix(header, "Basic ") {
		t.Fatalf("unexpected header prefix: %q", header)
	}
}

func TestBuildBasicAuthHeaderMissingEnvValue(t *testing.T) {
	t.Setenv("TEST_OPENCODE_PASSWORD_EMPTY", "")

	_, ok := buildBasicAuthHeader(config.OpenCodeProviderConfig{
		PasswordEnv: "TEST_OPENCODE_PASSWORD_EMPTY",
	})
	if ok {
		t.Fatal("expected no basic auth header")
	}
}
