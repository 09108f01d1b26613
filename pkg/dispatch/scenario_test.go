package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/failure"
	providertypes "turnrelay/pkg/provider/types"
	"turnrelay/pkg/retrieval"
)

func TestScenarioInternalWithoutEvidenceKeepsPrompt(t *testing.T) {
	h := newHarness(t, map[string]behaviour{
		"plain": {tokens: []providertypes.Token{providertypes.TextToken("ok")}},
	}, withResolver(staticRetriever{}, staticSearcher{}))

	result := h.dispatcher.Process(context.Background(), []bus.Record{
		record(t, "r1", runEvent(t, "u1", chat.RunPayload{
			ModelName:  "plain",
			Text:       "What is the capital of France?",
			SourceMode: "internal",
			SessionID:  "s1",
		})),
	})
	require.Empty(t, result.Report.FailedIDs)

	finals := h.recorder.ByAction(chat.NotifyFinalResponse)
	require.Len(t, finals, 1)
	response := finalResponse(t, finals[0])
	require.Equal(t, "What is the capital of France?", response.Metadata.Prompt)
	require.NotContains(t, response.Metadata.Prompt, "##")
	require.Equal(t, "u1", finals[0].UserID)
}

func TestScenarioHybridOrdersInternalBeforeWeb(t *testing.T) {
	internal := staticRetriever{items: []chat.ContextItem{{Title: "Policy handbook", Snippet: "Remote work is allowed"}}}
	web := staticSearcher{items: []chat.ContextItem{{Title: "News article", URL: "https://example.com/news"}}}
	h := newHarness(t, map[string]behaviour{"plain": {}}, withResolver(internal, web))

	result := h.dispatcher.Process(context.Background(), []bus.Record{
		record(t, "r1", runEvent(t, "u1", chat.RunPayload{
			ModelName:  "plain",
			Text:       "Can I work remotely?",
			SourceMode: "hybrid",
			SessionID:  "s1",
		})),
	})
	require.Empty(t, result.Report.FailedIDs)

	prompt := finalResponse(t, h.recorder.ByAction(chat.NotifyFinalResponse)[0]).Metadata.Prompt
	internalAt := strings.Index(prompt, "## "+retrieval.InternalBlockTitle)
	webAt := strings.Index(prompt, "## "+retrieval.WebBlockTitle)
	questionAt := strings.Index(prompt, retrieval.UserQuestionHeader+"\nCan I work remotely?")

	require.GreaterOrEqual(t, internalAt, 0)
	require.Greater(t, webAt, internalAt)
	require.Greater(t, questionAt, webAt)
	require.Equal(t, 2, strings.Count(prompt, "[1] "))
	require.NotContains(t, prompt, "[2] ")
	require.Contains(t, prompt, "URL: https://example.com/news")
	require.Contains(t, prompt, "Notes: Remote work is allowed")
}

func TestScenarioHeartbeatSkipsModel(t *testing.T) {
	h := newHarness(t, nil)

	result := h.dispatcher.Process(context.Background(), []bus.Record{
		record(t, "r1", chat.Event{Action: "HEARTBEAT", UserID: "u1", Data: json.RawMessage(`{"sessionId":"s-hb"}`)}),
	})
	require.Equal(t, []string{"r1"}, result.Report.SucceededIDs)

	heartbeats := h.recorder.ByAction(chat.NotifyHeartbeat)
	require.Len(t, heartbeats, 1)
	require.Equal(t, "u1", heartbeats[0].UserID)
	require.Equal(t, chat.SessionData{SessionID: "s-hb"}, heartbeats[0].Data)
	require.Len(t, h.recorder.Notifications(), 1)
	require.Empty(t, h.requests.all())
}

func TestScenarioUnknownAdapterSendsFallback(t *testing.T) {
	h := newHarness(t, nil)

	event := runEvent(t, "u9", chat.RunPayload{Provider: "nope", ModelName: "missing-model", Text: "hi", SessionID: "s9"})
	result := h.dispatcher.Process(context.Background(), []bus.Record{record(t, "r1", event)})

	require.Len(t, result.Outcomes, 1)
	require.Equal(t, bus.StatusFail, result.Outcomes[0].Status)
	require.Contains(t, result.Outcomes[0].Error, "nope.missing-model")

	errs := h.recorder.ByAction(chat.NotifyError)
	require.Len(t, errs, 1)
	require.Equal(t, "u9", errs[0].UserID)
	data := errs[0].Data.(chat.ErrorData)
	require.Equal(t, "s9", data.SessionID)
	require.Equal(t, failure.FallbackMessage, data.Content)
	require.NotContains(t, data.Content, "adapter not found")
	require.Empty(t, h.recorder.ByAction(chat.NotifyFinalResponse))
}
