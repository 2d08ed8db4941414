package pipeline

import (
	"context"
	"fmt"
	"testing"

	"ragchat/internal/adapters"
	"ragchat/internal/llm"
	"ragchat/internal/rag"
	"ragchat/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend drives one scripted response per call, keyed by call
// order, so tests can simulate the intent-classifier / evaluator /
// answer-generator sequence of a single pipeline run without a real LLM.
type scriptedBackend struct {
	chatResponses   []string
	chatErr         error
	streamResponses []string
	streamErr       error
	chatCalls       int
	streamCalls     int
}

func (b *scriptedBackend) Chat(_ context.Context, _ llm.LlmChatRequest) (llm.LlmChatResponse, error) {
	if b.chatErr != nil {
		return llm.LlmChatResponse{}, b.chatErr
	}
	idx := b.chatCalls
	b.chatCalls++
	if idx >= len(b.chatResponses) {
		return llm.LlmChatResponse{}, fmt.Errorf("scriptedBackend: no chat response scripted for call %d", idx)
	}
	return llm.LlmChatResponse{Content: b.chatResponses[idx]}, nil
}

func (b *scriptedBackend) StreamChat(_ context.Context, _ llm.LlmChatRequest, sink llm.StreamSink) error {
	if b.streamErr != nil {
		sink.OnError(b.streamErr)
		return b.streamErr
	}
	idx := b.streamCalls
	b.streamCalls++
	if idx >= len(b.streamResponses) {
		err := fmt.Errorf("scriptedBackend: no stream response scripted for call %d", idx)
		sink.OnError(err)
		return err
	}
	sink.OnChunk(b.streamResponses[idx], true)
	return nil
}

// recordingCallback captures every event for assertions on ordering.
type recordingCallback struct {
	events []string
	chunks []string
	errors []string
}

func (c *recordingCallback) OnPhaseStart(tag, label, detail string) {
	c.events = append(c.events, "start:"+tag)
}
func (c *recordingCallback) OnPhaseComplete(tag string) {
	c.events = append(c.events, "complete:"+tag)
}
func (c *recordingCallback) OnChunk(chunk string, done bool) {
	if chunk != "" {
		c.chunks = append(c.chunks, chunk)
	}
}
func (c *recordingCallback) OnError(tag, message string) {
	c.errors = append(c.errors, tag+": "+message)
}

func (c *recordingCallback) phaseTags() []string {
	var tags []string
	for _, e := range c.events {
		if len(e) > 6 && e[:6] == "start:" {
			tags = append(tags, e[6:])
		}
	}
	return tags
}

func newDocs(ids ...string) []adapters.Document {
	out := make([]adapters.Document, len(ids))
	for i, id := range ids {
		out[i] = adapters.Document{adapters.FieldDocID: id, adapters.FieldTitle: "Title " + id, adapters.FieldURL: "https://x/" + id, adapters.FieldContent: "content " + id}
	}
	return out
}

func TestOrchestrator_SearchHappyPath(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"search","query":"+Fess +Docker"}`, `{"has_relevant":true,"relevant_indexes":[1,3]}`},
		streamResponses: []string{"Install Fess. "},
	}
	facade := rag.NewFacade(backend)
	docs := newDocs("a", "b", "c")
	for _, d := range docs {
		d[adapters.FieldContent] += " Fess Docker"
	}
	search := adapters.NewMemorySearchAdapter(docs)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	sess, err := orch.Run(context.Background(), "", "", "How to install Fess on Docker", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"intent", "search", "evaluate", "fetch", "answer"}, cb.phaseTags())
	assert.Equal(t, "Install Fess. ", sess.Messages[1].Content)
	require.Len(t, sess.Messages[1].Sources, 2)
	assert.Equal(t, 1, sess.Messages[1].Sources[0].Index)
	assert.Equal(t, 2, sess.Messages[1].Sources[1].Index)
	assert.Empty(t, cb.errors)
}

func TestOrchestrator_Unclear(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"unclear"}`},
		streamResponses: []string{"Could you clarify what you mean?"},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(nil)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	sess, err := orch.Run(context.Background(), "", "", "hello", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"intent", "answer"}, cb.phaseTags())
	assert.Empty(t, sess.Messages[1].Sources)
}

func TestOrchestrator_SummaryURLFound(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"summary","url":"https://x/y"}`},
		streamResponses: []string{"Summary of the page."},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter([]adapters.Document{
		{adapters.FieldDocID: "doc1", adapters.FieldURL: "https://x/y", adapters.FieldTitle: "Y", adapters.FieldContent: "full content"},
	})
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	sess, err := orch.Run(context.Background(), "", "", "Summarize https://x/y", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"intent", "search", "fetch", "answer"}, cb.phaseTags())
	assert.Equal(t, "Summary of the page.", sess.Messages[1].Content)
}

func TestOrchestrator_SummaryURLMissing(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"summary","url":"https://x/missing"}`},
		streamResponses: []string{"I could not find that document."},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(nil)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	_, err := orch.Run(context.Background(), "", "", "Summarize https://x/missing", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"intent", "search", "answer"}, cb.phaseTags())
}

func TestOrchestrator_NoSearchResults(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"search","query":"nothing matches"}`},
		streamResponses: []string{"No results found."},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(nil)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	_, err := orch.Run(context.Background(), "", "", "find nothing", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{"intent", "search", "answer"}, cb.phaseTags())
}

func TestOrchestrator_MalformedClassifierFallsBackToSearch(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{"I cannot help with that", `{"has_relevant":true,"relevant_indexes":[1]}`},
		streamResponses: []string{"Found it."},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(newDocs("a"))
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	_, err := orch.Run(context.Background(), "", "", "a", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)
	assert.Equal(t, []string{"intent", "search", "evaluate", "fetch", "answer"}, cb.phaseTags())
}

func TestOrchestrator_SessionNotMutatedOnAnswerFailure(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses: []string{`{"intent":"unclear"}`},
		streamErr:     fmt.Errorf("backend unavailable"),
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(nil)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions)

	cb := &recordingCallback{}
	_, err := orch.Run(context.Background(), "", "", "hello", rag.Locale{Code: "en"}, cb)
	require.Error(t, err)
	require.Len(t, cb.errors, 1)

	all := sessions.ListSessions()
	require.Len(t, all, 1)
	assert.Empty(t, all[0].Messages, "a failed answer phase must not mutate the session")
}

func TestOrchestrator_HistoryFedToSubsequentTurn(t *testing.T) {
	backend := &scriptedBackend{
		chatResponses:   []string{`{"intent":"unclear"}`, `{"intent":"unclear"}`},
		streamResponses: []string{"first reply", "second reply"},
	}
	facade := rag.NewFacade(backend)
	search := adapters.NewMemorySearchAdapter(nil)
	sessions := session.NewStore()
	orch := NewOrchestrator(facade, search, sessions, WithHistoryMaxMessages(20))

	cb := &recordingCallback{}
	sess, err := orch.Run(context.Background(), "", "", "hi", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), sess.ID, "", "again", rag.Locale{Code: "en"}, cb)
	require.NoError(t, err)

	final, _ := sessions.GetSession(sess.ID)
	assert.Len(t, final.Messages, 4)
}
