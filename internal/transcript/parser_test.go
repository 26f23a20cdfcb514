package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFromJSON(t *testing.T, s string) Entry {
	t.Helper()
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(s), &e))
	return e
}

func TestExtractTextBareString(t *testing.T) {
	got := ExtractText(json.RawMessage(`"hello"`))
	assert.Equal(t, []string{"hello"}, got)
}

func TestExtractTextBlockArray(t *testing.T) {
	got := ExtractText(json.RawMessage(`[{"type":"text","text":"PONG"},{"type":"image"}]`))
	assert.Equal(t, []string{"PONG"}, got)
}

func TestExtractTextNestedBlock(t *testing.T) {
	got := ExtractText(json.RawMessage(`{"type":"text","text":"one block"}`))
	assert.Equal(t, []string{"one block"}, got)
}

func TestAssistantText(t *testing.T) {
	entries := []Entry{
		entryFromJSON(t, `{"type":"human","message":{"content":"hi"}}`),
		entryFromJSON(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"PONG"}]}}`),
	}
	assert.Equal(t, []string{"PONG"}, AssistantText(entries))
}

func TestCounts(t *testing.T) {
	entries := []Entry{
		entryFromJSON(t, `{"type":"human"}`),
		entryFromJSON(t, `{"type":"assistant"}`),
		entryFromJSON(t, `{"type":"system"}`),
		entryFromJSON(t, `{"type":"file-history-snapshot"}`),
		entryFromJSON(t, `{"type":"system"}`),
	}
	assert.Equal(t, 1, CountAssistant(entries))
	assert.Equal(t, 2, CountSystem(entries))
	assert.Equal(t, 1, CountFileHistorySnapshot(entries))
}

func TestHasAssistantAfterLatestUser(t *testing.T) {
	noAssistant := []Entry{entryFromJSON(t, `{"type":"human"}`)}
	assert.False(t, HasAssistantAfterLatestUser(noAssistant))

	withAssistant := []Entry{
		entryFromJSON(t, `{"type":"human"}`),
		entryFromJSON(t, `{"type":"assistant"}`),
	}
	assert.True(t, HasAssistantAfterLatestUser(withAssistant))

	noUserAtAll := []Entry{entryFromJSON(t, `{"type":"assistant"}`)}
	assert.True(t, HasAssistantAfterLatestUser(noUserAtAll))
}

func TestInferStatusWorkingWhenLastIsHuman(t *testing.T) {
	entries := []Entry{entryFromJSON(t, `{"type":"human","message":{"content":"go"}}`)}
	assert.Equal(t, StatusWorking, InferStatus(entries))
}

func TestInferStatusIdleAfterAssistantReply(t *testing.T) {
	entries := []Entry{
		entryFromJSON(t, `{"type":"human","message":{"content":"Reply PONG"}}`),
		entryFromJSON(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"PONG"}]}}`),
		entryFromJSON(t, `{"type":"system"}`),
	}
	assert.Equal(t, StatusIdle, InferStatus(entries))
}

func TestInferStatusWaitingForInput(t *testing.T) {
	entries := []Entry{
		entryFromJSON(t, `{"type":"human","message":{"content":"do it"}}`),
		entryFromJSON(t, `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"ask_user","text":""}]}}`),
	}
	assert.Equal(t, StatusWaitingForInput, InferStatus(entries))
}

func TestExtractTurnsDropsEmpty(t *testing.T) {
	entries := []Entry{
		entryFromJSON(t, `{"type":"human","message":{"content":"hi"}}`),
		entryFromJSON(t, `{"type":"system"}`),
		entryFromJSON(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`),
	}
	turns := ExtractTurns(entries)
	require.Len(t, turns, 2)
	assert.Equal(t, "human", turns[0].Role)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "hello", turns[1].Text)
}

func TestReadFileToleratesMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := "{\"type\":\"human\",\"message\":{\"content\":\"hi\"}}\n" +
		"not json at all\n" +
		"{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"ok\"}]}}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TypeHuman, entries[0].Type)
	assert.Equal(t, TypeAssistant, entries[1].Type)
}

func TestReadFileMissingReturnsEmpty(t *testing.T) {
	entries, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitizeWorkspacePathIdempotentAndMapsEquivalentInputs(t *testing.T) {
	a := SanitizeWorkspacePath("/tmp/proj one")
	b := SanitizeWorkspacePath("/tmp/proj_one")
	assert.Equal(t, a, b)
	assert.Equal(t, a, SanitizeWorkspacePath(a))
}
