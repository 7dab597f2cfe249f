package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) []Event {
	t.Helper()
	var events []Event
	for ev := range NewDecoder(strings.NewReader(input)).All() {
		events = append(events, ev)
	}
	return events
}

func TestDecoderMalformedLineContinues(t *testing.T) {
	input := `{"type":"assistant","content":"hi"}` + "\n" +
		"NOT-JSON\n" +
		`{"type":"result","content":"done","session_id":"s1"}` + "\n"

	events := collect(t, input)
	require.Len(t, events, 3)

	assert.Equal(t, KindAssistantText, events[0].Kind)
	assert.Equal(t, "hi", events[0].Content)

	assert.Equal(t, KindError, events[1].Kind)
	assert.Equal(t, "NOT-JSON", events[1].Raw)

	assert.Equal(t, KindFinalResult, events[2].Kind)
	assert.Equal(t, "done", events[2].Content)
	assert.Equal(t, "s1", events[2].SessionID)
}

func TestDecoderToolUse(t *testing.T) {
	input := `{"type":"tool_use","content":"running","tools":[{"name":"Bash","input":{"command":"ls"}},{"name":"Read","input":{"path":"a"}}]}`
	events := collect(t, input)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, KindToolInvocation, ev.Kind)
	assert.Equal(t, "running", ev.Content)
	assert.Equal(t, []string{"Bash", "Read"}, ev.ToolNames())
	assert.JSONEq(t, `{"command":"ls"}`, string(ev.Tools[0].Input))
}

func TestDecoderResultMetadata(t *testing.T) {
	input := `{"type":"result","content":"ok","session_id":"abc","cost":0.25,"duration":1.5}`
	ev := collect(t, input)[0]

	assert.Equal(t, 0.25, ev.Cost)
	assert.Equal(t, 1500*time.Millisecond, ev.Duration)
	assert.False(t, ev.IsError)
}

func TestDecoderClaudeShapes(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Let me look."}]},"session_id":"x"}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Grep","input":{"pattern":"foo"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"match.go"}]}}`,
		`{"type":"result","subtype":"success","result":"Found it","session_id":"x","total_cost_usd":0.01,"duration_ms":2500,"is_error":false}`,
	}, "\n")

	events := collect(t, input)
	require.Len(t, events, 4)

	assert.Equal(t, KindAssistantText, events[0].Kind)
	assert.Equal(t, "Let me look.", events[0].Content)

	assert.Equal(t, KindToolInvocation, events[1].Kind)
	assert.Equal(t, []string{"Grep"}, events[1].ToolNames())
	assert.Equal(t, "Using Grep", events[1].Content)

	assert.Equal(t, KindToolResult, events[2].Kind)
	assert.Equal(t, "match.go", events[2].Content)

	assert.Equal(t, KindFinalResult, events[3].Kind)
	assert.Equal(t, "Found it", events[3].Content)
	assert.Equal(t, 0.01, events[3].Cost)
	assert.Equal(t, 2500*time.Millisecond, events[3].Duration)
}

func TestDecoderErrorResult(t *testing.T) {
	ev := collect(t, `{"type":"result","subtype":"error_max_turns","session_id":"s"}`)[0]
	assert.Equal(t, KindFinalResult, ev.Kind)
	assert.True(t, ev.IsError)
}

func TestDecoderUnknownShapes(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`[1,2,3]`,
		`{"content":"no type"}`,
		`{"type":"error","content":"boom"}`,
	}, "\n")

	events := collect(t, input)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, KindError, ev.Kind)
		assert.NotEmpty(t, ev.Raw)
	}
	assert.True(t, events[0].Malformed)
	assert.Contains(t, string(events[0].Meta()), `"malformed":true`)
	assert.False(t, events[3].Malformed, "an error the agent reported is not malformed")
	assert.Equal(t, "boom", events[3].Content)
}

func TestDecoderSkipsBlankLinesAndReadsUnterminatedTail(t *testing.T) {
	input := "\n\n" + `{"type":"assistant","content":"a"}` + "\n\n" + `{"type":"assistant","content":"b"}`
	events := collect(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].Content)
}

func TestDecoderNextReturnsEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"assistant","content":"a"}` + "\n"))

	_, err := dec.Next()
	require.NoError(t, err)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, dec.Err())

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF, "decoder must stay exhausted")
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDecoderReadError(t *testing.T) {
	boom := errors.New("pipe broke")
	dec := NewDecoder(failingReader{err: boom})

	_, err := dec.Next()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, dec.Err(), boom)
}
