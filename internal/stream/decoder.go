package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Decoder reads newline-delimited records from the agent's stdout. It is
// single-pass: once Next returns io.EOF the decoder is exhausted.
type Decoder struct {
	r   *bufio.Reader
	err error
}

// NewDecoder wraps r. Lines of any length are accepted.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. Malformed lines become KindError events and
// do not stop decoding. The returned error is io.EOF at end of stream, or
// the underlying read error.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.err != nil {
			return Event{}, d.err
		}
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			d.err = err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return DecodeLine(line), nil
	}
}

// Err returns the read error that ended the stream, or nil if the stream
// ended cleanly.
func (d *Decoder) Err() error {
	if d.err == nil || errors.Is(d.err, io.EOF) {
		return nil
	}
	return d.err
}

// All yields events until the stream ends.
func (d *Decoder) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := d.Next()
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// DecodeLine maps one record onto an Event. It never fails: anything that is
// not a recognised record becomes a KindError event carrying the raw line.
func DecodeLine(line []byte) Event {
	if !gjson.ValidBytes(line) {
		return malformed(line, "invalid JSON")
	}
	rec := gjson.ParseBytes(line)
	if !rec.IsObject() {
		return malformed(line, "record is not an object")
	}
	typ := rec.Get("type")
	if typ.Type != gjson.String {
		return malformed(line, "missing type")
	}

	switch typ.Str {
	case "assistant":
		return decodeAssistant(rec)
	case "tool_use":
		return decodeToolUse(rec)
	case "tool_result":
		return Event{Kind: KindToolResult, Content: textOf(rec.Get("content"))}
	case "user":
		// The CLI reports tool output as a user turn with tool_result blocks.
		if results := blocks(rec, "tool_result"); len(results) > 0 {
			var parts []string
			for _, b := range results {
				parts = append(parts, textOf(b.Get("content")))
			}
			return Event{Kind: KindToolResult, Content: strings.Join(parts, "\n")}
		}
	case "result":
		return decodeResult(rec)
	case "error":
		msg := textOf(rec.Get("content"))
		if msg == "" {
			msg = rec.Get("error.message").String()
		}
		if msg == "" {
			msg = rec.Get("error").String()
		}
		return Event{Kind: KindError, Content: msg, Raw: string(line)}
	}
	return malformed(line, fmt.Sprintf("unknown record type %q", typ.Str))
}

func malformed(line []byte, reason string) Event {
	return Event{Kind: KindError, Content: reason, Raw: string(line), Malformed: true}
}

func decodeAssistant(rec gjson.Result) Event {
	if content := rec.Get("content"); content.Exists() {
		return Event{Kind: KindAssistantText, Content: textOf(content)}
	}
	var text []string
	for _, b := range blocks(rec, "text") {
		text = append(text, b.Get("text").String())
	}
	if calls := blocks(rec, "tool_use"); len(calls) > 0 {
		ev := Event{Kind: KindToolInvocation, Content: strings.Join(text, "")}
		for _, c := range calls {
			ev.Tools = append(ev.Tools, toolCall(c))
		}
		if ev.Content == "" {
			ev.Content = "Using " + strings.Join(ev.ToolNames(), ", ")
		}
		return ev
	}
	return Event{Kind: KindAssistantText, Content: strings.Join(text, "")}
}

func decodeToolUse(rec gjson.Result) Event {
	ev := Event{Kind: KindToolInvocation, Content: textOf(rec.Get("content"))}
	list := rec.Get("tools")
	if !list.Exists() {
		list = rec.Get("tool_calls")
	}
	list.ForEach(func(_, c gjson.Result) bool {
		ev.Tools = append(ev.Tools, toolCall(c))
		return true
	})
	if name := rec.Get("name"); len(ev.Tools) == 0 && name.Type == gjson.String {
		ev.Tools = append(ev.Tools, toolCall(rec))
	}
	if ev.Content == "" && len(ev.Tools) > 0 {
		ev.Content = "Using " + strings.Join(ev.ToolNames(), ", ")
	}
	return ev
}

func decodeResult(rec gjson.Result) Event {
	ev := Event{
		Kind:      KindFinalResult,
		SessionID: rec.Get("session_id").String(),
		IsError:   rec.Get("is_error").Bool() || strings.HasPrefix(rec.Get("subtype").String(), "error"),
	}
	if c := rec.Get("content"); c.Exists() {
		ev.Content = textOf(c)
	} else {
		ev.Content = rec.Get("result").String()
	}
	switch {
	case rec.Get("cost").Exists():
		ev.Cost = rec.Get("cost").Float()
	case rec.Get("total_cost_usd").Exists():
		ev.Cost = rec.Get("total_cost_usd").Float()
	case rec.Get("cost_usd").Exists():
		ev.Cost = rec.Get("cost_usd").Float()
	}
	switch {
	case rec.Get("duration_ms").Exists():
		ev.Duration = time.Duration(rec.Get("duration_ms").Float() * float64(time.Millisecond))
	case rec.Get("duration").Exists():
		ev.Duration = time.Duration(rec.Get("duration").Float() * float64(time.Second))
	}
	return ev
}

// blocks returns message.content entries of the given block type.
func blocks(rec gjson.Result, blockType string) []gjson.Result {
	var out []gjson.Result
	rec.Get("message.content").ForEach(func(_, b gjson.Result) bool {
		if b.Get("type").String() == blockType {
			out = append(out, b)
		}
		return true
	})
	return out
}

func toolCall(c gjson.Result) ToolCall {
	tc := ToolCall{Name: c.Get("name").String()}
	if in := c.Get("input"); in.Exists() {
		tc.Input = []byte(in.Raw)
	} else if args := c.Get("arguments"); args.Exists() {
		tc.Input = []byte(args.Raw)
	}
	return tc
}

// textOf flattens a string or an array of text blocks.
func textOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	if !v.IsArray() {
		return v.String()
	}
	var sb strings.Builder
	v.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			sb.WriteString(item.Str)
		case item.Get("type").String() == "text":
			sb.WriteString(item.Get("text").String())
		}
		return true
	})
	return sb.String()
}
