// Package progress carries ordered progress events from a long-running
// producer (a sync or bulk download) to a server-sent events response.
package progress

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind names an event in the stream vocabulary.
type Kind string

const (
	KindTotal Kind = "total"
	KindItem  Kind = "item"
	KindPhase Kind = "phase"
	KindEnd   Kind = "end"
	KindError Kind = "error"
)

// Event is one progress notification.
type Event struct {
	Kind    Kind
	Total   int
	Message string
}

// Total announces how many items will follow.
func Total(n int) Event { return Event{Kind: KindTotal, Total: n} }

// Item reports one resolved unit of work.
func Item(msg string) Event { return Event{Kind: KindItem, Message: msg} }

// Phase announces the start of a named phase.
func Phase(name string) Event { return Event{Kind: KindPhase, Message: name} }

// End is the normal terminal event.
func End(summary string) Event { return Event{Kind: KindEnd, Message: summary} }

// Failure is the abnormal terminal event.
func Failure(msg string) Event { return Event{Kind: KindError, Message: msg} }

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool { return e.Kind == KindEnd || e.Kind == KindError }

// Data returns the payload carried in the data field.
func (e Event) Data() string {
	switch e.Kind {
	case KindTotal:
		return strconv.Itoa(e.Total)
	case KindError:
		b, err := json.Marshal(struct {
			Message string `json:"message"`
		}{e.Message})
		if err != nil {
			return `{"message":"unencodable error"}`
		}
		return string(b)
	default:
		return e.Message
	}
}

// Encode renders the event as a text/event-stream block. Items are sent as
// unnamed events; every other kind carries an event line.
func (e Event) Encode() []byte {
	var b strings.Builder
	if e.Kind != KindItem {
		b.WriteString("event: ")
		b.WriteString(string(e.Kind))
		b.WriteByte('\n')
	}
	for line := range strings.SplitSeq(e.Data(), "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
