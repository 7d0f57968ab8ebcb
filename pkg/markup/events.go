// Package markup turns HTML documents into a lazy stream of tag and text events.
//
// The stream is produced by the golang.org/x/net/html tokenizer, which accepts
// arbitrarily malformed input. Consumers are folds over the sequence and never
// see a parse error: a tokenizer failure simply ends the stream.
package markup

import (
	"io"
	"iter"
	"strings"

	"golang.org/x/net/html"
)

// Kind identifies the type of an Event
type Kind int

const (
	StartTag       Kind = iota // <a href="...">
	EndTag                     // </a>
	SelfClosingTag             // <br/>
	Text                       // character data between tags
)

// String implements fmt.Stringer for logging
func (k Kind) String() string {
	switch k {
	case StartTag:
		return "start"
	case EndTag:
		return "end"
	case SelfClosingTag:
		return "self-closing"
	case Text:
		return "text"
	}
	return "unknown"
}

// Attr is a single attribute of a tag event
type Attr struct {
	Key string
	Val string
}

// Event is one item of the markup stream
// Tag is set for tag events (lower-cased); Text for text events (entities decoded)
type Event struct {
	Kind  Kind
	Tag   string
	Attrs []Attr
	Text  string
}

// Attr returns the value of the named attribute and whether it was present
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// IsOpen reports whether the event opens an element with the given tag name
func (e Event) IsOpen(tag string) bool {
	return (e.Kind == StartTag || e.Kind == SelfClosingTag) && e.Tag == tag
}

// Events returns the event sequence for the document read from r
// Comments and doctypes are dropped. The tokenizer reads <noscript> content as raw text;
// it is tokenized again so that its markup yields events like the rest of the document
func Events(r io.Reader) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		z := html.NewTokenizer(r)
		inNoscript := false
		for {
			tt := z.Next()
			var ev Event
			switch tt {
			case html.ErrorToken:
				return // io.EOF or a read error; either way the stream ends here
			case html.TextToken:
				if inNoscript {
					inNoscript = false
					for inner := range EventsFromString(string(z.Text())) {
						if !yield(inner) {
							return
						}
					}
					continue
				}
				ev = Event{Kind: Text, Text: string(z.Text())}
			case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
				tok := z.Token()
				ev = Event{Kind: kindOf(tt), Tag: strings.ToLower(tok.Data)}
				if len(tok.Attr) > 0 {
					ev.Attrs = make([]Attr, 0, len(tok.Attr))
					for _, a := range tok.Attr {
						ev.Attrs = append(ev.Attrs, Attr{Key: strings.ToLower(a.Key), Val: a.Val})
					}
				}
			default:
				continue
			}
			inNoscript = ev.Kind == StartTag && ev.Tag == "noscript"
			if !yield(ev) {
				return
			}
		}
	}
}

// EventsFromString is Events over an in-memory document
func EventsFromString(doc string) iter.Seq[Event] {
	return Events(strings.NewReader(doc))
}

func kindOf(tt html.TokenType) Kind {
	switch tt {
	case html.EndTagToken:
		return EndTag
	case html.SelfClosingTagToken:
		return SelfClosingTag
	}
	return StartTag
}
