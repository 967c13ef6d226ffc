package engine

import "strings"

// narrator buffers streamed text and emits it one sentence at a time.
type narrator struct {
	buf  strings.Builder
	emit func(string)
}

func newNarrator(emit func(string)) *narrator {
	return &narrator{emit: emit}
}

// Write appends a delta and flushes every complete sentence in it.
func (n *narrator) Write(delta string) {
	for _, r := range delta {
		n.buf.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			n.Flush()
		}
	}
}

// Flush emits whatever is buffered, ignoring whitespace-only leftovers.
func (n *narrator) Flush() {
	s := strings.TrimSpace(n.buf.String())
	n.buf.Reset()
	if s != "" {
		n.emit(s)
	}
}
