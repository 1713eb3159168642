package models

// Outcome is the terminal marker carried by the last chunk of a stream.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeComplete  Outcome = "complete"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// StreamChunk is a fragment of specialist output. Delta carries a text
// fragment; Outcome is set only on the final chunk, with Err populated when
// the outcome is OutcomeError.
type StreamChunk struct {
	Delta   string
	Outcome Outcome
	Err     error
}

// Terminal reports whether the chunk closes its stream.
func (c StreamChunk) Terminal() bool {
	return c.Outcome != OutcomeNone
}
