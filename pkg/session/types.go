// Package session holds the per-session conversation state for tourmate:
// the running transcript and the single staged media attachment.
// A Store lives for one user session and is owned by exactly one turn
// controller.
package session

// Role identifies who authored a turn.
type Role string

const (
	// RoleUser marks a question submitted by the tourist.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the generation service.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Exchange is one entry of a transcript: either a SystemPrimer or a Turn.
// The set of variants is closed.
type Exchange interface {
	exchange()
}

// SystemPrimer is the fixed instruction seeded at session start.
// It is never rendered and is always sent to the generation service as
// the system instruction.
type SystemPrimer struct {
	Text string `json:"text"`
}

func (SystemPrimer) exchange() {}

// Turn is one chat message.
type Turn struct {
	// ID uniquely identifies the turn.
	ID string `json:"id"`
	// Role is who authored the turn.
	Role Role `json:"role"`
	// Text is the message body.
	Text string `json:"text"`
	// Seq is the logical timestamp: the turn's position in the transcript.
	Seq int `json:"seq"`
}

func (Turn) exchange() {}

// Attachment is a staged media object awaiting submission.
// It is input to generation and never part of the transcript.
type Attachment struct {
	// ID identifies this staging; assigned by the store when empty.
	ID string `json:"id"`
	// MIMEType is the media type sent to the generation service.
	MIMEType string `json:"mimeType"`
	// Data holds the (possibly re-encoded) bytes.
	Data []byte `json:"-"`
	// SourceSize is the size in bytes of the original capture or upload.
	SourceSize int64 `json:"sourceSize"`
}

// Transcript is an immutable view of a session's exchanges in
// chronological order.
type Transcript struct {
	exchanges []Exchange
}

// NewTranscript builds a transcript from the given exchanges. The slice is copied.
func NewTranscript(exchanges ...Exchange) Transcript {
	cp := make([]Exchange, len(exchanges))
	copy(cp, exchanges)
	return Transcript{exchanges: cp}
}

// Exchanges returns a copy of every exchange, primer included.
func (t Transcript) Exchanges() []Exchange {
	cp := make([]Exchange, len(t.exchanges))
	copy(cp, t.exchanges)
	return cp
}

// Turns returns the chat turns, excluding the primer.
func (t Transcript) Turns() []Turn {
	turns := make([]Turn, 0, len(t.exchanges))
	for _, ex := range t.exchanges {
		if turn, ok := ex.(Turn); ok {
			turns = append(turns, turn)
		}
	}
	return turns
}

// Primer returns the system primer if the transcript has one.
func (t Transcript) Primer() (SystemPrimer, bool) {
	if len(t.exchanges) == 0 {
		return SystemPrimer{}, false
	}
	p, ok := t.exchanges[0].(SystemPrimer)
	return p, ok
}

// Len returns the number of exchanges, primer included.
func (t Transcript) Len() int {
	return len(t.exchanges)
}

// TurnCount returns the number of turns, primer excluded.
func (t Transcript) TurnCount() int {
	if _, ok := t.Primer(); ok {
		return len(t.exchanges) - 1
	}
	return len(t.exchanges)
}
