package stream

// Kind identifies what a pulled item carries. The numeric values are part of
// the pull contract and must not change.
type Kind int

const (
	KindNone  Kind = 0
	KindAudio Kind = 1
	KindIndex Kind = 2
	KindDone  Kind = 3
	KindError Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAudio:
		return "audio"
	case KindIndex:
		return "index"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Item is one unit handed to the consumer. Payload is only set for audio;
// Value carries the index id or error code for markers.
type Item struct {
	Kind       Kind
	Generation uint64
	Value      int
	Payload    []byte

	cursor int
}

// Unread returns the number of payload bytes not yet pulled.
func (it *Item) Unread() int {
	if it.cursor >= len(it.Payload) {
		return 0
	}
	return len(it.Payload) - it.cursor
}
