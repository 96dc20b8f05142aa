package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Tag disambiguates the payload carried by a Message.
type Tag byte

const (
	// TagTask marks a payload containing a serialized Task that is not the
	// last one of the batch being distributed.
	TagTask Tag = 't'
	// TagFinalTask marks the last Task of a distribution batch.
	TagFinalTask Tag = 'f'
	// TagReport marks a payload containing a serialized Report.
	TagReport Tag = 'r'
	// TagIdentify marks an empty payload sent so the receiver can record
	// the sender's author field (device identification / heartbeat).
	TagIdentify Tag = 'c'
)

func (t Tag) String() string {
	switch t {
	case TagTask:
		return "task"
	case TagFinalTask:
		return "final-task"
	case TagReport:
		return "report"
	case TagIdentify:
		return "identify"
	default:
		return fmt.Sprintf("tag(%c)", byte(t))
	}
}

// Message is the NetTask control envelope carried inside a Datagram's
// payload.
type Message struct {
	Author  string
	Tag     Tag
	Payload []byte
}

type wireMessage struct {
	Author  string `msgpack:"a"`
	Tag     string `msgpack:"t"`
	Payload []byte `msgpack:"p"`
}

// EncodeMessage serializes m into its compressed wire form.
func EncodeMessage(m *Message) ([]byte, error) {
	w := wireMessage{Author: m.Author, Tag: string(m.Tag), Payload: m.Payload}
	packed, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal message: %w", err)
	}
	return compress(packed)
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(data []byte) (*Message, error) {
	packed, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	var w wireMessage
	if err := msgpack.Unmarshal(packed, &w); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrDecode, err)
	}
	if len(w.Tag) != 1 {
		return nil, fmt.Errorf("%w: empty tag", ErrDecode)
	}
	return &Message{Author: w.Author, Tag: Tag(w.Tag[0]), Payload: w.Payload}, nil
}

// IsTask reports whether m carries a Task, and whether it is the final one
// of the distribution batch.
func (m *Message) IsTask() (isTask bool, isFinal bool) {
	switch m.Tag {
	case TagTask:
		return true, false
	case TagFinalTask:
		return true, true
	default:
		return false, false
	}
}

// IsReport reports whether m carries a Report.
func (m *Message) IsReport() bool { return m.Tag == TagReport }

// IsIdentify reports whether m is a bare identification/heartbeat message.
func (m *Message) IsIdentify() bool { return m.Tag == TagIdentify }
