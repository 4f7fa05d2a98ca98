package transfer

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Control message types carried as JSON text frames.
const (
	MessageTypeMetadata = "metadata"
	MessageTypeAccept   = "accept"
	MessageTypeEnd      = "end"
	MessageTypePing     = "ping"
)

// FramingTagged is advertised in metadata when binary frames for the file
// are wrapped in a chunkFrame envelope.
const FramingTagged = "tagged"

// ControlMessage is the JSON shape of every text frame.
type ControlMessage struct {
	Type     string `json:"type"`
	FileID   string `json:"fileId,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	FileType string `json:"fileType,omitempty"`
	Framing  string `json:"framing,omitempty"`
}

func encodeControl(msg ControlMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", NewError("marshal "+msg.Type, err)
	}
	return string(data), nil
}

func metadataMessage(info Info, tagged bool) ControlMessage {
	msg := ControlMessage{
		Type:     MessageTypeMetadata,
		FileID:   info.ID,
		Name:     info.Name,
		Size:     info.Size,
		FileType: info.MimeType,
	}
	if tagged {
		msg.Framing = FramingTagged
	}
	return msg
}

// metadata always carries size, including zero.
func (m ControlMessage) MarshalJSON() ([]byte, error) {
	type plain ControlMessage
	if m.Type != MessageTypeMetadata {
		return json.Marshal(plain(m))
	}
	return json.Marshal(struct {
		plain
		Size uint64 `json:"size"`
	}{plain(m), m.Size})
}

// chunkFrame is the binary envelope used with tagged framing.
type chunkFrame struct {
	FileID string `msgpack:"f"`
	Seq    uint64 `msgpack:"s"`
	Data   []byte `msgpack:"d"`
}

// maxFrameOverhead bounds the envelope bytes around Data so a tagged frame
// never exceeds the configured chunk size.
const maxFrameOverhead = 64

func encodeFrame(fileID string, seq uint64, data []byte) ([]byte, error) {
	b, err := msgpack.Marshal(&chunkFrame{FileID: fileID, Seq: seq, Data: data})
	if err != nil {
		return nil, NewError("encode chunk frame", err)
	}
	return b, nil
}

func decodeFrame(b []byte) (*chunkFrame, error) {
	var f chunkFrame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, NewError("decode chunk frame", err)
	}
	return &f, nil
}
