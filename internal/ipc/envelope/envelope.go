// Package envelope implements the IPC wire codec (spec §4.H): a fixed
// small header plus optional opaque body, carried over a single
// bidirectional byte-message channel (spec §6 "IPC wire"). Framing is
// grounded on internal/distributed/gossip.go's GossipMessage — the same
// length-prefixed-message-over-a-channel shape, narrowed here from
// cluster-gossip fields (From/Timestamp/MessageID) down to the call-routing
// fields an envelope actually needs (MsgType/FnCallNum/Path).
package envelope

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// MsgType enumerates the envelope kinds the connector dispatches on
// (spec §4.I).
type MsgType string

const (
	MsgStart   MsgType = "start"
	MsgCancel  MsgType = "cancel"
	MsgDrop    MsgType = "drop"
	MsgListObj MsgType = "list-obj"
	MsgInterim MsgType = "interim"
	MsgEnd     MsgType = "end"
	MsgError   MsgType = "error"
)

// valid reports whether t is one of the seven recognized message types.
func (t MsgType) valid() bool {
	switch t {
	case MsgStart, MsgCancel, MsgDrop, MsgListObj, MsgInterim, MsgEnd, MsgError:
		return true
	}
	return false
}

// Envelope is one IPC message: a header plus optional opaque body. FnCallNum
// and Path are held as pointers/nil-slices rather than zero values so the
// wire form can distinguish "absent" from "zero"/"empty" per spec §4.H's
// "optional holders" requirement.
type Envelope struct {
	MsgType   MsgType
	FnCallNum *uint64
	Path      []string
	Body      []byte
}

// wire is the JSON shape an Envelope serializes to. The core treats Body as
// opaque bytes; a real deployment would swap this codec for protobuf
// (spec §6 says "typically protobuf") without changing the Envelope type.
type wire struct {
	MsgType   MsgType  `json:"msgType"`
	FnCallNum *uint64  `json:"fnCallNum,omitempty"`
	Path      []string `json:"path,omitempty"`
	Body      []byte   `json:"body,omitempty"`
}

// Start builds a `start` envelope addressed to path, carrying body.
func Start(fnCallNum uint64, path []string, body []byte) Envelope {
	return Envelope{MsgType: MsgStart, FnCallNum: &fnCallNum, Path: path, Body: body}
}

// Cancel builds a `cancel` envelope for an outstanding call.
func Cancel(fnCallNum uint64) Envelope {
	return Envelope{MsgType: MsgCancel, FnCallNum: &fnCallNum}
}

// Drop builds a `drop` envelope releasing the droppable service at path.
func Drop(path []string) Envelope {
	return Envelope{MsgType: MsgDrop, Path: path}
}

// ListObj builds a `list-obj` envelope enumerating methods at path.
func ListObj(fnCallNum uint64, path []string) Envelope {
	return Envelope{MsgType: MsgListObj, FnCallNum: &fnCallNum, Path: path}
}

// Interim builds an `interim` envelope carrying one streamed item or a
// promise's single reply.
func Interim(fnCallNum uint64, body []byte) Envelope {
	return Envelope{MsgType: MsgInterim, FnCallNum: &fnCallNum, Body: body}
}

// End builds an `end` envelope completing a call.
func End(fnCallNum uint64, body []byte) Envelope {
	return Envelope{MsgType: MsgEnd, FnCallNum: &fnCallNum, Body: body}
}

// ErrorEnvelope builds an `error` envelope carrying a serialized
// *xerrors.Error in the body (spec §4.H: "errors are represented by an
// `error` envelope carrying a serialized structured error in the body").
func ErrorEnvelope(fnCallNum *uint64, cause *xerrors.Error) Envelope {
	return Envelope{MsgType: MsgError, FnCallNum: fnCallNum, Body: []byte(cause.JSON())}
}

// HasFnCallNum reports whether e carries a call number.
func (e Envelope) HasFnCallNum() bool { return e.FnCallNum != nil }

// Encode marshals e to its wire JSON form.
func (e Envelope) Encode() ([]byte, error) {
	if !e.MsgType.valid() {
		return nil, xerrors.InvalidType(string(e.MsgType))
	}
	return json.Marshal(wire{MsgType: e.MsgType, FnCallNum: e.FnCallNum, Path: e.Path, Body: e.Body})
}

// Decode unmarshals the wire JSON form of an envelope.
func Decode(data []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, xerrors.BadReply("malformed envelope: " + err.Error())
	}
	if !w.MsgType.valid() {
		return Envelope{}, xerrors.InvalidType(string(w.MsgType))
	}
	return Envelope{MsgType: w.MsgType, FnCallNum: w.FnCallNum, Path: w.Path, Body: w.Body}, nil
}

// WriteTo writes e to w as a length-prefixed frame: a u32 big-endian byte
// count followed by the encoded envelope. This is the channel framing spec
// §6 calls "a single bidirectional byte-message channel" over which "each
// message carries one envelope".
func WriteTo(w io.Writer, e Envelope) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return xerrors.IPCNotConnected()
	}
	if _, err := w.Write(data); err != nil {
		return xerrors.IPCNotConnected()
	}
	return nil
}

// ReadFrom reads one length-prefixed frame from r and decodes it.
func ReadFrom(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Envelope{}, xerrors.StopFromOtherSide()
		}
		return Envelope{}, xerrors.IPCNotConnected()
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, xerrors.IPCNotConnected()
	}
	return Decode(data)
}
