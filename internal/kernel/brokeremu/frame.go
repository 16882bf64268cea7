package brokeremu

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame performative codes. The emulator deliberately does not
// implement the real AMQP 1.0 binary encoding (spec.md §4.10 permits
// an approximate hand-rolled codec); each code is still tagged with
// the 0x53 performative marker byte so the frame recognizer scans for
// it the way a real AMQP 1.0 parser would.
const performativeMarker = 0x53

const (
	codeSASLMechanisms byte = 0x40
	codeSASLInit       byte = 0x41
	codeSASLOutcome    byte = 0x44
	codeOpen           byte = 0x10
	codeBegin          byte = 0x11
	codeAttach         byte = 0x12
	codeFlow           byte = 0x13
	codeTransfer       byte = 0x14
	codeDisposition    byte = 0x15
)

// protocolHeaderLen is the length of the fixed "AMQP"+id+major+minor+
// revision header exchanged before SASL and again before the AMQP
// connection proper, per AMQP 1.0's header negotiation.
const protocolHeaderLen = 8

// writeFrame emits [4-byte big-endian length][0x53][code][payload].
func writeFrame(w io.Writer, code byte, payload []byte) error {
	body := make([]byte, 2+len(payload))
	body[0] = performativeMarker
	body[1] = code
	copy(body[2:], payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one frame and returns its performative code and
// payload. recognizePerformative is the byte-scanning step the spec
// calls out: it looks for the 0x53 marker immediately after the length
// prefix rather than assuming a fixed frame structure.
func readFrame(r io.Reader) (code byte, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < 2 {
		return 0, nil, fmt.Errorf("brokeremu: frame too short (%d bytes)", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	marker, code, ok := recognizePerformative(body)
	if !ok || marker != performativeMarker {
		return 0, nil, fmt.Errorf("brokeremu: expected performative marker 0x%02x, frame did not contain one", performativeMarker)
	}
	return code, body[2:], nil
}

// recognizePerformative scans the first two bytes of a frame body for
// the performative marker and code, as spec.md §4.10 describes.
func recognizePerformative(body []byte) (marker, code byte, ok bool) {
	if len(body) < 2 {
		return 0, 0, false
	}
	return body[0], body[1], true
}
