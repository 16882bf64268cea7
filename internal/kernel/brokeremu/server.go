package brokeremu

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// target identifies the entity a client attached to: a queue, or a
// topic (optionally with a subscription), per spec.md §4.10's address
// forms "queue:<name>", "topic:<name>", "topic:<name>/subscriptions/<sub>".
type target struct {
	isTopic      bool
	name         string
	subscription string // only set when isTopic and a subscription is present
}

func parseTarget(addr string) target {
	if rest, ok := strings.CutPrefix(addr, "topic:"); ok {
		if name, sub, found := strings.Cut(rest, "/subscriptions/"); found {
			return target{isTopic: true, name: name, subscription: sub}
		}
		return target{isTopic: true, name: rest}
	}
	name := strings.TrimPrefix(addr, "queue:")
	return target{isTopic: false, name: name}
}

// dataPlane runs the TCP data plane: accept loop + per-connection frame
// recognizer.
type dataPlane struct {
	broker *Broker
	logger *zap.Logger
}

func (d *dataPlane) serve(ln net.Listener, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				d.logger.Warn("brokeremu: accept error", zap.Error(err))
				return
			}
		}
		go d.handleConn(conn, stop)
	}
}

func (d *dataPlane) handleConn(conn net.Conn, stop <-chan struct{}) {
	defer conn.Close()

	if err := d.negotiate(conn); err != nil {
		d.logger.Warn("brokeremu: negotiation failed", zap.Error(err))
		return
	}

	var attached target
	attachedOK := false

	for {
		code, payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				d.logger.Debug("brokeremu: connection read ended", zap.Error(err))
			}
			return
		}

		switch code {
		case codeOpen:
			_ = writeFrame(conn, codeOpen, nil)
		case codeBegin:
			_ = writeFrame(conn, codeBegin, nil)
		case codeAttach:
			attached = parseTarget(string(payload))
			attachedOK = true
			if attached.isTopic && attached.subscription != "" {
				d.broker.EnsureSubscription(attached.name, attached.subscription)
				go d.deliverLoop(conn, attached, stop)
			}
			_ = writeFrame(conn, codeAttach, payload)
		case codeFlow:
			// Credit accounting is not modeled; acknowledged implicitly.
		case codeTransfer:
			if !attachedOK {
				continue
			}
			address, body := decodeTransferPayload(payload)
			d.route(attached, address, body)
			_ = writeFrame(conn, codeDisposition, []byte{0x01}) // Accepted
		}
	}
}

// negotiate runs the protocol-header -> SASL -> protocol-header
// handshake before the AMQP connection frames proper.
func (d *dataPlane) negotiate(conn net.Conn) error {
	var header [protocolHeaderLen]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return err
	}
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}

	if err := writeFrame(conn, codeSASLMechanisms, []byte("ANONYMOUS")); err != nil {
		return err
	}
	if _, _, err := readFrame(conn); err != nil { // SASL-init, contents unchecked (demo-grade)
		return err
	}
	if err := writeFrame(conn, codeSASLOutcome, []byte{0x00}); err != nil { // 0x00 = ok
		return err
	}

	var header2 [protocolHeaderLen]byte
	if _, err := io.ReadFull(conn, header2[:]); err != nil {
		return err
	}
	_, err := conn.Write(header2[:])
	return err
}

// route dispatches a transfer's address+payload to the matching queue
// or topic.
func (d *dataPlane) route(attached target, address string, payload []byte) {
	t := attached
	if address != "" {
		t = parseTarget(address)
	}
	if t.isTopic {
		d.broker.PublishTopic(t.name, payload)
	} else {
		d.broker.PublishQueue(t.name, payload)
	}
}

// deliverLoop drains a subscription on an interval and writes each
// pending message out as a Transfer frame, modeling the spec's
// "connection timeout tick" delivery.
func (d *dataPlane) deliverLoop(conn net.Conn, t target, stop <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msgs := d.broker.DrainSubscription(t.name, t.subscription)
			for _, m := range msgs {
				if err := writeFrame(conn, codeTransfer, encodeTransferPayload("", m)); err != nil {
					return
				}
			}
		}
	}
}

// encodeTransferPayload packs [2-byte big-endian address length][address][body].
func encodeTransferPayload(address string, body []byte) []byte {
	out := make([]byte, 2+len(address)+len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(len(address)))
	copy(out[2:2+len(address)], address)
	copy(out[2+len(address):], body)
	return out
}

// decodeTransferPayload unpacks a payload built by encodeTransferPayload.
func decodeTransferPayload(payload []byte) (address string, body []byte) {
	if len(payload) < 2 {
		return "", payload
	}
	n := binary.BigEndian.Uint16(payload[:2])
	if int(n) > len(payload)-2 {
		return "", payload[2:]
	}
	return string(payload[2 : 2+n]), payload[2+n:]
}
