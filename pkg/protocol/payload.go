package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	ephemeralIDField protowire.Number = 1
	rssiField        protowire.Number = 2

	// MaxPayloadLength caps the size of a payload accepted from a peer. It matches the largest
	// attribute value a single ATT write can carry.
	MaxPayloadLength = 512
)

// Payload is the record exchanged over the contact characteristic. A peripheral answers reads with
// a Payload that only carries its EphemeralID; a central writes a Payload carrying its EphemeralID
// and the best RSSI it has measured for the peripheral.
//
// The encoding is the protobuf wire format of
//
//	message Payload {
//	  string ephemeral_id = 1;
//	  optional double rssi = 2;
//	}
type Payload struct {
	EphemeralID string
	RSSI        *float64
}

// Marshal encodes p. An empty EphemeralID is not encodable.
func (p *Payload) Marshal() ([]byte, error) {
	if p.EphemeralID == "" {
		return nil, ErrNoIdentifier
	}
	var b []byte
	b = protowire.AppendTag(b, ephemeralIDField, protowire.BytesType)
	b = protowire.AppendString(b, p.EphemeralID)
	if p.RSSI != nil {
		b = protowire.AppendTag(b, rssiField, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*p.RSSI))
	}
	if len(b) > MaxPayloadLength {
		return nil, fmt.Errorf("payload too long (%d bytes)", len(b))
	}
	return b, nil
}

// Unmarshal decodes b into p. Unknown fields are skipped. Errors wrap ErrDecode.
func (p *Payload) Unmarshal(b []byte) error {
	if len(b) > MaxPayloadLength {
		return fmt.Errorf("%w: %d bytes", ErrDecode, len(b))
	}
	var decoded Payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %s", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == ephemeralIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: ephemeral id: %s", ErrDecode, protowire.ParseError(n))
			}
			decoded.EphemeralID = v
			b = b[n:]
		case num == rssiField && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("%w: rssi: %s", ErrDecode, protowire.ParseError(n))
			}
			rssi := math.Float64frombits(v)
			if math.IsNaN(rssi) || math.IsInf(rssi, 0) {
				return fmt.Errorf("%w: rssi is not finite", ErrDecode)
			}
			decoded.RSSI = &rssi
			b = b[n:]
		case num == ephemeralIDField || num == rssiField:
			return fmt.Errorf("%w: field %d has wire type %d", ErrDecode, num, typ)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %s", ErrDecode, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if decoded.EphemeralID == "" {
		return fmt.Errorf("%w: missing ephemeral id", ErrDecode)
	}
	*p = decoded
	return nil
}

// DecodePayload is a convenience wrapper around Payload.Unmarshal.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := p.Unmarshal(b); err != nil {
		return nil, err
	}
	return &p, nil
}
