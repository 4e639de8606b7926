package common

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// --------------------------------------------------------------------------
// Request framing
// --------------------------------------------------------------------------

// ProtocolVersion is the framework protocol version written into every request header
const ProtocolVersion uint32 = 1

// RequestHeader is the common header in front of every service payload
type RequestHeader struct {
	Version   uint32
	ServiceID uint32
	SessionID uint64
}

// field numbers of the request header message
const (
	reqFieldVersion   protowire.Number = 1
	reqFieldServiceID protowire.Number = 2
	reqFieldSessionID protowire.Number = 3
)

// EncodeRequestHeader returns the header segment of a request:
// the length delimited header message followed by the length prefix of the payload.
// The payload itself is appended by the transport without copying.
func EncodeRequestHeader(h RequestHeader, payloadLen int) []byte {
	msg := make([]byte, 0, 24)
	msg = protowire.AppendTag(msg, reqFieldVersion, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(h.Version))
	msg = protowire.AppendTag(msg, reqFieldServiceID, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(h.ServiceID))
	msg = protowire.AppendTag(msg, reqFieldSessionID, protowire.VarintType)
	msg = protowire.AppendVarint(msg, h.SessionID)

	out := make([]byte, 0, len(msg)+2*protowire.SizeVarint(uint64(len(msg))))
	out = protowire.AppendBytes(out, msg)
	return protowire.AppendVarint(out, uint64(payloadLen))
}

// DecodeRequest splits a request body into its header and payload
func DecodeRequest(body []byte) (RequestHeader, []byte, error) {
	var h RequestHeader

	msg, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return h, nil, errors.Wrap(protowire.ParseError(n), "request header")
	}
	body = body[n:]

	for len(msg) > 0 {
		num, typ, tn := protowire.ConsumeTag(msg)
		if tn < 0 {
			return h, nil, errors.Wrap(protowire.ParseError(tn), "request header tag")
		}
		msg = msg[tn:]

		if typ != protowire.VarintType {
			vn := protowire.ConsumeFieldValue(num, typ, msg)
			if vn < 0 {
				return h, nil, errors.Wrap(protowire.ParseError(vn), "request header field")
			}
			msg = msg[vn:]
			continue
		}

		v, vn := protowire.ConsumeVarint(msg)
		if vn < 0 {
			return h, nil, errors.Wrap(protowire.ParseError(vn), "request header field")
		}
		msg = msg[vn:]

		switch num {
		case reqFieldVersion:
			h.Version = uint32(v)
		case reqFieldServiceID:
			h.ServiceID = uint32(v)
		case reqFieldSessionID:
			h.SessionID = v
		}
	}

	payload, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return h, nil, errors.Wrap(protowire.ParseError(n), "request payload")
	}
	return h, payload, nil
}

// --------------------------------------------------------------------------
// Response framing
// --------------------------------------------------------------------------

// PayloadType tells whether a response carries a service result or a diagnostic record
type PayloadType uint32

const (
	PayloadTypeUnknown           PayloadType = 0
	PayloadTypeServiceResult     PayloadType = 1 // Normal service specific result
	PayloadTypeServerDiagnostics PayloadType = 2 // Diagnostic record, see EncodeDiagnostic
)

// String returns the string representation of a PayloadType
func (t PayloadType) String() string {
	switch t {
	case PayloadTypeServiceResult:
		return "service result"
	case PayloadTypeServerDiagnostics:
		return "server diagnostics"
	default:
		return "unknown"
	}
}

const (
	respFieldPayloadType protowire.Number = 1

	diagFieldCode    protowire.Number = 1
	diagFieldMessage protowire.Number = 2

	maxVarintLen = 10
)

// EncodeResponse frames a response: delimited header, then delimited payload
func EncodeResponse(t PayloadType, payload []byte) []byte {
	var hdr []byte
	hdr = protowire.AppendTag(hdr, respFieldPayloadType, protowire.VarintType)
	hdr = protowire.AppendVarint(hdr, uint64(t))

	out := make([]byte, 0, len(hdr)+len(payload)+2*maxVarintLen)
	out = protowire.AppendBytes(out, hdr)
	return protowire.AppendBytes(out, payload)
}

// DecodeResponse strips the response header. A diagnostic response is returned as a
// *ServerError, a broken header as an ErrMalformedResponse.
func DecodeResponse(raw []byte) ([]byte, error) {
	hdr, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, NewMalformedResponse(protowire.ParseError(n))
	}
	raw = raw[n:]

	payloadType := PayloadTypeUnknown
	for len(hdr) > 0 {
		num, typ, tn := protowire.ConsumeTag(hdr)
		if tn < 0 {
			return nil, NewMalformedResponse(protowire.ParseError(tn))
		}
		hdr = hdr[tn:]
		if num == respFieldPayloadType && typ == protowire.VarintType {
			v, vn := protowire.ConsumeVarint(hdr)
			if vn < 0 {
				return nil, NewMalformedResponse(protowire.ParseError(vn))
			}
			payloadType = PayloadType(v)
			hdr = hdr[vn:]
			continue
		}
		vn := protowire.ConsumeFieldValue(num, typ, hdr)
		if vn < 0 {
			return nil, NewMalformedResponse(protowire.ParseError(vn))
		}
		hdr = hdr[vn:]
	}

	payload, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, NewMalformedResponse(protowire.ParseError(n))
	}

	switch payloadType {
	case PayloadTypeServiceResult:
		return payload, nil
	case PayloadTypeServerDiagnostics:
		diag, err := DecodeDiagnostic(payload)
		if err != nil {
			return nil, err
		}
		return nil, diag
	default:
		return nil, NewMalformedResponse(errors.Newf("unexpected payload type %d", payloadType))
	}
}

// EncodeDiagnostic encodes a diagnostic record
func EncodeDiagnostic(code uint32, message string) []byte {
	var b []byte
	b = protowire.AppendTag(b, diagFieldCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(code))
	b = protowire.AppendTag(b, diagFieldMessage, protowire.BytesType)
	return protowire.AppendString(b, message)
}

// DecodeDiagnostic decodes a diagnostic record into a ServerError
func DecodeDiagnostic(b []byte) (*ServerError, error) {
	se := &ServerError{}
	for len(b) > 0 {
		num, typ, tn := protowire.ConsumeTag(b)
		if tn < 0 {
			return nil, NewMalformedResponse(protowire.ParseError(tn))
		}
		b = b[tn:]

		switch {
		case num == diagFieldCode && typ == protowire.VarintType:
			v, vn := protowire.ConsumeVarint(b)
			if vn < 0 {
				return nil, NewMalformedResponse(protowire.ParseError(vn))
			}
			se.Code = uint32(v)
			b = b[vn:]
		case num == diagFieldMessage && typ == protowire.BytesType:
			s, vn := protowire.ConsumeString(b)
			if vn < 0 {
				return nil, NewMalformedResponse(protowire.ParseError(vn))
			}
			se.Message = s
			b = b[vn:]
		default:
			vn := protowire.ConsumeFieldValue(num, typ, b)
			if vn < 0 {
				return nil, NewMalformedResponse(protowire.ParseError(vn))
			}
			b = b[vn:]
		}
	}
	return se, nil
}
