package base

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/cockroachdb/errors"
)

const (
	// frameHeaderSize is kind (1) + slot (4) + body length (4)
	frameHeaderSize = 9

	// MaxFrameSize bounds the body of a single frame
	MaxFrameSize = 64 << 20
)

// frame is a single message on a stream connection
type frame struct {
	kind transport.MessageKind
	slot int32
	body []byte
}

// writeFrame writes a frame to the connection with the format:
// - 1 byte: message kind
// - 4 bytes: slot or result set index (int32, big endian)
// - 4 bytes: body length (uint32, big endian)
// - N bytes: body, the concatenation of parts
func writeFrame(conn net.Conn, kind transport.MessageKind, slot int32, parts ...[]byte) error {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	if size > MaxFrameSize {
		return errors.Newf("frame body of %d bytes exceeds limit of %d bytes", size, MaxFrameSize)
	}

	header := make([]byte, frameHeaderSize)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:5], uint32(slot))
	binary.BigEndian.PutUint32(header[5:9], uint32(size))

	// one writev for header and body
	b := make(net.Buffers, 0, len(parts)+1)
	b = append(b, header)
	for _, p := range parts {
		if len(p) > 0 {
			b = append(b, p)
		}
	}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads the next frame. hdr is reused for the header; the body is always
// freshly allocated because it is handed to the caller.
func readFrame(r io.Reader, hdr []byte) (frame, error) {
	if len(hdr) < frameHeaderSize {
		hdr = make([]byte, frameHeaderSize)
	}
	if _, err := io.ReadFull(r, hdr[:frameHeaderSize]); err != nil {
		return frame{}, err
	}

	f := frame{
		kind: transport.MessageKind(hdr[0]),
		slot: int32(binary.BigEndian.Uint32(hdr[1:5])),
	}
	size := binary.BigEndian.Uint32(hdr[5:9])
	if size > MaxFrameSize {
		return frame{}, errors.Newf("frame body of %d bytes exceeds limit of %d bytes", size, MaxFrameSize)
	}

	f.body = make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, f.body); err != nil {
			// a truncated body is a broken stream, not a clean close
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return frame{}, err
		}
	}
	return f, nil
}

// encodeSessionID encodes the handshake reply
func encodeSessionID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// decodeSessionID decodes the handshake reply
func decodeSessionID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Newf("handshake reply of %d bytes, expected 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
