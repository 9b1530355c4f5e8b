package stn

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"
)

const (
	// PacketMagic is "STN1"
	PacketMagic   uint32 = 0x53544E31
	PacketVersion uint16 = 1
	HeaderSize           = 20
	MaxBodySize          = 1 << 20
)

// Header flags
const (
	FlagError uint16 = 1 << 0 // body carries a server error message
)

var (
	ErrInvalidMagic   = errors.New("stn: invalid packet magic")
	ErrInvalidVersion = errors.New("stn: unsupported packet version")
	ErrInvalidHeader  = errors.New("stn: invalid header")
	ErrBodyTooLarge   = errors.New("stn: packet body too large")
)

// Header is the fixed long-link packet header
type Header struct {
	Magic   uint32
	Version uint16
	Flags   uint16
	CmdID   uint32
	TaskID  uint32 // 0 for server pushes
	Length  uint32 // body length
}

// Packet is one long-link unit
type Packet struct {
	Header
	Body []byte
}

// NewPacket builds a packet with magic, version and length filled in
func NewPacket(cmdID, taskID uint32, body []byte) *Packet {
	return &Packet{
		Header: Header{
			Magic:   PacketMagic,
			Version: PacketVersion,
			CmdID:   cmdID,
			TaskID:  taskID,
			Length:  uint32(len(body)),
		},
		Body: body,
	}
}

// IsPush reports whether the packet was not sent in reply to a task
func (p *Packet) IsPush() bool {
	return p.TaskID == 0
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.CmdID)
	binary.BigEndian.PutUint32(buf[12:16], h.TaskID)
	binary.BigEndian.PutUint32(buf[16:20], h.Length)
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Flags = binary.BigEndian.Uint16(buf[6:8])
	h.CmdID = binary.BigEndian.Uint32(buf[8:12])
	h.TaskID = binary.BigEndian.Uint32(buf[12:16])
	h.Length = binary.BigEndian.Uint32(buf[16:20])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != PacketMagic {
		return ErrInvalidMagic
	}
	if h.Version != PacketVersion {
		return ErrInvalidVersion
	}
	if h.Length > MaxBodySize {
		return ErrBodyTooLarge
	}
	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint16) bool {
	return (h.Flags & flag) != 0
}

// SetFlag sets a flag
func (h *Header) SetFlag(flag uint16) {
	h.Flags |= flag
}

// ReadPacket reads one packet from r
func ReadPacket(r io.Reader) (*Packet, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	p := &Packet{}
	if err := p.Header.Decode(buf); err != nil {
		return nil, err
	}
	if err := p.Header.Validate(); err != nil {
		return nil, err
	}

	if p.Length > 0 {
		p.Body = make([]byte, p.Length)
		if _, err := io.ReadFull(r, p.Body); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// WritePacket writes header and body in a single write
func WritePacket(w io.Writer, p *Packet) error {
	if len(p.Body) > MaxBodySize {
		return ErrBodyTooLarge
	}
	p.Length = uint32(len(p.Body))

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	var head [HeaderSize]byte
	p.Header.put(head[:])
	_, _ = bb.Write(head[:])
	_, _ = bb.Write(p.Body)

	_, err := w.Write(bb.B)
	return err
}
