package tuyalocal

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"io"

	"gopkg.in/errgo.v1"
)

// Commands used in the local protocol.
const (
	CmdControl   = 0x07
	CmdStatus    = 0x08
	CmdHeartBeat = 0x09
	CmdDPQuery   = 0x0a
)

const (
	framePrefix = 0x000055AA
	frameSuffix = 0x0000AA55

	// headerLen holds the length of the prefix, sequence number,
	// command and length fields.
	headerLen = 16
	// trailerLen holds the length of the CRC and suffix.
	trailerLen = 8

	// maxFrameLen bounds the length field accepted from the network.
	maxFrameLen = 64 * 1024
)

// Versions supported by this package.
const (
	Version31 = "3.1"
	Version33 = "3.3"
)

// version33Header is prepended to some version 3.3 payloads.
var version33Header = append([]byte(Version33), make([]byte, 12)...)

// Message holds a single protocol frame.
type Message struct {
	Seq uint32
	Cmd uint32
	// RetCode holds the return code of a device reply.
	// It is only significant when HasRetCode is true.
	RetCode    uint32
	HasRetCode bool
	Payload    []byte
}

// Marshal returns the wire encoding of m.
func (m *Message) Marshal() []byte {
	payloadLen := len(m.Payload)
	if m.HasRetCode {
		payloadLen += 4
	}
	buf := make([]byte, 0, headerLen+payloadLen+trailerLen)
	buf = binary.BigEndian.AppendUint32(buf, framePrefix)
	buf = binary.BigEndian.AppendUint32(buf, m.Seq)
	buf = binary.BigEndian.AppendUint32(buf, m.Cmd)
	buf = binary.BigEndian.AppendUint32(buf, uint32(payloadLen+trailerLen))
	if m.HasRetCode {
		buf = binary.BigEndian.AppendUint32(buf, m.RetCode)
	}
	buf = append(buf, m.Payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	buf = binary.BigEndian.AppendUint32(buf, frameSuffix)
	return buf
}

// ReadMessage reads a single frame from r. If reply is true,
// the frame is expected to come from a device and a leading
// return code is split off the payload when present.
func ReadMessage(r io.Reader, reply bool) (*Message, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errgo.Mask(err, errgo.Is(io.EOF))
	}
	if p := binary.BigEndian.Uint32(hdr[0:]); p != framePrefix {
		return nil, errgo.Newf("bad frame prefix %#08x", p)
	}
	n := binary.BigEndian.Uint32(hdr[12:])
	if n < trailerLen || n > maxFrameLen {
		return nil, errgo.Newf("bad frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errgo.Notef(err, "cannot read frame")
	}
	trailer := body[len(body)-trailerLen:]
	if s := binary.BigEndian.Uint32(trailer[4:]); s != frameSuffix {
		return nil, errgo.Newf("bad frame suffix %#08x", s)
	}
	crc := crc32.NewIEEE()
	crc.Write(hdr[:])
	crc.Write(body[:len(body)-trailerLen])
	if got, want := binary.BigEndian.Uint32(trailer), crc.Sum32(); got != want {
		return nil, errgo.Newf("frame checksum mismatch (got %#08x want %#08x)", got, want)
	}
	m := &Message{
		Seq:     binary.BigEndian.Uint32(hdr[4:]),
		Cmd:     binary.BigEndian.Uint32(hdr[8:]),
		Payload: body[:len(body)-trailerLen],
	}
	// Return codes are small; anything else is the start of the payload.
	if reply && len(m.Payload) >= 4 && binary.BigEndian.Uint32(m.Payload)&0xffffff00 == 0 {
		m.RetCode = binary.BigEndian.Uint32(m.Payload)
		m.HasRetCode = true
		m.Payload = m.Payload[4:]
	}
	return m, nil
}

// Cipher encrypts and decrypts payloads for a device.
type Cipher struct {
	version string
	key     []byte
}

// NewCipher returns a Cipher for the given protocol version and
// local key, which must be 16 bytes long.
func NewCipher(version, localKey string) (*Cipher, error) {
	if version != Version31 && version != Version33 {
		return nil, errgo.Newf("unsupported protocol version %q", version)
	}
	if len(localKey) != 16 {
		return nil, errgo.Newf("local key must be 16 bytes long, not %d", len(localKey))
	}
	return &Cipher{
		version: version,
		key:     []byte(localKey),
	}, nil
}

// EncodeQuery returns the payload for a message with the given command
// holding the given JSON data.
func (c *Cipher) EncodeQuery(cmd uint32, data []byte) []byte {
	if c.version == Version31 {
		// Queries are sent in the clear.
		return data
	}
	payload := encryptECB(c.key, data)
	if cmd == CmdDPQuery {
		return payload
	}
	return append(append([]byte(nil), version33Header...), payload...)
}

// EncodeReply returns the payload for a device reply holding
// the given JSON data, as a device would send it.
func (c *Cipher) EncodeReply(data []byte) []byte {
	payload := encryptECB(c.key, data)
	if c.version == Version33 {
		return payload
	}
	enc := base64.StdEncoding.EncodeToString(payload)
	return []byte(Version31 + c.md5Sig(enc) + enc)
}

// md5Sig returns the signature that accompanies version 3.1
// encrypted data.
func (c *Cipher) md5Sig(data string) string {
	sum := md5.Sum([]byte("data=" + data + "||lpv=" + Version31 + "||" + string(c.key)))
	return hex.EncodeToString(sum[:])[8:24]
}

// Decode returns the JSON held in the given payload.
func (c *Cipher) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if c.version == Version31 {
		if !bytes.HasPrefix(payload, []byte(Version31)) {
			return payload, nil
		}
		payload = payload[len(Version31):]
		if len(payload) < 16 {
			return nil, errgo.Newf("version 3.1 payload too short")
		}
		data, err := base64.StdEncoding.DecodeString(string(payload[16:]))
		if err != nil {
			return nil, errgo.Notef(err, "cannot decode version 3.1 payload")
		}
		return decryptECB(c.key, data)
	}
	if bytes.HasPrefix(payload, []byte(Version33)) && len(payload) >= len(version33Header) {
		payload = payload[len(version33Header):]
	}
	return decryptECB(c.key, payload)
}

func encryptECB(key, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		// The key length is checked by NewCipher.
		panic(err)
	}
	bs := block.BlockSize()
	pad := bs - len(data)%bs
	buf := make([]byte, len(data)+pad)
	copy(buf, data)
	for i := len(data); i < len(buf); i++ {
		buf[i] = byte(pad)
	}
	for i := 0; i < len(buf); i += bs {
		block.Encrypt(buf[i:i+bs], buf[i:i+bs])
	}
	return buf
}

func decryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, errgo.Newf("ciphertext length %d is not a multiple of the block size", len(data))
	}
	buf := make([]byte, len(data))
	for i := 0; i < len(buf); i += bs {
		block.Decrypt(buf[i:i+bs], data[i:i+bs])
	}
	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > bs || pad > len(buf) {
		return nil, errgo.Newf("bad padding (wrong local key?)")
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, errgo.Newf("bad padding (wrong local key?)")
		}
	}
	return buf[:len(buf)-pad], nil
}
