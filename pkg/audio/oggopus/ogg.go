package oggopus

import (
	"bytes"
	"encoding/binary"
)

// OGG page header flags.
const (
	flagContinued byte = 0x01
	flagBOS       byte = 0x02
	flagEOS       byte = 0x04
)

// bitstreamSerial identifies the single logical stream we mux. Any fixed
// value is valid for a standalone file.
const bitstreamSerial uint32 = 0x74747321 // "tts!"

// pageWriter accumulates OGG pages for one logical bitstream.
type pageWriter struct {
	buf bytes.Buffer
	seq uint32
}

func newPageWriter() *pageWriter {
	return &pageWriter{}
}

func (pw *pageWriter) bytes() []byte {
	return pw.buf.Bytes()
}

// writePage emits one page carrying the given packets in order. Packets
// must be small enough that their combined lacing fits the 255-segment
// limit; callers batch accordingly.
func (pw *pageWriter) writePage(packets [][]byte, granule uint64, flags byte) {
	var lacing []byte
	var body []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, p...)
	}

	header := make([]byte, 27, 27+len(lacing))
	copy(header[0:4], "OggS")
	header[4] = 0 // stream structure version
	header[5] = flags
	binary.LittleEndian.PutUint64(header[6:14], granule)
	binary.LittleEndian.PutUint32(header[14:18], bitstreamSerial)
	binary.LittleEndian.PutUint32(header[18:22], pw.seq)
	// header[22:26] is the CRC, filled in below.
	header[26] = byte(len(lacing))
	header = append(header, lacing...)

	page := append(header, body...)
	binary.LittleEndian.PutUint32(page[22:26], oggCRC(page))

	pw.buf.Write(page)
	pw.seq++
}

// opusHead builds the identification header packet (RFC 7845 section 5.1).
func opusHead(channels, inputRate int) []byte {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:12], preSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(inputRate))
	// output gain 0, channel mapping family 0 (mono/stereo).
	return head
}

// opusTags builds the comment header packet (RFC 7845 section 5.2).
func opusTags() []byte {
	const vendor = "ttskit"
	tags := make([]byte, 0, 8+4+len(vendor)+4)
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0) // user comment count
	return tags
}

// OGG uses CRC-32 with polynomial 0x04c11db7, zero initial value, no final
// inversion and no bit reflection, computed over the page with the CRC
// field zeroed. hash/crc32 only implements reflected variants, so the
// table lives here.
var oggCRCTable = func() [256]uint32 {
	const poly = 0x04c11db7
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
