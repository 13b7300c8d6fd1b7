// Package oggopus encodes raw PCM into a complete OGG/Opus document.
//
// It is the fast path for engines that emit PCM (piper): the pipeline can
// produce a Telegram-ready voice file without shelling out to ffmpeg. The
// Opus codec comes from layeh.com/gopus; the OGG page framing (RFC 3533)
// and the OpusHead/OpusTags header packets (RFC 7845) are written here.
package oggopus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/ttskit/ttskit/pkg/audio"
)

// Opus in OGG is always clocked at 48 kHz with 20 ms frames.
const (
	SampleRate  = 48000
	frameSizeMs = 20
	// FrameSize is the number of samples per channel per 20 ms frame.
	FrameSize = SampleRate * frameSizeMs / 1000 // 960

	// preSkip is the decoder lead-in declared in OpusHead, in 48 kHz
	// samples. 312 matches the libopus encoder lookahead.
	preSkip = 312

	// maxPacketsPerPage keeps pages around one second of audio and well
	// under the 255-segment limit.
	maxPacketsPerPage = 50
)

// Encode compresses little-endian 16-bit PCM into an OGG/Opus document.
// The input is normalized to 48 kHz first; the channel count (1 or 2) is
// preserved. bitrate is in bits per second; zero keeps the codec default.
func Encode(pcm []byte, src audio.Format, bitrate int) ([]byte, error) {
	if src.Channels < 1 || src.Channels > 2 {
		return nil, fmt.Errorf("oggopus: unsupported channel count %d", src.Channels)
	}
	if src.SampleRate <= 0 {
		return nil, fmt.Errorf("oggopus: invalid sample rate %d", src.SampleRate)
	}
	if len(pcm) < 2 {
		return nil, fmt.Errorf("oggopus: empty pcm input")
	}

	channels := src.Channels
	pcm = audio.Normalize(pcm, src, audio.Format{SampleRate: SampleRate, Channels: channels})

	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("oggopus: create encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}

	samples := audio.BytesToInt16s(pcm)
	frameLen := FrameSize * channels

	var packets [][]byte
	for off := 0; off < len(samples); off += frameLen {
		end := off + frameLen
		var frame []int16
		if end <= len(samples) {
			frame = samples[off:end]
		} else {
			// Zero-pad the final partial frame.
			frame = make([]int16, frameLen)
			copy(frame, samples[off:])
		}
		pkt, err := enc.Encode(frame, FrameSize, frameLen*2)
		if err != nil {
			return nil, fmt.Errorf("oggopus: opus encode: %w", err)
		}
		packets = append(packets, pkt)
	}

	return mux(packets, channels, src.SampleRate), nil
}

// mux frames the Opus packets into an OGG bitstream with the two mandatory
// header pages followed by audio pages. Each audio packet advances the
// granule position by one frame (960 samples at 48 kHz).
func mux(packets [][]byte, channels, inputRate int) []byte {
	pw := newPageWriter()

	pw.writePage([][]byte{opusHead(channels, inputRate)}, 0, flagBOS)
	pw.writePage([][]byte{opusTags()}, 0, 0)

	granule := uint64(preSkip)
	for off := 0; off < len(packets); off += maxPacketsPerPage {
		end := min(off+maxPacketsPerPage, len(packets))
		page := packets[off:end]
		granule += uint64(len(page) * FrameSize)

		var flags byte
		if end == len(packets) {
			flags = flagEOS
		}
		pw.writePage(page, granule, flags)
	}
	return pw.bytes()
}
