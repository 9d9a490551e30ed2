package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice is 48 kHz stereo Opus in 20 ms packets.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel per packet

	// maxConcealFrames caps the silence inserted for one sequence gap.
	// Longer gaps are speaker pauses, not loss.
	maxConcealFrames = 5
)

// silentFrame is one packet of digital silence. It is shared and must not be
// modified.
var silentFrame = make([]byte, opusFrameSize*opusChannels*2)

// packetDecoder turns one speaker's Opus packets into interleaved PCM bytes.
type packetDecoder interface {
	decode(opus []byte) ([]byte, error)
}

type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (packetDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b, nil
}

// speaker follows the RTP sequence of one SSRC so that short packet loss
// keeps the speaker's timeline intact.
type speaker struct {
	dec     packetDecoder
	lastSeq uint16
	started bool
}

// feed returns the PCM blocks to emit for the packet with sequence number
// seq, oldest first. Up to maxConcealFrames lost packets before it are
// replaced by silence. Duplicate and late packets yield nothing. Concealment
// blocks are returned even when decoding the packet fails.
func (sp *speaker) feed(seq uint16, opus []byte) ([][]byte, error) {
	var blocks [][]byte
	if sp.started {
		gap := seq - sp.lastSeq
		switch {
		case gap == 0 || gap >= 1<<15:
			return nil, nil
		case gap > 1:
			for range min(int(gap)-1, maxConcealFrames) {
				blocks = append(blocks, silentFrame)
			}
		}
	}
	sp.lastSeq, sp.started = seq, true

	pcm, err := sp.dec.decode(opus)
	if err != nil {
		return blocks, err
	}
	return append(blocks, pcm), nil
}
