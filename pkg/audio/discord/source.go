// Package discord provides an [audio.Source] that listens to a Discord voice
// channel via the bwmarrin/discordgo library. Incoming Opus packets from all
// speakers are decoded with per-SSRC decoders and delivered as 48 kHz stereo
// PCM frames in arrival order; the capture loop down-mixes and resamples them.
//
// The bot joins muted, so nothing is ever sent to the channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Source = (*Source)(nil)

const frameBuffer = 128

// Source implements [audio.Source] on top of a discordgo voice connection.
//
// Source is safe for concurrent use.
type Source struct {
	name       string
	frames     chan audio.AudioFrame
	done       chan struct{}
	closeOnce  sync.Once
	newDecoder func() (packetDecoder, error)

	// teardown leaves the channel and, if the Source created the session,
	// closes it. Overridden in tests.
	teardown func() error
}

// Open connects a new bot session with token, joins the voice channel and
// starts receiving. The session is owned by the returned Source.
func Open(ctx context.Context, token, guildID, channelID string) (*Source, error) {
	if token == "" {
		return nil, errors.New("discord: bot token must not be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	src, err := Join(ctx, session, guildID, channelID)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	leave := src.teardown
	src.teardown = func() error {
		return errors.Join(leave(), session.Close())
	}
	return src, nil
}

// Join joins channelID on an existing session (owned by the caller) and
// starts receiving. ctx only governs the join phase.
func Join(ctx context.Context, session *discordgo.Session, guildID, channelID string) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel: %w", err)
	}
	// mute=true (we never speak), deaf=false (we receive audio).
	vc, err := session.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	s := newSource("discord:"+guildID+"/"+channelID, vc.OpusRecv, newOpusDecoder)
	s.teardown = vc.Disconnect
	return s, nil
}

// newSource starts the receive loop over packets.
func newSource(name string, packets <-chan *discordgo.Packet, newDecoder func() (packetDecoder, error)) *Source {
	s := &Source{
		name:       name,
		frames:     make(chan audio.AudioFrame, frameBuffer),
		done:       make(chan struct{}),
		newDecoder: newDecoder,
	}
	go s.recvLoop(packets)
	return s
}

// Info reports Discord's fixed voice format.
func (s *Source) Info() audio.StreamInfo {
	return audio.StreamInfo{DeviceName: s.name, SampleRate: opusSampleRate, Channels: opusChannels}
}

// Read blocks until a decoded frame is available.
func (s *Source) Read(ctx context.Context) (audio.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return audio.AudioFrame{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return audio.AudioFrame{}, audio.ErrEndOfStream
		}
		return f, nil
	}
}

// Close leaves the voice channel. Safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.teardown != nil {
			err = s.teardown()
		}
	})
	return err
}

// recvLoop decodes Opus packets per SSRC and forwards PCM frames. Frames are
// dropped when the reader falls behind.
func (s *Source) recvLoop(packets <-chan *discordgo.Packet) {
	defer close(s.frames)
	speakers := make(map[uint32]*speaker)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}

			sp, exists := speakers[pkt.SSRC]
			if !exists {
				dec, err := s.newDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				sp = &speaker{dec: dec}
				speakers[pkt.SSRC] = sp
				slog.Debug("discord: new speaker", "ssrc", strconv.FormatUint(uint64(pkt.SSRC), 10))
			}

			blocks, err := sp.feed(pkt.Sequence, pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "seq", pkt.Sequence, "err", err)
			}
			// The last block belongs to pkt unless decoding failed.
			end, concealed := pkt.Timestamp, len(blocks)
			if err != nil {
				end -= opusFrameSize
			} else {
				concealed--
			}
			if concealed > 0 {
				slog.Debug("discord: concealing lost packets", "ssrc", pkt.SSRC, "frames", concealed)
			}
			for i, pcm := range blocks {
				ts := end - uint32(len(blocks)-1-i)*opusFrameSize
				if !s.emit(audio.AudioFrame{
					Data:       pcm,
					SampleRate: opusSampleRate,
					Channels:   opusChannels,
					Timestamp:  time.Duration(ts) * time.Second / opusSampleRate,
				}) {
					return
				}
			}
		}
	}
}

// emit hands f to the reader without blocking. It returns false once the
// source is closed.
func (s *Source) emit(f audio.AudioFrame) bool {
	select {
	case s.frames <- f:
	case <-s.done:
		return false
	default:
		slog.Debug("discord: frame buffer full, dropping frame")
	}
	return true
}
