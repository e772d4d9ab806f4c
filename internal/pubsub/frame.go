package pubsub

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Messages that do not fit one payload are zstd-compressed, base64-encoded
// and split into frames of the form "~<id>:<index>:<total>:<chunk>".
const (
	framePrefix = '~'
	// maxFrames caps one message at roughly 2MB of encoded payload.
	maxFrames = 256
	// partialTTL bounds how long an incomplete message is kept.
	partialTTL = 30 * time.Second

	maxFrameHeader = len("~") + 36 + len(":255:256:")
)

// ErrMessageTooLarge is returned for messages that need more than maxFrames frames.
var ErrMessageTooLarge = errors.New("pubsub: message too large")

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// encodeFrames splits msg into payloads of at most limit bytes. A message
// that already fits, and cannot be mistaken for a frame, is sent as is.
func encodeFrames(msg []byte, limit int) ([]string, error) {
	if len(msg) <= limit && (len(msg) == 0 || msg[0] != framePrefix) {
		return []string{string(msg)}, nil
	}
	chunk := limit - maxFrameHeader
	if chunk <= 0 {
		return nil, fmt.Errorf("pubsub: payload limit %d too small for framing", limit)
	}

	body := base64.RawStdEncoding.EncodeToString(encoder.EncodeAll(msg, nil))
	total := (len(body) + chunk - 1) / chunk
	if total > maxFrames {
		return nil, fmt.Errorf("%w: %d bytes need %d frames", ErrMessageTooLarge, len(msg), total)
	}

	id := uuid.NewString()
	frames := make([]string, 0, total)
	for i := range total {
		part := body[i*chunk : min((i+1)*chunk, len(body))]
		frames = append(frames, fmt.Sprintf("%c%s:%d:%d:%s", framePrefix, id, i, total, part))
	}
	return frames, nil
}

type partialMessage struct {
	parts   []string
	got     int
	started time.Time
}

// assembler rebuilds framed messages. It is not safe for concurrent use;
// each subscription owns one.
type assembler struct {
	partial map[string]*partialMessage
}

func newAssembler() *assembler {
	return &assembler{partial: make(map[string]*partialMessage)}
}

// add feeds one payload. It returns the message once all of its frames have
// arrived; unframed payloads complete immediately.
func (a *assembler) add(payload string, now time.Time) ([]byte, bool, error) {
	if payload == "" || payload[0] != framePrefix {
		return []byte(payload), true, nil
	}

	for id, p := range a.partial {
		if now.Sub(p.started) > partialTTL {
			delete(a.partial, id)
		}
	}

	fields := strings.SplitN(payload[1:], ":", 4)
	if len(fields) != 4 {
		return nil, false, errors.New("pubsub: malformed frame")
	}
	id := fields[0]
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: malformed frame index: %w", err)
	}
	total, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: malformed frame count: %w", err)
	}
	if total < 1 || total > maxFrames || index < 0 || index >= total {
		return nil, false, fmt.Errorf("pubsub: frame %d of %d out of range", index, total)
	}

	p, ok := a.partial[id]
	if !ok {
		p = &partialMessage{parts: make([]string, total), started: now}
		a.partial[id] = p
	}
	if len(p.parts) != total {
		delete(a.partial, id)
		return nil, false, errors.New("pubsub: inconsistent frame count")
	}
	if p.parts[index] == "" {
		p.parts[index] = fields[3]
		p.got++
	}
	if p.got < total {
		return nil, false, nil
	}
	delete(a.partial, id)

	compressed, err := base64.RawStdEncoding.DecodeString(strings.Join(p.parts, ""))
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: decode frames: %w", err)
	}
	msg, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("pubsub: decompress frames: %w", err)
	}
	return msg, true, nil
}
