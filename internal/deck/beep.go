package deck

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Both decks share one output sink; everything is resampled to a fixed
// rate so two sources with different rates can be mixed.
const sinkRate = beep.SampleRate(44100)

const (
	resampleQuality  = 4
	progressInterval = 250 * time.Millisecond
)

var (
	speakerOnce    sync.Once
	speakerInitErr error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerInitErr = speaker.Init(sinkRate, sinkRate.N(time.Second/10))
	})
	return speakerInitErr
}

// Beep is a Deck backed by a beep/v2 streamer playing a progressively
// downloaded network source.
type Beep struct {
	mu sync.Mutex

	role       Role
	log        *slog.Logger
	httpClient *http.Client
	handlers   Handlers

	source   string
	src      *progressiveSource
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	duration time.Duration
	paused   bool
	level    float64

	// gen invalidates signals from an outgoing source after ClearSource.
	gen      uint64
	tickStop chan struct{}
	closed   bool
}

// NewBeep creates a deck for the given role. A nil logger falls back to
// slog.Default.
func NewBeep(role Role, log *slog.Logger) *Beep {
	if log == nil {
		log = slog.Default()
	}
	return &Beep{
		role:       role,
		log:        log.With("deck", role.String()),
		httpClient: &http.Client{},
		paused:     true,
		level:      1,
	}
}

func (b *Beep) Load(location string) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("deck is closed")
	}
	b.clearLocked()
	gen := b.gen
	b.mu.Unlock()

	// The fetch and header decode block on the network; the deck must
	// stay usable (ClearSource, state reads) while they run.
	src, err := openProgressive(b.httpClient, location, func(err error) {
		b.onDownloadError(gen, err)
	})
	if err != nil {
		return err
	}

	streamer, format, err := decodeSource(src, location)
	if err != nil {
		src.Close()
		return fmt.Errorf("decode media: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.gen != gen {
		streamer.Close()
		src.Close()
		return errors.New("load superseded")
	}

	b.source = location
	b.src = src
	b.streamer = streamer
	b.format = format
	b.duration = format.SampleRate.D(streamer.Len())
	b.paused = true

	b.volume = &effects.Volume{
		Streamer: beep.Resample(resampleQuality, format.SampleRate, sinkRate, streamer),
		Base:     2,
	}
	b.applyVolumeLocked(b.level)
	b.ctrl = &beep.Ctrl{Streamer: b.volume, Paused: true}

	// The end-of-stream callback fires on the speaker's goroutine with
	// the speaker lock held, so it must not touch the deck or the
	// speaker itself. It only closes the channel; the watcher goroutine
	// delivers the signal.
	done := make(chan struct{})
	speaker.Play(beep.Seq(b.ctrl, beep.Callback(func() {
		close(done)
	})))
	go b.watchEnded(gen, done)

	b.tickStop = make(chan struct{})
	go b.progressLoop(gen, b.tickStop)

	if b.handlers.OnDuration != nil {
		go b.handlers.OnDuration(b.duration)
	}
	return nil
}

func (b *Beep) Play() {
	b.mu.Lock()
	if b.ctrl == nil {
		b.mu.Unlock()
		return
	}
	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
	b.paused = false
	h := b.handlers
	b.mu.Unlock()

	if h.OnStarted != nil {
		h.OnStarted()
	}
}

func (b *Beep) Pause() {
	b.mu.Lock()
	if b.ctrl == nil || b.paused {
		b.mu.Unlock()
		return
	}
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	b.paused = true
	h := b.handlers
	b.mu.Unlock()

	if h.OnStopped != nil {
		h.OnStopped()
	}
}

func (b *Beep) SeekTo(position time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return
	}
	speaker.Lock()
	err := b.streamer.Seek(b.format.SampleRate.N(position))
	speaker.Unlock()
	if err != nil {
		b.log.Warn("seek failed", "position", position, "error", err)
	}
}

func (b *Beep) SetVolume(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = v
	if b.volume == nil {
		return
	}
	speaker.Lock()
	b.applyVolumeLocked(v)
	speaker.Unlock()
}

// applyVolumeLocked maps a [0, 1] level to the exponential volume effect.
func (b *Beep) applyVolumeLocked(v float64) {
	if v <= 0 {
		b.volume.Silent = true
		return
	}
	b.volume.Silent = false
	b.volume.Volume = math.Log2(v)
}

func (b *Beep) ClearSource() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

// clearLocked detaches the current source. Bumping gen first means any
// in-flight signal from the outgoing source finds itself stale and is
// dropped instead of surfacing as a spurious error.
func (b *Beep) clearLocked() {
	b.gen++
	if b.tickStop != nil {
		close(b.tickStop)
		b.tickStop = nil
	}
	if b.ctrl != nil {
		speaker.Lock()
		b.ctrl.Streamer = nil
		speaker.Unlock()
		b.ctrl = nil
	}
	if b.streamer != nil {
		b.streamer.Close()
		b.streamer = nil
	}
	if b.src != nil {
		b.src.Close()
		b.src = nil
	}
	b.volume = nil
	b.source = ""
	b.duration = 0
	b.paused = true
}

func (b *Beep) Source() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.source
}

func (b *Beep) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *Beep) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := b.format.SampleRate.D(b.streamer.Position())
	speaker.Unlock()
	return pos
}

func (b *Beep) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

// Buffered estimates the playable extent from the downloaded byte count.
func (b *Beep) Buffered() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedLocked()
}

func (b *Beep) SetHandlers(h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

func (b *Beep) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.clearLocked()
	return nil
}

// progressLoop emits progress and buffered-extent signals while a source
// is bound, standing in for the platform's timeupdate events.
func (b *Beep) progressLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		if b.closed || b.gen != gen || b.streamer == nil {
			b.mu.Unlock()
			return
		}
		h := b.handlers
		paused := b.paused
		duration := b.duration
		speaker.Lock()
		position := b.format.SampleRate.D(b.streamer.Position())
		streamErr := b.streamer.Err()
		speaker.Unlock()
		buffered := b.bufferedLocked()
		b.mu.Unlock()

		if streamErr != nil {
			b.log.Warn("streamer error", "error", streamErr)
			b.emitError(gen, ErrDecode)
			return
		}
		if !paused && h.OnProgress != nil {
			h.OnProgress(position, duration)
		}
		if h.OnBuffered != nil {
			h.OnBuffered(buffered)
		}
	}
}

func (b *Beep) bufferedLocked() time.Duration {
	if b.src == nil || b.duration <= 0 {
		return 0
	}
	size := b.src.Size()
	if size <= 0 {
		return 0
	}
	fetched := b.src.BufferedBytes()
	if fetched >= size {
		return b.duration
	}
	return time.Duration(float64(b.duration) * float64(fetched) / float64(size))
}

// watchEnded delivers the end-of-stream signal once the speaker drains
// the source.
func (b *Beep) watchEnded(gen uint64, done <-chan struct{}) {
	<-done
	b.onStreamEnded(gen)
}

func (b *Beep) onStreamEnded(gen uint64) {
	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.paused = true
	h := b.handlers
	b.mu.Unlock()

	if h.OnEnded != nil {
		h.OnEnded()
	}
}

func (b *Beep) onDownloadError(gen uint64, err error) {
	b.log.Warn("media download failed", "error", err)
	b.emitError(gen, ErrNetwork)
}

// emitError reports an error unless the source it belongs to has been
// cleared in the meantime.
func (b *Beep) emitError(gen uint64, code ErrorCode) {
	b.mu.Lock()
	if b.closed || b.gen != gen || b.source == "" {
		b.mu.Unlock()
		return
	}
	h := b.handlers
	b.mu.Unlock()

	if h.OnError != nil {
		h.OnError(code)
	}
}

// decodeSource picks a decoder from the response content type, falling
// back to the location's file extension.
func decodeSource(src *progressiveSource, location string) (beep.StreamSeekCloser, beep.Format, error) {
	kind := src.ContentType()
	if i := strings.Index(kind, ";"); i >= 0 {
		kind = kind[:i]
	}
	kind = strings.TrimSpace(strings.ToLower(kind))

	switch kind {
	case "audio/mpeg", "audio/mp3":
		return mp3.Decode(src)
	case "audio/flac", "audio/x-flac":
		return flac.Decode(src)
	case "audio/ogg", "application/ogg", "audio/vorbis":
		return vorbis.Decode(src)
	case "audio/wav", "audio/x-wav", "audio/wave":
		return wav.Decode(src)
	}

	switch extOf(location) {
	case ".mp3":
		return mp3.Decode(src)
	case ".flac":
		return flac.Decode(src)
	case ".ogg", ".oga":
		return vorbis.Decode(src)
	case ".wav":
		return wav.Decode(src)
	}

	return nil, beep.Format{}, fmt.Errorf("unsupported media type %q for %s", kind, location)
}

func extOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return strings.ToLower(path.Ext(location))
	}
	return strings.ToLower(path.Ext(u.Path))
}

// Verify Beep implements Deck at compile time.
var _ Deck = (*Beep)(nil)
