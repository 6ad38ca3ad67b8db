package deck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// progressiveSource downloads a media location into a growing in-memory
// buffer while exposing an io.ReadSeeker over it. Reads past the download
// frontier block until data arrives, which lets the decoders treat a
// network stream as a seekable file. Grounded on the buffered stream
// seeker pattern: a background goroutine fills, the consumer drains.
type progressiveSource struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf     []byte
	size    int64 // reported content length, -1 if unknown
	pos     int64
	done    bool
	fillErr error
	closed  bool

	contentType string
	cancel      context.CancelFunc

	// onFillErr is invoked at most once when the download fails mid-stream.
	onFillErr func(error)
}

const fillChunkSize = 64 << 10

func openProgressive(client *http.Client, location string, onFillErr func(error)) (*progressiveSource, error) {
	ctx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch media: unexpected status %s", resp.Status)
	}

	s := &progressiveSource{
		size:        resp.ContentLength,
		contentType: resp.Header.Get("Content-Type"),
		cancel:      cancel,
		onFillErr:   onFillErr,
	}
	s.cond = sync.NewCond(&s.mu)

	go s.fill(resp.Body)

	return s, nil
}

func (s *progressiveSource) fill(body io.ReadCloser) {
	defer body.Close()

	chunk := make([]byte, fillChunkSize)
	for {
		n, err := body.Read(chunk)

		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF && s.size >= 0 && int64(len(s.buf)) < s.size {
				// Server closed the connection short of the advertised length.
				err = io.ErrUnexpectedEOF
			}
			s.done = true
			var notify func(error)
			if err != io.EOF && !s.closed {
				s.fillErr = err
				notify = s.onFillErr
			}
			s.cond.Broadcast()
			s.mu.Unlock()
			if notify != nil {
				notify(err)
			}
			return
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *progressiveSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pos >= int64(len(s.buf)) && !s.done && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.pos < int64(len(s.buf)) {
		n := copy(p, s.buf[s.pos:])
		s.pos += int64(n)
		return n, nil
	}
	if s.fillErr != nil {
		return 0, s.fillErr
	}
	return 0, io.EOF
}

func (s *progressiveSource) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		// The end is only known once the download completes.
		for !s.done && !s.closed {
			s.cond.Wait()
		}
		base = int64(len(s.buf))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	s.pos = next
	return next, nil
}

// Close aborts the download and unblocks pending readers.
func (s *progressiveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.cond.Broadcast()
	return nil
}

// BufferedBytes returns how many bytes have been downloaded so far.
func (s *progressiveSource) BufferedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.buf))
}

// Size returns the advertised content length, or -1 if unknown.
func (s *progressiveSource) Size() int64 {
	return s.size
}

// ContentType returns the Content-Type reported by the server.
func (s *progressiveSource) ContentType() string {
	return s.contentType
}
