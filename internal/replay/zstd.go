package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileSink appends frames as JSON lines to zstd-compressed files, one file
// per hour of wall time.
type FileSink struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewFileSink(baseDir, prefix string) *FileSink {
	return &FileSink{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (s *FileSink) WriteFrames(_ context.Context, frames []Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hour := s.now().UTC().Format("2006-01-02-15")
	if hour != s.curHour {
		if err := s.rotateLocked(hour); err != nil {
			return err
		}
	}
	for i := range frames {
		b, err := json.Marshal(&frames[i])
		if err != nil {
			return err
		}
		if _, err := s.w.Write(b); err != nil {
			return err
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FileSink) rotateLocked(hour string) error {
	if err := s.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f = f
	s.enc = enc
	s.w = bufio.NewWriterSize(enc, 128*1024)
	s.curHour = hour
	return nil
}

func (s *FileSink) closeLocked() error {
	var err error
	if s.w != nil {
		_ = s.w.Flush()
	}
	if s.enc != nil {
		err = s.enc.Close()
		s.enc = nil
	}
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	s.w = nil
	s.curHour = ""
	return err
}

func (s *FileSink) pathForHour(hour string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", s.prefix, hour))
}

// ReadFile streams the frames of one replay file to fn in order. A file
// appended to after a restart holds several zstd frames; the decoder reads
// through all of them.
func ReadFile(path string, fn func(Frame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("open zstd %s: %w", path, err)
	}
	defer dec.Close()

	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var fr Frame
		if err := jd.Decode(&fr); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if err := fn(fr); err != nil {
			return err
		}
	}
}
