package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/jd3nn1s/telemeter/position"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var errEndOfReplay = errors.New("end of replay")

// to allow testing
var openFile = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Replay plays back a file of JSON encoded samples, one per line. Reaching the
// end of the file interrupts the stream and the file is replayed after the
// retry delay.
type Replay struct {
	Path string
	// Interval paces samples; zero delivers them back to back.
	Interval time.Duration
}

func (r *Replay) Subscribe(onSample func(position.Sample), onError func(msg string)) func() {
	return subscribe(&replayRetryable{
		path:     r.Path,
		interval: r.Interval,
		onSample: onSample,
	}, onError)
}

type replayRetryable struct {
	path     string
	interval time.Duration
	onSample func(position.Sample)

	f io.ReadCloser
}

func (r *replayRetryable) Name() string {
	return "replay"
}

func (r *replayRetryable) Open() error {
	f, err := openFile(r.path)
	if err != nil {
		return errors.Wrapf(err, "unable to open replay %s", r.path)
	}
	r.f = f
	return nil
}

func (r *replayRetryable) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *replayRetryable) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(r.f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var s position.Sample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			log.WithField("line", line).WithField("err", err).Warn("skipping malformed replay line")
			continue
		}
		if r.interval > 0 {
			select {
			case <-time.After(r.interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		r.onSample(s)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "unable to read replay")
	}
	return errEndOfReplay
}
