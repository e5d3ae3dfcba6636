package source

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var retrySleep = time.Second

type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry keeps r running until ctx is done. Every failure is reported through
// onError before reconnecting.
func retry(ctx context.Context, r Retryable, onError func(string)) error {
	errStarting := errors.New("starting")
	err := errStarting
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				onError(err.Error())
				if err = r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				select {
				case <-time.After(retrySleep):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			err = r.Open()
			if err != nil {
				continue
			}
		}
		err = r.Start(ctx)
	}
}

// subscribe runs r under retry until the returned func is called. The
// returned func blocks until r has stopped so no callback outlives it.
func subscribe(r Retryable, onError func(string)) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := retry(ctx, r, onError)
		if err = r.Close(); err != nil {
			log.WithField("err", err).Warnf("%s: unable to close", r.Name())
		}
		log.Infof("%s done", r.Name())
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			<-done
		})
	}
}
