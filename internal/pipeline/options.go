package pipeline

import (
	"errors"
	"log/slog"
	"time"
)

type settings struct {
	logger          *slog.Logger
	notifier        Notifier
	faceConcurrency int
	queryK          int
	statusTimeout   time.Duration
	locker          PhotoLocker
}

func defaultSettings() *settings {
	return &settings{
		logger:          slog.Default(),
		notifier:        nopNotifier{},
		faceConcurrency: 1,
		queryK:          20,
		statusTimeout:   10 * time.Second,
		locker:          newPhotoLocks(),
	}
}

// Option configures an IngestionPipeline or SearchPipeline.
type Option func(*settings) error

// WithLogger sets the fallback logger used when the call context carries none.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithNotifier sets where photo lifecycle notifications are sent.
func WithNotifier(n Notifier) Option {
	return func(s *settings) error {
		if n == nil {
			n = nopNotifier{}
		}
		s.notifier = n
		return nil
	}
}

// WithFaceConcurrency sets how many faces of one photo are written in parallel.
// 1 (the default) writes faces sequentially in detection order.
func WithFaceConcurrency(n int) Option {
	return func(s *settings) error {
		if n < 1 {
			n = 1
		}
		s.faceConcurrency = n
		return nil
	}
}

// WithQueryK sets how many neighbours a search requests from the vector index.
func WithQueryK(k int) Option {
	return func(s *settings) error {
		if k < 1 {
			k = 1
		}
		s.queryK = k
		return nil
	}
}

// WithStatusTimeout bounds the best-effort FAILED transition, which runs
// detached from the caller's cancellation.
func WithStatusTimeout(d time.Duration) Option {
	return func(s *settings) error {
		if d > 0 {
			s.statusTimeout = d
		}
		return nil
	}
}

// WithPhotoLocker sets the per-photo lock shared by Ingest, Delete and
// FailStale. The default lock only covers the current process; deployments
// that ingest and delete from different processes must pass a shared one.
func WithPhotoLocker(l PhotoLocker) Option {
	return func(s *settings) error {
		if l == nil {
			return errors.New("photo locker is nil")
		}
		s.locker = l
		return nil
	}
}

func applyOptions(opts []Option) (*settings, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}
