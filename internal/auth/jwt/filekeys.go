package jwt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	fileSource          = "file"
	defaultFileDebounce = 100 * time.Millisecond
)

// FileKeyProvider loads a local JWKS file into a Keyring and reloads it
// when the file changes.
type FileKeyProvider struct {
	path          string
	keyring       *Keyring
	logger        observability.Logger
	metrics       *Metrics
	debounceDelay time.Duration

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
}

// FileKeyOption is a functional option for the file key provider.
type FileKeyOption func(*FileKeyProvider)

// WithFileDebounce sets the delay between a change and the reload.
func WithFileDebounce(d time.Duration) FileKeyOption {
	return func(p *FileKeyProvider) {
		p.debounceDelay = d
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger observability.Logger) FileKeyOption {
	return func(p *FileKeyProvider) {
		p.logger = logger
	}
}

// WithFileMetrics sets the metrics.
func WithFileMetrics(m *Metrics) FileKeyOption {
	return func(p *FileKeyProvider) {
		p.metrics = m
	}
}

// NewFileKeyProvider creates a provider for the JWKS file at path.
func NewFileKeyProvider(path string, keyring *Keyring, opts ...FileKeyOption) (*FileKeyProvider, error) {
	if keyring == nil {
		return nil, errors.New("keyring is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve keys file path: %w", err)
	}

	p := &FileKeyProvider{
		path:          filepath.Clean(abs),
		keyring:       keyring,
		logger:        observability.NopLogger(),
		debounceDelay: defaultFileDebounce,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start loads the file and watches its directory. The initial load must
// succeed.
func (p *FileKeyProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("file key provider already running")
	}

	if err := p.Reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch keys directory: %w", err)
	}

	p.watcher = watcher
	p.stopCh = make(chan struct{})
	p.stoppedCh = make(chan struct{})
	p.running = true

	go p.watch(ctx)

	p.logger.Info("watching keys file", observability.String("path", p.path))
	return nil
}

// Stop stops watching.
func (p *FileKeyProvider) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	stopped := p.stoppedCh
	p.mu.Unlock()

	<-stopped
	return p.watcher.Close()
}

func (p *FileKeyProvider) watch(ctx context.Context) {
	defer close(p.stoppedCh)

	var timer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-p.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(p.debounceDelay)
			debounceCh = timer.C

		case <-debounceCh:
			debounceCh = nil
			if err := p.Reload(); err != nil {
				p.logger.Error("keys file reload failed",
					observability.String("path", p.path),
					observability.Error(err),
				)
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("keys file watcher error", observability.Error(err))
		}
	}
}

// Reload reads the file and publishes its keys. On failure the previous
// keys stay published.
func (p *FileKeyProvider) Reload() (err error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordRefresh(fileSource, err == nil, time.Since(start))
		}
	}()

	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read keys file: %w", err)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return NewKeyError("", "failed to parse keys file", fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}
	return p.keyring.Update(fileSource, set)
}

// Path returns the watched file.
func (p *FileKeyProvider) Path() string {
	return p.path
}
