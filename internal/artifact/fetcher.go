package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/galah-group/galah-installer/internal/atomicfile"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/transfer"
)

// DefaultWorkers is the number of concurrent downloads when none is set.
const DefaultWorkers = 2

// downloadDirName holds in-flight downloads inside the cache directory.
const downloadDirName = ".downloads"

// Config holds configuration for the Fetcher.
type Config struct {
	// Server is the update server, host[:port].
	Server string
	// Key verifies every artifact.
	Key signature.KeyMaterial
	// Timeout bounds the connect and every socket read.
	Timeout time.Duration
	// MaxSize bounds each artifact download.
	MaxSize int64
	// CacheDir receives verified artifacts and their signatures.
	CacheDir string
	// Workers is the number of concurrent downloads.
	Workers int
	Logger  logging.Logger
	// Progress, when set, receives the byte counts of every download.
	Progress transfer.Progress

	// OnComplete, when set, is called once per artifact that was attempted,
	// from the worker goroutine that handled it.
	OnComplete func(a Artifact, err error)
}

// Fetched is a verified artifact in the cache.
type Fetched struct {
	Artifact
	FilePath      string
	SignaturePath string
	Digest        signature.Digest
	// Cached is true when the files were already present and re-verified.
	Cached bool
}

// Fetcher downloads artifacts through a transfer.Pipeline and commits them
// into the cache.
type Fetcher struct {
	cfg      Config
	pipeline *transfer.Pipeline
	logger   logging.Logger
}

// NewFetcher validates cfg and prepares the cache directory.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("server is required")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("max artifact size must be positive")
	}
	if err := cfg.Key.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	downloads := filepath.Join(cfg.CacheDir, downloadDirName)
	if err := os.MkdirAll(downloads, 0700); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	logger := logging.OrNop(cfg.Logger)
	return &Fetcher{
		cfg:      cfg,
		pipeline: transfer.NewPipeline(transfer.Options{TempDir: downloads, Logger: logger, Progress: cfg.Progress}),
		logger:   logger,
	}, nil
}

// Fetch makes every artifact available in the cache, downloading those that
// are missing or fail re-verification. Results are in input order. The first
// failure stops the remaining downloads and is returned; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, artifacts []Artifact) ([]Fetched, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]Fetched, len(artifacts))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	workers := min(f.cfg.Workers, len(artifacts))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				a := artifacts[i]
				res, err := f.fetchOne(ctx, a)
				if f.cfg.OnComplete != nil {
					f.cfg.OnComplete(a, err)
				}
				if err != nil {
					once.Do(func() {
						firstErr = fmt.Errorf("fetch %s: %w", a.Path, err)
						cancel()
					})
					continue
				}
				results[i] = *res
			}
		}()
	}

feed:
	for i := range artifacts {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, a Artifact) (*Fetched, error) {
	dest := a.CachePath(f.cfg.CacheDir)
	sigDest := dest + transfer.SignatureSuffix

	if digest, ok := f.verifyCached(dest, sigDest); ok {
		f.logger.Debug("using cached artifact", "path", a.Path, "file", dest)
		return &Fetched{Artifact: a, FilePath: dest, SignaturePath: sigDest, Digest: digest, Cached: true}, nil
	}

	res, err := f.pipeline.GetFile(ctx, f.cfg.Server, a.Path, f.cfg.Key, f.cfg.Timeout, f.cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Remove(); err != nil {
			f.logger.Error("failed to remove downloaded files", "path", a.Path, "error", err)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	// The artifact lands before its signature; an artifact without a
	// signature is never treated as cached.
	if err := f.commit(res.FilePath, dest); err != nil {
		return nil, err
	}
	if err := f.commit(res.SignaturePath, sigDest); err != nil {
		return nil, err
	}

	f.logger.Info("fetched artifact", "path", a.Path, "file", dest, "sha512", res.Digest.String())
	return &Fetched{Artifact: a, FilePath: dest, SignaturePath: sigDest, Digest: res.Digest}, nil
}

// commit copies src over dest atomically.
func (f *Fetcher) commit(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	defer in.Close()

	err = atomicfile.Update(dest, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}, atomicfile.WithLogger(f.logger))
	if err != nil {
		return fmt.Errorf("commit %s: %w", dest, err)
	}
	return nil
}

// verifyCached reports whether a cached pair exists and still verifies.
// A pair that fails verification is removed.
func (f *Fetcher) verifyCached(dest, sigDest string) (signature.Digest, bool) {
	if _, err := os.Stat(dest); err != nil {
		return signature.Digest{}, false
	}

	ok, digest, err := signature.VerifyFile(dest, sigDest, f.cfg.Key)
	if err == nil && ok {
		return digest, true
	}

	f.logger.Warn("cached artifact failed verification, fetching again", "file", dest, "error", err)
	for _, p := range []string{dest, sigDest} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			f.logger.Error("failed to remove cached file", "file", p, "error", rmErr)
		}
	}
	return signature.Digest{}, false
}
