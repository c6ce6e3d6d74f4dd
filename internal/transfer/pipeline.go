package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/signature"
)

// MaxSignatureSize caps signature downloads regardless of the artifact limit.
const MaxSignatureSize = 64 * 1024

// SignatureSuffix is appended to an artifact path to locate its signature.
const SignatureSuffix = ".sig"

// Stage is a step of a GetFile call.
type Stage int

const (
	StageConnecting Stage = iota
	StageFetchingFile
	StageFetchingSignature
	StageVerifying
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageConnecting:
		return "connecting"
	case StageFetchingFile:
		return "fetching-file"
	case StageFetchingSignature:
		return "fetching-signature"
	case StageVerifying:
		return "verifying"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Result is a downloaded artifact together with the signature it was
// verified against. Both files have mode 0600 and belong to the caller.
type Result struct {
	FilePath      string
	SignaturePath string
	Digest        signature.Digest
}

// Remove deletes both files. Missing files are ignored.
func (r *Result) Remove() error {
	var errs []error
	for _, p := range []string{r.FilePath, r.SignaturePath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipeline fetches and authenticates (artifact, signature) pairs. A Pipeline
// holds no per-call state and may be shared between goroutines.
type Pipeline struct {
	downloader *Downloader
	logger     logging.Logger
	dial       func(ctx context.Context, server string, timeout time.Duration) (*Conn, error)
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		downloader: NewDownloader(opts),
		logger:     logging.OrNop(opts.Logger),
		dial:       Dial,
	}
}

// call tracks one GetFile invocation.
type call struct {
	logger logging.Logger
	server string
	path   string
	stage  Stage
	files  []string
}

func (c *call) enter(s Stage) {
	c.stage = s
	c.logger.Debug("transfer stage", "server", c.server, "path", c.path, "stage", s.String())
}

// fail removes every file created so far. Cleanup errors are logged and
// never replace err.
func (c *call) fail(err error) error {
	c.logger.Warn("transfer failed", "server", c.server, "path", c.path, "stage", c.stage.String(), "error", err)
	c.enter(StageFailed)
	for _, f := range c.files {
		if rmErr := os.Remove(f); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Error("failed to remove temporary file", "file", f, "error", rmErr)
		}
	}
	return err
}

// GetFile downloads path and path+".sig" from server and verifies the
// artifact's SHA-512 digest against the signature with key. timeout bounds
// the connect and every socket read; maxSize bounds the artifact.
//
// A signature the server does not deliver (a transport failure or an
// oversized body) is reported as a VerificationError, as is a signature that
// does not match. Local I/O failures are returned as they are. On any error
// no file is left behind.
func (p *Pipeline) GetFile(ctx context.Context, server, path string, key signature.KeyMaterial, timeout time.Duration, maxSize int64) (*Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}

	c := &call{logger: p.logger, server: server, path: path}

	c.enter(StageConnecting)
	conn, err := p.dial(ctx, server, timeout)
	if err != nil {
		return nil, c.fail(err)
	}
	defer conn.Close()

	c.enter(StageFetchingFile)
	filePath, err := p.downloader.Get(ctx, conn, path, maxSize)
	if err != nil {
		return nil, c.fail(err)
	}
	c.files = append(c.files, filePath)

	c.enter(StageFetchingSignature)
	sigPath, err := p.downloader.Get(ctx, conn, path+SignatureSuffix, min(maxSize, MaxSignatureSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.fail(ctx.Err())
		}
		if !isSignatureUnavailable(err) {
			return nil, c.fail(fmt.Errorf("fetch signature for %s: %w", path, err))
		}
		p.logger.Debug("signature unavailable", "server", server, "path", path, "cause", err)
		return nil, c.fail(newVerificationError(server, path, err))
	}
	c.files = append(c.files, sigPath)

	c.enter(StageVerifying)
	ok, digest, err := signature.VerifyFile(filePath, sigPath, key)
	if err != nil {
		return nil, c.fail(fmt.Errorf("verify %s: %w", path, err))
	}
	if !ok {
		return nil, c.fail(newVerificationError(server, path, nil))
	}

	c.enter(StageDone)
	p.logger.Info("verified", "server", server, "path", path, "sha512", digest.String())
	return &Result{FilePath: filePath, SignaturePath: sigPath, Digest: digest}, nil
}

// isSignatureUnavailable reports whether err means the server failed to
// provide a usable signature, as opposed to a local failure.
func isSignatureUnavailable(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr) || errors.Is(err, ErrSizeLimitExceeded)
}
