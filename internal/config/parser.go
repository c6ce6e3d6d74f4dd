package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/planner"
	"github.com/galah-group/galah-installer/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates galah.lua files with platform detection.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a config parser. A nil detector leaves the platform
// table undefined; a nil logger discards output.
func NewParser(detector platform.Detector, logger logging.Logger) *Parser {
	return &Parser{detector: detector, logger: logging.OrNop(logger)}
}

// ParseFile loads and validates the config at path. A relative public_key
// is resolved against the directory containing path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	src, err := io.ReadAll(io.LimitReader(f, MaxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(src) > MaxConfigFileSize {
		return nil, &ValidationError{Message: fmt.Sprintf("%s exceeds %d bytes", path, MaxConfigFileSize)}
	}

	cfg, err := p.parse(ctx, string(src), path)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.PublicKey) {
		cfg.PublicKey = filepath.Join(filepath.Dir(path), cfg.PublicKey)
	}

	p.logger.Debug("config loaded", "path", path, "server", cfg.Server, "packages", len(cfg.Packages))
	return cfg, nil
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	return p.parse(ctx, luaCode, "<string>")
}

func (p *Parser) parse(ctx context.Context, luaCode, name string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		platform.Inject(L, info)
	}

	fn, err := L.Load(strings.NewReader(luaCode), name)
	if err != nil {
		return nil, &ParseError{Message: "Lua syntax error", Detail: err.Error()}
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("evaluate config: %w", ctx.Err())
		}
		return nil, &ParseError{Message: "Lua runtime error", Detail: err.Error()}
	}

	return extractConfig(L)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global galah table over the defaults.
func extractConfig(L *lua.LState) (*Config, error) {
	root, ok := L.GetGlobal(luaGlobalGalah).(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "missing or invalid 'galah' table",
			Detail:  fmt.Sprintf("expected table, got %s", L.GetGlobal(luaGlobalGalah).Type()),
		}
	}

	fields, err := stringKeyed(root, "")
	if err != nil {
		return nil, err
	}

	cfg := Default()
	for _, key := range sortedFieldNames(fields) {
		v := fields[key]
		switch key {
		case luaFieldServer:
			err = setString(&cfg.Server, key, v)
		case luaFieldPublicKey:
			err = setString(&cfg.PublicKey, key, v)
		case luaFieldStateDir:
			err = setString(&cfg.StateDir, key, v)
		case luaFieldCacheDir:
			err = setString(&cfg.CacheDir, key, v)
		case luaFieldTimeout:
			var secs float64
			if secs, err = number(key, v); err == nil {
				cfg.Timeout = time.Duration(secs * float64(time.Second))
			}
		case luaFieldMaxIndexSize:
			cfg.MaxIndexSize, err = integer(key, v)
		case luaFieldMaxArtifactSize:
			cfg.MaxArtifactSize, err = integer(key, v)
		case luaFieldWorkers:
			var n int64
			if n, err = integer(key, v); err == nil {
				cfg.Workers = int(n)
			}
		case luaFieldPackages:
			cfg.Packages, err = extractPackages(v)
		default:
			err = &ValidationError{Field: key, Message: "unknown field"}
		}
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// extractPackages reads the desired state. Entries a platform condition
// turned into nil are already absent from the table.
func extractPackages(v lua.LValue) (planner.Desired, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, &ValidationError{Field: luaFieldPackages, Message: "must be a table of name = version"}
	}
	entries, err := stringKeyed(t, luaFieldPackages)
	if err != nil {
		return nil, err
	}

	desired := make(planner.Desired, len(entries))
	for name, val := range entries {
		s, ok := val.(lua.LString)
		if !ok {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("%s[%q]", luaFieldPackages, name),
				Message: fmt.Sprintf("version must be a string, got %s", val.Type()),
			}
		}
		desired[name] = string(s)
	}
	return desired, nil
}

// stringKeyed copies t into a map, rejecting non-string keys.
func stringKeyed(t *lua.LTable, field string) (map[string]lua.LValue, error) {
	out := make(map[string]lua.LValue)
	var bad lua.LValue
	t.ForEach(func(k, v lua.LValue) {
		s, ok := k.(lua.LString)
		if !ok {
			if bad == nil {
				bad = k
			}
			return
		}
		out[string(s)] = v
	})
	if bad != nil {
		return nil, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("keys must be strings, got %s %s", bad.Type(), bad.String()),
		}
	}
	return out, nil
}

func sortedFieldNames(m map[string]lua.LValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setString(dst *string, field string, v lua.LValue) error {
	s, ok := v.(lua.LString)
	if !ok {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be a string, got %s", v.Type())}
	}
	*dst = string(s)
	return nil
}

func number(field string, v lua.LValue) (float64, error) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, &ValidationError{Field: field, Message: fmt.Sprintf("must be a number, got %s", v.Type())}
	}
	return float64(n), nil
}

func integer(field string, v lua.LValue) (int64, error) {
	f, err := number(field, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, &ValidationError{Field: field, Message: fmt.Sprintf("must be an integer, got %v", f)}
	}
	return int64(f), nil
}

// FormatError formats a config error for user display. In verbose mode the
// raw Lua error is shown; otherwise only its first relevant part.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Error()
	}
	return err.Error()
}
