package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/portable/internal/platform"
)

//go:embed default.lua
var defaultManifest string

// DefaultManifestSource returns the embedded manifest used when no
// --manifest is given.
func DefaultManifestSource() string {
	return defaultManifest
}

// Parser evaluates manifests with the host platform injected.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a parser. A nil detector leaves the platform table
// undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// Default parses the embedded manifest.
func (p *Parser) Default(ctx context.Context) (*Manifest, error) {
	return p.ParseString(ctx, defaultManifest)
}

// ParseFile reads and parses a manifest file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a manifest from Lua source.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Manifest, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua error",
			Detail:  err.Error(),
		}
	}

	return extractManifest(L)
}

// ParseError represents a manifest error with a short message and the raw
// Lua detail.
type ParseError struct {
	Message string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func extractManifest(L *lua.LState) (*Manifest, error) {
	root := L.GetGlobal(luaGlobalPortable)
	table, ok := root.(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: "missing or invalid 'portable' table",
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}

	m := &Manifest{}
	var err error
	if m.Name, err = optString(table, luaFieldName); err != nil {
		return nil, err
	}
	if m.URL, err = optString(table, luaFieldURL); err != nil {
		return nil, err
	}
	if m.Archive, err = optString(table, luaFieldArchive); err != nil {
		return nil, err
	}
	if m.InstallDir, err = optString(table, luaFieldInstall); err != nil {
		return nil, err
	}
	if m.BinDir, err = optString(table, luaFieldBinDir); err != nil {
		return nil, err
	}
	if m.EnvVar, err = optString(table, luaFieldEnvVar); err != nil {
		return nil, err
	}

	switch v := table.RawGetString(luaFieldMinSize).(type) {
	case lua.LNumber:
		m.MinSize = int64(v)
	case *lua.LNilType:
	default:
		return nil, &ParseError{
			Message: "invalid field " + luaFieldMinSize,
			Detail:  fmt.Sprintf("expected number, got %s", v.Type()),
		}
	}

	if m.Probe, err = optStringList(table, luaFieldProbe); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, &ParseError{
			Message: "manifest validation failed",
			Detail:  err.Error(),
		}
	}

	return m, nil
}

// optString reads a string field. nil (including platform.when misses) is
// the empty string; any other type is an error.
func optString(table *lua.LTable, field string) (string, error) {
	switch v := table.RawGetString(field).(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", &ParseError{
			Message: "invalid field " + field,
			Detail:  fmt.Sprintf("expected string, got %s", v.Type()),
		}
	}
}

// optStringList reads an array of strings. nil is an empty list.
func optStringList(table *lua.LTable, field string) ([]string, error) {
	switch v := table.RawGetString(field).(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LTable:
		list := make([]string, 0, v.Len())
		for i := 1; i <= v.Len(); i++ {
			s, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				return nil, &ParseError{
					Message: "invalid field " + field,
					Detail:  fmt.Sprintf("element %d: expected string, got %s", i, v.RawGetInt(i).Type()),
				}
			}
			list = append(list, string(s))
		}
		return list, nil
	default:
		return nil, &ParseError{
			Message: "invalid field " + field,
			Detail:  fmt.Sprintf("expected list of strings, got %s", v.Type()),
		}
	}
}

// FormatError formats a ParseError for display. Without verbose the Lua
// stack traceback is dropped.
func FormatError(err error, verbose bool) string {
	parseErr, ok := err.(*ParseError)
	if !ok {
		return err.Error()
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
	}
	detail := parseErr.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", parseErr.Message, detail)
}
