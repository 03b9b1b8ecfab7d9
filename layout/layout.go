// Package layout implements the OCFL Storage Layout Extension contract:
// mapping an object identifier to the object-root path beneath a repository
// root. The set of layouts is closed, so dispatch is by tagged variant
// (Config.Name) rather than open registration.
package layout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ocflkit/ocflcore"
)

// Layout maps an object identifier to a forward-slash object-root path
// relative to the repository root. Resolve is a pure function: equal
// inputs under an equal configuration always produce equal outputs, and
// rejected inputs fail deterministically.
type Layout interface {
	// Name is the extension name, e.g. "0006-flat-layout".
	Name() string
	// Resolve maps id to an object-root path. It never returns a path
	// containing ".." or an empty segment.
	Resolve(id string) (string, error)
}

// Config is the envelope persisted at
// extensions/<name>/config.json under a repository root: the extension
// name plus its raw parameters.
type Config struct {
	Name   string          `json:"extensionName"`
	Params json.RawMessage `json:"-"`
}

// MarshalJSON flattens Config so extensionName sits alongside the layout's
// own parameter fields, matching the on-disk config.json shape.
func (c Config) MarshalJSON() ([]byte, error) {
	var fields map[string]any
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &fields); err != nil {
			return nil, err
		}
	} else {
		fields = map[string]any{}
	}
	fields["extensionName"] = c.Name
	return json.Marshal(fields)
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var probe struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	c.Name = probe.Name
	c.Params = append(json.RawMessage(nil), b...)
	return nil
}

// Build constructs the Layout named by cfg, applying its parameters (or
// extension-specific defaults, when the corresponding fields are absent
// from cfg.Params).
func Build(cfg Config) (Layout, error) {
	switch cfg.Name {
	case "0006-flat-layout":
		return Flat{}, nil
	case "0006-flat-omit-prefix-storage-layout":
		l := FlatOmitPrefix{}
		if err := unmarshalParams(cfg, &l); err != nil {
			return nil, err
		}
		return l, nil
	case "0003-hash-and-id-n-tuple-storage-layout":
		l := HashedNTuple{
			DigestAlgorithm: "sha256",
			TupleSize:       3,
			TupleNum:        3,
		}
		if err := unmarshalParams(cfg, &l); err != nil {
			return nil, err
		}
		return l, nil
	case "0007-n-tuple-omit-prefix-storage-layout":
		l := TupleOmitPrefix{
			Delimiter: ":",
			TupleSize: 3,
			TupleNum:  3,
			Padding:   "left",
		}
		if err := unmarshalParams(cfg, &l); err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, ocfl.NewError(ocfl.ExtensionUnsupported, "layout.Build", fmt.Errorf("unknown layout extension %q", cfg.Name))
	}
}

func unmarshalParams(cfg Config, out any) error {
	if len(cfg.Params) == 0 {
		return nil
	}
	return json.Unmarshal(cfg.Params, out)
}

// driver is the narrow subset of ocfl/driver.Driver layout.Load/Store need,
// declared locally to avoid an import cycle between layout and driver (the
// driver package has no dependency on layout).
type driver interface {
	Download(ctx context.Context, key string) ([]byte, error)
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
}

const configPath = "ocfl_layout.json"

func extensionConfigPath(name string) string {
	return "extensions/" + name + "/config.json"
}

// Load reads a repository's persisted layout configuration and builds the
// corresponding Layout. It returns ocfl.ErrNotFound if no layout has been
// stored yet.
func Load(ctx context.Context, d driver) (Layout, Config, error) {
	raw, err := d.Download(ctx, configPath)
	if err != nil {
		return nil, Config{}, ocfl.NewError(ocfl.NotFound, "layout.Load", err)
	}
	var pointer struct {
		Extension string `json:"extension"`
	}
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return nil, Config{}, ocfl.NewError(ocfl.CorruptObject, "layout.Load", err)
	}
	cfgBytes, err := d.Download(ctx, extensionConfigPath(pointer.Extension))
	if err != nil {
		return nil, Config{}, ocfl.NewError(ocfl.CorruptObject, "layout.Load", err)
	}
	var cfg Config
	if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, Config{}, ocfl.NewError(ocfl.CorruptObject, "layout.Load", err)
	}
	l, err := Build(cfg)
	return l, cfg, err
}

// Store persists cfg as the repository's layout configuration: the
// top-level ocfl_layout.json pointer plus the extension's own config.json.
func Store(ctx context.Context, d driver, cfg Config) error {
	pointer, err := json.Marshal(map[string]string{
		"extension":  cfg.Name,
		"description": "Storage layout configuration for this repository.",
	})
	if err != nil {
		return err
	}
	if err := d.UploadBytes(ctx, configPath, pointer, "application/json"); err != nil {
		return ocfl.NewError(ocfl.IO, "layout.Store", err)
	}
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := d.UploadBytes(ctx, extensionConfigPath(cfg.Name), cfgBytes, "application/json"); err != nil {
		return ocfl.NewError(ocfl.IO, "layout.Store", err)
	}
	return nil
}

// Immutable wraps a resolved Layout so a repository can detect, on open, a
// mismatch between the layout the caller requests and the one already
// persisted to the storage root.
type Immutable struct {
	Layout
	cfg Config
}

// NewImmutable pairs l with the configuration it was built from.
func NewImmutable(l Layout, cfg Config) Immutable {
	return Immutable{Layout: l, cfg: cfg}
}

// CheckMatches returns ocfl.ErrState if want does not name the same
// extension as the layout this Immutable already wraps.
func (im Immutable) CheckMatches(want Config) error {
	if im.cfg.Name != want.Name {
		return ocfl.NewError(ocfl.State, "layout.CheckMatches",
			fmt.Errorf("repository layout is %q, requested %q", im.cfg.Name, want.Name))
	}
	return nil
}
