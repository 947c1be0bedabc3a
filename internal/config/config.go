package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/atlas-os/atlas-disk/internal/config/schema"
	"github.com/atlas-os/atlas-disk/internal/utils/logger"
	"github.com/atlas-os/atlas-disk/internal/utils/security"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

// ConfigTarget is the fixed name the boot configuration file gets in the
// root directory of the image.
const ConfigTarget = "ATLAS.CFG"

// Compression formats accepted for the artifacts section.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionXz   = "xz"
)

// ErrOddArguments is returned when a target name has no matching source path.
var ErrOddArguments = errors.New("file arguments must come in TARGET SOURCE pairs")

// FileMapping places the host file Source at Target inside the image.
type FileMapping struct {
	Target string `yaml:"target" json:"target"`
	Source string `yaml:"source" json:"source"`
}

// SignConfig selects an armored OpenPGP private key used to sign the image.
type SignConfig struct {
	Key           string `yaml:"key" json:"key"`
	PassphraseEnv string `yaml:"passphrase_env,omitempty" json:"passphrase_env,omitempty"`
}

// ArtifactConfig describes what is produced next to the raw image.
type ArtifactConfig struct {
	Compression string      `yaml:"compression,omitempty" json:"compression,omitempty"`
	Sign        *SignConfig `yaml:"sign,omitempty" json:"sign,omitempty"`
}

// ImageManifest describes one image build.
type ImageManifest struct {
	Output    string         `yaml:"output" json:"output"`
	Boot1     string         `yaml:"boot1" json:"boot1"`
	Boot2     string         `yaml:"boot2" json:"boot2"`
	Config    string         `yaml:"config" json:"config"`
	Label     string         `yaml:"label,omitempty" json:"label,omitempty"`
	Files     []FileMapping  `yaml:"files,omitempty" json:"files,omitempty"`
	Artifacts ArtifactConfig `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`

	// Path is the file the manifest was loaded from, empty when it was
	// assembled from command line arguments.
	Path string `yaml:"-" json:"-"`
}

// DefaultManifest returns the values used for every field a manifest leaves
// empty.
func DefaultManifest() *ImageManifest {
	return &ImageManifest{
		Label: "ATLAS BOOT",
		Artifacts: ArtifactConfig{
			Compression: CompressionNone,
		},
	}
}

// Merge fills the zero fields of m from defaults and returns m.
func (m *ImageManifest) Merge(defaults *ImageManifest) *ImageManifest {
	if defaults == nil {
		return m
	}
	if m.Output == "" {
		m.Output = defaults.Output
	}
	if m.Boot1 == "" {
		m.Boot1 = defaults.Boot1
	}
	if m.Boot2 == "" {
		m.Boot2 = defaults.Boot2
	}
	if m.Config == "" {
		m.Config = defaults.Config
	}
	if m.Label == "" {
		m.Label = defaults.Label
	}
	if len(m.Files) == 0 && len(defaults.Files) > 0 {
		m.Files = append([]FileMapping(nil), defaults.Files...)
	}
	if m.Artifacts.Compression == "" {
		m.Artifacts.Compression = defaults.Artifacts.Compression
	}
	if m.Artifacts.Sign == nil && defaults.Artifacts.Sign != nil {
		sign := *defaults.Artifacts.Sign
		m.Artifacts.Sign = &sign
	}
	return m
}

// IsCompressed reports whether a compressed artifact is requested.
func (m *ImageManifest) IsCompressed() bool {
	c := strings.ToLower(m.Artifacts.Compression)
	return c != "" && c != CompressionNone
}

// IsSigned reports whether a detached signature is requested.
func (m *ImageManifest) IsSigned() bool {
	return m.Artifacts.Sign != nil && m.Artifacts.Sign.Key != ""
}

// ManifestFromArgs builds a manifest from the positional form
// OUTPUT BOOT1 BOOT2 CONFIG [TARGET SOURCE]...
func ManifestFromArgs(args []string) (*ImageManifest, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("expected OUTPUT BOOT1 BOOT2 CONFIG, got %d arguments", len(args))
	}
	rest := args[4:]
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("%w: %q has no source", ErrOddArguments, rest[len(rest)-1])
	}

	m := &ImageManifest{
		Output: args[0],
		Boot1:  args[1],
		Boot2:  args[2],
		Config: args[3],
	}
	for i := 0; i < len(rest); i += 2 {
		m.Files = append(m.Files, FileMapping{Target: rest[i], Source: rest[i+1]})
	}
	return m.Merge(DefaultManifest()), nil
}

// LoadManifest reads, schema-validates and decodes a YAML manifest. Relative
// paths are resolved against the manifest's directory.
func LoadManifest(path string) (*ImageManifest, error) {
	log := logger.Logger()

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("unsupported file format %q: manifests must be YAML", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	m.resolvePaths(filepath.Dir(abs))
	m.Path = abs
	m.Merge(DefaultManifest())

	if err := ValidateManifest(m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	log.Debugf("Loaded manifest %s: %d extra files", abs, len(m.Files))
	return m, nil
}

// ParseManifest validates data against the manifest schema and decodes it.
// Unknown fields are rejected.
func ParseManifest(data []byte) (*ImageManifest, error) {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateAgainstSchema(jsonData); err != nil {
		return nil, err
	}

	var m ImageManifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func manifestSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schema.ManifestSchemaURL, bytes.NewReader(schema.ManifestSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("failed to load manifest schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = c.Compile(schema.ManifestSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

func validateAgainstSchema(jsonData []byte) error {
	sch, err := manifestSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to decode manifest JSON: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("manifest is empty")
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateManifest checks the fields a build cannot do without. It applies to
// manifests from any source, including command line arguments.
func ValidateManifest(m *ImageManifest) error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	lim := security.DefaultLimits()
	for _, f := range []struct{ name, value string }{
		{"output", m.Output},
		{"boot1", m.Boot1},
		{"boot2", m.Boot2},
		{"config", m.Config},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s path is required", f.name)
		}
		if err := security.ValidatePath(f.name, f.value, lim); err != nil {
			return err
		}
	}
	if err := security.ValidateString("label", m.Label, lim); err != nil {
		return err
	}
	for i, f := range m.Files {
		if strings.TrimSpace(f.Target) == "" || strings.TrimSpace(f.Source) == "" {
			return fmt.Errorf("files[%d]: target and source are required", i)
		}
		if err := security.ValidateString(fmt.Sprintf("files[%d].target", i), f.Target, lim); err != nil {
			return err
		}
		if err := security.ValidatePath(fmt.Sprintf("files[%d].source", i), f.Source, lim); err != nil {
			return err
		}
	}
	switch strings.ToLower(m.Artifacts.Compression) {
	case "", CompressionNone, CompressionGzip, CompressionZstd, CompressionXz:
	default:
		return fmt.Errorf("unsupported compression %q", m.Artifacts.Compression)
	}
	if m.Artifacts.Sign != nil && m.Artifacts.Sign.Key == "" {
		return fmt.Errorf("artifacts.sign.key is required when signing")
	}
	return nil
}

func (m *ImageManifest) resolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	m.Output = resolve(m.Output)
	m.Boot1 = resolve(m.Boot1)
	m.Boot2 = resolve(m.Boot2)
	m.Config = resolve(m.Config)
	for i := range m.Files {
		m.Files[i].Source = resolve(m.Files[i].Source)
	}
	if m.Artifacts.Sign != nil {
		m.Artifacts.Sign.Key = resolve(m.Artifacts.Sign.Key)
	}
}

// Summary returns a short human readable description, used by validate.
func (m *ImageManifest) Summary() []string {
	lines := []string{
		fmt.Sprintf("Output: %s", m.Output),
		fmt.Sprintf("Boot stage 1: %s", m.Boot1),
		fmt.Sprintf("Boot stage 2: %s", m.Boot2),
		fmt.Sprintf("Config: %s -> %s", m.Config, ConfigTarget),
		fmt.Sprintf("Label: %s", m.Label),
		fmt.Sprintf("Extra files: %d", len(m.Files)),
	}
	if m.IsCompressed() {
		lines = append(lines, fmt.Sprintf("Compression: %s", m.Artifacts.Compression))
	}
	if m.IsSigned() {
		lines = append(lines, fmt.Sprintf("Signing key: %s", m.Artifacts.Sign.Key))
	}
	return lines
}
