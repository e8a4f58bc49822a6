// Package config loads the gateway configuration from YAML with BRAID_
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hanpama/braid/internal/link"
)

// EnvPrefix prefixes environment overrides, e.g. BRAID_SERVER_ADDR.
const EnvPrefix = "BRAID"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Debug switches to development logging.
	Debug    bool            `mapstructure:"debug"`
	Server   ServerConfig    `mapstructure:"server"`
	Batch    BatchConfig     `mapstructure:"batch"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
	Backends []BackendConfig `mapstructure:"backends"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	Pretty       bool          `mapstructure:"pretty"`
	// ForwardHeaders are incoming HTTP headers passed on to backends.
	ForwardHeaders []string   `mapstructure:"forward_headers"`
	CORS           CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BatchConfig tunes the per-route loaders shared by every backend.
type BatchConfig struct {
	Wait time.Duration `mapstructure:"wait"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector. Empty disables export.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type BackendConfig struct {
	Namespace string `mapstructure:"namespace"`
	// SchemaFile is resolved relative to the config file.
	SchemaFile string          `mapstructure:"schema_file"`
	Schema     string          `mapstructure:"schema"`
	Transport  TransportConfig `mapstructure:"transport"`
	// PartitionSize splits a batch into concurrent queries of at most this
	// many requests. 0 sends one query per batch.
	PartitionSize int                `mapstructure:"partition_size"`
	TypeRenames   []RenameConfig     `mapstructure:"type_renames"`
	FieldRenames  FieldRenamesConfig `mapstructure:"field_renames"`
	Links         []LinkConfig       `mapstructure:"links"`
	Extensions    []ExtensionConfig  `mapstructure:"extensions"`
	Switch        *SwitchConfig      `mapstructure:"switch"`
}

// RenameConfig maps a composed name to the backend's name. Renames are
// lists because viper folds the case of map keys.
type RenameConfig struct {
	Braid  string `mapstructure:"braid"`
	Source string `mapstructure:"source"`
}

// FieldRenamesConfig renames root fields per operation type.
type FieldRenamesConfig struct {
	Query    []RenameConfig `mapstructure:"query"`
	Mutation []RenameConfig `mapstructure:"mutation"`
}

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

type TransportConfig struct {
	Kind string `mapstructure:"kind"`
	// URL is the GraphQL endpoint of an http transport.
	URL string `mapstructure:"url"`
	// Endpoints are the host:port targets of a grpc transport.
	Endpoints []string          `mapstructure:"endpoints"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Headers   map[string]string `mapstructure:"headers"`
}

type LinkConfig struct {
	SourceType           string           `mapstructure:"source_type"`
	SourceField          string           `mapstructure:"source_field"`
	TargetNamespace      string           `mapstructure:"target_namespace"`
	TargetType           string           `mapstructure:"target_type"`
	TargetNonNullable    bool             `mapstructure:"target_non_nullable"`
	NewFieldName         string           `mapstructure:"new_field_name"`
	TopLevelQueryField   string           `mapstructure:"top_level_query_field"`
	NoSchemaChangeNeeded bool             `mapstructure:"no_schema_change_needed"`
	Simple               bool             `mapstructure:"simple"`
	Arguments            []ArgumentConfig `mapstructure:"arguments"`
}

type ArgumentConfig struct {
	SourceName        string `mapstructure:"source_name"`
	QueryArgumentName string `mapstructure:"query_argument_name"`
	// Source is OBJECT_FIELD, FIELD_ARGUMENT or CONTEXT.
	Source                      string `mapstructure:"source"`
	TargetFieldMatchingArgument string `mapstructure:"target_field_matching_argument"`
	RemoveInputField            bool   `mapstructure:"remove_input_field"`
	Nullable                    bool   `mapstructure:"nullable"`
}

type ExtensionConfig struct {
	Type string   `mapstructure:"type"`
	On   string   `mapstructure:"on"`
	By   ByConfig `mapstructure:"by"`
}

type ByConfig struct {
	Namespace string `mapstructure:"namespace"`
	Type      string `mapstructure:"type"`
	Query     string `mapstructure:"query"`
	Arg       string `mapstructure:"arg"`
}

// SwitchConfig sends each request to the delegate named by the value of
// one of its arguments.
type SwitchConfig struct {
	Argument  string                     `mapstructure:"argument"`
	Default   string                     `mapstructure:"default"`
	Delegates map[string]TransportConfig `mapstructure:"delegates"`
}

// Load reads path, applies environment overrides and validates the result.
// Backend schema files are read relative to the directory of path.
func Load(path string) (*Config, error) {
	v, err := Read(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v, filepath.Dir(path))
}

// Read returns a viper instance holding the settings of path. Files
// without an extension are read as YAML.
func Read(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// FromViper decodes an already populated viper instance. Relative schema
// files are resolved against dir.
func FromViper(v *viper.Viper, dir string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolveSchemas(dir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers the default values of every optional setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("batch.wait", 2*time.Millisecond)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "braid")
}

func (c *Config) resolveSchemas(dir string) error {
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.SchemaFile == "" || b.Schema != "" {
			continue
		}
		p := b.SchemaFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("backend %s: %w", b.Namespace, err)
		}
		b.Schema = string(data)
	}
	return nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("%w: no backends", ErrInvalid)
	}
	seen := map[string]bool{}
	for _, b := range c.Backends {
		if b.Namespace == "" {
			return fmt.Errorf("%w: backend namespace is required", ErrInvalid)
		}
		if seen[b.Namespace] {
			return fmt.Errorf("%w: backend %s configured twice", ErrInvalid, b.Namespace)
		}
		seen[b.Namespace] = true
	}
	for _, b := range c.Backends {
		if err := b.validate(seen); err != nil {
			return fmt.Errorf("%w: backend %s: %v", ErrInvalid, b.Namespace, err)
		}
	}
	return nil
}

func (b BackendConfig) validate(namespaces map[string]bool) error {
	if b.Schema == "" {
		return errors.New("schema or schema_file is required")
	}
	if b.PartitionSize < 0 {
		return errors.New("partition_size must not be negative")
	}
	if b.Switch != nil {
		if err := b.Switch.validate(); err != nil {
			return err
		}
	} else if err := b.Transport.validate(); err != nil {
		return err
	}
	for _, r := range slices.Concat(b.TypeRenames, b.FieldRenames.Query, b.FieldRenames.Mutation) {
		if r.Braid == "" || r.Source == "" {
			return errors.New("renames need both braid and source names")
		}
	}
	for _, l := range b.Links {
		if !namespaces[l.TargetNamespace] {
			return fmt.Errorf("link %s.%s: unknown target namespace %q", l.SourceType, l.NewFieldName, l.TargetNamespace)
		}
		for _, a := range l.Arguments {
			if _, err := link.ParseArgumentSource(a.Source); err != nil {
				return fmt.Errorf("link %s.%s: %v", l.SourceType, l.NewFieldName, err)
			}
		}
	}
	for _, e := range b.Extensions {
		if !namespaces[e.By.Namespace] {
			return fmt.Errorf("extension of %s: unknown namespace %q", e.Type, e.By.Namespace)
		}
	}
	return nil
}

func (t TransportConfig) validate() error {
	switch t.Kind {
	case TransportHTTP:
		if t.URL == "" {
			return errors.New("http transport: url is required")
		}
	case TransportGRPC:
		if len(t.Endpoints) == 0 {
			return errors.New("grpc transport: endpoints are required")
		}
	case "":
		return errors.New("transport kind is required")
	default:
		return fmt.Errorf("unknown transport kind %q", t.Kind)
	}
	return nil
}

func (s *SwitchConfig) validate() error {
	if s.Argument == "" {
		return errors.New("switch: argument is required")
	}
	if len(s.Delegates) == 0 {
		return errors.New("switch: delegates are required")
	}
	if _, ok := s.Delegates[s.Default]; s.Default != "" && !ok {
		return fmt.Errorf("switch: default %q is not a delegate", s.Default)
	}
	for name, d := range s.Delegates {
		if err := d.validate(); err != nil {
			return fmt.Errorf("switch delegate %s: %v", name, err)
		}
	}
	return nil
}

// LinkOptions converts l into the options of link.New.
func (l LinkConfig) LinkOptions(namespace string) (link.Options, error) {
	o := link.Options{
		SourceNamespace:      namespace,
		SourceType:           l.SourceType,
		SourceField:          l.SourceField,
		TargetNamespace:      l.TargetNamespace,
		TargetType:           l.TargetType,
		TargetNonNullable:    l.TargetNonNullable,
		NewFieldName:         l.NewFieldName,
		TopLevelQueryField:   l.TopLevelQueryField,
		NoSchemaChangeNeeded: l.NoSchemaChangeNeeded,
		Simple:               l.Simple,
	}
	for _, a := range l.Arguments {
		src, err := link.ParseArgumentSource(a.Source)
		if err != nil {
			return link.Options{}, err
		}
		o.Arguments = append(o.Arguments, link.Argument{
			SourceName:                  a.SourceName,
			QueryArgumentName:           a.QueryArgumentName,
			Source:                      src,
			TargetFieldMatchingArgument: a.TargetFieldMatchingArgument,
			RemoveInputField:            a.RemoveInputField,
			Nullable:                    a.Nullable,
		})
	}
	return o, nil
}

func (e ExtensionConfig) Extension() link.Extension {
	return link.Extension{
		Type: e.Type,
		On:   e.On,
		By: link.By{
			Namespace: e.By.Namespace,
			Type:      e.By.Type,
			Query:     e.By.Query,
			Arg:       e.By.Arg,
		},
	}
}

// TypeRenameList converts the type renames of b.
func (b BackendConfig) TypeRenameList() link.TypeRenames {
	var out link.TypeRenames
	for _, r := range b.TypeRenames {
		out = append(out, link.TypeRename{BraidName: r.Braid, SourceName: r.Source})
	}
	return out
}

// FieldRenameList converts root field renames.
func FieldRenameList(rs []RenameConfig) []link.FieldRename {
	var out []link.FieldRename
	for _, r := range rs {
		out = append(out, link.FieldRename{BraidName: r.Braid, SourceName: r.Source})
	}
	return out
}
