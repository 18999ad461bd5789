package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/antchfx/xpath"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// compiledFormat is a format definition with its xpath expressions compiled
type compiledFormat struct {
	def    models.FormatDefinition
	id     *xpath.Expr
	urls   []*xpath.Expr
	emails []*xpath.Expr
}

// Registry maps format tags to XPath-driven schema adapters
type Registry struct {
	mu       sync.RWMutex
	formats  map[string]*compiledFormat
	validate *validator.Validate
	logger   arbor.ILogger
}

var _ interfaces.SchemaRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		formats:  make(map[string]*compiledFormat),
		validate: validator.New(),
		logger:   logger,
	}
}

// Register validates and compiles a format definition, replacing any
// existing definition with the same name
func (r *Registry) Register(def models.FormatDefinition) error {
	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid format definition %q: %w", def.Name, err)
	}
	if !strings.HasPrefix(def.Extension, ".") {
		def.Extension = "." + def.Extension
	}

	compile := func(expr string) (*xpath.Expr, error) {
		if len(def.Namespaces) > 0 {
			return xpath.CompileWithNS(expr, def.Namespaces)
		}
		return xpath.Compile(expr)
	}

	cf := &compiledFormat{def: def}
	var err error
	if cf.id, err = compile(def.IDXPath); err != nil {
		return fmt.Errorf("format %s: id_xpath %q: %w", def.Name, def.IDXPath, err)
	}
	for _, u := range def.URLs {
		if u.Max > 0 && u.Min > u.Max {
			return fmt.Errorf("format %s: url field %s has min %d > max %d", def.Name, u.Label, u.Min, u.Max)
		}
		expr, err := compile(u.XPath)
		if err != nil {
			return fmt.Errorf("format %s: url xpath %q: %w", def.Name, u.XPath, err)
		}
		cf.urls = append(cf.urls, expr)
	}
	for _, e := range def.Emails {
		expr, err := compile(e.XPath)
		if err != nil {
			return fmt.Errorf("format %s: email xpath %q: %w", def.Name, e.XPath, err)
		}
		cf.emails = append(cf.emails, expr)
	}

	r.mu.Lock()
	r.formats[def.Name] = cf
	r.mu.Unlock()

	r.logger.Debug().
		Str("format", def.Name).
		Str("extension", def.Extension).
		Int("url_fields", len(def.URLs)).
		Int("email_fields", len(def.Emails)).
		Msg("Registered metadata format")
	return nil
}

// LoadDir registers every *.toml, *.yaml and *.yml definition in dir. A
// missing directory is not an error. Files that fail to parse are logged and
// counted; the remaining files still load.
func (r *Registry) LoadDir(dir string) (loaded, errors int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to read formats directory")
			return 0, 1
		}
		r.logger.Debug().Str("dir", dir).Msg("Formats directory not found, skipping")
		return 0, 0
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := ReadDefinitionFile(path)
		if err != nil {
			if err != errNotDefinition {
				r.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse format definition")
				errors++
			}
			continue
		}
		if err := r.Register(def); err != nil {
			r.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to register format definition")
			errors++
			continue
		}
		loaded++
	}

	r.logger.Debug().
		Str("dir", dir).
		Int("loaded", loaded).
		Int("errors", errors).
		Msg("Finished loading format definitions")
	return loaded, errors
}

var errNotDefinition = fmt.Errorf("not a format definition file")

// ReadDefinitionFile parses one TOML or YAML format definition. The file's
// base name is used when the definition has no name.
func ReadDefinitionFile(path string) (models.FormatDefinition, error) {
	var def models.FormatDefinition

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
		return def, errNotDefinition
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}

	if ext == ".toml" {
		err = toml.Unmarshal(content, &def)
	} else {
		err = yaml.Unmarshal(content, &def)
	}
	if err != nil {
		return def, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

func (r *Registry) lookup(format string) (*compiledFormat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cf, ok := r.formats[format]
	if !ok {
		return nil, fmt.Errorf("unknown metadata format %q", format)
	}
	return cf, nil
}

// Adapter parses content and returns an adapter for it
func (r *Registry) Adapter(format string, content []byte) (interfaces.SchemaAdapter, error) {
	cf, err := r.lookup(format)
	if err != nil {
		return nil, err
	}
	return newXMLAdapter(cf, content)
}

// Extension returns the metadata file extension for format
func (r *Registry) Extension(format string) (string, error) {
	cf, err := r.lookup(format)
	if err != nil {
		return "", err
	}
	return cf.def.Extension, nil
}

// Formats returns the registered format names, sorted
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
