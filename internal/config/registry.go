package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

//go:embed versions/*.yaml
var builtinVersions embed.FS

// ErrNoVersions is returned when a registry would hold no configuration.
var ErrNoVersions = errors.New("no scoring config versions available")

// Registry holds every loaded scoring version, keyed by logic_version.
// It is built once at startup and never mutated afterwards, so it is safe
// to share across goroutines.
type Registry struct {
	versions map[string]*Scoring
	order    []string // ascending version order
}

// NewRegistry builds a registry from already-validated configs.
// Two configs with the same logic_version are rejected.
func NewRegistry(cfgs ...*Scoring) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoVersions
	}
	r := &Registry{versions: make(map[string]*Scoring, len(cfgs))}
	for _, cfg := range cfgs {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		if _, dup := r.versions[cfg.LogicVersion]; dup {
			return nil, fmt.Errorf("duplicate logic_version %q", cfg.LogicVersion)
		}
		r.versions[cfg.LogicVersion] = cfg
		r.order = append(r.order, cfg.LogicVersion)
	}
	sort.Slice(r.order, func(i, j int) bool {
		return compareVersions(r.order[i], r.order[j]) < 0
	})
	return r, nil
}

// BuiltinRegistry loads the versions shipped inside the binary.
func BuiltinRegistry() (*Registry, error) {
	entries, err := builtinVersions.ReadDir("versions")
	if err != nil {
		return nil, fmt.Errorf("reading builtin versions: %w", err)
	}
	var cfgs []*Scoring
	for _, e := range entries {
		data, err := builtinVersions.ReadFile("versions/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading builtin %s: %w", e.Name(), err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		cfgs = append(cfgs, cfg)
	}
	return NewRegistry(cfgs...)
}

// LoadDir loads every *.yaml / *.yml file in dir. Any invalid file fails
// the whole load: a partially loaded registry is never returned.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir: %w", err)
	}
	var cfgs []*Scoring
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoVersions, dir)
	}
	return NewRegistry(cfgs...)
}

// Get returns the requested version. An empty or unknown version falls
// back to the latest available; exact reports whether the request matched.
func (r *Registry) Get(version string) (cfg *Scoring, exact bool) {
	if c, ok := r.versions[version]; ok {
		return c, true
	}
	return r.Latest(), false
}

// Latest returns the highest version by numeric version sort.
func (r *Registry) Latest() *Scoring {
	return r.versions[r.order[len(r.order)-1]]
}

// Versions lists logic versions in ascending order.
func (r *Registry) Versions() []string {
	return append([]string(nil), r.order...)
}

// With returns a new registry that also holds candidate, leaving r
// untouched. Used to evaluate a proposed version next to the live ones.
func (r *Registry) With(candidate *Scoring) (*Registry, error) {
	cfgs := make([]*Scoring, 0, len(r.order)+1)
	for _, v := range r.order {
		cfgs = append(cfgs, r.versions[v])
	}
	cfgs = append(cfgs, candidate)
	return NewRegistry(cfgs...)
}

// compareVersions orders dotted versions numerically segment by segment
// ("1.10.0" > "1.9.2"). A leading "v" is ignored; non-numeric segments
// compare lexically.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xn, xerr := strconv.Atoi(x)
		yn, yerr := strconv.Atoi(y)
		switch {
		case xerr == nil && yerr == nil:
			if xn != yn {
				if xn < yn {
					return -1
				}
				return 1
			}
		case x != y:
			if x == "" {
				return -1
			}
			if y == "" {
				return 1
			}
			return strings.Compare(x, y)
		}
	}
	return 0
}
