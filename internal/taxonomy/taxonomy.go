// Package taxonomy loads the versioned deviation-class taxonomy that
// anchors both the inference prompt and evaluation. The taxonomy is
// authoritative: predicted classes outside it are invalid.
package taxonomy

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the taxonomy file is missing, unparseable,
// or fails validation. It is part of the run configuration, so the CLI
// maps it to the configuration exit code.
var ErrInvalid = eris.New("taxonomy: invalid")

// Business-impact axes.
const (
	ImpactCost               = "cost"
	ImpactCustomerExperience = "customer_experience"
)

// ClassSpec is the per-class metadata from the taxonomy file.
type ClassSpec struct {
	Level           int    `json:"level" yaml:"level"`
	ExpectsLineItem bool   `json:"expects_line_item" yaml:"expects_line_item"`
	BusinessImpact  string `json:"business_impact" yaml:"business_impact"`
}

// Taxonomy is an immutable, versioned set of deviation classes.
type Taxonomy struct {
	classes map[string]ClassSpec
	ordered []string
	version string
}

// Load reads a taxonomy file (.json, or .yaml/.yml) and validates it.
// The version is a content hash of the raw file so that results recorded
// against different taxonomy revisions remain distinguishable.
func Load(path string) (*Taxonomy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalid, "read %s: %v", path, err)
	}

	classes := map[string]ClassSpec{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &classes); err != nil {
			return nil, eris.Wrapf(ErrInvalid, "parse yaml %s: %v", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &classes); err != nil {
			return nil, eris.Wrapf(ErrInvalid, "parse json %s: %v", path, err)
		}
	}

	if len(classes) == 0 {
		return nil, eris.Wrapf(ErrInvalid, "%s defines no classes", path)
	}

	ordered := make([]string, 0, len(classes))
	for name, spec := range classes {
		if spec.Level < 1 || spec.Level > 3 {
			return nil, eris.Wrapf(ErrInvalid, "class %s has invalid level %d", name, spec.Level)
		}
		if spec.BusinessImpact != ImpactCost && spec.BusinessImpact != ImpactCustomerExperience {
			return nil, eris.Wrapf(ErrInvalid, "class %s has invalid business_impact %q", name, spec.BusinessImpact)
		}
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	sum := sha256.Sum256(raw)
	return &Taxonomy{
		classes: classes,
		ordered: ordered,
		version: fmt.Sprintf("%x", sum[:6]),
	}, nil
}

// Version returns the content-hash version of the loaded taxonomy.
func (t *Taxonomy) Version() string { return t.version }

// Classes returns all class names in stable (sorted) order.
func (t *Taxonomy) Classes() []string {
	out := make([]string, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Contains reports whether name is a valid deviation class.
func (t *Taxonomy) Contains(name string) bool {
	_, ok := t.classes[name]
	return ok
}

// RequiresLineItem reports whether predictions of this class are expected
// to carry a predicted_line_item. Unknown classes return false.
func (t *Taxonomy) RequiresLineItem(name string) bool {
	return t.classes[name].ExpectsLineItem
}

// Spec returns the metadata for a class.
func (t *Taxonomy) Spec(name string) (ClassSpec, bool) {
	spec, ok := t.classes[name]
	return spec, ok
}

// FormatForPrompt renders the taxonomy as a human-readable block for
// interpolation into the inference prompt.
func (t *Taxonomy) FormatForPrompt() string {
	var b strings.Builder
	b.WriteString("Deviation classes (use these exact class names):\n")
	for _, name := range t.ordered {
		cls := t.classes[name]
		fmt.Fprintf(&b, "- %s (level %d, impact: %s)", name, cls.Level, cls.BusinessImpact)
		if cls.ExpectsLineItem {
			b.WriteString("; include a predicted_line_item with a description of the missing work")
		}
		b.WriteString("\n")
	}
	return b.String()
}
