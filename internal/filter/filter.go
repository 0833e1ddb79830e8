// Package filter decides which harvested records are worth tracking.
// Rules are allow-lists over authority, phase, and construction type plus
// a usage-code prefix exclusion; an empty list means no constraint on that
// field.
package filter

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/biswatch/internal/model"
)

// Rules is the serializable rule set.
type Rules struct {
	Authorities          []string `yaml:"authorities" mapstructure:"authorities"`
	Phases               []string `yaml:"phases" mapstructure:"phases"`
	DropPhases           []string `yaml:"drop_phases" mapstructure:"drop_phases"`
	ConstructionTypes    []string `yaml:"construction_types" mapstructure:"construction_types"`
	ExcludeUsagePrefixes []string `yaml:"exclude_usage_prefixes" mapstructure:"exclude_usage_prefixes"`
}

// DefaultRules tracks pre-construction cases around Rīga: the Pierīga
// building authorities, every phase before Būvdarbi, building works only,
// and no usage codes in the 2xxx (engineering structures) range.
func DefaultRules() Rules {
	return Rules{
		Authorities: []string{
			"RĪGAS VALSTSPILSĒTAS PAŠVALDĪBAS PILSĒTAS ATTĪSTĪBAS DEPARTAMENTS",
			"Ādažu novada būvvalde",
			"Saulkrastu novada būvvalde",
			"Ropažu novada pašvaldības būvvalde",
			"Siguldas novada būvvalde",
			`Salaspils novada pašvaldības iestāde "Salaspils novada Būvvalde"`,
			"Ogres novada pašvaldības centrālās administrācijas Ogres novada būvvalde",
			"Ķekavas novada pašvaldības būvvalde",
			"OLAINES NOVADA PAŠVALDĪBAS BŪVVALDE",
			"Mārupes novada Būvvalde",
			"Jūrmalas Būvvalde",
		},
		Phases: []string{
			"Iecere",
			"Būvniecības ieceres publiskā apspriešana",
			"Projektēšanas nosacījumu izpilde",
			"Būvdarbu uzsākšanas nosacījumu izpilde",
		},
		DropPhases:           []string{"Būvdarbi"},
		ConstructionTypes:    []string{"Atjaunošana", "Jauna būvniecība", "Pārbūve"},
		ExcludeUsagePrefixes: []string{"2"},
	}
}

// LoadRules reads a rule set from a YAML file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "filter: read rules %s", path)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, eris.Wrapf(err, "filter: parse rules %s", path)
	}
	return r, nil
}

// Filter applies a compiled rule set.
type Filter struct {
	authorities       map[string]struct{}
	phases            map[string]struct{}
	dropPhases        map[string]struct{}
	constructionTypes map[string]struct{}
	usagePrefixes     []string
}

// New compiles the rules. Values are canonicalized the same way extraction
// canonicalizes field values, so diacritic encoding differences between a
// rules file and the portal cannot cause silent mismatches.
func New(rules Rules) *Filter {
	return &Filter{
		authorities:       toSet(rules.Authorities),
		phases:            toSet(rules.Phases),
		dropPhases:        toSet(rules.DropPhases),
		constructionTypes: toSet(rules.ConstructionTypes),
		usagePrefixes:     rules.ExcludeUsagePrefixes,
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[model.CanonicalValue(v)] = struct{}{}
	}
	return set
}

// Accepts reports whether the record passes every rule. Allow-lists are
// strict: a record missing the field is rejected, matching the portal's
// own behavior of always filling these columns for real cases.
func (f *Filter) Accepts(rec model.Record) bool {
	phase := model.CanonicalValue(rec.Field(model.FieldPhase))
	if _, dropped := f.dropPhases[phase]; dropped {
		return false
	}
	if !inSet(f.authorities, model.CanonicalValue(rec.Field(model.FieldAuthority))) {
		return false
	}
	if !inSet(f.phases, phase) {
		return false
	}
	if !inSet(f.constructionTypes, model.CanonicalValue(rec.Field(model.FieldConstructionType))) {
		return false
	}
	return f.usageAllowed(rec.Field(model.FieldUsageCode))
}

// inSet treats a nil set as "no constraint".
func inSet(set map[string]struct{}, value string) bool {
	if set == nil {
		return true
	}
	_, ok := set[value]
	return ok
}

// usageAllowed excludes codes by prefix; an absent code passes.
func (f *Filter) usageAllowed(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return true
	}
	for _, prefix := range f.usagePrefixes {
		if strings.HasPrefix(code, prefix) {
			return false
		}
	}
	return true
}

// Apply filters a batch, preserving order.
func (f *Filter) Apply(records []model.Record) []model.Record {
	kept := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if f.Accepts(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}
