// Package intent classifies inbound lead messages with a table of regular
// expression rules. The built-in Spanish and English table can be extended
// from a YAML file without code changes.
package intent

import (
	_ "embed"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// Tag names a classification outcome.
type Tag string

const (
	TagOffer           Tag = "offer"
	TagClose           Tag = "close"
	TagProjectMention  Tag = "project_mention"
	TagIdentityField   Tag = "identity_field"
	TagDownloadRequest Tag = "download_request"
	TagMeetingRequest  Tag = "meeting_request"
	TagNotInterested   Tag = "not_interested"
	TagFree            Tag = "free"
)

// Identity fields carried by TagIdentityField.
const (
	FieldName     = "name"
	FieldBudget   = "budget"
	FieldTime     = "time"
	FieldLocation = "location"
	FieldPurpose  = "purpose"
	FieldEmail    = "email"
)

var knownTags = map[Tag]bool{
	TagOffer: true, TagClose: true, TagIdentityField: true,
	TagDownloadRequest: true, TagMeetingRequest: true, TagNotInterested: true,
}

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Rule maps a pattern to a tag.
type Rule struct {
	Tag     Tag    `yaml:"tag"`
	Field   string `yaml:"field,omitempty"`
	Pattern string `yaml:"pattern"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

func parseRules(data []byte, source string) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "intent: parse %s", source)
	}
	return f.Rules, nil
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	rules, err := parseRules(defaultRulesYAML, "default rules")
	if err != nil {
		panic(err)
	}
	return rules
}

// LoadRules returns the built-in rules followed by those in path. An empty
// path returns the defaults.
func LoadRules(path string) ([]Rule, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "intent: read %s", path)
	}
	extra, err := parseRules(data, path)
	if err != nil {
		return nil, err
	}
	return append(rules, extra...), nil
}

// Match is one fired tag.
type Match struct {
	Tag   Tag
	Field string
	Value string
	// Amount is set for offers.
	Amount int64
}

// Result is the set of tags fired by one message, in rule order.
type Result struct {
	Matches []Match
}

// Has reports whether tag fired.
func (r Result) Has(tag Tag) bool {
	_, ok := r.First(tag)
	return ok
}

// First returns the first match for tag.
func (r Result) First(tag Tag) (Match, bool) {
	for _, m := range r.Matches {
		if m.Tag == tag {
			return m, true
		}
	}
	return Match{}, false
}

// Field returns the first identity value captured for field.
func (r Result) Field(field string) (string, bool) {
	for _, m := range r.Matches {
		if m.Tag == TagIdentityField && m.Field == field {
			return m.Value, true
		}
	}
	return "", false
}

// Project returns the mentioned project, if any.
func (r Result) Project() (string, bool) {
	m, ok := r.First(TagProjectMention)
	return m.Value, ok
}

// ProjectMatcher finds a known project name inside free text.
type ProjectMatcher interface {
	MatchProject(text string) (string, bool)
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Classifier applies a rule table to inbound text.
type Classifier struct {
	rules    []compiledRule
	projects ProjectMatcher
}

// New compiles rules. projects may be nil.
func New(rules []Rule, projects ProjectMatcher) (*Classifier, error) {
	c := &Classifier{projects: projects}
	for i, r := range rules {
		if !knownTags[r.Tag] {
			return nil, eris.Errorf("intent: rule %d: unknown tag %q", i, r.Tag)
		}
		if r.Tag == TagIdentityField && r.Field == "" {
			return nil, eris.Errorf("intent: rule %d: identity_field needs a field", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "intent: rule %d", i)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, re: re})
	}
	return c, nil
}

// Classify returns every tag that fires on text. TagFree is returned alone
// when nothing else fires. Each (tag, field) pair fires at most once.
func (c *Classifier) Classify(text string) Result {
	var res Result
	seen := make(map[string]bool)

	for _, r := range c.rules {
		key := string(r.Tag) + "/" + r.Field
		if seen[key] {
			continue
		}
		sub := r.re.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		m := Match{Tag: r.Tag, Field: r.Field}
		if len(sub) > 1 {
			m.Value = cleanValue(sub[1])
		}
		if r.Tag == TagOffer {
			amount, err := strconv.ParseInt(m.Value, 10, 64)
			if err != nil {
				continue
			}
			m.Amount = amount
		}
		seen[key] = true
		res.Matches = append(res.Matches, m)
	}

	if c.projects != nil {
		if name, ok := c.projects.MatchProject(text); ok {
			res.Matches = append(res.Matches, Match{Tag: TagProjectMention, Value: name})
		}
	}

	if len(res.Matches) == 0 {
		res.Matches = []Match{{Tag: TagFree}}
	}
	return res
}

func cleanValue(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".,;!?¡¿ ")
}

var (
	numberRe    = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	thousandsRe = regexp.MustCompile(`^\d{1,3}(?:[.,]\d{3})+$`)
)

// ParseAmount reads a money amount such as "150000", "150,000", "150 mil",
// "200k" or "1.5 millones".
func ParseAmount(s string) (float64, bool) {
	s = textnorm.Simplify(s)
	loc := numberRe.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	num := s[loc[0]:loc[1]]
	if thousandsRe.MatchString(num) && !hasMultiplier(s[loc[1]:]) {
		num = strings.NewReplacer(",", "", ".", "").Replace(num)
	} else {
		num = strings.ReplaceAll(num, ",", ".")
		if strings.Count(num, ".") > 1 {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}

	rest := strings.TrimSpace(s[loc[1]:])
	switch {
	case strings.HasPrefix(rest, "millon"), strings.HasPrefix(rest, "mdd"), strings.HasPrefix(rest, "m "), rest == "m":
		v *= 1_000_000
	case strings.HasPrefix(rest, "k"), strings.HasPrefix(rest, "mil"):
		v *= 1_000
	}
	return v, true
}

func hasMultiplier(rest string) bool {
	rest = strings.TrimSpace(rest)
	for _, p := range []string{"k", "mil", "millon", "mdd"} {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return false
}
