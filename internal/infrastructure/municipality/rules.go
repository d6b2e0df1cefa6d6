// Package municipality selects the NFS-e dialect of an issuer from rules kept
// in a YAML file. Each rule is a CEL boolean expression over the issuer.
package municipality

import (
	"fmt"
	"os"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"fiscalhub/internal/domain/fiscal/payload"
)

// File is the YAML document layout.
//
//	default: abrasf
//	rules:
//	  - name: sao-paulo
//	    when: city == "3550308"
//	    dialect: sao-paulo
type File struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// Rule maps a condition to a dialect name.
type Rule struct {
	Name    string `yaml:"name"`
	When    string `yaml:"when"`
	Dialect string `yaml:"dialect"`
}

type compiledRule struct {
	Rule
	program cel.Program
}

// RuleResolver implements payload.DialectResolver. Rules are tried in file
// order and the first match wins; an issuer that pins a dialect skips them.
type RuleResolver struct {
	fallback payload.Dialect
	rules    []compiledRule
}

// newEnv declares the variables rules may reference.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("city", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("cnpj", cel.StringType),
		cel.Variable("regime", cel.IntType),
		cel.Variable("simples", cel.BoolType),
	)
}

// Load reads and compiles a rules file.
func Load(path string) (*RuleResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read municipality rules: %w", err)
	}
	return Parse(data)
}

// Parse compiles rules from YAML bytes. Unknown dialects and expressions that
// do not yield a bool are reported here rather than at emission time.
func Parse(data []byte) (*RuleResolver, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse municipality rules: %w", err)
	}
	return Compile(f)
}

// Compile builds a resolver from an already decoded file.
func Compile(f File) (*RuleResolver, error) {
	if f.Default == "" {
		f.Default = payload.DialectABRASF
	}
	fallback, ok := payload.LookupDialect(f.Default)
	if !ok {
		return nil, payload.UnknownDialectError(f.Default)
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	r := &RuleResolver{fallback: fallback}
	for i, rule := range f.Rules {
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule %d", i+1)
		}
		if _, ok := payload.LookupDialect(rule.Dialect); !ok {
			return nil, fmt.Errorf("%s: %w", rule.Name, payload.UnknownDialectError(rule.Dialect))
		}
		ast, iss := env.Compile(rule.When)
		if iss.Err() != nil {
			return nil, fmt.Errorf("%s: compile %q: %w", rule.Name, rule.When, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("%s: %q must be a boolean expression", rule.Name, rule.When)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%s: program: %w", rule.Name, err)
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, program: prg})
	}
	return r, nil
}

// Resolve implements payload.DialectResolver.
func (r *RuleResolver) Resolve(is payload.Issuer) (payload.Dialect, error) {
	if is.Dialect != "" {
		d, ok := payload.LookupDialect(is.Dialect)
		if !ok {
			return nil, payload.UnknownDialectError(is.Dialect)
		}
		return d, nil
	}

	vars := map[string]any{
		"city":    payload.Digits(is.Address.CityCode),
		"state":   is.Address.State,
		"cnpj":    payload.Digits(is.CNPJ),
		"regime":  int64(is.Regime),
		"simples": is.Regime.Simplified(),
	}
	for _, rule := range r.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate municipality rule %s: %w", rule.Name, err)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			d, _ := payload.LookupDialect(rule.Dialect)
			return d, nil
		}
	}
	return r.fallback, nil
}

var _ payload.DialectResolver = (*RuleResolver)(nil)
