package passmgr

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is a declarative pass-plan document (spec.md doesn't mandate a file
// format for this, but §6's CLI flags are clearly meant to be driven by
// some configuration, so pass ordering is made data-driven via YAML). A
// nil/absent plan file falls back to the built-in default ordering
// assembled in cmd/rvopt.
type Plan struct {
	Structured []string `yaml:"structured"`
	SSA        []string `yaml:"ssa"`
	Loop       []string `yaml:"loop"`
	// Backend runs once the module is handed to codegen: global code
	// motion and instruction scheduling, which only make sense once no
	// further structural rewrite will move code across blocks again.
	Backend []string `yaml:"backend"`
	// Repeat controls how many times the SSA fixpoint group (RegularFold,
	// DCE, GVN, SimplifyCFG) is re-run; spec.md §4.3 notes RegularFold is
	// "invoked repeatedly as other passes expose constants".
	Repeat int `yaml:"repeat"`
	// Thresholds configures the Inline/LateInline Op-count budget (spec.md
	// §4.8: "configurable, ≈200 Ops").
	InlineThreshold int `yaml:"inline_threshold"`
	// EnableSpecialize turns on the Specialize pass, off by default per
	// DESIGN.md's Open Question decision.
	EnableSpecialize bool `yaml:"enable_specialize"`
	// EnableVectorize gates the ARM-only Vectorize loop pass.
	EnableVectorize bool `yaml:"enable_vectorize"`
}

// DefaultPlan matches the ≈O1 ordering implied by spec.md §2/§4: structured
// cleanup, flatten, then the flat-CFG fixpoint, then loop machinery, then
// the backend passes.
func DefaultPlan() Plan {
	return Plan{
		Structured: []string{
			"move-alloca", "localize", "early-const-fold", "early-inline",
			"remerge", "raise-to-for", "view", "loop-dce", "tidy-memory",
			"parallelizable",
		},
		SSA: []string{
			"mem2reg", "tco", "reassociate", "regular-fold", "range-aware-fold",
			"gvn", "dce", "simplify-cfg",
			"dse", "dle", "dae", "select", "inline", "late-inline",
			"aggressive-dce", "globalize", "inline-store",
			"synth-const-array", "hoist-const-array",
		},
		Loop: []string{
			"canonicalize-loop", "loop-rotate", "licm", "const-loop-unroll",
			"remove-empty-loop",
		},
		Backend: []string{
			"gcm", "inst-schedule",
		},
		Repeat:          3,
		InlineThreshold: 200,
	}
}

// LoadPlan reads a YAML pass-plan from path, falling back to DefaultPlan
// for any field left zero-valued.
func LoadPlan(path string) (Plan, error) {
	plan := DefaultPlan()
	if path == "" {
		return plan, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, err
	}
	var loaded Plan
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return plan, err
	}
	if len(loaded.Structured) > 0 {
		plan.Structured = loaded.Structured
	}
	if len(loaded.SSA) > 0 {
		plan.SSA = loaded.SSA
	}
	if len(loaded.Loop) > 0 {
		plan.Loop = loaded.Loop
	}
	if len(loaded.Backend) > 0 {
		plan.Backend = loaded.Backend
	}
	if loaded.Repeat > 0 {
		plan.Repeat = loaded.Repeat
	}
	if loaded.InlineThreshold > 0 {
		plan.InlineThreshold = loaded.InlineThreshold
	}
	plan.EnableSpecialize = loaded.EnableSpecialize
	plan.EnableVectorize = loaded.EnableVectorize
	return plan, nil
}
