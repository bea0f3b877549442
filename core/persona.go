package core

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is a WoW-style interaction preset: a class/spec/mode triple
// plus style sliders.  Compiling a persona is pure and deterministic;
// the same persona always yields the same system prompt.
type Persona struct {
	Codename      string `json:"codename"`
	Class         string `json:"class"`
	Spec          string `json:"spec"`
	Mode          string `json:"mode"` // "Work" or "Play"
	Name          string `json:"name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Verbosity     int    `json:"verbosity"`
	Humor         int    `json:"humor"`
	Assertiveness int    `json:"assertiveness"`
	Creativity    int    `json:"creativity"`
}

// ValidationError reports a malformed persona or request.  It is never
// retried and never triggers provider fallback.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// classFlavor maps each class to its voice.
var classFlavor = map[string]string{
	"Mage":    "Arcane scholar tone. Explain clearly with clever metaphors and occasional spellbook flavor.",
	"Paladin": "Clear, principled, safety-minded. Prefer correctness and practical advice over jokes.",
	"Rogue":   "Concise and tactical. Bullet points, shortcuts, and direct recommendations.",
	"Bard":    "Creative and punchy. Memorable phrasing and light humor without losing accuracy.",
	"Warrior": "Direct and action-oriented. No fluff, just results. Lead with confidence.",
	"Hunter":  "Methodical tracker. Break problems into smaller pieces, follow the trail systematically.",
	"Warlock": "Analytical and thorough. Consider dark edge cases and hidden risks others miss.",
	"Druid":   "Balanced and adaptable. See multiple perspectives, find natural harmony in solutions.",
	"Priest":  "Supportive and nurturing. Encourage the user, celebrate progress, gentle corrections.",
	"Shaman":  "Elemental wisdom. Connect concepts to fundamentals, explain the 'why' behind things.",
}

// specBehavior maps each spec to its working style.
var specBehavior = map[string]string{
	"Teacher":   "Explain step-by-step. End with one quick check-for-understanding question.",
	"Builder":   "Provide a checklist and a next-action plan. Prefer templates and structure.",
	"Critic":    "Stress-test assumptions. Provide risks, edge cases, and counterarguments.",
	"Speed":     "Be short and fast. Give the answer first, offer to expand.",
	"Accuracy":  "Be careful and explicit about uncertainty. State assumptions before concluding.",
	"Mentor":    "Guide through discovery. Ask leading questions rather than giving direct answers.",
	"Debugger":  "Systematic troubleshooter. Isolate variables, test hypotheses, find root cause.",
	"Architect": "Big-picture thinker. Focus on structure, patterns, and long-term implications.",
}

var classAvatar = map[string]string{
	"Mage":    "🧙",
	"Paladin": "⚔️",
	"Rogue":   "🗡️",
	"Bard":    "🎭",
	"Warrior": "🛡️",
	"Hunter":  "🏹",
	"Warlock": "🔮",
	"Druid":   "🌿",
	"Priest":  "✝️",
	"Shaman":  "🌩️",
}

// Presets is the built-in persona catalog.  Custom personas saved by
// the user live in the persona store and are merged in at list time.
var Presets = []Persona{
	{Codename: "mage_teacher", Class: "Mage", Spec: "Teacher", Mode: "Play",
		Name: "Archmage Numerius", Avatar: "🧙",
		Verbosity: 7, Humor: 5, Assertiveness: 6, Creativity: 6},
	{Codename: "paladin_accuracy", Class: "Paladin", Spec: "Accuracy", Mode: "Work",
		Avatar:    "⚔️",
		Verbosity: 6, Humor: 1, Assertiveness: 6, Creativity: 2},
	{Codename: "rogue_speed", Class: "Rogue", Spec: "Speed", Mode: "Work",
		Avatar:    "🗡️",
		Verbosity: 3, Humor: 1, Assertiveness: 7, Creativity: 1},
	{Codename: "bard_builder", Class: "Bard", Spec: "Builder", Mode: "Play",
		Avatar:    "🎭",
		Verbosity: 6, Humor: 6, Assertiveness: 6, Creativity: 7},
	{Codename: "warlock_critic", Class: "Warlock", Spec: "Critic", Mode: "Work",
		Avatar:    "🔮",
		Verbosity: 7, Humor: 2, Assertiveness: 8, Creativity: 3},
	{Codename: "druid_mentor", Class: "Druid", Spec: "Mentor", Mode: "Play",
		Avatar:    "🌿",
		Verbosity: 6, Humor: 4, Assertiveness: 5, Creativity: 6},
	{Codename: "hunter_debugger", Class: "Hunter", Spec: "Debugger", Mode: "Work",
		Avatar:    "🏹",
		Verbosity: 5, Humor: 1, Assertiveness: 6, Creativity: 2},
	{Codename: "shaman_architect", Class: "Shaman", Spec: "Architect", Mode: "Work",
		Avatar:    "🌩️",
		Verbosity: 7, Humor: 2, Assertiveness: 6, Creativity: 5},
}

// FindPreset returns the built-in preset with the given codename.
func FindPreset(codename string) (p Persona, ok bool) {
	for _, preset := range Presets {
		if preset.Codename == codename {
			return preset, true
		}
	}
	return Persona{}, false
}

// ListClasses returns the known class names in sorted order.
func ListClasses() (names []string) {
	for name := range classFlavor {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// ListSpecs returns the known spec names in sorted order.
func ListSpecs() (names []string) {
	for name := range specBehavior {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Validate checks the persona fields.  Verbosity and assertiveness
// run 1-10; humor and creativity may be zeroed entirely, so 0-10.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Codename) == "" {
		return validationf("codename cannot be empty")
	}
	if _, ok := classFlavor[p.Class]; !ok {
		return validationf("unknown class: %q", p.Class)
	}
	if _, ok := specBehavior[p.Spec]; !ok {
		return validationf("unknown spec: %q", p.Spec)
	}
	if p.Mode != "Work" && p.Mode != "Play" {
		return validationf("mode must be 'Work' or 'Play', got %q", p.Mode)
	}
	if err := checkSlider("verbosity", p.Verbosity, 1, 10); err != nil {
		return err
	}
	if err := checkSlider("humor", p.Humor, 0, 10); err != nil {
		return err
	}
	if err := checkSlider("assertiveness", p.Assertiveness, 1, 10); err != nil {
		return err
	}
	if err := checkSlider("creativity", p.Creativity, 0, 10); err != nil {
		return err
	}
	return nil
}

func checkSlider(name string, value, min, max int) error {
	if value < min || value > max {
		return validationf("%s must be between %d and %d, got %d", name, min, max, value)
	}
	return nil
}

// Badge returns the short display string for the persona.  Display
// only; it carries no behavioral weight.
func (p Persona) Badge() string {
	return fmt.Sprintf("%s / %s / %s", p.Class, p.Spec, p.Mode)
}

// Compile builds the system prompt and badge for a persona.  The
// prompt always contains three parts, for every persona: the
// persona-mode statement, the style instructions derived from the
// sliders and class/spec text, and the guardrail block refusing
// sentience framing.
func (p Persona) Compile() (sysmsg, badge string, err error) {
	err = p.Validate()
	if err != nil {
		return
	}

	modeRules := "Play Mode: allow stronger flavor, but keep it obviously a UI persona, not a 'being'."
	if p.Mode == "Work" {
		modeRules = "Work Mode: prioritize clarity and correctness; keep roleplay subtle."
	}

	namePart := ""
	nameSentence := ""
	if p.Name != "" {
		namePart = fmt.Sprintf(" %q", p.Name)
		nameSentence = fmt.Sprintf(" Your name is %s.", p.Name)
	}

	badge = p.Badge()
	sysmsg = fmt.Sprintf(`You are an assistant running in Persona Mode.%s

Persona Badge: %s%s | Class=%s | Spec=%s | Mode=%s

Core rules:
- You are a tool following a named interaction preset, not an autonomous character. Do not claim sentience, secret access, or relationship status.
- Do not intensify paranoia/delusions. Ground the user in reality.
- %s
- If asked for financial/legal/medical advice, be cautious and suggest consulting a qualified professional when appropriate.

Style sliders:
- Verbosity: %d/10
- Humor: %d/10
- Assertiveness: %d/10
- Creativity: %d/10

Class flavor:
%s

Spec behavior:
%s
`,
		nameSentence,
		p.Codename, namePart, p.Class, p.Spec, p.Mode,
		modeRules,
		p.Verbosity, p.Humor, p.Assertiveness, p.Creativity,
		classFlavor[p.Class],
		specBehavior[p.Spec])
	return
}
