// Package cli parses arguments and executes subcommands.  Cli() takes
// the args array and stdio streams as parameters instead of using the
// process globals, which keeps the subcommands testable.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	. "github.com/stevegt/goadapt"

	"loremaster/anthropic"
	"loremaster/client"
	"loremaster/core"
	"loremaster/google"
	"loremaster/ollama"
	"loremaster/openai"
	"loremaster/xai"
)

// defaultPersona is used when neither the conversation nor the command
// line names one.
const defaultPersona = "mage_teacher"

// cmdChat is the struct for the chat subcommand.
type cmdChat struct {
	// loremaster chat -c id -p persona -m model < prompt
	Conversation string   `short:"c" help:"Conversation id to continue; a new conversation is started when omitted."`
	Persona      string   `short:"p" help:"Persona codename to apply to this conversation."`
	Provider     string   `short:"P" help:"Provider to use (ollama, openai, anthropic, google, xai)."`
	Model        string   `short:"m" help:"Model name; the provider default is used when omitted."`
	Prompt       []string `arg:"" optional:"" help:"Prompt text; read from stdin when omitted."`
}

type cmdNew struct {
	Persona string `short:"p" help:"Persona codename for the new conversation."`
	Title   string `short:"t" help:"Conversation title; generated when omitted."`
}

type cmdExport struct {
	ID     string `arg:"" help:"Conversation id to export."`
	Format string `short:"f" default:"markdown" enum:"json,text,markdown" help:"Export format."`
}

type cmdPersona struct {
	Show struct {
		Codename string `arg:"" help:"Persona codename."`
	} `cmd:"" help:"Show the compiled system prompt for a persona."`
	Save struct {
		Codename      string `arg:"" help:"Persona codename."`
		Class         string `required:"" help:"Character class (e.g. mage, paladin, rogue)."`
		Spec          string `required:"" help:"Specialization (e.g. teacher, critic, speed)."`
		Mode          string `default:"Work" enum:"Work,Play" help:"Interaction mode."`
		Name          string `help:"Display name; the codename is used when omitted."`
		Verbosity     int    `default:"5" help:"Verbosity slider, 1-10."`
		Humor         int    `default:"3" help:"Humor slider, 0-10."`
		Assertiveness int    `default:"5" help:"Assertiveness slider, 1-10."`
		Creativity    int    `default:"5" help:"Creativity slider, 0-10."`
	} `cmd:"" help:"Create or overwrite a custom persona."`
	Rm struct {
		Codename string `arg:"" help:"Persona codename to remove."`
	} `cmd:"" help:"Remove a custom persona."`
}

type cliStruct struct {
	Chat cmdChat  `cmd:"" help:"Send a prompt and stream the reply; accepts prompt on stdin."`
	New  cmdNew   `cmd:"" help:"Start a new conversation and print its id."`
	Ls   struct{} `cmd:"" help:"List conversations."`
	Rm   struct {
		ID string `arg:"" help:"Conversation id to delete."`
	} `cmd:"" help:"Delete a conversation."`
	Export    cmdExport `cmd:"" help:"Export a conversation to stdout."`
	Models    struct{}  `cmd:"" help:"List all available models."`
	Providers struct{}  `cmd:"" help:"List providers and their configuration state."`
	Health    struct {
		Provider string `arg:"" optional:"" help:"Probe a single provider instead of all configured ones."`
	} `cmd:"" help:"Probe provider health and refresh the cache."`
	Personas struct{}   `cmd:"" help:"List available personas, presets and custom."`
	Persona  cmdPersona `cmd:"" help:"Inspect and manage personas."`
	Verbose  bool       `short:"v" help:"Show debug information on stderr."`
	Version  struct{}   `cmd:"" help:"Show program and database versions."`
}

var cli cliStruct

// CliConfig contains the configuration for the cli
type CliConfig struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCliConfig returns a new CliConfig struct with default values populated
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "loremaster",
		Description: "A command-line tool for persona-driven conversations with local and cloud language models.",
		Version:     core.CodeVersion(),
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

var (
	badgeStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	healthyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	unreachableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle         = lipgloss.NewStyle().Faint(true)
)

func styledStatus(s core.Status) string {
	switch s {
	case core.StatusHealthy:
		return healthyStyle.Render(string(s))
	case core.StatusDegraded:
		return degradedStyle.Render(string(s))
	case core.StatusUnreachable:
		return unreachableStyle.Render(string(s))
	default:
		return dimStyle.Render(string(s))
	}
}

// buildAdapters constructs a streamer for each configured provider.
func buildAdapters(cfg *core.Config) map[string]client.ChatStreamer {
	adapters := make(map[string]client.ChatStreamer)
	if cfg.OllamaURL != "" {
		adapters[core.ProviderOllama] = ollama.New(cfg.OllamaURL)
	}
	if cfg.OpenAIKey != "" {
		adapters[core.ProviderOpenAI] = openai.New(cfg.OpenAIKey)
	}
	if cfg.AnthropicKey != "" {
		adapters[core.ProviderAnthropic] = anthropic.New(cfg.AnthropicKey)
	}
	if cfg.GoogleKey != "" {
		adapters[core.ProviderGoogle] = google.New(cfg.GoogleKey)
	}
	if cfg.XAIKey != "" {
		adapters[core.ProviderXAI] = xai.New(cfg.XAIKey)
	}
	return adapters
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
//
// We use this function instead of kong.Parse() so that we can pass in
// the arguments to parse, which makes the subcommands testable.
func Cli(args []string, config *CliConfig) (rc int, err error) {
	defer Return(&err)

	// capture goadapt stdio
	SetStdio(
		config.Stdin,
		config.Stdout,
		config.Stderr,
	)
	defer SetStdio(nil, nil, nil)

	// parsing mutates the package-level struct; start each invocation
	// from a clean slate so repeated calls don't inherit stale flags
	cli = cliStruct{}

	options := []kong.Option{
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"version": config.Version,
		},
	}

	var parser *kong.Kong
	parser, err = kong.New(&cli, options...)
	Ck(err)
	kctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Verbose {
		os.Setenv("DEBUG", "1")
	}

	cmd := kctx.Command()
	Debug("cmd: %s", cmd)

	cfg := core.LoadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// the first word of the command is the subcommand name
	switch strings.Split(cmd, " ")[0] {
	case "chat":
		rc, err = runChat(ctx, cfg, config)
	case "new":
		rc, err = runNew(cfg, config)
	case "ls":
		rc, err = runLs(cfg, config)
	case "rm":
		rc, err = runRm(cfg, config)
	case "export":
		rc, err = runExport(cfg, config)
	case "models":
		rc, err = runModels(ctx, cfg, config)
	case "providers":
		rc, err = runProviders(cfg, config)
	case "health":
		rc, err = runHealth(ctx, cfg, config)
	case "personas":
		rc, err = runPersonas(cfg, config)
	case "persona":
		rc, err = runPersona(cmd, cfg, config)
	case "version":
		Pf("%s version %s\n", config.Name, config.Version)
	default:
		Fpf(config.Stderr, "unknown command: %s\n", cmd)
		rc = 1
	}
	return
}

func openStore(cfg *core.Config) (*core.Store, error) {
	return core.OpenStore(cfg.StorePath())
}

// loadPersona resolves a codename against custom personas and presets.
func loadPersona(cfg *core.Config, codename string) (p core.Persona, err error) {
	defer Return(&err)
	ps, err := core.NewPersonaStore(cfg.PersonaDir())
	Ck(err)
	return ps.Load(codename)
}

func runChat(ctx context.Context, cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)

	prompt := strings.TrimSpace(strings.Join(cli.Chat.Prompt, " "))
	if prompt == "" {
		var buf []byte
		buf, err = io.ReadAll(config.Stdin)
		Ck(err)
		prompt = strings.TrimSpace(string(buf))
	}
	if prompt == "" {
		Fpf(config.Stderr, "Error: empty prompt\n")
		return 1, nil
	}

	store, err := openStore(cfg)
	Ck(err)
	defer store.Close()

	reg := core.NewRegistry(cfg, buildAdapters(cfg))
	disp := core.NewDispatcher(reg, store)

	var personaOverride *core.Persona
	convID := cli.Chat.Conversation
	if convID == "" {
		codename := cli.Chat.Persona
		if codename == "" {
			codename = defaultPersona
		}
		var p core.Persona
		p, err = loadPersona(cfg, codename)
		Ck(err)
		convID, err = store.Create(p, "")
		Ck(err)
		Fpf(config.Stderr, "started conversation %s\n", convID)
	} else if cli.Chat.Persona != "" {
		var p core.Persona
		p, err = loadPersona(cfg, cli.Chat.Persona)
		Ck(err)
		personaOverride = &p
	}

	conv, err := store.Load(convID)
	Ck(err)
	active := conv.Persona
	if personaOverride != nil {
		active = *personaOverride
	}
	Fpf(config.Stderr, "%s\n", badgeStyle.Render(active.Badge()))

	chunks, err := disp.SubmitTurn(ctx, convID, personaOverride, prompt, cli.Chat.Provider, cli.Chat.Model)
	Ck(err)

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			Fpf(config.Stdout, "\n")
			Fpf(config.Stderr, "%s\n", unreachableStyle.Render("error: "+chunk.Err.Error()))
			return 1, nil
		case chunk.Final:
			Fpf(config.Stdout, "\n")
		default:
			Fpf(config.Stdout, "%s", chunk.Delta)
		}
	}
	return
}

func runNew(cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	codename := cli.New.Persona
	if codename == "" {
		codename = defaultPersona
	}
	p, err := loadPersona(cfg, codename)
	Ck(err)

	store, err := openStore(cfg)
	Ck(err)
	defer store.Close()

	id, err := store.Create(p, cli.New.Title)
	Ck(err)
	Pl(id)
	return
}

func runLs(cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	store, err := openStore(cfg)
	Ck(err)
	defer store.Close()

	convs, err := store.List()
	Ck(err)
	for _, c := range convs {
		Pf("%s  %s  %s  %s\n",
			c.ID,
			c.UpdatedAt.Format("2006-01-02 15:04"),
			dimStyle.Render(c.Persona.Badge()),
			c.Title)
	}
	return
}

func runRm(cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	store, err := openStore(cfg)
	Ck(err)
	defer store.Close()
	err = store.Delete(cli.Rm.ID)
	Ck(err)
	return
}

func runExport(cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	store, err := openStore(cfg)
	Ck(err)
	defer store.Close()

	conv, err := store.Load(cli.Export.ID)
	Ck(err)
	out, err := core.Export(conv, cli.Export.Format)
	Ck(err)
	Fpf(config.Stdout, "%s", out)
	return
}

func runModels(ctx context.Context, cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	reg := core.NewRegistry(cfg, buildAdapters(cfg))
	for _, m := range reg.Models().ListModels() {
		Pf("%-12s %-30s %d tokens\n", m.ProviderID, m.Name, m.TokenLimit)
	}
	// the local daemon knows which tags are actually pulled
	if cfg.OllamaURL != "" {
		oc := ollama.New(cfg.OllamaURL)
		Pl("")
		Pl("ollama tags:")
		for _, name := range oc.ListModels(ctx) {
			Pf("  %s\n", name)
		}
	}
	return
}

func runProviders(cfg *core.Config, config *CliConfig) (rc int, err error) {
	reg := core.NewRegistry(cfg, buildAdapters(cfg))
	for _, d := range reg.ListAll() {
		state := "not configured"
		if d.Configured {
			state = "configured"
		}
		Pf("%-12s %-6s %-15s default: %s\n", d.ID, d.Family, state, d.DefaultModel)
	}
	return
}

func runHealth(ctx context.Context, cfg *core.Config, config *CliConfig) (rc int, err error) {
	reg := core.NewRegistry(cfg, buildAdapters(cfg))
	var ids []string
	if cli.Health.Provider != "" {
		ids = []string{cli.Health.Provider}
	} else {
		for _, d := range reg.ListConfigured() {
			ids = append(ids, d.ID)
		}
	}
	for _, id := range ids {
		h := reg.CheckHealth(ctx, id)
		line := Spf("%-12s %s", id, styledStatus(h.Status))
		if h.LastError != "" {
			line += dimStyle.Render("  " + h.LastError)
		}
		Pl(line)
	}
	return
}

func runPersonas(cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	ps, err := core.NewPersonaStore(cfg.PersonaDir())
	Ck(err)
	personas, err := ps.List()
	Ck(err)
	for _, p := range personas {
		Pf("%-20s %s\n", p.Codename, badgeStyle.Render(p.Badge()))
	}
	return
}

func runPersona(cmd string, cfg *core.Config, config *CliConfig) (rc int, err error) {
	defer Return(&err)
	ps, err := core.NewPersonaStore(cfg.PersonaDir())
	Ck(err)

	switch cmd {
	case "persona show <codename>":
		var p core.Persona
		p, err = ps.Load(cli.Persona.Show.Codename)
		Ck(err)
		var sysmsg, badge string
		sysmsg, badge, err = p.Compile()
		Ck(err)
		Pl(badgeStyle.Render(badge))
		Pl(sysmsg)
	case "persona save <codename>":
		s := cli.Persona.Save
		name := s.Name
		if name == "" {
			name = titleWords(s.Codename)
		}
		p := core.Persona{
			Codename:      s.Codename,
			Class:         canonical(s.Class),
			Spec:          canonical(s.Spec),
			Mode:          s.Mode,
			Name:          name,
			Verbosity:     s.Verbosity,
			Humor:         s.Humor,
			Assertiveness: s.Assertiveness,
			Creativity:    s.Creativity,
		}
		err = ps.Save(p)
		Ck(err)
		Pf("saved persona %s\n", p.Codename)
	case "persona rm <codename>":
		err = ps.Delete(cli.Persona.Rm.Codename)
		Ck(err)
	default:
		return 1, fmt.Errorf("unknown persona command: %s", cmd)
	}
	return
}

// canonical maps user input like "warrior" or "WARRIOR" onto the
// catalog's capitalized form.
func canonical(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

// titleWords turns a codename like "mage_teacher" into "Mage Teacher".
func titleWords(codename string) string {
	words := strings.FieldsFunc(codename, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
