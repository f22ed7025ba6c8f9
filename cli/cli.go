// Package cli is the command-line front end of glimpse.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"glimpse/config"
	"glimpse/gateway"
	"glimpse/model"
	"glimpse/registry"
	"glimpse/storage"
	"glimpse/stream"
)

type cmdChat struct {
	Provider string   `short:"p" help:"Provider id. Defaults to default_provider from config.toml."`
	Session  string   `short:"s" help:"Continue the session with this id."`
	Continue bool     `short:"c" help:"Continue the most recent session."`
	Image    string   `short:"i" type:"path" help:"Attach an image (screenshot) to the message."`
	Summary  string   `help:"Rolling summary of earlier context to fold into the request."`
	Prompt   []string `arg:"" optional:"" help:"Message text. Read from stdin when omitted."`
}

type cmdSessionsList struct {
	Saved  bool   `help:"Only show saved sessions."`
	Filter string `short:"f" help:"Fuzzy filter on session titles."`
}

type cmdSessionsSearch struct {
	Query    string `arg:"" optional:"" help:"Case-insensitive text to look for in titles and messages."`
	Messages bool   `short:"m" help:"Show matching messages instead of sessions."`
}

type cmdSessionID struct {
	ID string `arg:"" help:"Session id."`
}

type cmdSessionsRename struct {
	ID    string `arg:"" help:"Session id."`
	Title string `arg:"" help:"New title."`
}

type cmdSessionsCleanup struct {
	Days int  `help:"Maximum age in days. Defaults to retention_days."`
	All  bool `help:"Remove saved sessions too."`
}

type cmdSessionsExport struct {
	ID     string `arg:"" help:"Session id."`
	Output string `short:"o" type:"path" help:"Output file. Defaults to ~/Downloads."`
}

type cmdSessions struct {
	List      cmdSessionsList    `cmd:"" default:"1" help:"List sessions, newest first."`
	Search    cmdSessionsSearch  `cmd:"" help:"Search sessions."`
	Show      cmdSessionID       `cmd:"" help:"Print a session."`
	Rename    cmdSessionsRename  `cmd:"" help:"Rename a session."`
	Delete    cmdSessionID       `cmd:"" help:"Delete a session."`
	Save      cmdSessionID       `cmd:"" help:"Mark a session as saved (kept by cleanup)."`
	Unsave    cmdSessionID       `cmd:"" help:"Clear the saved mark."`
	Toggle    cmdSessionID       `cmd:"" help:"Toggle the saved mark."`
	Summarize cmdSessionID       `cmd:"" help:"Store a rolling summary of a session."`
	Cleanup   cmdSessionsCleanup `cmd:"" help:"Remove old unsaved sessions."`
	Export    cmdSessionsExport  `cmd:"" help:"Export a session as JSON."`
}

type cmdProviderArg struct {
	Provider string `arg:"" optional:"" help:"Provider id. All providers when omitted."`
}

type cmdModelsList struct {
	Provider string `short:"p" help:"Provider id. All providers when omitted."`
}

type cmdModels struct {
	List    cmdModelsList  `cmd:"" default:"1" help:"List cached models."`
	Refresh cmdProviderArg `cmd:"" help:"Fetch model lists from the providers."`
}

type cmdValidate struct {
	Provider string `arg:"" help:"Provider id."`
}

type cmdKeySet struct {
	Provider string `arg:"" help:"Provider id."`
	Key      string `arg:"" optional:"" help:"API key. Read from stdin when omitted."`
}

type cmdKey struct {
	Set    cmdKeySet   `cmd:"" help:"Store an API key."`
	Delete cmdValidate `cmd:"" help:"Remove a stored API key."`
}

type cmdProviders struct{}

type cmdVersion struct{}

type cliArgs struct {
	Chat      cmdChat      `cmd:"" help:"Send a message and stream the reply."`
	Sessions  cmdSessions  `cmd:"" help:"Manage stored sessions."`
	Providers cmdProviders `cmd:"" help:"List known providers."`
	Models    cmdModels    `cmd:"" help:"List or refresh provider models."`
	Validate  cmdValidate  `cmd:"" help:"Check the stored API key of a provider."`
	Key       cmdKey       `cmd:"" help:"Manage API keys."`
	Verbose   bool         `short:"v" help:"Enable debug logging."`
	Version   cmdVersion   `cmd:"" help:"Show version."`
}

// CliConfig contains the configuration for the cli
type CliConfig struct {
	Name        string
	Description string
	Version     string
	Exit        func(int)
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// NewCliConfig returns a CliConfig wired to the process stdio.
func NewCliConfig(version string) *CliConfig {
	return &CliConfig{
		Name:        "glimpse",
		Description: "Ask vision-capable LLM providers about your screen and keep the conversations.",
		Version:     version,
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// app holds everything a command needs.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	creds      *config.CredentialStore
	settings   *config.ProviderSettings
	registry   *registry.Registry
	sessions   *storage.SessionStorage
	modelStore *storage.ModelCacheStore
	gw         *gateway.Gateway
	io         *CliConfig
}

// Cli parses args and runs the selected command. It returns the process
// exit code.
func Cli(args []string, cc *CliConfig) (int, error) {
	var cli cliArgs
	parser, err := kong.New(&cli,
		kong.Name(cc.Name),
		kong.Description(cc.Description),
		kong.Exit(cc.Exit),
		kong.Writers(cc.Stdout, cc.Stderr),
		kong.Vars{
			"version": cc.Version,
		},
	)
	if err != nil {
		return 1, err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		parser.FatalIfErrorf(err)
		return 1, err
	}

	cmd := commandPath(kctx.Command())
	if cmd == "version" {
		fmt.Fprintf(cc.Stdout, "%s %s\n", cc.Name, cc.Version)
		return 0, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, closeApp, err := newApp(ctx, cc, cli.Verbose)
	if err != nil {
		return 1, err
	}
	defer closeApp()

	a.logger.Debug("command", zap.String("cmd", cmd))

	switch cmd {
	case "chat":
		return a.chat(ctx, &cli.Chat)
	case "sessions list":
		return a.listSessions(&cli.Sessions.List)
	case "sessions search":
		return a.searchSessions(&cli.Sessions.Search)
	case "sessions show":
		return a.showSession(cli.Sessions.Show.ID)
	case "sessions rename":
		return a.printSession(a.gw.RenameSession(cli.Sessions.Rename.ID, cli.Sessions.Rename.Title))
	case "sessions delete":
		return a.result(a.gw.DeleteSession(cli.Sessions.Delete.ID))
	case "sessions save":
		return a.printSession(a.gw.SetSessionSaved(cli.Sessions.Save.ID, true))
	case "sessions unsave":
		return a.printSession(a.gw.SetSessionSaved(cli.Sessions.Unsave.ID, false))
	case "sessions toggle":
		return a.printSession(a.gw.ToggleSessionSaved(cli.Sessions.Toggle.ID))
	case "sessions summarize":
		return a.printSession(a.gw.SummarizeSession(ctx, cli.Sessions.Summarize.ID))
	case "sessions cleanup":
		return a.cleanup(&cli.Sessions.Cleanup)
	case "sessions export":
		return a.export(&cli.Sessions.Export)
	case "providers":
		return a.providers()
	case "models list":
		return a.listModels(cli.Models.List.Provider)
	case "models refresh":
		return a.refreshModels(ctx, cli.Models.Refresh.Provider)
	case "validate":
		return a.validate(ctx, cli.Validate.Provider)
	case "key set":
		return a.setKey(cli.Key.Set.Provider, cli.Key.Set.Key)
	case "key delete":
		return a.deleteKey(cli.Key.Delete.Provider)
	default:
		return 1, fmt.Errorf("unknown command: %s", cmd)
	}
}

// commandPath drops positional placeholders from a kong command string:
// "sessions rename <id> <title>" becomes "sessions rename".
func commandPath(cmd string) string {
	var words []string
	for _, w := range strings.Fields(cmd) {
		if strings.HasPrefix(w, "<") {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

func newApp(ctx context.Context, cc *CliConfig, verbose bool) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Debug = true
	}
	dataDir := cfg.DataDir()

	logger, closeLog, err := config.NewLogger(dataDir, cfg.Debug)
	if err != nil {
		return nil, nil, err
	}

	creds := config.NewCredentialStore(dataDir)
	if err := creds.Load(); err != nil {
		closeLog()
		return nil, nil, err
	}

	reg := registry.New(logger)
	if err := reg.Load(config.RegistryOverridePath(dataDir)); err != nil {
		logger.Warn("failed to load provider registry, using built-ins", zap.Error(err))
	}

	settings, err := config.LoadProviderSettings(dataDir, creds)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	if err := settings.Seed(reg.DefaultConfigTemplate()); err != nil {
		logger.Warn("failed to seed provider settings", zap.Error(err))
	}

	sessions, err := storage.NewSessionStorage(dataDir, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	modelStore, err := storage.NewModelCacheStore(config.ModelCacheDBPath(dataDir))
	if err != nil {
		logger.Warn("model cache persistence disabled", zap.Error(err))
		modelStore = nil
	}

	gw, err := gateway.New(gateway.Options{
		Config:      cfg,
		Registry:    reg,
		Sessions:    sessions,
		ModelStore:  modelStore,
		Credentials: creds,
		Settings:    settings,
		Logger:      logger,
	})
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	gw.Start(ctx)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		creds:      creds,
		settings:   settings,
		registry:   reg,
		sessions:   sessions,
		modelStore: modelStore,
		gw:         gw,
		io:         cc,
	}

	closeFn := func() {
		gw.Close()
		if modelStore != nil {
			_ = modelStore.Close()
		}
		closeLog()
	}
	return a, closeFn, nil
}

// fail prints a user-facing message for err and returns exit code 1.
func (a *app) fail(err error) (int, error) {
	fmt.Fprintf(a.io.Stderr, "error: %s\n", model.UserMessage(err))
	if model.NeedsReconfigure(err) {
		fmt.Fprintln(a.io.Stderr, "hint: run `glimpse key set <provider>` to configure a key")
	}
	a.logger.Debug("command failed", zap.Error(err))
	return 1, nil
}

func (a *app) result(err error) (int, error) {
	if err != nil {
		return a.fail(err)
	}
	return 0, nil
}

func (a *app) chat(ctx context.Context, c *cmdChat) (int, error) {
	text := strings.Join(c.Prompt, " ")
	if text == "" {
		data, err := io.ReadAll(a.io.Stdin)
		if err != nil {
			return 1, fmt.Errorf("failed to read prompt: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		fmt.Fprintln(a.io.Stderr, "error: empty message")
		return 1, nil
	}

	var image *model.Image
	if c.Image != "" {
		data, err := os.ReadFile(c.Image)
		if err != nil {
			return 1, fmt.Errorf("failed to read image: %w", err)
		}
		image = &model.Image{Data: data, MIMEType: http.DetectContentType(data)}
	}

	sessionID := c.Session
	if sessionID == "" && c.Continue {
		id, err := a.sessions.LoadCurrentSessionID()
		if err != nil {
			return a.fail(err)
		}
		sessionID = id
	}

	completion, err := a.gw.RequestCompletion(ctx, gateway.CompletionRequest{
		ProviderID: c.Provider,
		SessionID:  sessionID,
		Text:       text,
		Image:      image,
		Summary:    c.Summary,
	})
	if err != nil {
		return a.fail(err)
	}

	rc := 0
	for ev := range completion.Events() {
		switch ev.Type {
		case stream.EventChunk:
			fmt.Fprint(a.io.Stdout, ev.Chunk)
		case stream.EventComplete:
			fmt.Fprintln(a.io.Stdout)
			if ev.Err != nil {
				fmt.Fprintf(a.io.Stderr, "warning: %s\n", model.UserMessage(ev.Err))
			}
		case stream.EventCancelled:
			fmt.Fprintln(a.io.Stdout)
			fmt.Fprintln(a.io.Stderr, "cancelled")
			rc = 130
		case stream.EventError:
			fmt.Fprintln(a.io.Stdout)
			rc, _ = a.fail(ev.Err)
		}
	}

	fmt.Fprintf(a.io.Stderr, "session: %s\n", completion.SessionID)
	return rc, nil
}

func (a *app) listSessions(c *cmdSessionsList) (int, error) {
	sessions, err := a.gw.ListSessions()
	if err != nil {
		return a.fail(err)
	}
	if c.Saved {
		saved := sessions[:0]
		for _, s := range sessions {
			if s.IsSaved {
				saved = append(saved, s)
			}
		}
		sessions = saved
	}
	sessions = storage.FilterByTitle(sessions, c.Filter)
	a.writeSessions(sessions)
	return 0, nil
}

func (a *app) searchSessions(c *cmdSessionsSearch) (int, error) {
	if c.Messages {
		matches, err := a.gw.SearchMessages(c.Query)
		if err != nil {
			return a.fail(err)
		}
		w := tabwriter.NewWriter(a.io.Stdout, 0, 4, 2, ' ', 0)
		for _, m := range matches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.SessionID, m.SessionTitle, m.Role, oneLine(m.Preview))
		}
		_ = w.Flush()
		return 0, nil
	}

	sessions, err := a.gw.SearchSessions(c.Query)
	if err != nil {
		return a.fail(err)
	}
	a.writeSessions(sessions)
	return 0, nil
}

func (a *app) writeSessions(sessions []*storage.Session) {
	w := tabwriter.NewWriter(a.io.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAVED\tUPDATED\tMESSAGES\tPROVIDER\tTITLE")
	for _, s := range sessions {
		saved := ""
		if s.IsSaved {
			saved = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, saved, s.UpdatedAt.Local().Format(time.DateTime), s.MessageCount, s.ProviderID, s.Title)
	}
	_ = w.Flush()
}

func (a *app) showSession(id string) (int, error) {
	s, err := a.gw.LoadSession(id)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.io.Stdout, "# %s\n", s.Title)
	fmt.Fprintf(a.io.Stdout, "provider: %s  model: %s  saved: %t\n", s.ProviderID, s.ModelID, s.IsSaved)
	if s.Summary != "" {
		fmt.Fprintf(a.io.Stdout, "summary: %s\n", s.Summary)
	}
	for _, m := range s.Messages {
		marker := ""
		if m.HasImage {
			marker = " [image]"
		}
		fmt.Fprintf(a.io.Stdout, "\n[%s]%s %s\n%s\n", m.Role, marker, m.Timestamp.Local().Format(time.DateTime), m.Text)
	}
	return 0, nil
}

func (a *app) printSession(s *storage.Session, err error) (int, error) {
	if err != nil {
		return a.fail(err)
	}
	a.writeSessions([]*storage.Session{s})
	return 0, nil
}

func (a *app) cleanup(c *cmdSessionsCleanup) (int, error) {
	days := c.Days
	if days <= 0 {
		days = a.cfg.RetentionDays
	}
	removed, err := a.sessions.CleanupOld(days, !c.All)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.io.Stdout, "removed %d session(s)\n", removed)
	return 0, nil
}

func (a *app) export(c *cmdSessionsExport) (int, error) {
	s, err := a.gw.LoadSession(c.ID)
	if err != nil {
		return a.fail(err)
	}
	path := c.Output
	if path == "" {
		path = storage.GenerateExportPath(config.GetHomeDir(), s.Title)
	}
	if err := a.sessions.ExportToJSON(c.ID, path); err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.io.Stdout, path)
	return 0, nil
}

func (a *app) providers() (int, error) {
	w := tabwriter.NewWriter(a.io.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tKEY\tDEFAULT MODEL\tMODELS")
	for _, m := range a.gw.GetProviderMeta() {
		key := "-"
		switch {
		case m.HasCredential:
			key = "set"
		case m.RequiresAPIKey:
			key = "missing"
		}
		models := fmt.Sprint(len(m.Models))
		if m.ModelsStale {
			models += " (stale)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Protocol, key, m.DefaultModel, models)
	}
	_ = w.Flush()
	return 0, nil
}

func (a *app) listModels(providerID string) (int, error) {
	ids := a.providerIDs(providerID)
	w := tabwriter.NewWriter(a.io.Stdout, 0, 4, 2, ' ', 0)
	for _, id := range ids {
		for _, m := range a.gw.ListModels(id) {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, m.ID, m.DisplayName)
		}
	}
	_ = w.Flush()
	return 0, nil
}

func (a *app) refreshModels(ctx context.Context, providerID string) (int, error) {
	rc := 0
	for _, id := range a.providerIDs(providerID) {
		if providerID == "" && a.skipUnconfigured(id) {
			continue
		}
		models, err := a.gw.RefreshModels(ctx, id)
		if err != nil {
			fmt.Fprintf(a.io.Stderr, "%s: %s\n", id, model.UserMessage(err))
			rc = 1
			continue
		}
		fmt.Fprintf(a.io.Stdout, "%s: %d model(s)\n", id, len(models))
	}
	return rc, nil
}

// skipUnconfigured reports whether a bulk refresh should leave id alone
// because it needs a key that is not set.
func (a *app) skipUnconfigured(id string) bool {
	d, ok := a.registry.Get(id)
	return ok && d.RequiresAPIKey && a.creds.Get(id) == ""
}

func (a *app) providerIDs(providerID string) []string {
	if providerID != "" {
		return []string{strings.ToLower(providerID)}
	}
	var ids []string
	for _, d := range a.registry.List() {
		ids = append(ids, d.ID)
	}
	return ids
}

func (a *app) validate(ctx context.Context, providerID string) (int, error) {
	valid, err := a.gw.ValidateAPIKey(ctx, providerID)
	if !valid {
		if err == nil {
			err = model.ErrUnauthenticated
		}
		return a.fail(err)
	}
	fmt.Fprintf(a.io.Stdout, "%s: ok\n", providerID)
	return 0, nil
}

func (a *app) setKey(providerID, key string) (int, error) {
	if key == "" {
		data, err := io.ReadAll(a.io.Stdin)
		if err != nil {
			return 1, fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return a.fail(model.ErrMissingAPIKey)
	}
	if err := a.settings.UpdateProviderField(providerID, "apikey", key); err != nil {
		return 1, err
	}
	fmt.Fprintf(a.io.Stdout, "%s: key stored\n", providerID)
	return 0, nil
}

func (a *app) deleteKey(providerID string) (int, error) {
	a.creds.Delete(providerID)
	if err := a.creds.Save(); err != nil {
		return 1, err
	}
	fmt.Fprintf(a.io.Stdout, "%s: key removed\n", providerID)
	return 0, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
