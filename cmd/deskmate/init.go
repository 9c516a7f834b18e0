// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmate Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deskmate-dev/deskmate/internal/config"
	"github.com/deskmate-dev/deskmate/internal/conversation"
	"github.com/deskmate-dev/deskmate/internal/provider"
	"github.com/deskmate-dev/deskmate/internal/secrets"
	dmerr "github.com/deskmate-dev/deskmate/pkg/errors"
)

// apiKeySecret is the keyring entry init stores the API key under.
const apiKeySecret = "llm-api-key"

const keyCheckTimeout = 15 * time.Second

type wizardStep int

const (
	stepPickProvider wizardStep = iota
	stepEnterKey
	stepCheckKey // spinner while models are listed
	stepDone
	stepFailed
)

type setupAnswers struct {
	Provider provider.Name
	APIKey   string
}

type (
	keyAcceptedMsg struct{ models int }
	keyRejectedMsg struct{ err error }
	setupSavedMsg  struct{ path string }
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

var supportedProviders = []provider.Name{
	provider.NameOpenAI,
	provider.NameAnthropic,
	provider.NameGoogle,
}

// providerDefaults are the model and base URL written for each backend.
// The OpenAI-compatible backend points at DeepSeek.
var providerDefaults = map[provider.Name]struct{ model, baseURL string }{
	provider.NameOpenAI:    {"deepseek-chat", "https://api.deepseek.com"},
	provider.NameAnthropic: {"claude-sonnet-4-5", ""},
	provider.NameGoogle:    {"gemini-2.0-flash", ""},
}

// wizard is the bubbletea model behind deskmate init.
type wizard struct {
	step       wizardStep
	cursor     int
	keyInput   textinput.Model
	spinner    spinner.Model
	answers    setupAnswers
	problem    string // shown under the key input
	modelCount int
	configPath string
	store      secrets.Store
	failure    error
	skipCheck  bool
	overwrite  bool
}

func newWizard(store secrets.Store) wizard {
	in := textinput.New()
	in.Placeholder = "paste API key here"
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return wizard{keyInput: in, spinner: sp, store: store}
}

func (m wizard) Init() tea.Cmd { return nil }

func (m wizard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.step {
		case stepPickProvider:
			return m.onPickKey(msg)
		case stepEnterKey:
			return m.onEnterKey(msg)
		}
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case keyAcceptedMsg:
		m.modelCount = msg.models
		return m, saveSetupCmd(m.answers, m.store, m.overwrite)

	case keyRejectedMsg:
		m.problem = msg.err.Error()
		m.step = stepEnterKey
		m.keyInput.Focus()
		return m, nil

	case setupSavedMsg:
		m.step, m.configPath = stepDone, msg.path
		return m, tea.Quit

	case error:
		m.step, m.failure = stepFailed, msg
		return m, tea.Quit
	}

	if m.step == stepEnterKey {
		m.keyInput, cmd = m.keyInput.Update(msg)
	}
	return m, cmd
}

func (m wizard) onPickKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, len(supportedProviders)-1)
	case "enter":
		m.answers.Provider = supportedProviders[m.cursor]
		m.step = stepEnterKey
		m.problem = ""
		m.keyInput.SetValue("")
		m.keyInput.Focus()
		return m, textinput.Blink
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m wizard) onEnterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.step, m.problem = stepPickProvider, ""
		return m, nil
	case "enter":
	default:
		var cmd tea.Cmd
		m.keyInput, cmd = m.keyInput.Update(msg)
		return m, cmd
	}

	key := strings.TrimSpace(m.keyInput.Value())
	if key == "" {
		m.problem = "API key must not be empty"
		return m, nil
	}
	m.answers.APIKey, m.problem = key, ""

	if m.skipCheck {
		return m, saveSetupCmd(m.answers, m.store, m.overwrite)
	}
	m.step = stepCheckKey
	return m, tea.Batch(m.spinner.Tick, checkKeyCmd(m.answers))
}

func (m wizard) View() string {
	var body string
	switch m.step {
	case stepPickProvider:
		body = m.providerView()
	case stepEnterKey:
		body = m.keyView()
	case stepCheckKey:
		body = m.spinner.View() + " Checking the " + string(m.answers.Provider) + " API key…\n"
	case stepDone:
		body = m.doneView()
	case stepFailed:
		body = errorStyle.Render("Setup failed: "+m.failure.Error()) + "\n"
	}
	return boxStyle.Render(titleStyle.Render("  deskmate setup  ") + "\n\n" + body)
}

func (m wizard) providerView() string {
	var b strings.Builder
	b.WriteString(promptStyle.Render("Choose an LLM provider") + "\n\n")
	for i, p := range supportedProviders {
		label := fmt.Sprintf("%s (%s)", p, providerDefaults[p].model)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("  > "+label) + "\n")
		} else {
			b.WriteString(dimStyle.Render("    "+label) + "\n")
		}
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))
	return b.String()
}

func (m wizard) keyView() string {
	var b strings.Builder
	b.WriteString(promptStyle.Render(string(m.answers.Provider)+" API key") + "\n\n")
	b.WriteString(m.keyInput.View() + "\n")
	if m.problem != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.problem) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("enter to continue  esc to go back  ctrl+c to quit"))
	return b.String()
}

func (m wizard) doneView() string {
	var b strings.Builder
	b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
	if m.modelCount > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("The key works: %d model(s) available.", m.modelCount)) + "\n")
	}
	if m.configPath != "" {
		b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
	}
	b.WriteString("Run " + promptStyle.Render("deskmate chat") + " to start talking.\n")
	b.WriteString("Run " + promptStyle.Render("deskmate doctor") + " to verify setup.\n")
	return b.String()
}

// checkKeyCmd lists models with the entered key.
func checkKeyCmd(answers setupAnswers) tea.Cmd {
	return func() tea.Msg {
		p, err := newProvider(string(answers.Provider), provider.Config{
			APIKey:  answers.APIKey,
			BaseURL: providerDefaults[answers.Provider].baseURL,
		})
		if err != nil {
			return keyRejectedMsg{err: err}
		}
		defer func() { _ = p.Close() }()

		lister, ok := p.(provider.ModelLister)
		if !ok {
			return keyAcceptedMsg{}
		}

		ctx, cancel := context.WithTimeout(context.Background(), keyCheckTimeout)
		defer cancel()
		models, err := lister.ListModels(ctx)
		if err != nil {
			return keyRejectedMsg{err: err}
		}
		return keyAcceptedMsg{models: len(models)}
	}
}

func saveSetupCmd(answers setupAnswers, store secrets.Store, overwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := saveSetup(answers, store, overwrite)
		if err != nil {
			return err
		}
		return setupSavedMsg{path: path}
	}
}

// renderSetupConfig renders a config file for the wizard answers. The API
// key is referenced through the keyring and never written in plain text.
func renderSetupConfig(answers setupAnswers) (string, error) {
	defaults := providerDefaults[answers.Provider]

	doc := map[string]any{
		"llm": map[string]any{
			"provider":      string(answers.Provider),
			"model":         defaults.model,
			"stream":        true,
			"max_turns":     10,
			"system_prompt": conversation.DefaultSystemPrompt,
			"cloud_api": map[string]any{
				"key":      secrets.URI(secrets.DefaultService, apiKeySecret),
				"base_url": defaults.baseURL,
			},
		},
		"storage": map[string]any{
			"transcript_path": "",
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeInternalFailure, "encoding generated config")
	}
	return "# deskmate configuration, generated by deskmate init\n\n" + string(data), nil
}

// saveSetup stores the API key in the keyring and writes the config file. An existing file is only replaced with overwrite.
func saveSetup(answers setupAnswers, store secrets.Store, overwrite bool) (string, error) {
	cfgPath, err := setupConfigPath()
	if err != nil {
		return "", err
	}

	if !overwrite {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return "", dmerr.Errorf(dmerr.CodeCLIInputInvalid,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	if err := store.Store(secrets.DefaultService, apiKeySecret, answers.APIKey); err != nil {
		return "", err
	}

	content, err := renderSetupConfig(answers)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeConfigSaveFailure, "creating config directory %s", dir)
	}
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeConfigSaveFailure, "writing config to %s", cfgPath)
	}

	return cfgPath, nil
}

// setupConfigPath returns where init writes the config.
var setupConfigPath = config.DefaultConfigPath

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive wizard that picks a provider, stores its API key in the
OS keyring and writes a config file referencing it as keyring://deskmate/llm-api-key.

After completion, run:
  deskmate chat     start a conversation
  deskmate doctor   verify your setup`,
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.Flags().Bool("skip-validation", false, "do not contact the provider to check the key")

	return cmd
}

func (a *app) runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"deskmate init requires an interactive terminal.\n"+
				"To configure deskmate non-interactively, use `deskmate config set` and `deskmate secret set`.")
		return dmerr.New(dmerr.CodeCLISetupFailure, "deskmate init: not an interactive terminal")
	}

	if a.cfgFile != "" {
		orig, path := setupConfigPath, a.cfgFile
		setupConfigPath = func() (string, error) { return path, nil }
		defer func() { setupConfigPath = orig }()
	}

	m := newWizard(secretStoreFactory())
	m.overwrite, _ = cmd.Flags().GetBool("force")
	m.skipCheck, _ = cmd.Flags().GetBool("skip-validation")

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	finalModel, err := p.Run()
	if err != nil {
		return dmerr.Wrapf(err, dmerr.CodeCLISetupFailure, "init wizard")
	}

	fm, ok := finalModel.(wizard)
	if !ok {
		return dmerr.New(dmerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.failure != nil {
		return dmerr.Wrapf(fm.failure, dmerr.CodeCLISetupFailure, "init failed")
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", fm.configPath)
	}
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
