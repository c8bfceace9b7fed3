package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/storyloom/internal/config"
	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/ui"
	"github.com/felixgeelhaar/storyloom/internal/ui/tui"
)

type options struct {
	v          *viper.Viper
	configFile string
	verbose    bool
	jsonLogs   bool
}

// NewRootCmd builds the command tree around its own viper instance.
func NewRootCmd() *cobra.Command {
	o := &options{v: config.New()}

	root := &cobra.Command{
		Use:   "storyloom",
		Short: "Interactive story and illustration generator",
		Long: `storyloom turns a topic into a title, a short story and an illustration.
Stories and illustrations are embedded into a vector collection so earlier
work can be searched by meaning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configFile, "config", "", "Config file (default ./storyloom.yaml or <user config dir>/storyloom/storyloom.yaml)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&o.jsonLogs, "json", false, "Write logs as JSON")
	pf.StringP("provider", "p", "", "AI provider ("+strings.Join(config.Providers, ", ")+")")
	pf.StringP("language", "l", "", "Story language (pl, en)")
	pf.String("data-dir", "", "Directory for the database, vectors and exports")
	bindFlags(o.v, pf, map[string]string{
		"provider": "provider",
		"language": "language",
		"data_dir": "data-dir",
	})

	root.AddCommand(
		newRunCmd(o),
		newGenerateCmd(o),
		newSearchCmd(o),
		newListCmd(o),
		newInitCmd(o),
		newConfigCmd(o),
	)
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", fault.Message(err))
		os.Exit(1)
	}
}

func newRunCmd(o *options) *cobra.Command {
	var resume string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive story session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			s, lang := session.New(), a.language()
			if resume != "" {
				if s, lang, err = a.loadSession(ctx, resume); err != nil {
					return err
				}
			}
			m, err := a.newMachine(ctx, lang)
			if err != nil {
				return err
			}

			model := tui.NewModel(tui.Options{
				Machine:  m,
				Session:  s,
				Exporter: a.exporter(),
				Persist: func(s *session.Session) error {
					return a.saveSession(context.WithoutCancel(ctx), m, s)
				},
			})
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			ui.Forward(m.Events(), tui.NewTUI(program))

			final, err := program.Run()
			if err != nil {
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			if fm, ok := final.(tui.Model); ok {
				s = fm.Session()
			}
			if s.Step == session.StepStart {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s saved. Resume with: storyloom run --resume %s\n", s.ID, s.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&resume, "resume", "", "Resume a stored session by id")
	return cmd
}

func newListCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet. Start one with: storyloom run")
				return nil
			}

			t := newTable("ID", "STEP", "TITLE", "TOPIC", "UPDATED")
			for _, r := range recs {
				t.Row(r.ID, r.Step, truncate(r.Title, 40), truncate(r.Topic, 40), r.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show")
	return cmd
}

func newInitCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and the vector collection if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.openVectors(cmd.Context()); err != nil {
				return err
			}
			vs := a.settings.Vector
			fmt.Fprintf(cmd.OutOrStdout(), "Collection %q ready (%d dimensions, %s backend) in %s\n",
				vs.Collection, vs.Dimension, vs.Backend, a.settings.DataDir)
			return nil
		},
	}
}

var recordTypes = []string{session.RecordStory, session.RecordImage}

func newSearchCmd(o *options) *cobra.Command {
	var (
		recordType string
		top        int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored stories and illustrations similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if recordType != "" && !slices.Contains(recordTypes, recordType) {
				return fault.Validation("search", "unknown record type %q (story or image)", recordType)
			}
			if top <= 0 {
				return fault.Validation("search", "--top must be positive")
			}

			a, err := o.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			_, emb, err := a.openClients()
			if err != nil {
				return err
			}
			vectors, err := a.openVectors(ctx)
			if err != nil {
				return err
			}
			vec, err := emb.Embed(ctx, args[0])
			if err != nil {
				return err
			}

			// Over-fetch when filtering so the filter still fills the page.
			k := top
			if recordType != "" {
				k = top * 4
			}
			matches, err := vectors.QueryBySimilarity(ctx, a.settings.Vector.Collection, vec, k)
			if err != nil {
				return err
			}

			t := newTable("SCORE", "TYPE", "TEXT", "ID")
			n := 0
			for _, m := range matches {
				typ := m.Payload[session.PayloadType]
				if recordType != "" && typ != recordType {
					continue
				}
				if n == top {
					break
				}
				n++
				t.Row(strconv.FormatFloat(float64(m.Score), 'f', 3, 32), typ, truncate(describeMatch(m.Payload), 60), m.ID)
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&recordType, "type", "t", "", "Only show records of this type (story or image)")
	cmd.Flags().IntVarP(&top, "top", "k", 5, "Number of matches to show")
	return cmd
}

func describeMatch(payload map[string]string) string {
	if payload[session.PayloadType] == session.RecordImage {
		return payload[session.PayloadImageURL]
	}
	return payload[session.PayloadTitle] + ": " + payload[session.PayloadSummary]
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		Headers(headers...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
