package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/storyloom/internal/brief"
	"github.com/felixgeelhaar/storyloom/internal/export"
	"github.com/felixgeelhaar/storyloom/internal/observe"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/store"
	"github.com/felixgeelhaar/storyloom/internal/ui"
)

// Runner drives one session from a brief without user interaction.
type Runner struct {
	Observer *observe.Observer
	Machine  *session.Machine
	Exporter *export.Exporter
	Brief    *brief.Brief
	UI       ui.UI
	Out      io.Writer
	// Save is called after every successful transition. May be nil.
	Save func(context.Context, *session.Session) error
}

func NewRunner(obs *observe.Observer, m *session.Machine, e *export.Exporter, b *brief.Brief, u ui.UI, out io.Writer) *Runner {
	if u == nil {
		u = ui.SilentUI{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		Observer: obs,
		Machine:  m,
		Exporter: e,
		Brief:    b,
		UI:       u,
		Out:      out,
	}
}

// Run walks the session to a generated story, optionally illustrates it,
// and exports the results. The returned session reflects every step that
// succeeded.
func (r *Runner) Run(ctx context.Context) (*session.Session, []*store.Artifact, error) {
	s := session.New()
	lang := r.Machine.Language()
	log := r.Observer.Log()
	log.Info().Str("session", s.ID).Str("topic", r.Brief.Topic).Msg("generating from brief")

	audience, err := session.ParseAudience(r.Brief.Audience)
	if err != nil {
		return s, nil, err
	}

	r.UI.UpdateStatus("Proposing a title...")
	if err := r.step(ctx, s, func() error { return r.Machine.SubmitTopic(ctx, s, r.Brief.Topic) }); err != nil {
		return s, nil, err
	}
	for i := range r.Brief.Rerolls {
		r.UI.UpdateStatus(fmt.Sprintf("Asking for another title (%d/%d)...", i+1, r.Brief.Rerolls))
		if err := r.step(ctx, s, func() error { return r.Machine.RejectTitle(ctx, s) }); err != nil {
			return s, nil, err
		}
	}

	r.UI.UpdateStatus("Writing the story...")
	if err := r.step(ctx, s, func() error { return r.Machine.AcceptTitle(ctx, s, audience, r.Brief.Category) }); err != nil {
		return s, nil, err
	}

	if r.Brief.Illustrate {
		r.UI.UpdateStatus("Drawing the illustration...")
		if err := r.step(ctx, s, func() error { return r.Machine.GenerateIllustration(ctx, s) }); err != nil {
			return s, nil, err
		}
	}

	r.UI.UpdateStatus("Exporting...")
	artifacts, err := r.export(ctx, s, lang)
	if err != nil {
		return s, artifacts, err
	}

	r.UI.UpdateStatus("Completed")
	labels := lang.Labels()
	fmt.Fprintf(r.Out, "\n%s: %s\n%s: %s\n\n%s\n", labels.Title, s.Title, labels.Summary, s.Summary, s.Story)
	if s.HasImage() {
		fmt.Fprintf(r.Out, "\n%s\n", s.ImageURL)
	}
	return s, artifacts, nil
}

func (r *Runner) step(ctx context.Context, s *session.Session, fn func() error) error {
	if err := fn(); err != nil {
		r.UI.UpdateStatus("Failed")
		return err
	}
	if r.Save == nil {
		return nil
	}
	if err := r.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// export writes the text artifacts and then the illustration. A failed
// download is reported but keeps the text exports.
func (r *Runner) export(ctx context.Context, s *session.Session, lang session.Language) ([]*store.Artifact, error) {
	var out []*store.Artifact
	for _, fn := range []func(context.Context, *session.Session, session.Language) (*store.Artifact, error){
		r.Exporter.Title,
		r.Exporter.Story,
	} {
		a, err := fn(ctx, s, lang)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}

	if s.HasImage() {
		a, err := r.Exporter.Image(ctx, s, lang)
		if err != nil {
			r.Observer.Log().Warn().Err(err).Str("url", s.ImageURL).Msg("illustration download failed")
			r.UI.Log("illustration not exported: " + err.Error())
		} else {
			out = append(out, a)
		}
	}
	for _, a := range out {
		r.UI.Log("exported " + a.Path)
	}
	return out, nil
}

func newGenerateCmd(o *options) *cobra.Command {
	var (
		rerolls    int
		illustrate bool
	)
	cmd := &cobra.Command{
		Use:   "generate [brief-file]",
		Short: "Generate a story from a YAML or JSON brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := brief.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rerolls") {
				b.Rerolls = rerolls
			}
			if cmd.Flags().Changed("illustrate") {
				b.Illustrate = illustrate
			}

			a, err := o.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			res := brief.Validate(*b, a.guard, a.language())
			for _, w := range res.Warnings {
				a.obs.Log().Warn().Str("brief", args[0]).Msg(w)
			}
			if !res.Valid {
				return errors.New("invalid brief: " + strings.Join(res.Errors, "; "))
			}

			lang := a.language()
			if b.Language != "" {
				if lang, err = session.ParseLanguage(b.Language); err != nil {
					return err
				}
			}
			m, err := a.newMachine(ctx, lang)
			if err != nil {
				return err
			}

			u := ui.NewConsoleUI(cmd.OutOrStdout())
			ui.Forward(m.Events(), u)

			r := NewRunner(a.obs, m, a.exporter(), b, u, cmd.OutOrStdout())
			r.Save = func(ctx context.Context, s *session.Session) error {
				return a.saveSession(ctx, m, s)
			}
			s, _, err := r.Run(ctx)
			if err != nil {
				a.obs.Log().Error().Err(err).Str("session", s.ID).Msg("generation failed")
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSession %s\n", s.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&rerolls, "rerolls", 0, "Reject this many title proposals before accepting")
	cmd.Flags().BoolVar(&illustrate, "illustrate", false, "Generate an illustration for the story")
	return cmd
}
