package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/eventstore"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/tts"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "toneshift",
		Short:         "Inspect toneshiftd state",
		Long:          "Read and edit the listening profile and browse the audit trail recorded by toneshiftd.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log store activity to stderr")

	root.AddCommand(c.profileCmd(), c.speedCmd(), c.runsCmd(), c.eventsCmd())
	return root
}

func (c *cli) logger() *slog.Logger {
	if c.verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openStore opens the event store named by the configuration. The caller
// closes it.
func (c *cli) openStore(ctx context.Context) (config.Config, *eventstore.Store, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, nil, err
	}
	store, err := eventstore.Open(ctx, cfg.EventStore, c.logger())
	if err != nil {
		return cfg, nil, fmt.Errorf("open event store: %w", err)
	}
	return cfg, store, nil
}

func (c *cli) withProfile(ctx context.Context, fn func(*profile.Store) error) error {
	cfg, store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	profiles, err := profile.Open(ctx, store, cfg.Profile.Key, c.logger())
	if err != nil {
		return err
	}
	return fn(profiles)
}

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the listening profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withProfile(cmd.Context(), func(s *profile.Store) error {
				printProfile(cmd.OutOrStdout(), s.Current())
				return nil
			})
		},
	}

	var pace, pitch float64
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a new profile; values are clamped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withProfile(cmd.Context(), func(s *profile.Store) error {
				next := s.Current()
				if cmd.Flags().Changed("pace") {
					next.Pace = pace
				}
				if cmd.Flags().Changed("pitch") {
					next.Pitch = pitch
				}
				saved, err := s.Save(cmd.Context(), next)
				if err != nil {
					return err
				}
				printProfile(cmd.OutOrStdout(), saved)
				return nil
			})
		},
	}
	set.Flags().Float64Var(&pace, "pace", 1, "Speech pace")
	set.Flags().Float64Var(&pitch, "pitch", 1, "Playback pitch")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore pace 1.00 and pitch 1.00",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withProfile(cmd.Context(), func(s *profile.Store) error {
				saved, err := s.Save(cmd.Context(), profile.Default())
				if err != nil {
					return err
				}
				printProfile(cmd.OutOrStdout(), saved)
				return nil
			})
		},
	}

	cmd.AddCommand(show, set, reset)
	return cmd
}

func printProfile(w io.Writer, p profile.Profile) {
	fmt.Fprintf(w, "pace:  %.2f\npitch: %.2f\n", p.Pace, p.Pitch)
}

func (c *cli) speedCmd() *cobra.Command {
	var pace, pitch float64
	cmd := &cobra.Command{
		Use:   "speed",
		Short: "Print the synthesis speeds and playback rate a profile yields",
		Long:  "Without flags the stored profile is used. Either flag overrides the stored value.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			show := func(p profile.Profile) {
				p = p.Clamp()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "neutral speed: %.3f\n", tts.SynthesisSpeed(tts.PresetNeutral, p))
				fmt.Fprintf(out, "warm speed:    %.3f\n", tts.SynthesisSpeed(tts.PresetWarm, p))
				fmt.Fprintf(out, "playback rate: %.3f\n", p.PlaybackRate())
			}
			override := func(p profile.Profile) profile.Profile {
				if cmd.Flags().Changed("pace") {
					p.Pace = pace
				}
				if cmd.Flags().Changed("pitch") {
					p.Pitch = pitch
				}
				return p
			}
			if cmd.Flags().Changed("pace") && cmd.Flags().Changed("pitch") {
				show(override(profile.Default()))
				return nil
			}
			return c.withProfile(cmd.Context(), func(s *profile.Store) error {
				show(override(s.Current()))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&pace, "pace", 1, "Speech pace")
	cmd.Flags().Float64Var(&pitch, "pitch", 1, "Playback pitch")
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded sessions and loop runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tKIND\tPRIVACY\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.RunID, r.Kind, r.Privacy, r.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	return cmd
}

func (c *cli) eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the recorded events of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			events, err := store.ListRunEvents(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tPIPELINE\tGEN\tTYPE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.CreatedAt.Local().Format(time.TimeOnly), e.Pipeline, e.Generation, e.Type)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum events to print")
	return cmd
}
