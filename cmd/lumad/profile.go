package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/lumad/internal/profile"
)

func newProfileCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect or reset learned profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List learned profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return listProfiles(cmd.OutOrStdout(), profile.NewFileStore(cfg.Profile.Dir))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <device>",
		Short: "Show the learned entries of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return showProfile(cmd.OutOrStdout(), profile.NewFileStore(cfg.Profile.Dir), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <device>",
		Short: "Forget everything learned for a device",
		Long: `Delete the device's profile snapshot. A running daemon notices the
deletion and starts learning from scratch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return resetProfile(cmd.OutOrStdout(), profile.NewFileStore(cfg.Profile.Dir), args[0])
		},
	})

	return cmd
}

func listProfiles(out io.Writer, store *profile.FileStore) error {
	summaries, err := store.List()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No profiles in %s\n", store.Dir())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tENTRIES\tAXES\tMODIFIED")
	for _, s := range summaries {
		modified := "-"
		if info, err := os.Stat(s.Path); err == nil {
			modified = humanize.Time(info.ModTime())
		}
		if s.Err != nil {
			fmt.Fprintf(w, "%s\t-\tunreadable: %v\t%s\n", s.Device, s.Err, modified)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Device, s.Entries, s.Axes, modified)
	}
	return w.Flush()
}

func showProfile(out io.Writer, store *profile.FileStore, device string) error {
	p, err := store.Inspect(device)
	if err != nil {
		return fmt.Errorf("no profile for %s: %w", device, err)
	}

	fmt.Fprintf(out, "Device:   %s\n", p.Device)
	fmt.Fprintf(out, "Axes:     %s\n", p.Axes)
	fmt.Fprintf(out, "Range:    %g-%g\n", p.Min, p.Max)
	fmt.Fprintf(out, "Entries:  %d\n\n", p.Len())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tBRIGHTNESS\tUPDATES\tUPDATED")
	for _, e := range p.Entries() {
		fmt.Fprintf(w, "%s\t%.1f\t%d\t%s\n", e.Key, e.Brightness, e.Updates, humanize.Time(e.UpdatedAt))
	}
	return w.Flush()
}

func resetProfile(out io.Writer, store *profile.FileStore, device string) error {
	existed, err := store.Remove(device)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(out, "No profile for %s\n", device)
		return nil
	}
	fmt.Fprintf(out, "Removed profile for %s\n", device)
	return nil
}
