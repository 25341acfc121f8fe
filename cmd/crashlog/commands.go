// commands.go implements the crashlog subcommands.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
	"github.com/strongdm/ai-crashlog/pkg/crashlog/archive"
	"github.com/strongdm/ai-crashlog/pkg/crashlog/stores/sqlite"
)

func (a *app) listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List reports, oldest first",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "group",
				Usage: "group crash reports by fingerprint",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			entries, err := a.entries()
			if err != nil {
				return err
			}
			if cmd.Bool("group") {
				return a.printGroups(entries)
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tPATH")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					time.UnixMilli(e.Info.Millis).Format(time.RFC3339), e.Info.Kind, e.Path)
			}
			return tw.Flush()
		},
	}
}

// group is a set of crash reports sharing a fingerprint.
type group struct {
	fingerprint string
	class       string
	count       int
	last        string
}

func (a *app) printGroups(entries []archive.Entry) error {
	byPrint := make(map[string]*group)
	for _, e := range entries {
		if e.Info.Kind != crashlog.KindCrash {
			continue
		}
		rf, err := archive.Open(e.Path)
		if err != nil {
			a.logger.Warn("skipping unreadable report", "path", e.Path, "error", err)
			continue
		}
		class := bodyClass(rf.Body)
		fp := crashlog.Fingerprint(class, rf.Body)
		g, ok := byPrint[fp]
		if !ok {
			g = &group{fingerprint: fp, class: class}
			byPrint[fp] = g
		}
		g.count++
		g.last = e.Path
	}

	groups := make([]*group, 0, len(byPrint))
	for _, g := range byPrint {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].fingerprint < groups[j].fingerprint
	})

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNT\tFINGERPRINT\tCLASS\tLATEST")
	for _, g := range groups {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", g.count, g.fingerprint, g.class, g.last)
	}
	return tw.Flush()
}

// bodyClass extracts the class from the first trace header.
func bodyClass(body string) string {
	first, _, _ := strings.Cut(body, "\n")
	class, _, _ := strings.Cut(first, ": ")
	return class
}

func (a *app) showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a report",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "latest",
				Usage: "show the newest crash report",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if cmd.Bool("latest") {
				entries, err := a.entries()
				if err != nil {
					return err
				}
				for i := len(entries) - 1; i >= 0; i-- {
					if entries[i].Info.Kind == crashlog.KindCrash {
						path = entries[i].Path
						break
					}
				}
				if path == "" {
					return errors.New("no crash reports found")
				}
			}
			if path == "" {
				return errors.New("show requires a report path or --latest")
			}

			rf, err := archive.Open(path)
			if err != nil {
				return fmt.Errorf("open report: %w", err)
			}
			fmt.Fprintf(a.out, "# %s\n", filepath.Base(path))
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, p := range rf.Snapshot {
				fmt.Fprintf(tw, "%s\t%s\n", p.Key, p.Value)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(a.out)
			fmt.Fprint(a.out, rf.Body)
			if !strings.HasSuffix(rf.Body, "\n") {
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
}

func (a *app) statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the crash marker and last notification time",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cs := crashlog.NewCrashStore(store)
			marker, err := cs.Marker(ctx)
			if err != nil {
				return err
			}
			last, ok, err := cs.LastNotify(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "store:\t%s\n", a.store)
			fmt.Fprintf(tw, "crashed:\t%t\n", marker.Crashed)
			fmt.Fprintf(tw, "owner:\t%d\n", marker.OwnerToken)
			if ok {
				fmt.Fprintf(tw, "last notify:\t%s\n", last.Format(time.RFC3339))
			} else {
				fmt.Fprintf(tw, "last notify:\tnever\n")
			}
			return tw.Flush()
		},
	}
}

func (a *app) clearCmd() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Reset the crash marker",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := crashlog.NewCrashStore(store).Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "crash marker cleared")
			return nil
		},
	}
}

func (a *app) archiveCmd() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Compress reports older than a cutoff with zstd",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "compress reports written before now minus this duration",
				Value: 7 * 24 * time.Hour,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cutoff := time.Now().Add(-cmd.Duration("older-than"))
			var (
				total int
				errs  []error
			)
			for _, root := range a.roots() {
				n, err := archive.CompressOlderThan(root, cutoff)
				total += n
				if err != nil {
					errs = append(errs, err)
				}
			}
			fmt.Fprintf(a.out, "compressed %d report(s)\n", total)
			return errors.Join(errs...)
		},
	}
}

// entries lists the reports of every root, oldest first.
func (a *app) entries() ([]archive.Entry, error) {
	var all []archive.Entry
	for _, root := range a.roots() {
		entries, err := archive.List(root)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", root, err)
		}
		all = append(all, entries...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Info.Millis < all[j].Info.Millis
	})
	return all, nil
}

// openStore opens the marker database. It refuses to create a missing one.
func (a *app) openStore() (*sqlite.Store, error) {
	if a.store != ":memory:" {
		if _, err := os.Stat(a.store); err != nil {
			return nil, fmt.Errorf("crash marker database: %w", err)
		}
	}
	return sqlite.Open(a.store)
}
