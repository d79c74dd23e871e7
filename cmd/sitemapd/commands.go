package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitemapd/internal/sitemap"
	"sitemapd/internal/sitemapd"
	"sitemapd/internal/sources"
)

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Build the sitemap once from the configured sources and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			svc, err := sitemapd.NewService(cfg, log)
			if err != nil {
				return fmt.Errorf("init service: %w", err)
			}
			defer func() { _ = svc.Close() }()

			text, err := svc.Coordinator().GetDocument(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newPagesCmd() *cobra.Command {
	pages := &cobra.Command{
		Use:   "pages",
		Short: "Manage pages in a LevelDB page store",
	}
	pages.PersistentFlags().String("store", "", "page store directory (default: the first leveldb source in the config)")

	put := &cobra.Command{
		Use:   "put <loc>",
		Short: "Add or replace a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := entryFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			return withPageStore(cmd, func(s *sources.PageStore) error { return s.Put(e) })
		},
	}
	put.Flags().String("lastmod", "", "last modification date, YYYY-MM-DD")
	put.Flags().String("changefreq", "", "always, hourly, daily, weekly, monthly, yearly or never")
	put.Flags().String("priority", "", "priority between 0.0 and 1.0")

	del := &cobra.Command{
		Use:   "delete <loc>...",
		Short: "Remove pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPageStore(cmd, func(s *sources.PageStore) error {
				for _, loc := range args {
					if err := s.Delete(loc); err != nil {
						return fmt.Errorf("delete %q: %w", loc, err)
					}
				}
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print stored pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPageStore(cmd, func(s *sources.PageStore) error {
				entries, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}

	pages.AddCommand(put, del, list)
	return pages
}

// withPageStore opens the store for the duration of fn. The daemon holds the
// LevelDB lock while running, so these commands need it stopped.
func withPageStore(cmd *cobra.Command, fn func(*sources.PageStore) error) error {
	path, err := cmd.Flags().GetString("store")
	if err != nil {
		return err
	}
	if path == "" {
		if path, err = storeFromConfig(); err != nil {
			return err
		}
	}
	store, err := sources.OpenPageStore(path)
	if err != nil {
		return err
	}
	return errors.Join(fn(store), store.Close())
}

func storeFromConfig() (string, error) {
	cfg, err := sitemapd.LoadConfig(viper.GetString("config"))
	if err != nil {
		return "", fmt.Errorf("no --store given and config unreadable: %w", err)
	}
	for _, s := range cfg.Sources {
		if s.Type == sitemapd.SourceLevelDB {
			return s.Path, nil
		}
	}
	return "", errors.New("no --store given and no leveldb source configured")
}

func entryFromFlags(cmd *cobra.Command, loc string) (sitemap.Entry, error) {
	e := sitemap.Entry{Location: loc}
	flags := cmd.Flags()

	if v, _ := flags.GetString("lastmod"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return e, fmt.Errorf("--lastmod: %w", err)
		}
		e.LastModified = &t
	}
	if v, _ := flags.GetString("changefreq"); v != "" {
		f, err := sitemap.ParseChangeFrequency(v)
		if err != nil {
			return e, fmt.Errorf("--changefreq: %w", err)
		}
		e.ChangeFrequency = f
	}
	if v, _ := flags.GetString("priority"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return e, fmt.Errorf("--priority: %w", err)
		}
		e.Priority = &p
	}
	return e, nil
}

func printEntries(cmd *cobra.Command, entries []sitemap.Entry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOC\tLASTMOD\tCHANGEFREQ\tPRIORITY")
	for _, e := range entries {
		lastmod, freq, prio := "-", "-", "-"
		if e.LastModified != nil {
			lastmod = e.LastModified.Format("2006-01-02")
		}
		if e.ChangeFrequency.Valid() {
			freq = e.ChangeFrequency.String()
		}
		if e.Priority != nil {
			prio = strconv.FormatFloat(*e.Priority, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Location, lastmod, freq, prio)
	}
	return tw.Flush()
}
