package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/panelsync/pkg/positions"
)

// cacheCommand creates the position cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local position cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheShowCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [project]...",
		Short: "Clear cached positions",
		Long: `Clear cached positions.

With project arguments only those projects are cleared, in whichever cache
backend is configured. Without arguments the whole file cache directory is
emptied. Unsaved local positions are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return c.clearCacheDir()
			}

			ctx := cmd.Context()
			backend, err := c.openCache(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()
			keyer := c.keyer()

			for _, projectID := range args {
				pc, err := positions.Open(ctx, backend, keyer, projectID)
				if err != nil {
					return fmt.Errorf("open cache for %s: %w", projectID, err)
				}
				n := pc.Len()
				if err := pc.Clear(ctx); err != nil {
					return fmt.Errorf("clear %s: %w", projectID, err)
				}
				if err := backend.Delete(ctx, keyer.SnapshotKey(projectID)); err != nil {
					return fmt.Errorf("clear snapshot of %s: %w", projectID, err)
				}
				printSuccess("Cleared %d cached positions of %s", n, projectID)
			}
			return nil
		},
	}
}

func (c *CLI) clearCacheDir() error {
	dir, err := c.cacheDirectory()
	if err != nil {
		return fmt.Errorf("get cache dir: %w", err)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		printInfo("Cache is empty")
		return nil
	}

	count := 0
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if !info.IsDir() {
			if err := os.Remove(path); err == nil {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	printSuccess("Cleared %d cached entries", count)
	printDetail("Directory: %s", dir)
	return nil
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.cacheDirectory()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// cacheShowCommand creates the "cache show" subcommand.
func (c *CLI) cacheShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "List the cached positions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := c.openCache(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			pc, err := positions.Open(ctx, backend, c.keyer(), args[0])
			if err != nil {
				return err
			}
			records := pc.GetAll()
			if len(records) == 0 {
				printInfo("No cached positions for %s", args[0])
				return nil
			}

			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				r := records[id]
				updated := "-"
				if !r.UpdatedAt.IsZero() {
					updated = r.UpdatedAt.Local().Format("2006-01-02 15:04:05")
				}
				rows = append(rows, []string{id, ft(r.X), ft(r.Y), ft(r.Rotation), fmt.Sprint(r.Seq), updated})
			}
			t := table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(StyleDim).
				Headers("ID", "X", "Y", "ROT", "SEQ", "CONFIRMED").
				Rows(rows...).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return styleHeader
					}
					return styleCell
				})
			fmt.Println(t.Render())
			return nil
		},
	}
}
