package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/lifecycle"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// layoutCommand creates the layout command and its subcommands.
func (c *CLI) layoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show or edit a project layout",
		Long: `Show or edit the panel layout of a project.

Edits are applied to the local position cache first and then saved to the
layout server. A failed save keeps the edit in the cache; run
"panelsync layout save <project>" to retry it.`,
	}

	cmd.AddCommand(c.layoutShowCommand())
	cmd.AddCommand(c.layoutMoveCommand())
	cmd.AddCommand(c.layoutAddCommand())
	cmd.AddCommand(c.layoutRemoveCommand())
	cmd.AddCommand(c.layoutSaveCommand())

	return cmd
}

// withLayout loads projectID and runs fn against the loaded lifecycle.
func (c *CLI) withLayout(ctx context.Context, projectID string, fn func(*session) error) error {
	s, err := c.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	prog := newProgress(loggerFromContext(ctx))
	if err := s.Load(ctx, projectID); err != nil {
		return fmt.Errorf("load %s: %w", projectID, err)
	}
	prog.done("Loaded " + projectID)
	return fn(s)
}

func (c *CLI) layoutShowCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Print the reconciled layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLayout(cmd.Context(), args[0], func(s *session) error {
				v := s.View()
				if asJSON {
					return printViewJSON(v)
				}
				printView(v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the layout as JSON (feet)")
	return cmd
}

func (c *CLI) layoutMoveCommand() *cobra.Command {
	var rotation float64
	cmd := &cobra.Command{
		Use:   "move <project> <panel> <x> <y>",
		Short: "Move a panel to a position in feet",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := parseFeet("x", args[2])
			if err != nil {
				return err
			}
			y, err := parseFeet("y", args[3])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return c.withLayout(ctx, args[0], func(s *session) error {
				if !cmd.Flags().Changed("rotation") {
					if r, ok := s.View().Panel(args[1]); ok {
						rotation = r.Rotation
					}
				}
				if err := s.UpdatePanelPosition(ctx, args[1], x, y, rotation); err != nil {
					return err
				}
				return saveAndReport(ctx, s, "Moved %s to (%s, %s)", args[1], ft(x), ft(y))
			})
		},
	}
	cmd.Flags().Float64Var(&rotation, "rotation", 0, "rotation in degrees (default: keep)")
	return cmd
}

func (c *CLI) layoutAddCommand() *cobra.Command {
	var (
		p     panel.Panel
		shape string
	)
	cmd := &cobra.Command{
		Use:   "add <project>",
		Short: "Add a panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Shape = panel.Shape(shape)
			if !p.Shape.Valid() {
				return errors.New(errors.ErrCodeInvalidInput, "unsupported shape %q (expected rectangle, circle or polygon)", shape)
			}
			ctx := cmd.Context()
			return c.withLayout(ctx, args[0], func(s *session) error {
				added, err := s.AddPanel(ctx, p)
				if err != nil {
					return err
				}
				return saveAndReport(ctx, s, "Added %s at (%s, %s)", added.ID, ft(added.X), ft(added.Y))
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "panel id (default: random UUID)")
	cmd.Flags().StringVar(&shape, "shape", string(panel.ShapeRectangle), "rectangle, circle or polygon")
	cmd.Flags().Float64Var(&p.X, "x", 0, "x position in feet")
	cmd.Flags().Float64Var(&p.Y, "y", 0, "y position in feet")
	cmd.Flags().Float64Var(&p.Width, "width", panel.DefaultWidth, "width in feet (diameter for circles)")
	cmd.Flags().Float64Var(&p.Height, "height", panel.DefaultHeight, "height in feet")
	cmd.Flags().Float64Var(&p.Rotation, "rotation", 0, "rotation in degrees")
	cmd.Flags().StringVar(&p.PanelNumber, "number", "", "panel number")
	cmd.Flags().StringVar(&p.RollNumber, "roll", "", "roll number")
	cmd.Flags().StringVar(&p.Material, "material", "", "material")
	return cmd
}

func (c *CLI) layoutRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <project> <panel>...",
		Aliases: []string{"remove"},
		Short:   "Remove panels",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withLayout(ctx, args[0], func(s *session) error {
				for _, id := range args[1:] {
					if err := s.RemovePanel(ctx, id); err != nil {
						return err
					}
				}
				return saveAndReport(ctx, s, "Removed %d panel(s)", len(args)-1)
			})
		},
	}
}

func (c *CLI) layoutSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <project>",
		Short: "Save cached local positions to the layout server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withLayout(ctx, args[0], func(s *session) error {
				if !s.View().Unsaved {
					printInfo("Nothing to save")
					return nil
				}
				return saveAndReport(ctx, s, "Saved %s", args[0])
			})
		},
	}
}

// saveAndReport waits for the edit to be confirmed by the server.
func saveAndReport(ctx context.Context, s *session, format string, args ...any) error {
	if err := s.Save(ctx); err != nil {
		printWarning("Not saved: %s", errors.UserMessage(err))
		printDetail("The change is kept in the local cache. Retry with: panelsync layout save %s", s.View().ProjectID)
		return err
	}
	printSuccess(format, args...)
	printDetail("revision %d", s.View().Revision)
	return nil
}

func printView(v lifecycle.View) {
	fmt.Println(statusLine(v))
	if v.Warning != "" {
		printWarning("%s", v.Warning)
	}
	if len(v.Panels) == 0 {
		printInfo("No panels")
		return
	}
	fmt.Println(panelTable(domainPanels(v), -1))
	if v.Width > 0 || v.Height > 0 {
		printKeyValue("Site", fmt.Sprintf("%s × %s ft", ft(v.Width), ft(v.Height)))
	}
	printKeyValue("Scale", ft(v.Scale)+" px/ft")
}

func printViewJSON(v lifecycle.View) error {
	out := struct {
		ProjectID string        `json:"projectId"`
		Status    string        `json:"status"`
		Revision  int64         `json:"revision"`
		Unsaved   bool          `json:"unsaved"`
		Degraded  bool          `json:"degraded"`
		Warning   string        `json:"warning,omitempty"`
		Panels    []panel.Panel `json:"panels"`
	}{v.ProjectID, v.Status.String(), v.Revision, v.Unsaved, v.Degraded, v.Warning, domainPanels(v)}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseFeet(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New(errors.ErrCodeInvalidInput, "%s must be a number of feet, got %q", name, s)
	}
	return f, nil
}
