package cli

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/panelsync/pkg/lifecycle"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	// StyleError for error messages.
	StyleError = lipgloss.NewStyle().Foreground(colorRed)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)

	styleHeader   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	styleCell     = lipgloss.NewStyle().Foreground(colorWhite).Padding(0, 1)
	styleSelected = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	styleMuted    = lipgloss.NewStyle().Foreground(colorDim).Padding(0, 1)
)

const (
	iconSuccess = "✓"
	iconWarning = "!"
	iconInfo    = "›"
)

// =============================================================================
// Status Output
// =============================================================================

func printSuccess(format string, args ...any) {
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + fmt.Sprintf(format, args...))
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	fmt.Println("  " + StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Println(keyStyle.Render(key) + " " + StyleValue.Render(value))
}

// =============================================================================
// Layout Rendering
// =============================================================================

// statusLine summarizes a view in one styled line.
func statusLine(v lifecycle.View) string {
	var style lipgloss.Style
	switch v.Status {
	case lifecycle.StatusLoaded:
		style = styleIconSuccess
	case lifecycle.StatusError:
		style = StyleError
	case lifecycle.StatusEmpty:
		style = StyleWarning
	default:
		style = StyleDim
	}
	line := style.Render(v.Status.String())
	if v.ProjectID != "" {
		line = StyleTitle.Render(v.ProjectID) + " " + line
	}
	line += StyleDim.Render(fmt.Sprintf(" · rev %d · %d panels", v.Revision, len(v.Panels)))
	if v.Saving {
		line += StyleDim.Render(" · saving")
	}
	if v.Unsaved {
		line += " " + StyleWarning.Render("● unsaved")
	}
	if v.Degraded {
		line += " " + StyleWarning.Render("degraded")
	}
	return line
}

// panelTable renders panels in feet. selected is the highlighted row, or -1.
func panelTable(panels []panel.Panel, selected int) string {
	rows := make([][]string, 0, len(panels))
	for _, p := range panels {
		rows = append(rows, []string{
			p.ID,
			string(p.Shape),
			ft(p.X),
			ft(p.Y),
			ft(p.Width),
			ft(p.Height),
			ft(p.Rotation),
			p.PanelNumber,
			p.Material,
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(StyleDim).
		Headers("ID", "SHAPE", "X", "Y", "W", "H", "ROT", "NUMBER", "MATERIAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case row == selected:
				return styleSelected
			case col >= 7:
				return styleMuted
			}
			return styleCell
		})
	return t.Render()
}

// domainPanels converts a view back to feet for display.
func domainPanels(v lifecycle.View) []panel.Panel {
	t := panel.NewTransform(v.Scale)
	out := make([]panel.Panel, len(v.Panels))
	for i, r := range v.Panels {
		out[i] = t.ToDomain(r)
	}
	return out
}

// ft formats a length in feet to at most two decimals.
func ft(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
