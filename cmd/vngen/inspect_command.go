package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ivlev/vngen/internal/timeline"
)

const summaryWidth = 48

func trackTitle(tr timeline.Track) string {
	name := strings.ToLower(tr.String())
	if tr == timeline.Background {
		name = "background"
	}
	return cases.Title(language.Und).String(name)
}

func summarize(k *timeline.Keyframe) string {
	var s string
	switch d := k.Data.(type) {
	case *timeline.BackgroundData:
		s = d.Value
		if d.Fit != "" {
			s += " (" + d.Fit + ")"
		}
	case *timeline.SpriteData:
		s = fmt.Sprintf("%s @%.2f,%.2f", d.Value, d.Pose.X, d.Pose.Y)
		if d.Target != nil {
			s += fmt.Sprintf(" -> %.2f,%.2f", d.Target.X, d.Target.Y)
		}
	case *timeline.DialogData:
		s = d.Text
		if d.Speaker != "" {
			s = d.Speaker + ": " + s
		}
	case *timeline.AudioData:
		s = fmt.Sprintf("%s vol %.2f", d.Value, d.Volume)
		if d.Loop {
			s += " loop"
		}
	case *timeline.FXData:
		s = d.Mode
	case *timeline.MenuData:
		texts := make([]string, len(d.Options))
		for i, o := range d.Options {
			texts[i] = o.Text
		}
		s = fmt.Sprintf("%s [%s]", d.Prompt, strings.Join(texts, " | "))
	case *timeline.LogicData:
		s = d.Type
		switch {
		case d.IsLabel():
			s += " " + d.Name
		case d.Target != "":
			s += " " + d.Target
		}
		if d.ScriptPath != "" {
			s += " <" + d.ScriptPath + ">"
		}
	}
	return truncate(s, summaryWidth)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func inspectRows(m *timeline.Model, only []timeline.Track) [][]string {
	var rows [][]string
	for _, tr := range timeline.Tracks {
		if len(only) > 0 && !slices.Contains(only, tr) {
			continue
		}
		for _, k := range m.Keyframes(tr) {
			rows = append(rows, []string{
				trackTitle(tr),
				strconv.Itoa(k.ID),
				strconv.FormatFloat(k.Time, 'f', 2, 64),
				strconv.FormatFloat(k.EffectiveDuration(), 'f', 2, 64),
				summarize(k),
			})
		}
	}
	return rows
}

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var tracks []string

	cmd := &cobra.Command{
		Use:   "inspect <project>",
		Short: "Показать дорожки и блоки проекта",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			var only []timeline.Track
			for _, name := range tracks {
				tr, err := timeline.ParseTrack(name)
				if err != nil {
					return err
				}
				only = append(only, tr)
			}

			m, err := loadProject(args[0], cfg, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[*] Проект: %s\n", m.ProjectFile())
			fmt.Fprintf(out, "[*] Длительность: %.2fs, блоков: %d\n", m.Duration(), m.Len())

			labels := m.Labels()
			names := make([]string, 0, len(labels))
			for name := range labels {
				names = append(names, name)
			}
			slices.SortFunc(names, func(a, b string) int {
				if c := cmp.Compare(labels[a], labels[b]); c != 0 {
					return c
				}
				return strings.Compare(a, b)
			})
			for _, name := range names {
				fmt.Fprintf(out, "    метка %-16s %7.2fs\n", name, labels[name])
			}

			rows := inspectRows(m, only)
			fmt.Fprintln(out, renderTable(
				[]string{"Track", "ID", "Start", "Duration", "Summary"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tracks, "track", nil, "Показать только эти дорожки (BG, SPRITE, DIALOG, ...)")
	return cmd
}
