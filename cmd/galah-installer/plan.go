package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/galah-group/galah-installer/internal/planner"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the actions needed to reach the configured package versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			inst, err := loadInstaller(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res, err := inst.plans.Plan(cmd.Context(), inst.cfg.Packages)
			if err != nil {
				return err
			}
			return renderPlan(cmd.OutOrStdout(), res.Actions, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json, or yaml")
	return cmd
}

func checkOutputFormat(output string) error {
	switch output {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json, or yaml)", output)
}

// planStep is the serialized form of one action.
type planStep struct {
	Kind    string `json:"kind" yaml:"kind"`
	Package string `json:"package" yaml:"package"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	From    string `json:"from,omitempty" yaml:"from,omitempty"`
	To      string `json:"to,omitempty" yaml:"to,omitempty"`
}

type planDocument struct {
	Actions []planStep `json:"actions" yaml:"actions"`
}

func toPlanDocument(actions []planner.Action) planDocument {
	doc := planDocument{Actions: make([]planStep, 0, len(actions))}
	for _, a := range actions {
		switch a := a.(type) {
		case planner.Install:
			doc.Actions = append(doc.Actions, planStep{Kind: "install", Package: a.Name, Version: a.Version})
		case planner.Migrate:
			doc.Actions = append(doc.Actions, planStep{Kind: "migrate", Package: a.Name, From: a.From, To: a.To})
		}
	}
	return doc
}

// renderPlan writes actions to w in the given format.
func renderPlan(w io.Writer, actions []planner.Action, output string) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toPlanDocument(actions))
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toPlanDocument(actions)); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(actions) == 0 {
		_, err := fmt.Fprintln(w, "Nothing to do.")
		return err
	}

	migrate := color.New(color.FgYellow)
	install := color.New(color.FgGreen)
	for i, a := range actions {
		c := install
		if _, ok := a.(planner.Migrate); ok {
			c = migrate
		}
		if _, err := fmt.Fprintf(w, "%3d. %s\n", i+1, c.Sprint(a.String())); err != nil {
			return err
		}
	}
	return nil
}
