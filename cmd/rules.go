package cmd

import (
	"context"
	"fmt"
	"strings"

	"threatgate/bootstrap"
	"threatgate/core"
	"threatgate/detect"
	"threatgate/util"

	"github.com/spf13/cobra"
)

// ruleView is the JSON shape of a listed rule.
type ruleView struct {
	ID          string           `json:"id"`
	AppliesTo   core.ElementKind `json:"appliesTo"`
	Risk        core.ThreatRisk  `json:"risk"`
	Title       string           `json:"title"`
	Condition   string           `json:"condition"`
	Category    string           `json:"category,omitempty"`
	Attributes  []string         `json:"attributes"`
	References  []string         `json:"references,omitempty"`
	Description string           `json:"description,omitempty"`
}

// newRulesCmd creates the 'rules' subcommand
func newRulesCmd(opts *rootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and validate the rules of the threats library",
		Long: `Load the threats library selected by --threatsLibrary, compile every rule
condition and list the rules. Invalid conditions fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sugar, cfg, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer sugar.Sync()

			var filter core.ElementKind
			if kind != "" {
				if filter, err = core.ParseElementKind(kind); err != nil {
					return &core.ConfigurationError{Field: "kind", Reason: "unknown element kind", Err: err}
				}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			locator, err := bootstrap.NewLocator(cfg, sugar)
			if err != nil {
				return err
			}
			repo, err := bootstrap.LoadThreatsLibrary(ctx, locator, cfg.Library.Location, sugar)
			if err != nil {
				return err
			}

			rules := repo.All()
			if filter != "" {
				rules = repo.ForKind(filter)
			}

			if opts.jsonOut {
				views := make([]ruleView, 0, len(rules))
				for _, r := range rules {
					views = append(views, newRuleView(r))
				}
				return outputAsJSON(cmd.OutOrStdout(), views)
			}

			renderRulesTable(cmd.OutOrStdout(), util.RedactLocation(cfg.Library.Location), rules)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&kind, "kind", "", fmt.Sprintf("Only list rules for one element kind %v", core.ElementKinds()))

	return cmd
}

func newRuleView(r *detect.CompiledRule) ruleView {
	seen := make(map[string]bool)
	var attrs []string
	for _, c := range detect.Comparisons(r.Expr) {
		if !seen[c.Attribute] {
			seen[c.Attribute] = true
			attrs = append(attrs, c.Attribute)
		}
	}
	return ruleView{
		ID:          r.ID,
		AppliesTo:   r.AppliesTo,
		Risk:        r.Risk,
		Title:       r.Title,
		Condition:   strings.TrimSpace(r.Condition),
		Category:    r.Category,
		Attributes:  attrs,
		References:  r.References,
		Description: r.Description,
	}
}
