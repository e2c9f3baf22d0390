package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/render"
	"github.com/justapithecus/livewatch/supervisor"
)

// CheckResponse summarizes a valid config.
type CheckResponse struct {
	Config   string   `json:"config"`
	League   string   `json:"league"`
	Searches int      `json:"searches"`
	Watched  int      `json:"watched"`
	Actions  string   `json:"actions"`
	Adapter  string   `json:"adapter"`
	Archive  string   `json:"archive"`
	Warnings []string `json:"warnings"`
}

// CheckCommand validates the config without connecting to anything.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate livewatch.yaml and print warnings",
		Flags: ConfigReadFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, nil)
			if err != nil {
				return err
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}

			searches := cfg.Searches()
			desired, _ := supervisor.Desired(searches, cfg.Supervisor.MaxListeners)
			actions := "off"
			switch {
			case cfg.Action.Enabled && cfg.Action.Auto:
				actions = "auto"
			case cfg.Action.Enabled:
				actions = "manual"
			}
			warnings := cfg.Warnings()
			if warnings == nil {
				warnings = []string{}
			}
			return r.Render(CheckResponse{
				Config:   c.String("config"),
				League:   cfg.League,
				Searches: len(searches),
				Watched:  len(desired),
				Actions:  actions,
				Adapter:  cfg.Adapter.Type,
				Archive:  cfg.Archive.Backend,
				Warnings: warnings,
			})
		},
	}
}
