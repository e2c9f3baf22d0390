package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/render"
	"github.com/justapithecus/livewatch/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	UserAgent string `json:"user_agent"`
}

// VersionCommand returns the version command. It never reads config.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(VersionResponse{
				Version:   types.Version,
				Commit:    commit,
				UserAgent: types.UserAgent,
			})
		},
	}
}
