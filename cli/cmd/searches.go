package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/render"
	"github.com/justapithecus/livewatch/supervisor"
	"github.com/justapithecus/livewatch/types"
)

// Search statuses.
const (
	SearchWatched   = "watched"
	SearchDuplicate = "duplicate"
	SearchOverCap   = "over_cap"
)

// SearchRow is one line of `livewatch searches`.
type SearchRow struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	League string `json:"league"`
	Query  string `json:"query"`
	Status string `json:"status"`
}

// SearchesCommand lists the enabled searches and whether each would get
// a listener.
func SearchesCommand() *cli.Command {
	return &cli.Command{
		Name:  "searches",
		Usage: "List the configured searches",
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
			return r.Render(SearchRows(cfg.Searches(), cfg.Supervisor.MaxListeners))
		},
	}
}

// SearchRows labels each search with the fate the supervisor gives it.
func SearchRows(searches []types.ListenerConfig, limit int) []SearchRow {
	desired, _ := supervisor.Desired(searches, limit)
	watched := make(map[types.ListenerKey]bool, len(desired))
	for _, d := range desired {
		watched[d.Key] = true
	}

	seen := make(map[types.ListenerKey]bool, len(searches))
	rows := make([]SearchRow, 0, len(searches))
	for _, s := range searches {
		status := SearchOverCap
		switch {
		case seen[s.Key]:
			status = SearchDuplicate
		case watched[s.Key]:
			status = SearchWatched
		}
		seen[s.Key] = true
		rows = append(rows, SearchRow{
			Name:   s.Name,
			Group:  s.Group,
			League: s.Key.League,
			Query:  s.Key.QueryID,
			Status: status,
		})
	}
	return rows
}
