package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/config"
	"github.com/justapithecus/livewatch/cli/render"
	"github.com/justapithecus/livewatch/lode"
	"github.com/justapithecus/livewatch/runtime"
)

// DefaultClaimsLimit caps `livewatch claims` output.
const DefaultClaimsLimit = 20

// ClaimRow is one line of `livewatch claims`.
type ClaimRow struct {
	DispatchedAt string `json:"dispatched_at"`
	Kind         string `json:"kind"`
	Outcome      string `json:"outcome"`
	League       string `json:"league"`
	Search       string `json:"search"`
	Item         string `json:"item"`
	Price        string `json:"price"`
	Seller       string `json:"seller"`
	Trigger      string `json:"trigger"`
	Detail       string `json:"detail,omitempty"`
}

// ClaimsCommand reads recent dispatches and halts from the archive.
func ClaimsCommand() *cli.Command {
	return &cli.Command{
		Name:  "claims",
		Usage: "Show recent claims from the archive",
		Flags: append(ConfigReadFlags(),
			&cli.StringFlag{Name: "league", Usage: "Only this league"},
			&cli.StringFlag{Name: "day", Usage: "Only this UTC day (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "outcome", Usage: "Only this outcome (success, not_found, halt, ...)"},
			&cli.StringFlag{Name: "kind", Usage: "Only this record kind: claim or halt"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum rows", Value: DefaultClaimsLimit},
			&cli.StringFlag{Name: "archive-path", Usage: "Archive location override"},
		),
		Action: claimsAction,
	}
}

func claimsAction(c *cli.Context) error {
	cfg, err := loadConfig(c, func(cfg *config.Config) {
		if c.IsSet("archive-path") {
			cfg.Archive.Path = c.String("archive-path")
		}
	})
	if err != nil {
		return err
	}

	archive, err := runtime.OpenArchive(c.Context, cfg.Archive)
	if err != nil {
		return err
	}
	if archive == nil {
		return cli.Exit("archive is disabled (archive.backend: none)", runtime.ExitConfig)
	}
	defer func() { _ = archive.Close() }()

	switch kind := c.String("kind"); kind {
	case "", lode.RecordKindClaim, lode.RecordKindHalt:
	default:
		return fmt.Errorf("invalid --kind %q (must be claim or halt)", kind)
	}

	records, err := lode.Recent(c.Context, archive.Dataset(), lode.Filter{
		League:  c.String("league"),
		Day:     c.String("day"),
		Outcome: c.String("outcome"),
		Kind:    c.String("kind"),
	}, c.Int("limit"))
	if err != nil {
		if errors.Is(err, lode.ErrNotFound) {
			records = nil
		} else {
			return fmt.Errorf("read archive: %w", err)
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(ClaimRows(records))
}

// ClaimRows flattens archive records for display.
func ClaimRows(records []lode.ClaimRecord) []ClaimRow {
	rows := make([]ClaimRow, 0, len(records))
	for _, rec := range records {
		row := ClaimRow{
			DispatchedAt: rec.DispatchedAt,
			Kind:         rec.RecordKind,
			Outcome:      rec.Outcome,
			League:       rec.League,
			Search:       rec.Search,
			Seller:       rec.Seller,
			Trigger:      rec.Trigger,
		}
		switch {
		case rec.ItemName != "" && rec.TypeLine != "":
			row.Item = rec.ItemName + " " + rec.TypeLine
		case rec.ItemName != "":
			row.Item = rec.ItemName
		default:
			row.Item = rec.TypeLine
		}
		if rec.Currency != "" {
			row.Price = strconv.FormatFloat(rec.Amount, 'f', -1, 64) + " " + rec.Currency
		}
		if rec.RecordKind == lode.RecordKindHalt {
			row.Detail = fmt.Sprintf("%s (%d attempts)", rec.Reason, rec.TotalAttempts)
		}
		rows = append(rows, row)
	}
	return rows
}
