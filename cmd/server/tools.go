package main

import (
	"fmt"
	"image/png"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/pixel-board-backend/internal/board"
	"github.com/DoyleJ11/pixel-board-backend/internal/frame"
	"github.com/DoyleJ11/pixel-board-backend/internal/palette"
	"github.com/DoyleJ11/pixel-board-backend/internal/store"
)

var boardFlag = &cli.StringFlag{
	Name:     "board",
	Aliases:  []string{"b"},
	Usage:    "board id",
	Required: true,
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a board from the store to PNG",
		ArgsUsage: "OUTPUT",
		Flags: []cli.Flag{
			boardFlag,
			&cli.IntFlag{Name: "scale", Value: 1, Usage: "integer enlargement"},
			&cli.IntFlag{Name: "offset", Value: -1, Usage: "render after this many frames (default: all)"},
		},
		Action: func(c *cli.Context) (err error) {
			if c.NArg() < 1 {
				cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
			}
			cfg, log, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer log.Sync()
			if err := loadBackground(&cfg); err != nil {
				return cli.Exit(err, 1)
			}

			st, err := store.Open(c.Context, cfg.Store)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			bc := cfg.Board
			bc.ID = c.String("board")
			bc.Logger = log
			b, err := board.New(bc)
			if err != nil {
				return cli.Exit(err, 1)
			}
			tl := b.Timeline()
			if err := tl.Enable(c.Context, store.BoardHistory{Store: st, Board: bc.ID}); err != nil {
				return cli.Exit(err, 1)
			}
			if o := c.Int("offset"); o >= 0 {
				tl.Seek(o)
			}
			tl.SettleAll()

			out, err := os.Create(c.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer func() { err = multierr.Append(err, out.Close()) }()
			return png.Encode(out, board.Scale(b.Image(false), c.Int("scale")))
		},
	}
}

func paletteCommand() *cli.Command {
	return &cli.Command{
		Name:      "palette",
		Usage:     "Derive a PALETTE value from a reference image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "colors", Aliases: []string{"n"}, Value: palette.MaxColors},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
			}
			f, err := os.Open(c.Args().First())
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer f.Close()
			img, err := board.DecodeImage(f)
			if err != nil {
				return cli.Exit(err, 1)
			}
			p, err := palette.FromImage(img, c.Int("colors"))
			if err != nil {
				return cli.Exit(err, 1)
			}
			fmt.Fprintln(c.App.Writer, strings.Join(p.Hex(), ","))
			return nil
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "List the persisted frames of a board",
		Flags: []cli.Flag{boardFlag},
		Action: func(c *cli.Context) (err error) {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer log.Sync()
			st, err := store.Open(c.Context, cfg.Store)
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tAUTHOR\tTILE\tPIXELS\tCOLORS\tTIME\tDELETED")
			var clock frame.TimeCheck
			err = st.Scan(c.Context, c.String("board"), func(seq uint16, data []byte) error {
				f, err := frame.Decode(data)
				if err != nil {
					fmt.Fprintf(w, "%d\t-\t-\t-\t-\t-\t%v\n", seq, err)
					return nil
				}
				at := clock.Observe(f)
				fmt.Fprintf(w, "%d\t%d\t%d,%d\t%d\t%d\t%s\t%t\n",
					seq, f.Author, f.Tile.Row, f.Tile.Col, f.Mask.Count(), f.ColorCount(),
					at.Format(time.RFC3339), f.Deleted)
				return nil
			})
			if err != nil {
				return cli.Exit(err, 1)
			}
			return w.Flush()
		},
	}
}
