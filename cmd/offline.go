package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/okian/etude/internal/adapters/ingest"
	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/config"
	"github.com/okian/etude/internal/domain/model"
	"github.com/okian/etude/internal/domain/omr"
	"github.com/okian/etude/pkg/logger"
)

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "recognize a sheet and print its score model as JSON",
		ArgsUsage: "<sheet.pdf|image>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("score needs exactly one sheet file", 2)
			}
			return withOfflineService(c, func(ctx context.Context, svc *service.Service) error {
				src, err := readSheet(c.Args().First())
				if err != nil {
					return err
				}
				score, err := svc.Recognize(ctx, src)
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, score)
			})
		},
	}
}

func practiceCommand() *cli.Command {
	return &cli.Command{
		Name:  "practice",
		Usage: "score one recording against a sheet and print the feedback as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sheet", Usage: "sheet music (PDF or image)", Required: true},
			&cli.StringFlag{Name: "audio", Usage: "recording of the attempt", Required: true},
			&cli.StringFlag{Name: "instrument", Usage: "instrument played", Required: true},
			&cli.BoolFlag{Name: "no-dynamics", Usage: "leave dynamics out of the overall score"},
		},
		Action: func(c *cli.Context) error {
			inst, err := model.ParseInstrument(c.String("instrument"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("%v (known: %s)", err, joinInstruments()), 2)
			}
			return withOfflineService(c, func(ctx context.Context, svc *service.Service) error {
				src, err := readSheet(c.String("sheet"))
				if err != nil {
					return err
				}
				audio, err := os.ReadFile(c.String("audio"))
				if err != nil {
					return err
				}
				piece, err := svc.ImportPiece(ctx, "", src)
				if err != nil {
					return err
				}
				req := service.PracticeRequest{PieceID: piece.ID, Instrument: inst, Audio: audio}
				if c.Bool("no-dynamics") {
					off := false
					req.Dynamics = &off
				}
				res, err := svc.Practice(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, res.Session.Feedback)
			})
		},
	}
}

// withOfflineService runs fn against a started service backed by an
// in-memory store. Logs go to stderr.
func withOfflineService(c *cli.Context, fn func(context.Context, *service.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	offline := *cfg
	offline.DBPath = ":memory:"
	offline.WorkerCount = 1
	if err := initLogger(c.Context, &offline, c.App.ErrWriter); err != nil {
		return err
	}
	return runOffline(c.Context, &offline, fn)
}

func runOffline(ctx context.Context, cfg *config.Config, fn func(context.Context, *service.Service) error) error {
	svc := service.New(service.WithConfig(cfg), service.WithLogger(logger.Get().Named("service")))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(context.WithoutCancel(ctx))
	return fn(ctx, svc)
}

func readSheet(path string) (omr.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return omr.Source{}, err
	}
	return ingest.SheetSource(path, data)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func joinInstruments() string {
	return strings.Join(lo.Map(model.Instruments(), func(i model.Instrument, _ int) string { return string(i) }), ", ")
}
