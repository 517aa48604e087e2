package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jonas747/shardbench/orchestrator/rest"
	"github.com/jonas747/shardbench/report"
	"github.com/urfave/cli"
)

var restClient *rest.Client

func main() {
	app := cli.NewApp()

	app.Name = "shardbench command line client"
	app.Description = "sb-cli is a command line interface for a shardbench server started with 'shardbench serve'"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			EnvVar: "SHARDBENCH_SERVER_ADDR",
			Name:   "serveraddr",
			Value:  "http://127.0.0.1:7448",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "status",
			Usage:  "display what the server is doing",
			Action: StatusCmd,
		},
		cli.Command{
			Name:   "report",
			Usage:  "display the report of the last finished run",
			Action: ReportCmd,
		},
		cli.Command{
			Name:   "run",
			Usage:  "starts a full run in the background",
			Action: RunCmd,
		},
		cli.Command{
			Name:   "check",
			Usage:  "checks that every store is reachable",
			Action: CheckCmd,
		},
		cli.Command{
			Name:   "clear",
			Usage:  "deletes all users on every store",
			Action: ClearCmd,
		},
	}

	app.Before = func(c *cli.Context) error {
		restClient = rest.NewClient(c.String("serveraddr"))
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func StatusCmd(c *cli.Context) error {
	status, err := restClient.GetStatus(context.Background())
	if err != nil {
		return err
	}

	tb := table.NewWriter()
	tb.AppendHeader(table.Row{"running", "phase", "run", "main", "shards"})
	tb.AppendRow(table.Row{status.Running, status.Phase, status.RunID, status.Main, len(status.Shards)})
	fmt.Println(tb.Render())

	if status.LastReport != nil {
		r := status.LastReport
		fmt.Printf("last run %s: %s in %s\n", r.RunID, r.Status, report.Duration(r.Duration))
	}
	return nil
}

func ReportCmd(c *cli.Context) error {
	r, err := restClient.GetReport(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(report.Run(r))
	return nil
}

func RunCmd(c *cli.Context) error {
	msg, err := restClient.StartRun(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(msg)
	return nil
}

func CheckCmd(c *cli.Context) error {
	stores, err := restClient.Check(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(report.Stores(stores))
	return nil
}

func ClearCmd(c *cli.Context) error {
	msg, err := restClient.Clear(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(msg)
	return nil
}
