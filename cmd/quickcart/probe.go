package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/adapter/htmldom"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Dry-run a site adapter against a saved HTML page",
	Long: `Parses a saved product page, runs the adapter for --url's site with
--qty and prints every click, value change and event it performed.
Nothing is sent to the retailer.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().String("file", "", "Saved HTML page")
	probeCmd.Flags().String("url", "", "URL the page was saved from")
	probeCmd.Flags().Int("qty", 1, "Quantity")
	probeCmd.MarkFlagRequired("file")
	probeCmd.MarkFlagRequired("url")
}

type probeReport struct {
	Site   string         `json:"site,omitempty"`
	Result adapter.Result `json:"result"`
	Ops    []probeOp      `json:"ops"`
}

type probeOp struct {
	Kind    string `json:"kind"`
	Element string `json:"element"`
	Value   string `json:"value,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	url, _ := cmd.Flags().GetString("url")
	qty, _ := cmd.Flags().GetInt("qty")

	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := htmldom.Parse(f)
	if err != nil {
		return err
	}

	page := htmldom.NewPage(url, doc)
	d := adapter.NewDispatcher(
		adapter.WithLogger(logger),
		adapter.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	rep := probeReport{Result: d.Perform(cmd.Context(), page.Hostname(), page.DOM(), qty)}
	if site, ok := adapter.Match(page.Hostname()); ok {
		rep.Site = site.Name
	}
	for _, op := range doc.Ops() {
		rep.Ops = append(rep.Ops, probeOp{Kind: op.Kind, Element: describe(op.Node), Value: op.Value})
	}

	if jsonOutput() {
		return printJSON(rep)
	}
	if rep.Site != "" {
		pterm.Info.Printfln("Site: %s", rep.Site)
	}
	data := pterm.TableData{{"#", "Op", "Element", "Value"}}
	for i, op := range rep.Ops {
		data = append(data, []string{fmt.Sprint(i + 1), op.Kind, op.Element, op.Value})
	}
	if len(rep.Ops) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
	}
	if rep.Result.Success {
		pterm.Success.Println("Add to cart would succeed")
		return nil
	}
	pterm.Warning.Println(rep.Result.Error)
	return nil
}

// describe renders n as a short opening tag.
func describe(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		switch a.Key {
		case "id", "name", "class", "type", "data-test", "data-automation-id", "aria-label":
			fmt.Fprintf(&b, " %s=%q", a.Key, a.Val)
		}
	}
	b.WriteString(">")
	return b.String()
}
