package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/quickcart/adapter"
	"github.com/hazyhaar/quickcart/agent"
	"github.com/hazyhaar/quickcart/notify"
	"github.com/hazyhaar/quickcart/popup"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the supported sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sites := adapter.Sites()
		if jsonOutput() {
			return printJSON(lo.Map(sites, func(s adapter.Site, _ int) map[string]any {
				return map[string]any{"name": s.Name, "host": s.Host, "click_delay_ms": s.ClickDelay.Milliseconds()}
			}))
		}
		data := pterm.TableData{{"Site", "Host", "Click delay"}}
		for _, s := range sites {
			data = append(data, []string{s.Name, s.Host, s.ClickDelay.String()})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Open a product page and add it to the cart",
	Long: `Opens the page in Chrome, shows the remembered quantity, optionally
changes it (clamped to 1..10 and remembered), then adds to cart.`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().String("url", "", "Product page URL")
	addCmd.Flags().Int("qty", 0, "Quantity (default: the remembered one)")
	addCmd.MarkFlagRequired("url")
}

func runAdd(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	req := agent.AddRequest{URL: url}
	if cmd.Flags().Changed("qty") {
		q, _ := cmd.Flags().GetInt("qty")
		req.Quantity = &q
	}

	// The label reset is cosmetic in a one-shot run.
	a, _, err := openAgent(cmd.Context(), nil, agent.WithAfterFunc(func(time.Duration, func()) {}))
	if err != nil {
		return err
	}
	defer a.Close()

	var view popup.View
	if !jsonOutput() {
		view = popup.NewTerminalView(os.Stdout)
	}
	out, err := a.AddToCart(cmd.Context(), req, view)
	if err != nil {
		return err
	}
	if jsonOutput() {
		if err := printJSON(out); err != nil {
			return err
		}
	}
	if !out.Success {
		if out.Error != "" {
			return errors.New(out.Error)
		}
		return fmt.Errorf("add to cart failed: %s", out.Label)
	}
	return nil
}

var quantityCmd = &cobra.Command{
	Use:   "quantity",
	Short: "Manage remembered quantities",
}

var quantityGetCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Show the remembered quantity for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := openAgent(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.GetQuantity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(p)
		}
		pterm.Println(strconv.Itoa(p.Quantity))
		return nil
	},
}

var quantitySetCmd = &cobra.Command{
	Use:   "set URL N",
	Short: "Remember a quantity for a URL (stored as given)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity %q: %w", args[1], err)
		}
		a, _, err := openAgent(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.SaveQuantity(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(r)
		}
		pterm.Success.Printfln("%s → %d", args[0], n)
		return nil
	},
}

var quantityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every remembered quantity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := openAgent(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.Quantities()
		if jsonOutput() {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			pterm.Info.Println("No remembered quantities")
			return nil
		}
		urls := lo.Keys(entries)
		sort.Strings(urls)
		data := pterm.TableData{{"URL", "Quantity"}}
		for _, u := range urls {
			data = append(data, []string{u, strconv.Itoa(entries[u].Quantity)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	quantityCmd.AddCommand(quantityGetCmd, quantitySetCmd, quantityListCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded add-to-cart attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")
		failures, _ := cmd.Flags().GetBool("failures")
		limit, _ := cmd.Flags().GetInt("limit")

		a, _, err := openAgent(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		evs, err := a.History(cmd.Context(), notify.HistoryFilter{Site: site, FailuresOnly: failures, Limit: limit})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(evs)
		}
		if len(evs) == 0 {
			pterm.Info.Println("No recorded attempts")
			return nil
		}
		data := pterm.TableData{{"Time", "Site", "Qty", "Result", "URL"}}
		for _, ev := range evs {
			result := ev.Label
			if ev.Error != "" {
				result = ev.Error
			}
			data = append(data, []string{ev.Time.Local().Format(time.DateTime), ev.Site, strconv.Itoa(ev.Quantity), result, ev.URL})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	historyCmd.Flags().String("site", "", "Only this site, e.g. \"Best Buy\"")
	historyCmd.Flags().Bool("failures", false, "Only failed attempts")
	historyCmd.Flags().Int("limit", 20, "Max rows")
}
