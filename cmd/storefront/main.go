// Command storefront is a terminal storefront for the Tourmaline checkout:
// it keeps the cart in a local or Redis store, prices it, and pays through
// the checkout edge function and Stripe.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"tourmaline.app/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "storefront",
		Usage:                  "Shop the Tourmaline store from the terminal",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   defaultConfigPath(),
				EnvVars: []string{"STOREFRONT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "Checkout edge function base URL (overrides config)",
				EnvVars: []string{"STOREFRONT_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "Cart profile (overrides config)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Show debug logs",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logger.SetGlobalLevel(logger.DEBUG)
			} else {
				logger.SetGlobalLevel(logger.ERROR)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write a default config file",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"}},
				Action: initCommand,
			},
			{
				Name:  "add",
				Usage: "Add a product to the cart",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Product id", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "price", Usage: "Unit price, e.g. 49.99", Required: true},
					&cli.StringFlag{Name: "image", Usage: "Image URL"},
					&cli.StringFlag{Name: "color", Usage: "Colour variant"},
					&cli.StringFlag{Name: "size", Usage: "Size variant"},
				},
				Action: addCommand,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a cart line",
				ArgsUsage: "LINE",
				Action:    removeCommand,
			},
			{
				Name:      "qty",
				Usage:     "Change the quantity of a cart line",
				ArgsUsage: "LINE QUANTITY",
				Action:    quantityCommand,
			},
			{
				Name:   "clear",
				Usage:  "Empty the cart",
				Action: clearCommand,
			},
			{
				Name:    "cart",
				Aliases: []string{"view"},
				Usage:   "Show the cart and its totals",
				Flags: append(selectionFlags(),
					&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output as JSON"},
				),
				Action: cartCommand,
			},
			{
				Name:    "quote",
				Aliases: []string{"totals"},
				Usage:   "Price the cart with the store's server-side policy",
				Flags:   selectionFlags(),
				Action:  quoteCommand,
			},
			{
				Name:  "checkout",
				Usage: "Pay for the cart",
				Flags: append(selectionFlags(),
					&cli.BoolFlag{Name: "hosted", Usage: "Create a hosted checkout session and print its URL"},
				),
				Action: checkoutCommand,
			},
			{
				Name:      "theme",
				Usage:     "Show, set or toggle the colour theme",
				ArgsUsage: "[light|dark|toggle]",
				Action:    themeCommand,
			},
			{
				Name:      "stock",
				Usage:     "Look up the stock level of a product",
				ArgsUsage: "PRODUCT_ID",
				Action:    stockCommand,
			},
		},
	}
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "Shipping method: standard, express or pickup"},
		&cli.StringFlag{Name: "country", Usage: "Destination country code"},
		&cli.StringFlag{Name: "coupon", Usage: "Coupon code"},
	}
}
