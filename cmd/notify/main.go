// Command notify is the offer notification operator CLI.
//
// Usage:
//
//	offer-notify run
//	offer-notify send-test
//	offer-notify register --token 'ExponentPushToken[...]' --email ana@example.com
//	offer-notify preview --email ana@example.com
//	offer-notify geocode "Rua Augusta 1, Lisboa"
//	offer-notify validity "Válido hasta el 25 de octubre de 2026" --today 2026-10-18
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/x42/offer-notifier/internal/app"
	"github.com/x42/offer-notifier/internal/config"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/validity"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: app.ParseLogLevel(os.Getenv("LOG_LEVEL")),
}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "offer-notify",
		Short:        "Offer notification operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(sendTestCmd())
	root.AddCommand(registerCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(geocodeCmd())
	root.AddCommand(validityCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run / send-test
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one notification pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, svc *app.Services, _ devices.Registry) error {
				result, err := svc.Pipeline.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Println(result.Summary())
				return nil
			})
		},
	}
}

func sendTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-test",
		Short: "Send the test notification to every registered device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, svc *app.Services, _ devices.Registry) error {
				tickets, err := svc.Pipeline.Broadcast(ctx)
				if err != nil {
					return err
				}
				return printJSON(tickets)
			})
		},
	}
}

// --------------------------------------------------------------------------
// register
// --------------------------------------------------------------------------

func registerCmd() *cobra.Command {
	var token, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a device push token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, _ *app.Services, registry devices.Registry) error {
				created, err := devices.Register(ctx, registry, token, email)
				if err != nil {
					return err
				}
				if created {
					fmt.Println("registered")
				} else {
					fmt.Println("already registered")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Expo push token")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// --------------------------------------------------------------------------
// preview / geocode / validity
// --------------------------------------------------------------------------

func previewCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the notification a user would receive, without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, svc *app.Services, _ devices.Registry) error {
				msg, ok, err := svc.Pipeline.Preview(ctx, email)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no notification for", email)
					return nil
				}
				return printJSON(msg)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func geocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <address>",
		Short: "Resolve an address to coordinates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, svc *app.Services, _ devices.Registry) error {
				p, err := svc.Geocoder.Geocode(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if p == nil {
					fmt.Println("not found")
					return nil
				}
				fmt.Printf("%.6f,%.6f\n", p.Lat, p.Lon)
				return nil
			})
		},
	}
}

func validityCmd() *cobra.Command {
	var today string
	cmd := &cobra.Command{
		Use:   "validity <text>",
		Short: "Parse a validity expression into its end date",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if today != "" {
				t, err := time.Parse(time.DateOnly, today)
				if err != nil {
					return fmt.Errorf("--today: %w", err)
				}
				now = t
			}
			day := validity.Today(now)
			text := strings.Join(args, " ")
			end := validity.EndDate(text, day)
			return printJSON(map[string]any{
				"today":          day.Format(time.DateOnly),
				"end":            end.Format(time.DateOnly),
				"valid":          validity.IsValid(text, day),
				"expiring_today": validity.IsExpiringToday(text, day),
				"unbounded":      end.Equal(validity.FarFuture),
			})
		},
	}
	cmd.Flags().StringVar(&today, "today", "", "Evaluate as of this date (YYYY-MM-DD)")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func withServices(fn func(ctx context.Context, svc *app.Services, registry devices.Registry) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, closeRegistry, err := app.OpenRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	defer closeRegistry()

	return fn(ctx, app.NewServices(ctx, cfg, registry, logger), registry)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
