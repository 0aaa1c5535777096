package banner

import (
	"fmt"

	"formflow/pkg/config"
)

const banner = `
███████╗ ██████╗ ██████╗ ███╗   ███╗███████╗██╗      ██████╗ ██╗    ██╗
██╔════╝██╔═══██╗██╔══██╗████╗ ████║██╔════╝██║     ██╔═══██╗██║    ██║
█████╗  ██║   ██║██████╔╝██╔████╔██║█████╗  ██║     ██║   ██║██║ █╗ ██║
██╔══╝  ██║   ██║██╔══██╗██║╚██╔╝██║██╔══╝  ██║     ██║   ██║██║███╗██║
██║     ╚██████╔╝██║  ██║██║ ╚═╝ ██║██║     ███████╗╚██████╔╝╚███╔███╔╝
╚═╝      ╚═════╝ ╚═╝  ╚═╝╚═╝     ╚═╝╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// which provides the resolved config, addr, db path and source.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET/POST /webhook/whatsapp - Provider webhook (verification + inbound messages)")
	fmt.Println("POST /admin/forms - Create a form (X-API-Key required)")
	fmt.Println("GET  /admin/queue/stats - Queue depth and worker status")
	fmt.Println("GET  /admin/stats?period=24h - Session totals and completion rate")
	fmt.Println("GET  /metrics - Prometheus metrics")

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil {
		if n := len(eff.Config.Security.APIKeys.Backend); n > 0 {
			fmt.Printf("- Backend API keys: OK (%d)\n", n)
		} else {
			fmt.Println("- Backend API keys: MISSING (required for admin endpoints)")
		}
		if eff.Config.WhatsApp.AccessToken != "" {
			fmt.Println("- WhatsApp access token: configured")
		} else {
			fmt.Println("- WhatsApp access token: MISSING (outbound sends will fail)")
		}
		if eff.Config.WhatsApp.WebhookSecret != "" {
			fmt.Println("- Webhook secret: configured")
		} else {
			fmt.Println("- Webhook secret: MISSING (inbound messages will be rejected)")
		}
		if eff.Config.Queue.Durable {
			fmt.Println("- Queue: durable (pebble)")
		} else {
			fmt.Println("- Queue: in-memory (backlog lost on restart)")
		}
		if eff.Config.Retention.Enabled {
			if eff.Config.Retention.Cron != "" {
				fmt.Printf("- Retention: enabled (cron=%s)\n", eff.Config.Retention.Cron)
			} else {
				fmt.Println("- Retention: enabled")
			}
		} else {
			fmt.Println("- Retention: disabled")
		}
	}
	if dbPath == "" {
		fmt.Println("- DB Path: not set (use --db or FORMFLOW_DB_PATH)")
	}

	fmt.Println("\n== Logs: =================================================")
}
