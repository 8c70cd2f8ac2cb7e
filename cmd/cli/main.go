package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/dispatcher"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
)

/* cli - sends a one-off system.maintenance event to a URL and prints every attempt
 * Usage: go run cmd/cli/main.go probe <url> [secret]
 * Retry and signing settings are read from the environment like the API
 */

func main() {
	if len(os.Args) < 3 || os.Args[1] != "probe" {
		fmt.Fprintf(os.Stderr, "usage: %s probe <url> [secret]\n", os.Args[0])
		os.Exit(2)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}

	target := os.Args[2]
	v := validator.New(validator.Config{AllowPrivateHosts: cfg.AllowPrivateHosts})
	if err := v.Validate(target); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ep := webhook.Endpoint{
		ID:     "cli-probe",
		URL:    target,
		Active: true,
		Events: []webhook.EventType{webhook.SystemMaintenance},
		Status: webhook.EndpointActive,
	}
	if len(os.Args) > 3 {
		ep.Secret = os.Args[3]
	}

	data, _ := json.Marshal(map[string]any{"probe": true, "source": "cli"})
	ev := webhook.Event{
		ID:        uuid.NewString(),
		Type:      webhook.SystemMaintenance,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Version:   "1.0",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	d := dispatcher.New(cfg.GetDispatcherConfig())
	delivery, err := d.Dispatch(ctx, ev, ep)
	if err != nil && delivery.ID == "" {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Printf("Delivery %s to %s: %s\n", delivery.ID, delivery.URL, delivery.Status)
	for _, a := range delivery.Attempts {
		if a.Error != "" {
			fmt.Printf("  #%d  error=%q  %dms\n", a.Number, a.Error, a.LatencyMs)
			continue
		}
		fmt.Printf("  #%d  status=%d  %dms\n", a.Number, a.HTTPStatus, a.LatencyMs)
	}
	if delivery.Status != webhook.Success {
		os.Exit(1)
	}
}
