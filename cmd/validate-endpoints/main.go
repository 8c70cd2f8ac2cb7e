package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-outbox/endpoints"
)

/* validate-endpoints - Standalone CLI tool to validate endpoints.yaml
 * Usage: go run cmd/validate-endpoints/main.go [endpoints.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	endpointsFile := "endpoints.yaml"
	if len(os.Args) > 1 {
		endpointsFile = os.Args[1]
	}

	fmt.Printf("Validating endpoints file: %s\n", endpointsFile)
	fmt.Println(strings.Repeat("-", 50))

	loader := endpoints.NewLoader(nil)
	if err := loader.Load(endpointsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d endpoint(s):\n", len(loaded))

	for i, ep := range loaded {
		fmt.Printf("\n%d. Endpoint: %s\n", i+1, ep.ID)
		fmt.Printf("   URL:      %s\n", ep.URL)
		fmt.Printf("   Status:   %s\n", ep.Status)
		fmt.Printf("   Events:   %d\n", len(ep.Events))
		fmt.Printf("   Signed:   %t\n", ep.Secret != "")

		if ep.Group != "" {
			fmt.Printf("   Group:    %s (weight %d)\n", ep.Group, ep.Weight)
		}
		if ep.Retry != nil && ep.Retry.MaxRetries != nil {
			fmt.Printf("   Max Retries: %d\n", *ep.Retry.MaxRetries)
		}
		if ep.Filters != nil {
			fmt.Printf("   Filters:  providers=%v channels=%v templates=%v\n",
				ep.Filters.ProviderIDs, ep.Filters.ChannelIDs, ep.Filters.TemplateIDs)
		}
	}

	fmt.Printf("\n✓ All endpoints are valid!\n")
	os.Exit(0)
}
