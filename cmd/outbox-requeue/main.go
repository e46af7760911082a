package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
)

// Revives DEAD outbox rows so the relay picks them up again. Used after an
// operator has fixed whatever made the broker reject them.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	idsStr := flag.String("ids", "", "Optional: comma separated outbox event ids. Defaults to every DEAD row for the business.")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	var ids []int
	if strings.TrimSpace(*idsStr) != "" {
		for _, part := range strings.Split(*idsStr, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid id %q: %v\n", part, err)
				os.Exit(1)
			}
			ids = append(ids, id)
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	n, err := models.RequeueDeadOutboxEvents(context.Background(), db, strings.TrimSpace(*businessID), ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "requeue failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("requeued %d dead outbox events\n", n)
}
