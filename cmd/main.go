package main

import (
	"fmt"
	"os"

	"github.com/brightfield-labs/writing-desk/internal/app"
	"github.com/brightfield-labs/writing-desk/internal/platform/envutil"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	port := envutil.String("PORT", "8080")
	fmt.Printf("server listening on :%s\n", port)
	if err := a.Run(":" + port); err != nil {
		a.Log.Warn("server failed", "error", err)
	}
}
