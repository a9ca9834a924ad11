package main

import (
	"embed"
	"fmt"
	"log"

	"github.com/hammertrack/recall/internal/config"
)

//go:embed banner.txt
var bannerFS embed.FS

func printBanner() {
	b, err := bannerFS.ReadFile("banner.txt")
	if err != nil {
		panic(err)
	}
	fmt.Print(string(b))
	fmt.Printf("v%s\n\n", config.Version)
	log.Print("Initializing recent-messages core...")
}
