package main

import (
	"log"

	"github.com/talentloop/talentloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
