package main

import (
	"log"

	"github.com/hireloop/interview-intake/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
