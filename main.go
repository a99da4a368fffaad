package main

import (
	"github.com/Paradise-Lost-Developer-Team/Recap-Samurai/cmd"
)

func main() {
	cmd.Execute()
}
