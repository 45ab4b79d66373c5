package main

import (
	"os"

	"github.com/telhawk-systems/deploydash/cmd"
	"github.com/telhawk-systems/deploydash/internal/render"
)

func main() {
	if err := cmd.Execute(); err != nil {
		render.Error("%v", err)
		os.Exit(1)
	}
}
