package main

import (
	"github.com/goyek/goyek/v3"
	"github.com/goyek/x/boot"
	"github.com/goyek/x/cmd"
)

var format = goyek.Define(goyek.Task{
	Name:  "format",
	Usage: "format Go code",
	Action: func(a *goyek.A) {
		cmd.Exec(a, "gofumpt -l -w ..")
	},
})

var lint = goyek.Define(goyek.Task{
	Name:  "lint",
	Usage: "run golangci-lint",
	Action: func(a *goyek.A) {
		cmd.Exec(a, "golangci-lint run ./...", cmd.Dir(".."))
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "run tests with race detector",
	Action: func(a *goyek.A) {
		cmd.Exec(a, "go test -race ./...", cmd.Dir(".."))
	},
})

var all = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "format, lint, test",
	Deps:  goyek.Deps{format, lint, test},
})

func main() {
	goyek.SetDefault(all)
	boot.Main()
}
