package main

import (
	"isin-monitor/internal/cli"
)

func main() {
	cli.Execute()
}
