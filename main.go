package main

import "github.com/nodestream/guttering/cmd/gutterctl"

func main() {
	gutterctl.Execute()
}
