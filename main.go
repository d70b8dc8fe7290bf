package main

import "github.com/tslateman/lore-sub001/cmd"

func main() {
	cmd.Execute()
}
