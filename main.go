package main

import (
	"StepFM/cmd"
)

func main() {
	cmd.Execute()
}
