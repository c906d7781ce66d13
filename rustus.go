package main

import (
	"github.com/s3rius/rustus/cmd"
)

func main() {
	cmd.Execute()
}
