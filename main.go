package main

import "github.com/andresmejia3/tracklets/cmd"

func main() {
	cmd.Execute()
}
