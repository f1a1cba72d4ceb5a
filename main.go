package main

import "github.com/andresmejia3/facecam/cmd"

func main() {
	cmd.Execute()
}
