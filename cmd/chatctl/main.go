package main

import "github.com/MoldoAndr/EL8S-Shop/cmd/chatctl/cmd"

func main() {
	cmd.Execute()
}
