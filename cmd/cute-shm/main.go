package main

import "github.com/MPI-IS/cute-shm/internal/cli"

func main() {
	cli.Execute()
}
