package main

import "repairbench/internal/app"

func main() {
	app.Run()
}
