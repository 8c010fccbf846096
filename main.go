package main

import "bookforge/internal/app"

func main() {
	app.Main()
}
